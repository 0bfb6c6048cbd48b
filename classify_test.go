package tutorbook

import "testing"

func TestClassifyDocumentPaths(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		path      string
		kind      Kind
		ownerKind OwnerKind
		owner     string
		id        string
	}{
		{"users/pupil@x", KindUser, OwnerUser, "pupil@x", ""},
		{"locations/L1", KindLocation, OwnerLocation, "L1", ""},
		{"users/pupil@x/requestsOut/R1", KindRequestOut, OwnerUser, "pupil@x", "R1"},
		{"users/tutor@x/requestsIn/R1", KindRequestIn, OwnerUser, "tutor@x", "R1"},
		{"users/pupil@x/modifiedRequestsOut/R1", KindModifiedRequestOut, OwnerUser, "pupil@x", "R1"},
		{"users/tutor@x/canceledRequestsIn/R1", KindCanceledRequestIn, OwnerUser, "tutor@x", "R1"},
		{"users/pupil@x/approvedRequestsOut/R1", KindApprovedRequestOut, OwnerUser, "pupil@x", "R1"},
		{"users/pupil@x/appointments/R1", KindAppointment, OwnerUser, "pupil@x", "R1"},
		{"locations/L1/appointments/R1", KindAppointment, OwnerLocation, "L1", "R1"},
		{"locations/L1/activeAppointments/R1", KindActiveAppointment, OwnerLocation, "L1", "R1"},
		{"users/sup@x/clockIns/R1", KindClockIn, OwnerUser, "sup@x", "R1"},
		{"users/sup@x/approvedClockOuts/C9", KindApprovedClockOut, OwnerUser, "sup@x", "C9"},
		{"users/pupil@x/authPayments/R1", KindAuthPayment, OwnerUser, "pupil@x", "R1"},
	}
	for _, tc := range cases {
		ref := c.Classify(tc.path)
		if ref.Kind != tc.kind || ref.OwnerKind != tc.ownerKind || ref.Owner != tc.owner || ref.ID != tc.id {
			t.Fatalf("classify %s: got %+v", tc.path, ref)
		}
		if ref.Path() != tc.path {
			t.Fatalf("roundtrip %s: got %s", tc.path, ref.Path())
		}
	}
}

func TestClassifyCollectionPath(t *testing.T) {
	c := NewClassifier()
	ref := c.Classify("users/pupil@x/requestsIn")
	if ref.Kind != KindRequestIn || ref.ID != "" || ref.Collection != "requestsIn" {
		t.Fatalf("collection ref: got %+v", ref)
	}
}

func TestClassifyUnknownPaths(t *testing.T) {
	for _, path := range []string{
		"",
		"users",
		"users/pupil@x/unknownCollection/R1",
		"locations/L1/requestsIn/R1", // requests never live under locations
		"chats/c1/messages/m1",
		"users/pupil@x/requestsIn/R1/extra",
	} {
		if ref := NewClassifier().Classify(path); ref.Kind != KindUnknown {
			t.Fatalf("expected %q to be unroutable, got %+v", path, ref)
		}
	}
}

func TestClassifyRoutingOverride(t *testing.T) {
	c := NewClassifier()
	user := map[string]Kind{"proposalsOut": KindRequestOut}
	c.SetRouting(user, nil)
	if ref := c.Classify("users/pupil@x/proposalsOut/R1"); ref.Kind != KindRequestOut {
		t.Fatalf("override routing failed: %+v", ref)
	}
	if ref := c.Classify("users/pupil@x/requestsOut/R1"); ref.Kind != KindUnknown {
		t.Fatalf("expected replaced table to drop default route, got %+v", ref)
	}
}
