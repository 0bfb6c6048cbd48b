package tutorbook

import (
	"testing"
	"time"
)

type mapView map[string]any

func (m mapView) Lookup(path string) (any, bool) {
	v, ok := m[path]
	return v, ok
}

func pupilIdentity() *Identity { return &Identity{UID: "u-pupil", Email: "pupil@x"} }
func tutorIdentity() *Identity { return &Identity{UID: "u-tutor", Email: "tutor@x"} }
func supIdentity() *Identity {
	return &Identity{UID: "u-sup", Email: "sup@x", Claims: Claims{Supervisor: true, Locations: []string{"L1"}}}
}
func parentIdentity() *Identity {
	return &Identity{UID: "u-parent", Email: "parent@x", Claims: Claims{Parent: true, Children: []string{"pupil@x"}}}
}

func testRequest() *Request {
	return &Request{
		FromUser: ConciseUser{Email: "pupil@x", Proxy: []string{"parent@x"}},
		ToUser:   ConciseUser{Email: "tutor@x"},
		Subject:  "Algebra",
		Location: LocationRef{ID: "L1"},
		Payment:  PaymentInfo{Type: "Free"},
	}
}

func TestProfileOwnership(t *testing.T) {
	ev := NewEvaluator()
	view := mapView{}
	ref := Ref{Kind: KindUser, OwnerKind: OwnerUser, Owner: "victim@x"}

	d := ev.Evaluate(view, pupilIdentity(), OpCreate, ref, nil, &UserProfile{Email: "victim@x"})
	if d.Allowed || d.Code != CodePermissionDenied {
		t.Fatalf("expected permission_denied creating another user's profile, got %+v", d)
	}

	own := Ref{Kind: KindUser, OwnerKind: OwnerUser, Owner: "pupil@x"}
	d = ev.Evaluate(view, pupilIdentity(), OpCreate, own, nil, &UserProfile{Email: "pupil@x"})
	if !d.Allowed {
		t.Fatalf("owner profile create denied: %s", d.Reason)
	}

	// A parent may create a child profile only when delegated via proxy.
	child := &UserProfile{Email: "victim@x", Proxy: []string{"parent@x"}}
	d = ev.Evaluate(view, parentIdentity(), OpCreate, ref, nil, child)
	if !d.Allowed {
		t.Fatalf("proxied profile create denied: %s", d.Reason)
	}
	noProxy := &UserProfile{Email: "victim@x"}
	if d = ev.Evaluate(view, parentIdentity(), OpCreate, ref, nil, noProxy); d.Allowed {
		t.Fatalf("parent created profile without proxy listing")
	}
}

func TestProfileServerFieldsFrozen(t *testing.T) {
	ev := NewEvaluator()
	view := mapView{}
	ref := Ref{Kind: KindUser, OwnerKind: OwnerUser, Owner: "pupil@x"}

	d := ev.Evaluate(view, pupilIdentity(), OpCreate, ref, nil, &UserProfile{
		Email: "pupil@x", Payments: Payments{CurrentBalance: 50},
	})
	if d.Allowed || d.Code != CodeStructuralViolation {
		t.Fatalf("expected structural deny on nonzero balance, got %+v", d)
	}

	prev := &UserProfile{Email: "pupil@x", Type: TypePupil, SecondsPupiled: 3600}
	next := &UserProfile{Email: "pupil@x", Type: TypePupil, SecondsPupiled: 7200}
	d = ev.Evaluate(view, pupilIdentity(), OpUpdate, ref, prev, next)
	if d.Allowed || d.Code != CodeStructuralViolation {
		t.Fatalf("expected structural deny on seconds change, got %+v", d)
	}

	// Trusted backend identities may move server fields.
	ev.Trust("u-server")
	server := &Identity{UID: "u-server", Email: "server@internal"}
	prev.Proxy = []string{"server@internal"}
	d = ev.Evaluate(view, server, OpUpdate, ref, prev, next)
	if !d.Allowed {
		t.Fatalf("trusted update denied: %s", d.Reason)
	}

	// Type is set at most once, trusted or not.
	retyped := &UserProfile{Email: "pupil@x", Type: TypeTutor, SecondsPupiled: 3600}
	if d = ev.Evaluate(view, pupilIdentity(), OpUpdate, ref, prev, retyped); d.Allowed {
		t.Fatalf("profile type change allowed")
	}
}

func TestRequestCreateIdentity(t *testing.T) {
	ev := NewEvaluator()
	view := mapView{}
	req := testRequest()
	out := Ref{Kind: KindRequestOut, OwnerKind: OwnerUser, Owner: "pupil@x", Collection: "requestsOut", ID: "R1"}

	if d := ev.Evaluate(view, pupilIdentity(), OpCreate, out, nil, req); !d.Allowed {
		t.Fatalf("sender create denied: %s", d.Reason)
	}
	// Proxy acts for the sender.
	if d := ev.Evaluate(view, parentIdentity(), OpCreate, out, nil, req); !d.Allowed {
		t.Fatalf("proxy create denied: %s", d.Reason)
	}
	random := &Identity{UID: "u-r", Email: "random@x"}
	if d := ev.Evaluate(view, random, OpCreate, out, nil, req); d.Allowed {
		t.Fatalf("random user sent a request on someone else's behalf")
	}
	// The copy must be stored under the right party.
	wrong := Ref{Kind: KindRequestOut, OwnerKind: OwnerUser, Owner: "tutor@x", Collection: "requestsOut", ID: "R1"}
	if d := ev.Evaluate(view, pupilIdentity(), OpCreate, wrong, nil, req); d.Allowed || d.Code != CodeStructuralViolation {
		t.Fatalf("expected structural deny for misplaced copy, got %+v", d)
	}
}

func TestReceiverOnlyApproval(t *testing.T) {
	ev := NewEvaluator()
	view := mapView{}
	req := testRequest()
	ref := Ref{Kind: KindApprovedRequestOut, OwnerKind: OwnerUser, Owner: "pupil@x", Collection: "approvedRequestsOut", ID: "R1"}
	doc := &ApprovedRequest{For: *req, ApprovedBy: ConciseUser{Email: "tutor@x"}, ApprovedTimestamp: time.Now()}

	if d := ev.Evaluate(view, tutorIdentity(), OpCreate, ref, nil, doc); !d.Allowed {
		t.Fatalf("receiver approval denied: %s", d.Reason)
	}
	if d := ev.Evaluate(view, supIdentity(), OpCreate, ref, nil, doc); !d.Allowed {
		t.Fatalf("location supervisor approval denied: %s", d.Reason)
	}
	if d := ev.Evaluate(view, pupilIdentity(), OpCreate, ref, nil, doc); d.Allowed {
		t.Fatalf("sender approved their own request")
	}

	rej := Ref{Kind: KindRejectedRequestOut, OwnerKind: OwnerUser, Owner: "pupil@x", Collection: "rejectedRequestsOut", ID: "R1"}
	rejDoc := &RejectedRequest{For: *req, RejectedBy: ConciseUser{Email: "tutor@x"}, RejectedTimestamp: time.Now()}
	if d := ev.Evaluate(view, pupilIdentity(), OpCreate, rej, nil, rejDoc); d.Allowed {
		t.Fatalf("sender rejected their own request")
	}
}

func TestApprovalOrdering(t *testing.T) {
	ev := NewEvaluator()
	req := testRequest()
	req.Timestamp = time.Now()
	appt := &Appointment{
		Attendees: []ConciseUser{req.FromUser, req.ToUser},
		For:       *req,
		Subject:   req.Subject,
		Location:  req.Location,
	}
	ref := Ref{Kind: KindAppointment, OwnerKind: OwnerUser, Owner: "pupil@x", Collection: "appointments", ID: "R1"}

	// No approval on record.
	d := ev.Evaluate(mapView{}, tutorIdentity(), OpCreate, ref, nil, appt)
	if d.Allowed || d.Code != CodeOrderingViolation {
		t.Fatalf("expected ordering_violation without approval, got %+v", d)
	}

	// Approval exists but for different content.
	stale := *req
	stale.Subject = "Chemistry"
	view := mapView{
		"users/pupil@x/approvedRequestsOut/R1": &ApprovedRequest{For: stale},
	}
	d = ev.Evaluate(view, tutorIdentity(), OpCreate, ref, nil, appt)
	if d.Allowed || d.Code != CodeOrderingViolation {
		t.Fatalf("expected ordering_violation on mismatched approval, got %+v", d)
	}

	// Matching approval.
	view["users/pupil@x/approvedRequestsOut/R1"] = &ApprovedRequest{For: *req}
	if d = ev.Evaluate(view, tutorIdentity(), OpCreate, ref, nil, appt); !d.Allowed {
		t.Fatalf("appointment create denied with valid approval: %s", d.Reason)
	}
}

func TestClockEventRules(t *testing.T) {
	ev := NewEvaluator()
	req := testRequest()
	appt := &Appointment{Attendees: []ConciseUser{req.FromUser, req.ToUser}, For: *req, Location: req.Location}
	view := mapView{
		"users/pupil@x/appointments/R1": appt,
		"locations/L1":                  &Location{Name: "Gunn", Supervisors: []string{"sup@x"}},
	}
	ref := Ref{Kind: KindClockIn, OwnerKind: OwnerUser, Owner: "sup@x", Collection: "clockIns", ID: "R1"}
	evt := &ClockEvent{For: *appt, SentBy: ConciseUser{Email: "tutor@x"}, SentTimestamp: time.Now()}

	if d := ev.Evaluate(view, tutorIdentity(), OpCreate, ref, nil, evt); !d.Allowed {
		t.Fatalf("attendee clock-in denied: %s", d.Reason)
	}

	// sentBy must be the caller.
	forged := &ClockEvent{For: *appt, SentBy: ConciseUser{Email: "pupil@x"}, SentTimestamp: time.Now()}
	if d := ev.Evaluate(view, tutorIdentity(), OpCreate, ref, nil, forged); d.Allowed {
		t.Fatalf("clock-in with forged sentBy allowed")
	}

	// Non-attendees cannot clock in.
	random := &Identity{UID: "u-r", Email: "random@x"}
	if d := ev.Evaluate(view, random, OpCreate, ref, nil, evt); d.Allowed {
		t.Fatalf("non-attendee clocked in")
	}

	// The pending doc must land with a supervisor of the appointment's location.
	elsewhere := Ref{Kind: KindClockIn, OwnerKind: OwnerUser, Owner: "sup2@x", Collection: "clockIns", ID: "R1"}
	if d := ev.Evaluate(view, tutorIdentity(), OpCreate, elsewhere, nil, evt); d.Allowed {
		t.Fatalf("clock-in filed with a non-supervising user")
	}

	// Without the referenced appointment the event is out of order.
	if d := ev.Evaluate(mapView{"locations/L1": &Location{Supervisors: []string{"sup@x"}}}, tutorIdentity(), OpCreate, ref, nil, evt); d.Allowed || d.Code != CodeOrderingViolation {
		t.Fatalf("expected ordering_violation without appointment, got %+v", d)
	}
}

func TestActiveAppointmentSupervisorOnly(t *testing.T) {
	ev := NewEvaluator()
	req := testRequest()
	active := &Appointment{
		Attendees: []ConciseUser{req.FromUser, req.ToUser},
		For:       *req,
		Location:  req.Location,
		ClockIn:   &ClockRecord{SentBy: ConciseUser{Email: "tutor@x"}},
	}
	ref := Ref{Kind: KindActiveAppointment, OwnerKind: OwnerUser, Owner: "pupil@x", Collection: "activeAppointments", ID: "R1"}

	if d := ev.Evaluate(mapView{}, supIdentity(), OpCreate, ref, nil, active); !d.Allowed {
		t.Fatalf("supervisor activation denied: %s", d.Reason)
	}
	if d := ev.Evaluate(mapView{}, tutorIdentity(), OpCreate, ref, nil, active); d.Allowed {
		t.Fatalf("attendee activated an appointment directly")
	}

	// Supervisors are scoped to their own locations.
	other := &Identity{UID: "u-sup2", Email: "sup2@x", Claims: Claims{Supervisor: true, Locations: []string{"L2"}}}
	if d := ev.Evaluate(mapView{}, other, OpCreate, ref, nil, active); d.Allowed {
		t.Fatalf("cross-location supervisor activated an appointment")
	}

	bare := &Appointment{Attendees: active.Attendees, For: *req, Location: req.Location}
	if d := ev.Evaluate(mapView{}, supIdentity(), OpCreate, ref, nil, bare); d.Allowed || d.Code != CodeStructuralViolation {
		t.Fatalf("expected structural deny without clock-in record, got %+v", d)
	}
}

func TestListPredicateScoping(t *testing.T) {
	ev := NewEvaluator()
	view := mapView{}
	ref := Ref{Kind: KindRequestOut, OwnerKind: OwnerUser, Owner: "pupil@x", Collection: "requestsOut"}

	if d := ev.EvaluateList(view, pupilIdentity(), ref, nil); !d.Allowed {
		t.Fatalf("owner list denied: %s", d.Reason)
	}
	if d := ev.EvaluateList(view, &Identity{UID: "u-r", Email: "random@x"}, ref, nil); d.Allowed {
		t.Fatalf("random user listed someone else's requests")
	}

	// Supervisors must narrow to a location they hold a claim for.
	sup := supIdentity()
	if d := ev.EvaluateList(view, sup, ref, &ListPredicate{Field: "for.location.id", Value: "L1"}); !d.Allowed {
		t.Fatalf("supervisor scoped list denied: %s", d.Reason)
	}
	if d := ev.EvaluateList(view, sup, ref, &ListPredicate{Field: "for.location.id", Value: "L2"}); d.Allowed {
		t.Fatalf("supervisor listed another location's requests")
	}
	if d := ev.EvaluateList(view, sup, ref, nil); d.Allowed {
		t.Fatalf("supervisor listed without a location predicate")
	}

	// Tutors may query their own rejections in the supervisor's tree.
	rejected := Ref{Kind: KindRejectedClockIn, OwnerKind: OwnerUser, Owner: "sup@x", Collection: "rejectedClockIns"}
	if d := ev.EvaluateList(view, tutorIdentity(), rejected, &ListPredicate{Field: "sentBy.email", Value: "tutor@x"}); !d.Allowed {
		t.Fatalf("tutor self-query denied: %s", d.Reason)
	}
	if d := ev.EvaluateList(view, tutorIdentity(), rejected, &ListPredicate{Field: "sentBy.email", Value: "pupil@x"}); d.Allowed {
		t.Fatalf("tutor queried someone else's rejections")
	}
}

func TestShadowImmutability(t *testing.T) {
	ev := NewEvaluator()
	view := mapView{}
	ref := Ref{Kind: KindCanceledRequestIn, OwnerKind: OwnerUser, Owner: "tutor@x", Collection: "canceledRequestsIn", ID: "R1"}
	existing := &CanceledRequest{For: *testRequest()}

	d := ev.Evaluate(view, tutorIdentity(), OpUpdate, ref, existing, existing)
	if d.Allowed || d.Code != CodeStructuralViolation {
		t.Fatalf("expected shadow update to be structural deny, got %+v", d)
	}
	// Recipient dismisses by delete.
	if d := ev.Evaluate(view, tutorIdentity(), OpDelete, ref, existing, nil); !d.Allowed {
		t.Fatalf("recipient dismissal denied: %s", d.Reason)
	}
	if d := ev.Evaluate(view, pupilIdentity(), OpDelete, ref, existing, nil); d.Allowed {
		t.Fatalf("non-recipient dismissed a notification")
	}
}
