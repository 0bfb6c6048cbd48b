package tutorbook

import (
	"testing"
)

func TestFullClockCycle(t *testing.T) {
	w := newWorld(t)
	id := w.activeAppt(t) // id-001: request sent, approved, clocked in

	w.mustExist(t, "users/"+pupilEmail+"/activeAppointments/"+id)
	w.mustExist(t, "users/"+tutorEmail+"/activeAppointments/"+id)
	w.mustExist(t, "locations/L1/activeAppointments/"+id)
	w.mustNotExist(t, "users/"+supEmail+"/clockIns/"+id)

	if d, err := w.flows.ClockOut(w.ctx, "tutor", supEmail, id); err != nil {
		t.Fatalf("clock out: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+supEmail+"/clockOuts/"+id)

	if d, err := w.flows.ApproveClockOut(w.ctx, "sup", supEmail, id); err != nil {
		t.Fatalf("approve clock out: %v (reason=%s)", err, reasonOf(d))
	}

	// The active copies retire into past copies under a fresh id.
	pastID := w.onlyDocIn(t, "users/"+pupilEmail+"/pastAppointments")
	if pastID == id {
		t.Fatalf("past id must differ from the appointment id")
	}
	w.mustNotExist(t, "users/"+pupilEmail+"/activeAppointments/"+id)
	w.mustNotExist(t, "locations/L1/activeAppointments/"+id)
	w.mustExist(t, "users/"+pupilEmail+"/pastAppointments/"+pastID)
	w.mustExist(t, "users/"+tutorEmail+"/pastAppointments/"+pastID)
	w.mustExist(t, "locations/L1/pastAppointments/"+pastID)

	raw, _ := w.store.Lookup("users/" + pupilEmail + "/pastAppointments/" + pastID)
	past, ok := raw.(*Appointment)
	if !ok {
		t.Fatalf("past doc has wrong type: %T", raw)
	}
	if past.ClockIn == nil || past.ClockOut == nil {
		t.Fatalf("past appointment missing clock records: %+v", past)
	}
	if past.ClockIn.SentBy.Email != tutorEmail || past.ClockIn.ApprovedBy.Email != supEmail {
		t.Fatalf("clock-in record wrong: %+v", past.ClockIn)
	}
}

func TestPaidRequestCarriesPayments(t *testing.T) {
	w := newWorld(t)
	req := w.sampleRequest()
	req.Payment = PaymentInfo{Type: "Paid", Amount: 25, Method: "Stripe"}

	id, d, err := w.flows.NewRequest(w.ctx, "pupil", req)
	if err != nil {
		t.Fatalf("new paid request: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+pupilEmail+"/authPayments/"+id)
	w.mustExist(t, "users/"+tutorEmail+"/authPayments/"+id)

	if _, err := w.flows.ApproveRequest(w.ctx, "tutor", tutorEmail, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := w.flows.ClockIn(w.ctx, "tutor", supEmail, id); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if _, err := w.flows.ApproveClockIn(w.ctx, "sup", supEmail, id); err != nil {
		t.Fatalf("approve clock in: %v", err)
	}
	if _, err := w.flows.ClockOut(w.ctx, "tutor", supEmail, id); err != nil {
		t.Fatalf("clock out: %v", err)
	}
	if d, err := w.flows.ApproveClockOut(w.ctx, "sup", supEmail, id); err != nil {
		t.Fatalf("approve clock out: %v (reason=%s)", err, reasonOf(d))
	}

	pastID := w.onlyDocIn(t, "users/"+pupilEmail+"/pastAppointments")
	w.mustExist(t, "users/"+pupilEmail+"/pastPayments/"+pastID)
	w.mustExist(t, "users/"+tutorEmail+"/pastPayments/"+pastID)
}

func TestCancelRequestLeavesNotices(t *testing.T) {
	w := newWorld(t)

	// The sender cancels: only the receiver is notified.
	id := w.sendRequest(t)
	if d, err := w.flows.CancelRequest(w.ctx, "pupil", pupilEmail, id); err != nil {
		t.Fatalf("cancel: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustNotExist(t, "users/"+pupilEmail+"/requestsOut/"+id)
	w.mustNotExist(t, "users/"+tutorEmail+"/requestsIn/"+id)
	w.mustExist(t, "users/"+tutorEmail+"/canceledRequestsIn/"+id)
	w.mustNotExist(t, "users/"+pupilEmail+"/canceledRequestsOut/"+id)

	// A supervisor cancels on the sender's behalf: both parties are notified.
	id = w.sendRequest(t)
	if d, err := w.flows.CancelRequest(w.ctx, "sup", pupilEmail, id); err != nil {
		t.Fatalf("supervisor cancel: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+tutorEmail+"/canceledRequestsIn/"+id)
	w.mustExist(t, "users/"+pupilEmail+"/canceledRequestsOut/"+id)
}

func TestRejectRequest(t *testing.T) {
	w := newWorld(t)
	id := w.sendRequest(t)
	if d, err := w.flows.RejectRequest(w.ctx, "tutor", tutorEmail, id); err != nil {
		t.Fatalf("reject: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustNotExist(t, "users/"+tutorEmail+"/requestsIn/"+id)
	w.mustExist(t, "users/"+pupilEmail+"/rejectedRequestsOut/"+id)

	// The sender cannot reject their own request.
	id = w.sendRequest(t)
	d, err := w.flows.RejectRequest(w.ctx, "pupil", tutorEmail, id)
	expectDeny(t, d, err, CodePermissionDenied)
}

func TestModifyRequestNotifiesOtherParty(t *testing.T) {
	w := newWorld(t)
	id := w.sendRequest(t)

	updated := w.sampleRequest()
	updated.Subject = "Geometry"
	if d, err := w.flows.ModifyRequest(w.ctx, "pupil", id, updated); err != nil {
		t.Fatalf("modify: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+tutorEmail+"/modifiedRequestsIn/"+id)
	w.mustNotExist(t, "users/"+pupilEmail+"/modifiedRequestsOut/"+id)

	raw, _ := w.store.Lookup("users/" + tutorEmail + "/requestsIn/" + id)
	if req, ok := raw.(*Request); !ok || req.Subject != "Geometry" {
		t.Fatalf("receiver copy not updated: %+v", raw)
	}
}

func TestModifyApptAndDismissNotice(t *testing.T) {
	w := newWorld(t)
	id := w.approvedAppt(t)

	raw, _ := w.store.Lookup("users/" + tutorEmail + "/appointments/" + id)
	appt := raw.(*Appointment)
	updated := *appt
	updated.Time = Timeslot{Day: "Tuesday", From: "4:00 PM", To: "5:00 PM"}
	if d, err := w.flows.ModifyAppt(w.ctx, "tutor", tutorEmail, id, &updated); err != nil {
		t.Fatalf("modify appt: %v (reason=%s)", err, reasonOf(d))
	}
	noticePath := "users/" + pupilEmail + "/modifiedAppointments/" + id
	w.mustExist(t, noticePath)
	w.mustExist(t, "locations/L1/modifiedAppointments/"+id)
	w.mustNotExist(t, "users/"+tutorEmail+"/modifiedAppointments/"+id)

	// Only the recipient may dismiss the notice.
	d, err := w.flows.DismissNotice(w.ctx, "random", noticePath)
	expectDeny(t, d, err, CodePermissionDenied)
	if _, err := w.flows.DismissNotice(w.ctx, "pupil", noticePath); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	w.mustNotExist(t, noticePath)
}

func TestCancelApptRemovesAllCopies(t *testing.T) {
	w := newWorld(t)
	id := w.approvedAppt(t)

	if d, err := w.flows.CancelAppt(w.ctx, "pupil", pupilEmail, id); err != nil {
		t.Fatalf("cancel appt: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustNotExist(t, "users/"+pupilEmail+"/appointments/"+id)
	w.mustNotExist(t, "users/"+tutorEmail+"/appointments/"+id)
	w.mustNotExist(t, "locations/L1/appointments/"+id)
	w.mustExist(t, "users/"+tutorEmail+"/canceledAppointments/"+id)
	w.mustExist(t, "locations/L1/canceledAppointments/"+id)
}

func TestRejectClockInKeepsApptScheduled(t *testing.T) {
	w := newWorld(t)
	id := w.approvedAppt(t)
	if _, err := w.flows.ClockIn(w.ctx, "tutor", supEmail, id); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if d, err := w.flows.RejectClockIn(w.ctx, "sup", supEmail, id); err != nil {
		t.Fatalf("reject clock in: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustNotExist(t, "users/"+supEmail+"/clockIns/"+id)
	w.mustExist(t, "users/"+supEmail+"/rejectedClockIns/"+id)
	w.mustExist(t, "users/"+tutorEmail+"/appointments/"+id)
	w.mustNotExist(t, "users/"+tutorEmail+"/activeAppointments/"+id)
}

func TestRejectClockOutKeepsApptActive(t *testing.T) {
	w := newWorld(t)
	id := w.activeAppt(t)
	if _, err := w.flows.ClockOut(w.ctx, "tutor", supEmail, id); err != nil {
		t.Fatalf("clock out: %v", err)
	}
	if d, err := w.flows.RejectClockOut(w.ctx, "sup", supEmail, id); err != nil {
		t.Fatalf("reject clock out: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+supEmail+"/rejectedClockOuts/"+id)
	w.mustExist(t, "users/"+tutorEmail+"/activeAppointments/"+id)
}

func TestInstantClockCycle(t *testing.T) {
	w := newWorld(t)
	id := w.approvedAppt(t)

	// An attendee cannot take the shortcut.
	d, err := w.flows.InstantClockIn(w.ctx, "tutor", pupilEmail, id)
	expectDeny(t, d, err, CodePermissionDenied)

	if d, err := w.flows.InstantClockIn(w.ctx, "sup", pupilEmail, id); err != nil {
		t.Fatalf("instant clock in: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+pupilEmail+"/activeAppointments/"+id)

	if d, err := w.flows.InstantClockOut(w.ctx, "sup", pupilEmail, id); err != nil {
		t.Fatalf("instant clock out: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustNotExist(t, "users/"+pupilEmail+"/activeAppointments/"+id)
	pastID := w.onlyDocIn(t, "users/"+pupilEmail+"/pastAppointments")
	if pastID == id {
		t.Fatalf("past id must differ from the appointment id")
	}
	w.mustExist(t, "locations/L1/pastAppointments/"+pastID)
}

func TestPastApptMaintenance(t *testing.T) {
	w := newWorld(t)
	appt := &Appointment{
		Attendees: []ConciseUser{w.pupilUser(), w.tutorUser()},
		For:       *w.sampleRequest(),
		Subject:   "Algebra",
		Location:  LocationRef{ID: "L1", Name: "Gunn Academic Center"},
	}

	// Backfill is supervisor-only.
	_, d, err := w.flows.NewPastAppt(w.ctx, "tutor", appt)
	expectDeny(t, d, err, CodePermissionDenied)

	id, d, err := w.flows.NewPastAppt(w.ctx, "sup", appt)
	if err != nil {
		t.Fatalf("backfill: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+pupilEmail+"/pastAppointments/"+id)
	raw, _ := w.store.Lookup("users/" + pupilEmail + "/pastAppointments/" + id)
	if past := raw.(*Appointment); past.ClockIn == nil || past.ClockOut == nil {
		t.Fatalf("backfill must synthesize clock records")
	}

	updated := *appt
	updated.Subject = "Geometry"
	if d, err := w.flows.ModifyPastAppt(w.ctx, "sup", id, &updated); err != nil {
		t.Fatalf("modify past: %v (reason=%s)", err, reasonOf(d))
	}
	if d, err := w.flows.DeletePastAppt(w.ctx, "sup", pupilEmail, id); err != nil {
		t.Fatalf("delete past: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustNotExist(t, "users/"+pupilEmail+"/pastAppointments/"+id)
	w.mustNotExist(t, "locations/L1/pastAppointments/"+id)
}

func TestParentActsForChild(t *testing.T) {
	w := newWorld(t)
	id, d, err := w.flows.NewRequest(w.ctx, "parent", w.sampleRequest())
	if err != nil {
		t.Fatalf("parent-sent request: %v (reason=%s)", err, reasonOf(d))
	}
	w.mustExist(t, "users/"+pupilEmail+"/requestsOut/"+id)

	// A stranger sending on the pupil's behalf is refused.
	_, d, err = w.flows.NewRequest(w.ctx, "random", w.sampleRequest())
	expectDeny(t, d, err, CodePermissionDenied)
}
