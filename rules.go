package tutorbook

import (
	"fmt"
)

// ============================================================================
// RULE EVALUATOR
// ============================================================================

// DocView is the read-only state a rule may consult while deciding. During a
// batch it is an overlay of the committed store plus the writes already
// validated earlier in the same batch, which is what turns cross-party
// atomicity into a read-dependency chain: a downstream doc only passes once
// its prerequisite is visible.
type DocView interface {
	Lookup(path string) (any, bool)
}

// Evaluator is the per-operation decision function. It is pure over
// (caller, op, ref, existing, incoming) plus the DocView for prerequisite
// re-reads; it holds no workflow state of its own.
type Evaluator struct {
	trusted map[string]bool // server-context UIDs allowed to touch frozen fields
}

func NewEvaluator() *Evaluator {
	return &Evaluator{trusted: make(map[string]bool)}
}

// Trust marks a UID as a trusted server context. Trusted callers may write
// the server-controlled profile fields; nothing else changes for them.
func (ev *Evaluator) Trust(uid string) {
	ev.trusted[uid] = true
}

func (ev *Evaluator) isTrusted(caller *Identity) bool {
	return caller != nil && ev.trusted[caller.UID]
}

// Evaluate decides one document operation. Unauthenticated callers are denied
// outright; there are no public reads in this system.
func (ev *Evaluator) Evaluate(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	if caller == nil || caller.Email == "" {
		return deny(CodePermissionDenied, "unauthenticated")
	}
	if ref.Kind == KindUnknown {
		return deny(CodeNotFound, "unrecognized path")
	}

	switch ref.Kind {
	case KindUser:
		return ev.evalUser(view, caller, op, ref, existing, incoming)
	case KindLocation:
		return ev.evalLocation(caller, op, ref, existing, incoming)
	case KindRequestIn, KindRequestOut:
		return ev.evalRequest(view, caller, op, ref, existing, incoming)
	case KindModifiedRequestIn, KindModifiedRequestOut:
		return ev.evalModifiedRequest(view, caller, op, ref, existing, incoming)
	case KindCanceledRequestIn, KindCanceledRequestOut:
		return ev.evalCanceledRequest(view, caller, op, ref, existing, incoming)
	case KindRejectedRequestOut:
		return ev.evalRejectedRequest(view, caller, op, ref, existing, incoming)
	case KindApprovedRequestOut:
		return ev.evalApprovedRequest(view, caller, op, ref, existing, incoming)
	case KindAppointment:
		return ev.evalAppointment(view, caller, op, ref, existing, incoming)
	case KindModifiedAppointment, KindCanceledAppointment:
		return ev.evalAppointmentShadow(view, caller, op, ref, existing, incoming)
	case KindActiveAppointment:
		return ev.evalActiveAppointment(view, caller, op, ref, existing, incoming)
	case KindPastAppointment:
		return ev.evalPastAppointment(view, caller, op, ref, existing, incoming)
	case KindClockIn:
		return ev.evalClockEvent(view, caller, op, ref, existing, incoming, "appointments")
	case KindClockOut:
		return ev.evalClockEvent(view, caller, op, ref, existing, incoming, "activeAppointments")
	case KindApprovedClockIn, KindApprovedClockOut:
		return ev.evalResolvedClock(view, caller, op, ref, existing, incoming)
	case KindRejectedClockIn, KindRejectedClockOut:
		return ev.evalResolvedClock(view, caller, op, ref, existing, incoming)
	case KindAuthPayment, KindPastPayment, KindPaidPayment:
		return ev.evalPayment(view, caller, op, ref, existing, incoming)
	}
	return deny(CodeNotFound, "unrecognized kind")
}

// ----------------------------------------------------------------------------
// User profiles
// ----------------------------------------------------------------------------

func (ev *Evaluator) evalUser(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		// Profiles are readable by any signed-in user (search/discovery).
		return allow("user.read")
	case OpDelete:
		return deny(CodePermissionDenied, "profiles are never deleted")
	case OpCreate:
		profile, ok := incoming.(*UserProfile)
		if !ok {
			return deny(CodeStructuralViolation, "user create requires a profile document")
		}
		if !ev.isTrusted(caller) {
			if profile.Payments.CurrentBalance != 0 || profile.SecondsTutored != 0 || profile.SecondsPupiled != 0 {
				return deny(CodeStructuralViolation, "balance and tutoring seconds must start at zero")
			}
		}
		if caller.Email == ref.Owner {
			return allow("user.create.owner")
		}
		if (caller.Claims.Supervisor || caller.Claims.Parent) && contains(profile.Proxy, caller.Email) {
			return allow("user.create.proxied")
		}
		return deny(CodePermissionDenied, fmt.Sprintf("%s may not create a profile for %s", caller.Email, ref.Owner))
	case OpUpdate:
		prev, ok := existing.(*UserProfile)
		if !ok {
			return deny(CodeNotFound, "profile does not exist")
		}
		next, ok := incoming.(*UserProfile)
		if !ok {
			return deny(CodeStructuralViolation, "user update requires a profile document")
		}
		if !actsFor(caller, ref.Owner, prev.Proxy) {
			return deny(CodePermissionDenied, fmt.Sprintf("%s may not update the profile of %s", caller.Email, ref.Owner))
		}
		if prev.Type != "" && next.Type != prev.Type {
			return deny(CodeStructuralViolation, "profile type is set at most once")
		}
		if !ev.isTrusted(caller) {
			if next.Payments.CurrentBalance != prev.Payments.CurrentBalance ||
				next.SecondsTutored != prev.SecondsTutored ||
				next.SecondsPupiled != prev.SecondsPupiled {
				return deny(CodeStructuralViolation, "server-controlled profile fields are frozen")
			}
		}
		return allow("user.update")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// ----------------------------------------------------------------------------
// Locations
// ----------------------------------------------------------------------------

func (ev *Evaluator) evalLocation(caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return allow("location.read")
	case OpCreate:
		loc, ok := incoming.(*Location)
		if !ok {
			return deny(CodeStructuralViolation, "location create requires a location document")
		}
		if !caller.Claims.Supervisor {
			return deny(CodePermissionDenied, "only supervisors may create locations")
		}
		if !loc.Supervised(caller.Email) {
			return deny(CodeStructuralViolation, "creator must be listed as a supervisor")
		}
		return allow("location.create")
	case OpUpdate, OpDelete:
		prev, ok := existing.(*Location)
		if !ok {
			return deny(CodeNotFound, "location does not exist")
		}
		if !prev.Supervised(caller.Email) {
			return deny(CodePermissionDenied, fmt.Sprintf("%s does not supervise this location", caller.Email))
		}
		return allow("location.supervise")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// ----------------------------------------------------------------------------
// Requests
// ----------------------------------------------------------------------------

func (ev *Evaluator) evalRequest(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		req, ok := incoming.(*Request)
		if !ok {
			return deny(CodeStructuralViolation, "request create requires a request document")
		}
		want := req.FromUser.Email
		if ref.Kind == KindRequestIn {
			want = req.ToUser.Email
		}
		if ref.Owner != want {
			return deny(CodeStructuralViolation, "request stored under the wrong user")
		}
		if actsForUser(caller, req.FromUser) || caller.Claims.SupervisesLocation(req.Location.ID) {
			return allow("request.create.sender")
		}
		return deny(CodePermissionDenied, "only the sender or their proxy may send a request")
	case OpUpdate:
		prev, ok := existing.(*Request)
		if !ok {
			return deny(CodeNotFound, "request does not exist")
		}
		next, ok := incoming.(*Request)
		if !ok {
			return deny(CodeStructuralViolation, "request update requires a request document")
		}
		if next.FromUser.Email != prev.FromUser.Email || next.ToUser.Email != prev.ToUser.Email {
			return deny(CodeStructuralViolation, "request parties are immutable")
		}
		if !ev.requestParty(caller, prev) {
			return deny(CodePermissionDenied, "only the sender, receiver, their proxies or the location supervisor may modify a request")
		}
		return allow("request.update")
	case OpDelete:
		prev, ok := existing.(*Request)
		if !ok {
			return deny(CodeNotFound, "request does not exist")
		}
		if !ev.requestParty(caller, prev) {
			return deny(CodePermissionDenied, "only the sender, receiver, their proxies or the location supervisor may remove a request")
		}
		return allow("request.delete")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// requestParty is the shared membership check for request mutations: sender,
// receiver, a proxy of either, or a supervisor of the request's location.
func (ev *Evaluator) requestParty(caller *Identity, req *Request) bool {
	return actsForUser(caller, req.FromUser) ||
		actsForUser(caller, req.ToUser) ||
		caller.Claims.SupervisesLocation(req.Location.ID)
}

func (ev *Evaluator) evalModifiedRequest(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		doc, ok := incoming.(*ModifiedRequest)
		if !ok {
			return deny(CodeStructuralViolation, "shadow create requires a modified-request document")
		}
		if !ev.requestParty(caller, &doc.For) {
			return deny(CodePermissionDenied, "only a party to the request may record a modification")
		}
		return allow("modifiedRequest.create")
	case OpUpdate:
		return deny(CodeStructuralViolation, "shadow documents are immutable")
	case OpDelete:
		return ev.shadowDismiss(view, caller, ref, existing)
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) evalCanceledRequest(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		doc, ok := incoming.(*CanceledRequest)
		if !ok {
			return deny(CodeStructuralViolation, "shadow create requires a canceled-request document")
		}
		// Cancellation is sender-initiated; supervisors may cancel on the
		// sender's behalf.
		if actsForUser(caller, doc.For.FromUser) || caller.Claims.SupervisesLocation(doc.For.Location.ID) {
			return allow("canceledRequest.create")
		}
		return deny(CodePermissionDenied, "only the sender or the location supervisor may cancel")
	case OpUpdate:
		return deny(CodeStructuralViolation, "shadow documents are immutable")
	case OpDelete:
		return ev.shadowDismiss(view, caller, ref, existing)
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) evalRejectedRequest(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		doc, ok := incoming.(*RejectedRequest)
		if !ok {
			return deny(CodeStructuralViolation, "shadow create requires a rejected-request document")
		}
		if ref.Owner != doc.For.FromUser.Email {
			return deny(CodeStructuralViolation, "rejection is recorded in the sender's collection")
		}
		// Rejection is receiver-only; the sender cannot reject their own
		// request.
		if actsForUser(caller, doc.For.ToUser) || caller.Claims.SupervisesLocation(doc.For.Location.ID) {
			return allow("rejectedRequest.create")
		}
		return deny(CodePermissionDenied, "only the receiver or the location supervisor may reject")
	case OpUpdate:
		return deny(CodeStructuralViolation, "shadow documents are immutable")
	case OpDelete:
		return ev.shadowDismiss(view, caller, ref, existing)
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) evalApprovedRequest(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		doc, ok := incoming.(*ApprovedRequest)
		if !ok {
			return deny(CodeStructuralViolation, "approval requires an approved-request document")
		}
		if ref.Owner != doc.For.FromUser.Email {
			return deny(CodeStructuralViolation, "approval is recorded in the sender's collection")
		}
		if actsForUser(caller, doc.For.ToUser) || caller.Claims.SupervisesLocation(doc.For.Location.ID) {
			return allow("approvedRequest.create")
		}
		return deny(CodePermissionDenied, "only the receiver or the location supervisor may approve")
	case OpUpdate:
		return deny(CodeStructuralViolation, "shadow documents are immutable")
	case OpDelete:
		return ev.shadowDismiss(view, caller, ref, existing)
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// ----------------------------------------------------------------------------
// Appointments
// ----------------------------------------------------------------------------

func (ev *Evaluator) evalAppointment(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		appt, ok := incoming.(*Appointment)
		if !ok {
			return deny(CodeStructuralViolation, "appointment create requires an appointment document")
		}
		if len(appt.Attendees) != 2 {
			return deny(CodeStructuralViolation, "appointments have exactly two attendees")
		}
		if !actsForUser(caller, appt.For.ToUser) && !caller.Claims.SupervisesLocation(appt.Location.ID) {
			return deny(CodePermissionDenied, "only the receiver or the location supervisor may create an appointment")
		}
		// Ordering invariant: the approval doc must already be visible, with
		// content consistent with this appointment. This is what prevents a
		// fabricated appointment that never went through approval.
		raw, ok := view.Lookup("users/" + appt.For.FromUser.Email + "/approvedRequestsOut/" + ref.ID)
		if !ok {
			return deny(CodeOrderingViolation, "no approval on record for this appointment id")
		}
		approval, ok := raw.(*ApprovedRequest)
		if !ok || !approval.For.Equal(&appt.For) {
			return deny(CodeOrderingViolation, "approval on record does not match the appointment")
		}
		return allow("appointment.create")
	case OpUpdate:
		prev, ok := existing.(*Appointment)
		if !ok {
			return deny(CodeNotFound, "appointment does not exist")
		}
		next, ok := incoming.(*Appointment)
		if !ok {
			return deny(CodeStructuralViolation, "appointment update requires an appointment document")
		}
		if len(next.Attendees) != len(prev.Attendees) {
			return deny(CodeStructuralViolation, "appointment attendees are immutable")
		}
		for i := range prev.Attendees {
			if next.Attendees[i].Email != prev.Attendees[i].Email {
				return deny(CodeStructuralViolation, "appointment attendees are immutable")
			}
		}
		if !ev.apptParty(caller, prev) {
			return deny(CodePermissionDenied, "only an attendee or the location supervisor may modify an appointment")
		}
		return allow("appointment.update")
	case OpDelete:
		prev, ok := existing.(*Appointment)
		if !ok {
			return deny(CodeNotFound, "appointment does not exist")
		}
		if !ev.apptParty(caller, prev) {
			return deny(CodePermissionDenied, "only an attendee or the location supervisor may cancel an appointment")
		}
		return allow("appointment.delete")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) apptParty(caller *Identity, appt *Appointment) bool {
	for _, at := range appt.Attendees {
		if actsForUser(caller, at) {
			return true
		}
	}
	return caller.Claims.SupervisesLocation(appt.Location.ID)
}

func (ev *Evaluator) evalAppointmentShadow(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		var appt *Appointment
		switch doc := incoming.(type) {
		case *ModifiedAppointment:
			appt = &doc.For
		case *CanceledAppointment:
			appt = &doc.For
		default:
			return deny(CodeStructuralViolation, "shadow create requires an appointment shadow document")
		}
		if !ev.apptParty(caller, appt) {
			return deny(CodePermissionDenied, "only a party to the appointment may record this change")
		}
		return allow("appointmentShadow.create")
	case OpUpdate:
		return deny(CodeStructuralViolation, "shadow documents are immutable")
	case OpDelete:
		return ev.shadowDismiss(view, caller, ref, existing)
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) evalActiveAppointment(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		appt, ok := incoming.(*Appointment)
		if !ok {
			return deny(CodeStructuralViolation, "active appointment create requires an appointment document")
		}
		if !caller.Claims.SupervisesLocation(appt.Location.ID) {
			return deny(CodePermissionDenied, "only the location supervisor may activate an appointment")
		}
		if appt.ClockIn == nil {
			return deny(CodeStructuralViolation, "active appointments carry the approved clock-in")
		}
		return allow("activeAppointment.create")
	case OpUpdate:
		return deny(CodeStructuralViolation, "active appointments change only through clock transitions")
	case OpDelete:
		prev, ok := existing.(*Appointment)
		if !ok {
			return deny(CodeNotFound, "active appointment does not exist")
		}
		if !caller.Claims.SupervisesLocation(prev.Location.ID) {
			return deny(CodePermissionDenied, "only the location supervisor may retire an active appointment")
		}
		return allow("activeAppointment.delete")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) evalPastAppointment(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		appt, ok := incoming.(*Appointment)
		if !ok {
			return deny(CodeStructuralViolation, "past appointment create requires an appointment document")
		}
		if !caller.Claims.SupervisesLocation(appt.Location.ID) {
			return deny(CodePermissionDenied, "only the location supervisor may record a past appointment")
		}
		return allow("pastAppointment.create")
	case OpUpdate:
		prev, ok := existing.(*Appointment)
		if !ok {
			return deny(CodeNotFound, "past appointment does not exist")
		}
		if !caller.Claims.SupervisesLocation(prev.Location.ID) {
			return deny(CodePermissionDenied, "only the location supervisor may amend history")
		}
		return allow("pastAppointment.update")
	case OpDelete:
		prev, ok := existing.(*Appointment)
		if !ok {
			return deny(CodeNotFound, "past appointment does not exist")
		}
		if !ev.apptParty(caller, prev) {
			return deny(CodePermissionDenied, "only an attendee or the location supervisor may delete history")
		}
		return allow("pastAppointment.delete")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// ----------------------------------------------------------------------------
// Clock events
// ----------------------------------------------------------------------------

// evalClockEvent covers pending clock-ins and clock-outs. srcCollection is
// the appointment collection the event must reference (appointments for a
// clock-in, activeAppointments for a clock-out).
func (ev *Evaluator) evalClockEvent(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any, srcCollection string) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		evt, ok := incoming.(*ClockEvent)
		if !ok {
			return deny(CodeStructuralViolation, "clock create requires a clock-event document")
		}
		if len(evt.For.Attendees) != 2 {
			return deny(CodeStructuralViolation, "clock event references a malformed appointment")
		}
		// Never trust the embedded snapshot alone: the referenced appointment
		// must exist in the attendee's collection under the same id.
		raw, found := view.Lookup("users/" + evt.For.Attendees[0].Email + "/" + srcCollection + "/" + ref.ID)
		if !found {
			return deny(CodeOrderingViolation, "no "+srcCollection+" doc for this clock event")
		}
		appt, ok := raw.(*Appointment)
		if !ok {
			return deny(CodeOrderingViolation, "clock event prerequisite is not an appointment")
		}
		attendee := false
		for _, at := range appt.Attendees {
			if actsForUser(caller, at) {
				attendee = true
				break
			}
		}
		if !attendee && !caller.Claims.SupervisesLocation(appt.Location.ID) {
			return deny(CodePermissionDenied, "only an attendee may clock in or out")
		}
		if evt.SentBy.Email != caller.Email && !caller.Claims.SupervisesLocation(appt.Location.ID) {
			return deny(CodeStructuralViolation, "sentBy must be the caller")
		}
		// The pending doc must land with a supervisor of the appointment's
		// location.
		locRaw, found := view.Lookup("locations/" + appt.Location.ID)
		if !found {
			return deny(CodeOrderingViolation, "appointment location does not exist")
		}
		loc, ok := locRaw.(*Location)
		if !ok || !loc.Supervised(ref.Owner) {
			return deny(CodePermissionDenied, "clock events go to a supervisor of the appointment's location")
		}
		return allow("clockEvent.create")
	case OpUpdate:
		return deny(CodeStructuralViolation, "pending clock events are immutable")
	case OpDelete:
		evt, ok := existing.(*ClockEvent)
		if !ok {
			return deny(CodeNotFound, "clock event does not exist")
		}
		// Resolution (supervisor) or withdrawal (sender) both surface as
		// delete; the workflow validator checks what replaces it.
		if caller.Claims.SupervisesLocation(evt.For.Location.ID) || actsForUser(caller, evt.SentBy) {
			return allow("clockEvent.delete")
		}
		return deny(CodePermissionDenied, "only the supervisor or the sender may remove a pending clock event")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

func (ev *Evaluator) evalResolvedClock(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		var appt Appointment
		switch doc := incoming.(type) {
		case *ApprovedClockEvent:
			appt = doc.For
		case *RejectedClockEvent:
			appt = doc.For
		default:
			return deny(CodeStructuralViolation, "resolution requires an approved or rejected clock document")
		}
		if !caller.Claims.SupervisesLocation(appt.Location.ID) {
			return deny(CodePermissionDenied, "only the location supervisor may resolve a clock event")
		}
		return allow("resolvedClock.create")
	case OpUpdate:
		return deny(CodeStructuralViolation, "resolved clock events are immutable")
	case OpDelete:
		if caller.Email == ref.Owner {
			return allow("resolvedClock.delete")
		}
		if loc := ev.docLocation(view, ref, existing); loc != "" && caller.Claims.SupervisesLocation(loc) {
			return allow("resolvedClock.delete")
		}
		return deny(CodePermissionDenied, "only the owning supervisor may prune clock history")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// ----------------------------------------------------------------------------
// Payments
// ----------------------------------------------------------------------------

func (ev *Evaluator) evalPayment(view DocView, caller *Identity, op Op, ref Ref, existing, incoming any) *Decision {
	switch op {
	case OpGet, OpList:
		return ev.subcollectionRead(view, caller, ref, existing)
	case OpCreate:
		doc, ok := incoming.(*PaymentDoc)
		if !ok {
			return deny(CodeStructuralViolation, "payment create requires a payment document")
		}
		if actsForUser(caller, doc.From) || actsForUser(caller, doc.To) {
			return allow("payment.create")
		}
		// Settlement on clock-out approval is written by the supervisor.
		if doc.For != nil && caller.Claims.SupervisesLocation(doc.For.Location.ID) {
			return allow("payment.create.supervisor")
		}
		return deny(CodePermissionDenied, "only a party to the payment may record it")
	case OpUpdate:
		return deny(CodeStructuralViolation, "payment records are immutable")
	case OpDelete:
		prev, ok := existing.(*PaymentDoc)
		if !ok {
			return deny(CodeNotFound, "payment does not exist")
		}
		if actsForUser(caller, prev.From) || actsForUser(caller, prev.To) {
			return allow("payment.delete")
		}
		if prev.For != nil && caller.Claims.SupervisesLocation(prev.For.Location.ID) {
			return allow("payment.delete")
		}
		return deny(CodePermissionDenied, "only a party to the payment may remove it")
	}
	return deny(CodePermissionDenied, "unsupported operation")
}

// ----------------------------------------------------------------------------
// Shared read / dismissal rules
// ----------------------------------------------------------------------------

// subcollectionRead gates get on user subcollection docs: the owner, their
// proxies, and supervisors of the document's own location. List predicates
// are handled separately by EvaluateList.
func (ev *Evaluator) subcollectionRead(view DocView, caller *Identity, ref Ref, existing any) *Decision {
	if ref.OwnerKind == OwnerLocation {
		if caller.Claims.SupervisesLocation(ref.Owner) {
			return allow("locationSubcollection.read")
		}
		return deny(CodePermissionDenied, "only the location's supervisors may read this collection")
	}
	if ev.ownsCollection(view, caller, ref) {
		return allow("subcollection.read.owner")
	}
	// A point read is scoped the same way list predicates are: the doc's own
	// location must be one the caller holds a claim for.
	if caller.Claims.Supervisor {
		if loc := ev.docLocation(view, ref, existing); loc != "" && caller.Claims.SupervisesLocation(loc) {
			return allow("subcollection.read.supervisor")
		}
	}
	return deny(CodePermissionDenied, "not your collection")
}

// docLocation resolves the location id a subcollection document is tied to,
// fetching the doc when the evaluator wasn't already handed it.
func (ev *Evaluator) docLocation(view DocView, ref Ref, doc any) string {
	if doc == nil {
		doc, _ = view.Lookup(ref.Path())
	}
	if loc := docField(doc, "location.id"); loc != "" {
		return loc
	}
	return docField(doc, "for.location.id")
}

// ownsCollection widens owner access with the owner's profile proxy list.
func (ev *Evaluator) ownsCollection(view DocView, caller *Identity, ref Ref) bool {
	if caller.Email == ref.Owner {
		return true
	}
	if raw, ok := view.Lookup("users/" + ref.Owner); ok {
		if profile, ok := raw.(*UserProfile); ok {
			return actsFor(caller, ref.Owner, profile.Proxy)
		}
	}
	return false
}

// shadowDismiss lets the recipient (or their proxy) clear a notification
// doc; supervisors may clear it only at their own locations.
func (ev *Evaluator) shadowDismiss(view DocView, caller *Identity, ref Ref, existing any) *Decision {
	if ev.ownsCollection(view, caller, ref) {
		return allow("shadow.dismiss")
	}
	if loc := ev.docLocation(view, ref, existing); loc != "" && caller.Claims.SupervisesLocation(loc) {
		return allow("shadow.dismiss")
	}
	return deny(CodePermissionDenied, "only the recipient may dismiss this notification")
}

// ----------------------------------------------------------------------------
// List predicate authorization
// ----------------------------------------------------------------------------

// ListPredicate is the server-side constraint attached to a list/query.
type ListPredicate struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// Matches applies the predicate to a fetched document.
func (p *ListPredicate) Matches(doc any) bool {
	return docField(doc, p.Field) == p.Value
}

// docField extracts the handful of dotted fields queries are allowed to
// filter on. Unknown fields never match, which keeps predicates from being
// widened past what EvaluateList authorized.
func docField(doc any, field string) string {
	switch d := doc.(type) {
	case *Request:
		switch field {
		case "location.id":
			return d.Location.ID
		case "fromUser.email":
			return d.FromUser.Email
		case "toUser.email":
			return d.ToUser.Email
		case "subject":
			return d.Subject
		}
	case *Appointment:
		switch field {
		case "location.id", "for.location.id":
			return d.Location.ID
		case "subject":
			return d.Subject
		}
	case *ClockEvent:
		switch field {
		case "sentBy.email":
			return d.SentBy.Email
		case "for.location.id":
			return d.For.Location.ID
		}
	case *ApprovedClockEvent:
		switch field {
		case "sentBy.email":
			return d.SentBy.Email
		case "for.location.id":
			return d.For.Location.ID
		}
	case *RejectedClockEvent:
		switch field {
		case "sentBy.email":
			return d.SentBy.Email
		case "for.location.id":
			return d.For.Location.ID
		}
	case *ApprovedRequest:
		if field == "for.location.id" {
			return d.For.Location.ID
		}
	case *ModifiedRequest:
		if field == "for.location.id" {
			return d.For.Location.ID
		}
	case *CanceledRequest:
		if field == "for.location.id" {
			return d.For.Location.ID
		}
	case *RejectedRequest:
		if field == "for.location.id" {
			return d.For.Location.ID
		}
	case *ModifiedAppointment:
		if field == "for.location.id" {
			return d.For.Location.ID
		}
	case *CanceledAppointment:
		if field == "for.location.id" {
			return d.For.Location.ID
		}
	case *PaymentDoc:
		if field == "for.location.id" && d.For != nil {
			return d.For.Location.ID
		}
	}
	return ""
}

// EvaluateList authorizes a query before any documents are touched. The
// predicate must itself prove the caller can only see rows they own:
// cross-location supervisors and tutors fishing for other tutors' history
// are cut off here, not by client-side filtering.
func (ev *Evaluator) EvaluateList(view DocView, caller *Identity, ref Ref, pred *ListPredicate) *Decision {
	if caller == nil || caller.Email == "" {
		return deny(CodePermissionDenied, "unauthenticated")
	}
	if ref.Kind == KindUnknown {
		return deny(CodeNotFound, "unrecognized path")
	}
	if ref.Kind == KindUser || ref.Kind == KindLocation {
		return allow("toplevel.list")
	}
	if ref.OwnerKind == OwnerLocation {
		if caller.Claims.SupervisesLocation(ref.Owner) {
			return allow("locationSubcollection.list")
		}
		return deny(CodePermissionDenied, "only the location's supervisors may query this collection")
	}
	if ev.ownsCollection(view, caller, ref) {
		return allow("subcollection.list.owner")
	}
	// Rejected clock events are the one collection a tutor may query in a
	// supervisor's tree, and only scoped to themselves.
	if (ref.Kind == KindRejectedClockIn || ref.Kind == KindRejectedClockOut) &&
		pred != nil && pred.Field == "sentBy.email" && pred.Value == caller.Email {
		return allow("rejectedClock.list.own")
	}
	if caller.Claims.Supervisor {
		if pred != nil && pred.Field == "for.location.id" && caller.Claims.SupervisesLocation(pred.Value) {
			return allow("subcollection.list.supervisor")
		}
		return deny(CodePermissionDenied, "supervisor queries must be scoped to a supervised location")
	}
	return deny(CodePermissionDenied, "not your collection")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
