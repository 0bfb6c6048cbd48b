package tutorbook

// ============================================================================
// WORKFLOW VALIDATOR
// ============================================================================

// RequestState is the lifecycle of one request id, made explicit instead of
// being reconstructed from which shadow documents happen to exist.
type RequestState string

const (
	RequestNone     RequestState = "none"
	RequestPending  RequestState = "pending"
	RequestCanceled RequestState = "canceled"
	RequestRejected RequestState = "rejected"
	RequestApproved RequestState = "approved"
)

// ClockState is the lifecycle of one appointment id within a clock cycle.
type ClockState string

const (
	ClockNone        ClockState = "none"
	ClockScheduled   ClockState = "scheduled"
	ClockInPending   ClockState = "clockInPending"
	ClockActive      ClockState = "active"
	ClockOutPending  ClockState = "clockOutPending"
	ClockInRejected  ClockState = "clockInRejected"
	ClockOutRejected ClockState = "clockOutRejected"
)

// ClassifiedOp is one write of a batch after classification, as handed to the
// validator by the engine.
type ClassifiedOp struct {
	Op       Op
	Ref      Ref
	Doc      any // incoming document, nil for deletes
	Existing any // pre-batch document, nil for creates
}

// WorkflowValidator checks that a batch moves its id-lineages through legal
// transitions only: paired docs created and deleted together, every modify
// accompanied by its shadow, every approval accompanied by the documents the
// next stage depends on. It never decides identity questions; those belong
// to the Evaluator.
type WorkflowValidator struct{}

func NewWorkflowValidator() *WorkflowValidator {
	return &WorkflowValidator{}
}

// RequestStateFor derives the state of a request id from the sender's tree.
func (w *WorkflowValidator) RequestStateFor(view DocView, fromEmail, toEmail, id string) RequestState {
	if _, ok := view.Lookup("users/" + fromEmail + "/requestsOut/" + id); ok {
		return RequestPending
	}
	if _, ok := view.Lookup("users/" + fromEmail + "/approvedRequestsOut/" + id); ok {
		return RequestApproved
	}
	if _, ok := view.Lookup("users/" + fromEmail + "/rejectedRequestsOut/" + id); ok {
		return RequestRejected
	}
	if _, ok := view.Lookup("users/" + toEmail + "/canceledRequestsIn/" + id); ok {
		return RequestCanceled
	}
	if _, ok := view.Lookup("users/" + fromEmail + "/canceledRequestsOut/" + id); ok {
		return RequestCanceled
	}
	return RequestNone
}

// ClockStateFor derives the clock-cycle state of an appointment id as seen
// from one attendee's tree plus the supervisor's pending docs.
func (w *WorkflowValidator) ClockStateFor(view DocView, attendeeEmail, supervisorEmail, id string) ClockState {
	if _, ok := view.Lookup("users/" + supervisorEmail + "/clockOuts/" + id); ok {
		return ClockOutPending
	}
	if _, ok := view.Lookup("users/" + supervisorEmail + "/clockIns/" + id); ok {
		return ClockInPending
	}
	if _, ok := view.Lookup("users/" + attendeeEmail + "/activeAppointments/" + id); ok {
		return ClockActive
	}
	if _, ok := view.Lookup("users/" + supervisorEmail + "/rejectedClockOuts/" + id); ok {
		return ClockOutRejected
	}
	if _, ok := view.Lookup("users/" + supervisorEmail + "/rejectedClockIns/" + id); ok {
		return ClockInRejected
	}
	if _, ok := view.Lookup("users/" + attendeeEmail + "/appointments/" + id); ok {
		return ClockScheduled
	}
	return ClockNone
}

// ValidateBatch runs the cross-document pairing checks over a whole batch.
// view is the pre-batch store state.
func (w *WorkflowValidator) ValidateBatch(view DocView, caller *Identity, ops []ClassifiedOp) *Decision {
	if d := w.validateRequestPairs(view, caller, ops); d != nil {
		return d
	}
	if d := w.validateAppointmentFanout(ops); d != nil {
		return d
	}
	if d := w.validateClockTransitions(view, ops); d != nil {
		return d
	}
	return allow("workflow.batch")
}

// ----------------------------------------------------------------------------
// Request pairing
// ----------------------------------------------------------------------------

func (w *WorkflowValidator) validateRequestPairs(view DocView, caller *Identity, ops []ClassifiedOp) *Decision {
	outCreates := map[string]*Request{}
	inCreates := map[string]*Request{}
	outUpdates := map[string]*Request{}
	inUpdates := map[string]*Request{}
	outDeletes := map[string]*Request{}
	inDeletes := map[string]*Request{}

	for _, op := range ops {
		req, _ := op.Doc.(*Request)
		prev, _ := op.Existing.(*Request)
		switch {
		case op.Ref.Kind == KindRequestOut && op.Op == OpCreate:
			outCreates[op.Ref.ID] = req
		case op.Ref.Kind == KindRequestIn && op.Op == OpCreate:
			inCreates[op.Ref.ID] = req
		case op.Ref.Kind == KindRequestOut && op.Op == OpUpdate:
			outUpdates[op.Ref.ID] = req
		case op.Ref.Kind == KindRequestIn && op.Op == OpUpdate:
			inUpdates[op.Ref.ID] = req
		case op.Ref.Kind == KindRequestOut && op.Op == OpDelete:
			outDeletes[op.Ref.ID] = prev
		case op.Ref.Kind == KindRequestIn && op.Op == OpDelete:
			inDeletes[op.Ref.ID] = prev
		}
	}

	// Creation: both halves together, same id, same content, fresh id.
	for id, out := range outCreates {
		in, ok := inCreates[id]
		if !ok {
			return deny(CodeOrderingViolation, "requestsOut created without its requestsIn pair")
		}
		if !out.Equal(in) {
			return deny(CodeStructuralViolation, "request pair content mismatch")
		}
		if st := w.RequestStateFor(view, out.FromUser.Email, out.ToUser.Email, id); st != RequestNone {
			return deny(CodeOrderingViolation, "request id already used by a "+string(st)+" workflow")
		}
	}
	for id := range inCreates {
		if _, ok := outCreates[id]; !ok {
			return deny(CodeOrderingViolation, "requestsIn created without its requestsOut pair")
		}
	}

	// Modification: both halves together, plus a shadow for every party that
	// did not act.
	for id, out := range outUpdates {
		in, ok := inUpdates[id]
		if !ok {
			return deny(CodeOrderingViolation, "request modified on one side only")
		}
		if !out.Equal(in) {
			return deny(CodeStructuralViolation, "request pair content mismatch")
		}
		if !actsForUser(caller, out.FromUser) && !batchCreates(ops, KindModifiedRequestOut, out.FromUser.Email, id) {
			return deny(CodeOrderingViolation, "modify must notify the sender")
		}
		if !actsForUser(caller, out.ToUser) && !batchCreates(ops, KindModifiedRequestIn, out.ToUser.Email, id) {
			return deny(CodeOrderingViolation, "modify must notify the receiver")
		}
	}
	for id := range inUpdates {
		if _, ok := outUpdates[id]; !ok {
			return deny(CodeOrderingViolation, "request modified on one side only")
		}
	}

	// Deletion: both halves together, resolved into exactly one terminal
	// transition (cancel, reject or approve).
	for id, out := range outDeletes {
		if out == nil {
			return deny(CodeOrderingViolation, "deleting a request that does not exist")
		}
		if _, ok := inDeletes[id]; !ok {
			return deny(CodeOrderingViolation, "request deleted on one side only")
		}
		canceled := batchCreates(ops, KindCanceledRequestIn, out.ToUser.Email, id) ||
			batchCreates(ops, KindCanceledRequestOut, out.FromUser.Email, id)
		rejected := batchCreates(ops, KindRejectedRequestOut, out.FromUser.Email, id)
		approved := batchCreates(ops, KindApprovedRequestOut, out.FromUser.Email, id)
		n := 0
		for _, b := range []bool{canceled, rejected, approved} {
			if b {
				n++
			}
		}
		if n != 1 {
			return deny(CodeOrderingViolation, "request removal must resolve into exactly one of cancel, reject or approve")
		}
		if approved {
			// Approval fans out into all three appointment copies.
			if !batchCreates(ops, KindAppointment, out.FromUser.Email, id) ||
				!batchCreates(ops, KindAppointment, out.ToUser.Email, id) ||
				!batchCreatesAt(ops, KindAppointment, OwnerLocation, out.Location.ID, id) {
				return deny(CodeOrderingViolation, "approval must create the appointment for both attendees and the location")
			}
		}
	}
	for id := range inDeletes {
		if _, ok := outDeletes[id]; !ok {
			return deny(CodeOrderingViolation, "request deleted on one side only")
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Appointment fan-out
// ----------------------------------------------------------------------------

// validateAppointmentFanout requires every appointment-family create or
// delete to touch all three copies (both attendees and the location) with
// identical content under one id.
func (w *WorkflowValidator) validateAppointmentFanout(ops []ClassifiedOp) *Decision {
	for _, kind := range []Kind{KindAppointment, KindActiveAppointment, KindPastAppointment} {
		byID := map[string][]ClassifiedOp{}
		for _, op := range ops {
			if op.Ref.Kind == kind && (op.Op == OpCreate || op.Op == OpDelete) {
				byID[op.Ref.ID] = append(byID[op.Ref.ID], op)
			}
		}
		for id, group := range byID {
			if len(group) != 3 {
				return deny(CodeOrderingViolation, string(kind)+" writes must cover both attendees and the location")
			}
			locations := 0
			users := 0
			for _, op := range group {
				if op.Op != group[0].Op {
					return deny(CodeOrderingViolation, "mixed create and delete for one appointment id")
				}
				if op.Ref.OwnerKind == OwnerLocation {
					locations++
				} else {
					users++
				}
				if op.Op == OpCreate {
					next, ok := op.Doc.(*Appointment)
					first, ok2 := group[0].Doc.(*Appointment)
					if !ok || !ok2 || !next.For.Equal(&first.For) {
						return deny(CodeStructuralViolation, "appointment copies must match")
					}
				}
			}
			if locations != 1 || users != 2 {
				return deny(CodeOrderingViolation, string(kind)+" id "+id+" must be written to two user trees and one location tree")
			}
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Clock transitions
// ----------------------------------------------------------------------------

func (w *WorkflowValidator) validateClockTransitions(view DocView, ops []ClassifiedOp) *Decision {
	activeCreates := opsOf(ops, KindActiveAppointment, OpCreate)
	activeDeletes := opsOf(ops, KindActiveAppointment, OpDelete)
	pastCreates := opsOf(ops, KindPastAppointment, OpCreate)
	approvedIns := opsOf(ops, KindApprovedClockIn, OpCreate)
	approvedOuts := opsOf(ops, KindApprovedClockOut, OpCreate)
	rejectedIns := opsOf(ops, KindRejectedClockIn, OpCreate)
	rejectedOuts := opsOf(ops, KindRejectedClockOut, OpCreate)
	pendingInDeletes := opsOf(ops, KindClockIn, OpDelete)
	pendingOutDeletes := opsOf(ops, KindClockOut, OpDelete)

	// Activation: activeAppointment creates require the approval record in
	// the same batch; a pending clock-in consumed by the batch must have
	// existed. The instant path (supervisor clocks a tutor in directly)
	// creates the approval record with no pending doc.
	if len(activeCreates) > 0 {
		if len(approvedIns) != 1 {
			return deny(CodeOrderingViolation, "activating an appointment requires exactly one approved clock-in record")
		}
		approved, ok := approvedIns[0].Doc.(*ApprovedClockEvent)
		if !ok {
			return deny(CodeStructuralViolation, "approved clock-in document malformed")
		}
		for _, op := range activeCreates {
			appt, ok := op.Doc.(*Appointment)
			if !ok || !appt.For.Equal(&approved.For.For) {
				return deny(CodeOrderingViolation, "active appointment does not match the approved clock-in")
			}
		}
	}
	if len(approvedIns) > 0 && len(activeCreates) == 0 {
		return deny(CodeOrderingViolation, "approving a clock-in must activate the appointment")
	}

	// Completion: pastAppointment creates require the approved clock-out and
	// retirement of all active copies.
	if len(pastCreates) > 0 {
		if len(approvedOuts) != 1 {
			return deny(CodeOrderingViolation, "recording a past appointment requires exactly one approved clock-out record")
		}
		// Zero active deletes is the supervisor backfill path; anything else
		// must retire all three active copies and start a fresh id lineage.
		if len(activeDeletes) != 0 && len(activeDeletes) != 3 {
			return deny(CodeOrderingViolation, "approving a clock-out must retire all active copies")
		}
		if len(activeDeletes) == 3 {
			apptID := activeDeletes[0].Ref.ID
			for _, op := range pastCreates {
				if op.Ref.ID == apptID {
					return deny(CodeStructuralViolation, "past appointments use a new id lineage")
				}
			}
		}
	}
	if len(approvedOuts) > 0 && len(pastCreates) == 0 {
		return deny(CodeOrderingViolation, "approving a clock-out must record the past appointment")
	}

	// Pending docs consumed by the batch must exist before it.
	for _, group := range [][]ClassifiedOp{pendingInDeletes, pendingOutDeletes} {
		for _, op := range group {
			if _, ok := view.Lookup(op.Ref.Path()); !ok {
				return deny(CodeOrderingViolation, "no pending clock event to resolve")
			}
		}
	}

	// Rejections keep the pending doc's id and must consume it.
	for _, op := range rejectedIns {
		if !hasDelete(pendingInDeletes, op.Ref.ID) {
			return deny(CodeOrderingViolation, "rejecting a clock-in must consume the pending doc of the same id")
		}
	}
	for _, op := range rejectedOuts {
		if !hasDelete(pendingOutDeletes, op.Ref.ID) {
			return deny(CodeOrderingViolation, "rejecting a clock-out must consume the pending doc of the same id")
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// helpers
// ----------------------------------------------------------------------------

func batchCreates(ops []ClassifiedOp, kind Kind, owner, id string) bool {
	return batchCreatesAt(ops, kind, OwnerUser, owner, id)
}

func batchCreatesAt(ops []ClassifiedOp, kind Kind, ownerKind OwnerKind, owner, id string) bool {
	for _, op := range ops {
		if op.Op == OpCreate && op.Ref.Kind == kind && op.Ref.OwnerKind == ownerKind &&
			op.Ref.Owner == owner && op.Ref.ID == id {
			return true
		}
	}
	return false
}

func opsOf(ops []ClassifiedOp, kind Kind, op Op) []ClassifiedOp {
	out := make([]ClassifiedOp, 0, 3)
	for _, o := range ops {
		if o.Ref.Kind == kind && o.Op == op {
			out = append(out, o)
		}
	}
	return out
}

func hasDelete(deletes []ClassifiedOp, id string) bool {
	for _, op := range deletes {
		if op.Ref.ID == id {
			return true
		}
	}
	return false
}
