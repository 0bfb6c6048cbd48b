package tutorbook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/tutorbook/logger"
)

// ============================================================================
// WORKFLOW SERVICE
// ============================================================================

var ErrDenied = errors.New("operation denied")

// Workflows builds the multi-document batches each lifecycle transition
// requires and commits them through the engine. It encodes the write
// sequences; the engine decides whether the caller may perform them.
type Workflows struct {
	engine   *Engine
	store    DocStore
	resolver IdentityResolver
	log      logger.Logger
	now      func() time.Time
	newID    func() string
}

func NewWorkflows(engine *Engine, store DocStore, resolver IdentityResolver) *Workflows {
	return &Workflows{
		engine:   engine,
		store:    store,
		resolver: resolver,
		log:      logger.NewPhusluLogger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Workflows) SetLogger(l logger.Logger) {
	if l != nil {
		s.log = l
	}
}

// ----------------------------------------------------------------------------
// Requests
// ----------------------------------------------------------------------------

// NewRequest writes the paired sender/receiver copies under a fresh id and,
// for paid requests, the payment authorization side-docs.
func (s *Workflows) NewRequest(ctx context.Context, token string, req *Request) (string, *Decision, error) {
	id := s.newID()
	req.Timestamp = s.now()

	batch := &Batch{}
	batch.Create("users/"+req.FromUser.Email+"/requestsOut/"+id, req)
	batch.Create("users/"+req.ToUser.Email+"/requestsIn/"+id, req)
	if req.Payment.Type == "Paid" {
		pay := &PaymentDoc{
			From:      req.FromUser,
			To:        req.ToUser,
			Amount:    req.Payment.Amount,
			Method:    req.Payment.Method,
			For:       req,
			Timestamp: req.Timestamp,
		}
		batch.Create("users/"+req.FromUser.Email+"/authPayments/"+id, pay)
		batch.Create("users/"+req.ToUser.Email+"/authPayments/"+id, pay)
	}
	decision, err := s.commit(ctx, token, batch, "newRequest", id)
	return id, decision, err
}

// ModifyRequest rewrites both copies and notifies every party the caller is
// not acting for.
func (s *Workflows) ModifyRequest(ctx context.Context, token, id string, updated *Request) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	batch.Update("users/"+updated.FromUser.Email+"/requestsOut/"+id, updated)
	batch.Update("users/"+updated.ToUser.Email+"/requestsIn/"+id, updated)
	shadow := &ModifiedRequest{For: *updated, ModifiedBy: me, ModifiedTimestamp: s.now()}
	if !actsForUser(caller, updated.FromUser) {
		batch.Create("users/"+updated.FromUser.Email+"/modifiedRequestsOut/"+id, shadow)
	}
	if !actsForUser(caller, updated.ToUser) {
		batch.Create("users/"+updated.ToUser.Email+"/modifiedRequestsIn/"+id, shadow)
	}
	return s.commit(ctx, token, batch, "modifyRequest", id)
}

// CancelRequest removes the pair and leaves the receiver a cancellation
// notice. A supervisor canceling on the sender's behalf leaves one for the
// sender too.
func (s *Workflows) CancelRequest(ctx context.Context, token, fromEmail, id string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	req, err := s.loadRequest(ctx, fromEmail, "requestsOut", id)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	batch.Delete("users/" + req.FromUser.Email + "/requestsOut/" + id)
	batch.Delete("users/" + req.ToUser.Email + "/requestsIn/" + id)
	shadow := &CanceledRequest{For: *req, CanceledBy: me, CanceledTimestamp: s.now()}
	batch.Create("users/"+req.ToUser.Email+"/canceledRequestsIn/"+id, shadow)
	if !actsForUser(caller, req.FromUser) {
		batch.Create("users/"+req.FromUser.Email+"/canceledRequestsOut/"+id, shadow)
	}
	return s.commit(ctx, token, batch, "cancelRequest", id)
}

// RejectRequest removes the pair and records the rejection in the sender's
// tree. Only the receiver side may do this.
func (s *Workflows) RejectRequest(ctx context.Context, token, toEmail, id string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	req, err := s.loadRequest(ctx, toEmail, "requestsIn", id)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	batch.Delete("users/" + req.FromUser.Email + "/requestsOut/" + id)
	batch.Delete("users/" + req.ToUser.Email + "/requestsIn/" + id)
	batch.Create("users/"+req.FromUser.Email+"/rejectedRequestsOut/"+id, &RejectedRequest{
		For: *req, RejectedBy: me, RejectedTimestamp: s.now(),
	})
	return s.commit(ctx, token, batch, "rejectRequest", id)
}

// ApproveRequest turns the pair into an appointment. The approval record is
// written before the appointment copies so each copy can see it.
func (s *Workflows) ApproveRequest(ctx context.Context, token, toEmail, id string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	req, err := s.loadRequest(ctx, toEmail, "requestsIn", id)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	now := s.now()
	appt := &Appointment{
		Attendees: []ConciseUser{req.FromUser, req.ToUser},
		For:       *req,
		Subject:   req.Subject,
		Time:      req.Time,
		Location:  req.Location,
		Timestamp: now,
	}
	batch := &Batch{}
	batch.Delete("users/" + req.FromUser.Email + "/requestsOut/" + id)
	batch.Delete("users/" + req.ToUser.Email + "/requestsIn/" + id)
	batch.Create("users/"+req.FromUser.Email+"/approvedRequestsOut/"+id, &ApprovedRequest{
		For: *req, ApprovedBy: me, ApprovedTimestamp: now,
	})
	s.apptWrites(batch, OpCreate, id, appt)
	return s.commit(ctx, token, batch, "approveRequest", id)
}

// ----------------------------------------------------------------------------
// Appointments
// ----------------------------------------------------------------------------

// ModifyAppt rewrites all three copies and notifies the attendees the caller
// is not acting for.
func (s *Workflows) ModifyAppt(ctx context.Context, token, ownerEmail, id string, updated *Appointment) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	s.apptWrites(batch, OpUpdate, id, updated)
	shadow := &ModifiedAppointment{For: *updated, ModifiedBy: me, ModifiedTimestamp: s.now()}
	for _, at := range updated.Attendees {
		if !actsForUser(caller, at) {
			batch.Create("users/"+at.Email+"/modifiedAppointments/"+id, shadow)
		}
	}
	if !caller.Claims.SupervisesLocation(updated.Location.ID) {
		batch.Create("locations/"+updated.Location.ID+"/modifiedAppointments/"+id, shadow)
	}
	return s.commit(ctx, token, batch, "modifyAppt", id)
}

// CancelAppt deletes all three copies and leaves cancellation notices.
func (s *Workflows) CancelAppt(ctx context.Context, token, ownerEmail, id string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	appt, err := s.loadAppt(ctx, ownerEmail, "appointments", id)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	s.apptWrites(batch, OpDelete, id, appt)
	shadow := &CanceledAppointment{For: *appt, CanceledBy: me, CanceledTimestamp: s.now()}
	for _, at := range appt.Attendees {
		if !actsForUser(caller, at) {
			batch.Create("users/"+at.Email+"/canceledAppointments/"+id, shadow)
		}
	}
	if !caller.Claims.SupervisesLocation(appt.Location.ID) {
		batch.Create("locations/"+appt.Location.ID+"/canceledAppointments/"+id, shadow)
	}
	return s.commit(ctx, token, batch, "cancelAppt", id)
}

// ----------------------------------------------------------------------------
// Clock cycle
// ----------------------------------------------------------------------------

// ClockIn files a pending clock-in under the supervisor who must review it.
// The doc reuses the appointment id, so a second attempt is a duplicate
// create and the whole batch fails.
func (s *Workflows) ClockIn(ctx context.Context, token, supervisorEmail, apptID string) (*Decision, error) {
	return s.fileClockEvent(ctx, token, supervisorEmail, apptID, "clockIns", "appointments")
}

// ClockOut files a pending clock-out for an active appointment.
func (s *Workflows) ClockOut(ctx context.Context, token, supervisorEmail, apptID string) (*Decision, error) {
	return s.fileClockEvent(ctx, token, supervisorEmail, apptID, "clockOuts", "activeAppointments")
}

func (s *Workflows) fileClockEvent(ctx context.Context, token, supervisorEmail, apptID, collection, srcCollection string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	appt, err := s.loadAppt(ctx, caller.Email, srcCollection, apptID)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	batch.Create("users/"+supervisorEmail+"/"+collection+"/"+apptID, &ClockEvent{
		For: *appt, SentBy: me, SentTimestamp: s.now(),
	})
	return s.commit(ctx, token, batch, collection+".file", apptID)
}

// ApproveClockIn consumes the pending doc, records the approval under a
// fresh id and activates the appointment everywhere.
func (s *Workflows) ApproveClockIn(ctx context.Context, token, supervisorEmail, apptID string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	pending, err := s.loadClockEvent(ctx, supervisorEmail, "clockIns", apptID)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	now := s.now()
	active := pending.For
	active.ClockIn = &ClockRecord{
		SentBy: pending.SentBy, SentTimestamp: pending.SentTimestamp,
		ApprovedBy: me, ApprovedTimestamp: now,
	}
	batch := &Batch{}
	batch.Create("users/"+supervisorEmail+"/approvedClockIns/"+s.newID(), &ApprovedClockEvent{
		For: pending.For, SentBy: pending.SentBy, SentTimestamp: pending.SentTimestamp,
		ApprovedBy: me, ApprovedTimestamp: now,
	})
	batch.Delete("users/" + supervisorEmail + "/clockIns/" + apptID)
	s.apptWritesTo(batch, OpCreate, "activeAppointments", apptID, &active)
	return s.commit(ctx, token, batch, "approveClockIn", apptID)
}

// RejectClockIn consumes the pending doc into a rejection record under the
// same id, leaving the appointment scheduled.
func (s *Workflows) RejectClockIn(ctx context.Context, token, supervisorEmail, apptID string) (*Decision, error) {
	return s.rejectClockEvent(ctx, token, supervisorEmail, apptID, "clockIns", "rejectedClockIns")
}

// RejectClockOut consumes the pending doc into a rejection record; the
// appointment stays active.
func (s *Workflows) RejectClockOut(ctx context.Context, token, supervisorEmail, apptID string) (*Decision, error) {
	return s.rejectClockEvent(ctx, token, supervisorEmail, apptID, "clockOuts", "rejectedClockOuts")
}

func (s *Workflows) rejectClockEvent(ctx context.Context, token, supervisorEmail, apptID, pendingCol, rejectedCol string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	pending, err := s.loadClockEvent(ctx, supervisorEmail, pendingCol, apptID)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	batch.Delete("users/" + supervisorEmail + "/" + pendingCol + "/" + apptID)
	batch.Create("users/"+supervisorEmail+"/"+rejectedCol+"/"+apptID, &RejectedClockEvent{
		For: pending.For, SentBy: pending.SentBy, SentTimestamp: pending.SentTimestamp,
		RejectedBy: me, RejectedTimestamp: s.now(),
	})
	return s.commit(ctx, token, batch, rejectedCol+".file", apptID)
}

// ApproveClockOut retires the active copies and records the past appointment
// under a new id lineage, settling payment when the appointment was paid.
func (s *Workflows) ApproveClockOut(ctx context.Context, token, supervisorEmail, apptID string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	pending, err := s.loadClockEvent(ctx, supervisorEmail, "clockOuts", apptID)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	now := s.now()
	past := pending.For
	past.ClockOut = &ClockRecord{
		SentBy: pending.SentBy, SentTimestamp: pending.SentTimestamp,
		ApprovedBy: me, ApprovedTimestamp: now,
	}
	pastID := s.newID()

	batch := &Batch{}
	batch.Create("users/"+supervisorEmail+"/approvedClockOuts/"+s.newID(), &ApprovedClockEvent{
		For: pending.For, SentBy: pending.SentBy, SentTimestamp: pending.SentTimestamp,
		ApprovedBy: me, ApprovedTimestamp: now,
	})
	batch.Delete("users/" + supervisorEmail + "/clockOuts/" + apptID)
	s.apptWritesTo(batch, OpDelete, "activeAppointments", apptID, &past)
	s.apptWritesTo(batch, OpCreate, "pastAppointments", pastID, &past)
	if past.For.Payment.Type == "Paid" {
		pay := &PaymentDoc{
			From:      past.For.FromUser,
			To:        past.For.ToUser,
			Amount:    past.For.Payment.Amount,
			Method:    past.For.Payment.Method,
			For:       &past.For,
			Timestamp: now,
		}
		batch.Create("users/"+past.For.FromUser.Email+"/pastPayments/"+pastID, pay)
		batch.Create("users/"+past.For.ToUser.Email+"/pastPayments/"+pastID, pay)
	}
	return s.commit(ctx, token, batch, "approveClockOut", apptID)
}

// InstantClockIn is the supervisor shortcut: approval record plus active
// copies in one batch, with no pending doc.
func (s *Workflows) InstantClockIn(ctx context.Context, token, ownerEmail, apptID string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	appt, err := s.loadAppt(ctx, ownerEmail, "appointments", apptID)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	now := s.now()
	active := *appt
	active.ClockIn = &ClockRecord{SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now}
	batch := &Batch{}
	batch.Create("users/"+caller.Email+"/approvedClockIns/"+s.newID(), &ApprovedClockEvent{
		For: *appt, SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now,
	})
	s.apptWritesTo(batch, OpCreate, "activeAppointments", apptID, &active)
	return s.commit(ctx, token, batch, "instantClockIn", apptID)
}

// InstantClockOut retires an active appointment in one supervisor batch.
func (s *Workflows) InstantClockOut(ctx context.Context, token, ownerEmail, apptID string) (*Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	appt, err := s.loadAppt(ctx, ownerEmail, "activeAppointments", apptID)
	if err != nil {
		return nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return nil, err
	}

	now := s.now()
	past := *appt
	past.ClockOut = &ClockRecord{SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now}
	pastID := s.newID()
	batch := &Batch{}
	batch.Create("users/"+caller.Email+"/approvedClockOuts/"+s.newID(), &ApprovedClockEvent{
		For: *appt, SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now,
	})
	s.apptWritesTo(batch, OpDelete, "activeAppointments", apptID, &past)
	s.apptWritesTo(batch, OpCreate, "pastAppointments", pastID, &past)
	return s.commit(ctx, token, batch, "instantClockOut", apptID)
}

// ----------------------------------------------------------------------------
// Past appointment maintenance
// ----------------------------------------------------------------------------

// NewPastAppt backfills a completed appointment that never went through the
// clock cycle.
func (s *Workflows) NewPastAppt(ctx context.Context, token string, appt *Appointment) (string, *Decision, error) {
	caller, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return "", nil, err
	}
	me, err := s.conciseCaller(ctx, caller)
	if err != nil {
		return "", nil, err
	}
	now := s.now()
	past := *appt
	if past.ClockIn == nil {
		past.ClockIn = &ClockRecord{SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now}
	}
	if past.ClockOut == nil {
		past.ClockOut = &ClockRecord{SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now}
	}
	id := s.newID()
	batch := &Batch{}
	batch.Create("users/"+caller.Email+"/approvedClockOuts/"+s.newID(), &ApprovedClockEvent{
		For: *appt, SentBy: me, SentTimestamp: now, ApprovedBy: me, ApprovedTimestamp: now,
	})
	s.apptWritesTo(batch, OpCreate, "pastAppointments", id, &past)
	decision, err := s.commit(ctx, token, batch, "newPastAppt", id)
	return id, decision, err
}

func (s *Workflows) ModifyPastAppt(ctx context.Context, token, id string, updated *Appointment) (*Decision, error) {
	batch := &Batch{}
	s.apptWritesTo(batch, OpUpdate, "pastAppointments", id, updated)
	return s.commit(ctx, token, batch, "modifyPastAppt", id)
}

func (s *Workflows) DeletePastAppt(ctx context.Context, token, ownerEmail, id string) (*Decision, error) {
	appt, err := s.loadAppt(ctx, ownerEmail, "pastAppointments", id)
	if err != nil {
		return nil, err
	}
	batch := &Batch{}
	s.apptWritesTo(batch, OpDelete, "pastAppointments", id, appt)
	return s.commit(ctx, token, batch, "deletePastAppt", id)
}

// DismissNotice deletes a shadow document from the caller's tree.
func (s *Workflows) DismissNotice(ctx context.Context, token, path string) (*Decision, error) {
	batch := (&Batch{}).Delete(path)
	return s.commit(ctx, token, batch, "dismissNotice", path)
}

// ----------------------------------------------------------------------------
// internals
// ----------------------------------------------------------------------------

// apptWrites fans one appointment write out to both attendee trees and the
// location tree under the shared id.
func (s *Workflows) apptWrites(batch *Batch, op Op, id string, appt *Appointment) {
	s.apptWritesTo(batch, op, "appointments", id, appt)
}

func (s *Workflows) apptWritesTo(batch *Batch, op Op, collection, id string, appt *Appointment) {
	paths := make([]string, 0, 3)
	for _, at := range appt.Attendees {
		paths = append(paths, "users/"+at.Email+"/"+collection+"/"+id)
	}
	paths = append(paths, "locations/"+appt.Location.ID+"/"+collection+"/"+id)
	for _, p := range paths {
		switch op {
		case OpCreate:
			batch.Create(p, appt)
		case OpUpdate:
			batch.Update(p, appt)
		case OpDelete:
			batch.Delete(p)
		}
	}
}

func (s *Workflows) loadRequest(ctx context.Context, owner, collection, id string) (*Request, error) {
	raw, err := s.store.Get(ctx, "users/"+owner+"/"+collection+"/"+id)
	if err != nil {
		return nil, err
	}
	req, ok := raw.(*Request)
	if !ok {
		return nil, ErrDocNotFound
	}
	return req, nil
}

func (s *Workflows) loadAppt(ctx context.Context, owner, collection, id string) (*Appointment, error) {
	raw, err := s.store.Get(ctx, "users/"+owner+"/"+collection+"/"+id)
	if err != nil {
		return nil, err
	}
	appt, ok := raw.(*Appointment)
	if !ok {
		return nil, ErrDocNotFound
	}
	return appt, nil
}

func (s *Workflows) loadClockEvent(ctx context.Context, supervisor, collection, id string) (*ClockEvent, error) {
	raw, err := s.store.Get(ctx, "users/"+supervisor+"/"+collection+"/"+id)
	if err != nil {
		return nil, err
	}
	ev, ok := raw.(*ClockEvent)
	if !ok {
		return nil, ErrDocNotFound
	}
	return ev, nil
}

// conciseCaller snapshots the caller's profile for embedding in transition
// docs. A caller with no stored profile gets a snapshot built from the
// identity alone.
func (s *Workflows) conciseCaller(ctx context.Context, caller *Identity) (ConciseUser, error) {
	raw, err := s.store.Get(ctx, "users/"+caller.Email)
	if err == nil {
		if profile, ok := raw.(*UserProfile); ok {
			return profile.Concise(), nil
		}
	}
	return ConciseUser{Email: caller.Email, UID: caller.UID}, nil
}

func (s *Workflows) commit(ctx context.Context, token string, batch *Batch, op, id string) (*Decision, error) {
	decision, err := s.engine.Commit(ctx, token, batch)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		s.log.Debug("transition denied", "op", op, "id", id, "reason", decision.Reason)
		return decision, ErrDenied
	}
	s.log.Info("transition committed", "op", op, "id", id, "writes", len(batch.Ops))
	return decision, nil
}
