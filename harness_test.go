package tutorbook

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/tutorbook/logger"
)

const (
	pupilEmail  = "pupil@x"
	tutorEmail  = "tutor@x"
	supEmail    = "sup@x"
	sup2Email   = "sup2@x"
	parentEmail = "parent@x"
	randomEmail = "random@x"
)

type world struct {
	ctx      context.Context
	engine   *Engine
	store    *MemoryDocStore
	resolver *StaticResolver
	flows    *Workflows
	seq      int
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := NewMemoryDocStore()
	resolver := NewStaticResolver()
	engine := NewEngine(store, resolver, NewMemoryAuditStore())
	engine.SetLogger(logger.NewNullLogger())
	flows := NewWorkflows(engine, store, resolver)
	flows.SetLogger(logger.NewNullLogger())

	w := &world{ctx: context.Background(), engine: engine, store: store, resolver: resolver, flows: flows}
	flows.newID = w.nextID

	resolver.Add("pupil", &Identity{UID: "u-pupil", Email: pupilEmail})
	resolver.Add("tutor", &Identity{UID: "u-tutor", Email: tutorEmail})
	resolver.Add("sup", &Identity{UID: "u-sup", Email: supEmail, Claims: Claims{Supervisor: true, Locations: []string{"L1"}}})
	resolver.Add("sup2", &Identity{UID: "u-sup2", Email: sup2Email, Claims: Claims{Supervisor: true, Locations: []string{"L2"}}})
	resolver.Add("parent", &Identity{UID: "u-parent", Email: parentEmail, Claims: Claims{Parent: true, Children: []string{pupilEmail}}})
	resolver.Add("random", &Identity{UID: "u-random", Email: randomEmail})

	seed := &Batch{}
	seed.Create("users/"+pupilEmail, &UserProfile{
		Name: "Pupil", Email: pupilEmail, UID: "u-pupil", Type: TypePupil,
		Proxy: []string{parentEmail}, Timestamp: time.Now(),
	})
	seed.Create("users/"+tutorEmail, &UserProfile{
		Name: "Tutor", Email: tutorEmail, UID: "u-tutor", Type: TypeTutor, Timestamp: time.Now(),
	})
	seed.Create("users/"+supEmail, &UserProfile{
		Name: "Supervisor", Email: supEmail, UID: "u-sup", Type: TypeSupervisor, Timestamp: time.Now(),
	})
	seed.Create("locations/L1", &Location{Name: "Gunn Academic Center", Supervisors: []string{supEmail}, Timestamp: time.Now()})
	seed.Create("locations/L2", &Location{Name: "Paly Tutoring Center", Supervisors: []string{sup2Email}, Timestamp: time.Now()})
	if err := store.Apply(w.ctx, seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return w
}

// nextID keeps generated ids deterministic so tests can assert on paths.
func (w *world) nextID() string {
	w.seq++
	return fmt.Sprintf("id-%03d", w.seq)
}

func (w *world) pupilUser() ConciseUser {
	return ConciseUser{Name: "Pupil", Email: pupilEmail, UID: "u-pupil", Type: TypePupil, Proxy: []string{parentEmail}}
}

func (w *world) tutorUser() ConciseUser {
	return ConciseUser{Name: "Tutor", Email: tutorEmail, UID: "u-tutor", Type: TypeTutor}
}

func (w *world) sampleRequest() *Request {
	return &Request{
		FromUser: w.pupilUser(),
		ToUser:   w.tutorUser(),
		Subject:  "Algebra",
		Time:     Timeslot{Day: "Monday", From: "3:00 PM", To: "4:00 PM"},
		Location: LocationRef{ID: "L1", Name: "Gunn Academic Center"},
		Payment:  PaymentInfo{Type: "Free"},
	}
}

// sendRequest runs the new-request transition and returns its id.
func (w *world) sendRequest(t *testing.T) string {
	t.Helper()
	id, decision, err := w.flows.NewRequest(w.ctx, "pupil", w.sampleRequest())
	if err != nil {
		t.Fatalf("new request: %v (reason=%s)", err, reasonOf(decision))
	}
	return id
}

// approvedAppt sends and approves a request, returning the appointment id.
func (w *world) approvedAppt(t *testing.T) string {
	t.Helper()
	id := w.sendRequest(t)
	if _, err := w.flows.ApproveRequest(w.ctx, "tutor", tutorEmail, id); err != nil {
		t.Fatalf("approve request: %v", err)
	}
	return id
}

// activeAppt runs the full clock-in cycle, returning the appointment id.
func (w *world) activeAppt(t *testing.T) string {
	t.Helper()
	id := w.approvedAppt(t)
	if _, err := w.flows.ClockIn(w.ctx, "tutor", supEmail, id); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if _, err := w.flows.ApproveClockIn(w.ctx, "sup", supEmail, id); err != nil {
		t.Fatalf("approve clock in: %v", err)
	}
	return id
}

func (w *world) mustExist(t *testing.T, path string) {
	t.Helper()
	if _, ok := w.store.Lookup(path); !ok {
		t.Fatalf("expected %s to exist", path)
	}
}

func (w *world) mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, ok := w.store.Lookup(path); ok {
		t.Fatalf("expected %s to be gone", path)
	}
}

// onlyDocIn returns the id of the single document under a collection prefix.
func (w *world) onlyDocIn(t *testing.T, collectionPath string) string {
	t.Helper()
	var ids []string
	prefix := collectionPath + "/"
	for _, p := range w.store.Paths() {
		if strings.HasPrefix(p, prefix) {
			ids = append(ids, strings.TrimPrefix(p, prefix))
		}
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one doc under %s, got %v", collectionPath, ids)
	}
	return ids[0]
}

func reasonOf(d *Decision) string {
	if d == nil {
		return ""
	}
	return d.Reason
}

func expectDeny(t *testing.T, d *Decision, err error, code DenyCode) {
	t.Helper()
	if err != nil && err != ErrDenied {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatalf("expected a decision")
	}
	if d.Allowed {
		t.Fatalf("expected deny with code %s, got allow (rule=%s)", code, d.MatchedBy)
	}
	if d.Code != code {
		t.Fatalf("expected code %s, got %s (reason=%s)", code, d.Code, d.Reason)
	}
}
