package tutorbook

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ============================================================================
// DOCUMENT STORE
// ============================================================================

var (
	ErrDocExists   = errors.New("document already exists")
	ErrDocNotFound = errors.New("document not found")
)

// WriteOp is one write of a batch, pre-classification.
type WriteOp struct {
	Op   Op
	Path string
	Doc  any // nil for deletes
}

// Batch is an all-or-nothing group of writes.
type Batch struct {
	Ops []WriteOp
}

func (b *Batch) Create(path string, doc any) *Batch {
	b.Ops = append(b.Ops, WriteOp{Op: OpCreate, Path: path, Doc: doc})
	return b
}

func (b *Batch) Update(path string, doc any) *Batch {
	b.Ops = append(b.Ops, WriteOp{Op: OpUpdate, Path: path, Doc: doc})
	return b
}

func (b *Batch) Delete(path string) *Batch {
	b.Ops = append(b.Ops, WriteOp{Op: OpDelete, Path: path})
	return b
}

// DocStore is the persistence surface the engine authorizes against. Apply
// commits a batch atomically; a duplicate create fails the whole batch, which
// is what serializes two racing transitions on one id.
type DocStore interface {
	Get(ctx context.Context, path string) (any, error)
	List(ctx context.Context, collectionPath string) (map[string]any, error)
	Apply(ctx context.Context, batch *Batch) error
}

// MemoryDocStore keeps the whole tree in a mutex-guarded map. It backs the
// tests and single-node deployments; stores/SQLDocumentStore is the durable
// implementation.
type MemoryDocStore struct {
	mu   sync.RWMutex
	docs map[string]any
}

func NewMemoryDocStore() *MemoryDocStore {
	return &MemoryDocStore{docs: make(map[string]any)}
}

func (s *MemoryDocStore) Get(ctx context.Context, path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrDocNotFound
	}
	return doc, nil
}

func (s *MemoryDocStore) List(ctx context.Context, collectionPath string) (map[string]any, error) {
	prefix := strings.TrimSuffix(collectionPath, "/") + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		out[rest] = doc
	}
	return out, nil
}

func (s *MemoryDocStore) Apply(ctx context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate every op against current state before touching anything.
	staged := make(map[string]bool, len(batch.Ops))
	for _, op := range batch.Ops {
		_, exists := s.docs[op.Path]
		if created, ok := staged[op.Path]; ok {
			exists = created
		}
		switch op.Op {
		case OpCreate:
			if exists {
				return ErrDocExists
			}
			staged[op.Path] = true
		case OpUpdate:
			if !exists {
				return ErrDocNotFound
			}
		case OpDelete:
			if !exists {
				return ErrDocNotFound
			}
			staged[op.Path] = false
		}
	}
	for _, op := range batch.Ops {
		if op.Op == OpDelete {
			delete(s.docs, op.Path)
		} else {
			s.docs[op.Path] = op.Doc
		}
	}
	return nil
}

// Lookup lets the store serve directly as a DocView outside of a batch.
func (s *MemoryDocStore) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	return doc, ok
}

// Paths returns every document path in order, for the CLI's stats command.
func (s *MemoryDocStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for path := range s.docs {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// ----------------------------------------------------------------------------
// Overlay view
// ----------------------------------------------------------------------------

// storeView adapts any DocStore to the DocView the evaluator reads from.
type storeView struct {
	ctx   context.Context
	store DocStore
}

func (v storeView) Lookup(path string) (any, bool) {
	doc, err := v.store.Get(v.ctx, path)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// overlayView layers the earlier writes of an in-flight batch over the store,
// so each op is evaluated against the state it would actually commit into.
type overlayView struct {
	base    DocView
	writes  map[string]any
	deleted map[string]bool
}

func newOverlayView(base DocView) *overlayView {
	return &overlayView{base: base, writes: make(map[string]any), deleted: make(map[string]bool)}
}

func (v *overlayView) Lookup(path string) (any, bool) {
	if v.deleted[path] {
		return nil, false
	}
	if doc, ok := v.writes[path]; ok {
		return doc, true
	}
	return v.base.Lookup(path)
}

func (v *overlayView) apply(op WriteOp) {
	if op.Op == OpDelete {
		delete(v.writes, op.Path)
		v.deleted[op.Path] = true
		return
	}
	delete(v.deleted, op.Path)
	v.writes[op.Path] = op.Doc
}
