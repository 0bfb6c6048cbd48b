package tutorbook

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
	phlog "github.com/oarkflow/log"

	"github.com/oarkflow/tutorbook/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine is the policy pipeline: classify the path, resolve the caller,
// evaluate the per-document rule, and for writes run the batch through the
// workflow validator before the store commits it atomically.
type Engine struct {
	classifier *Classifier
	resolver   IdentityResolver
	evaluator  *Evaluator
	workflow   *WorkflowValidator
	store      DocStore
	auditStore AuditStore
	log        logger.Logger

	readCache    *ristretto.Cache
	readCacheTTL time.Duration

	// asynchronous audit channel to keep the hot path allocation-free
	auditCh chan AuditEntry
}

func NewEngine(store DocStore, resolver IdentityResolver, auditStore AuditStore) *Engine {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	e := &Engine{
		classifier:   NewClassifier(),
		resolver:     resolver,
		evaluator:    NewEvaluator(),
		workflow:     NewWorkflowValidator(),
		store:        store,
		auditStore:   auditStore,
		log:          logger.NewPhusluLogger(),
		readCache:    cache,
		readCacheTTL: time.Second,
	}
	e.auditCh = make(chan AuditEntry, 1024)
	go func() {
		bg := context.Background()
		for entry := range e.auditCh {
			_ = e.auditStore.LogDecision(bg, &entry)
		}
	}()
	return e
}

func (e *Engine) SetLogger(l logger.Logger) {
	if l != nil {
		e.log = l
	}
}

func (e *Engine) Classifier() *Classifier { return e.classifier }

// TrustServer marks a uid as backend automation: its writes skip the
// caller-facing identity rules but still go through the workflow validator.
func (e *Engine) TrustServer(uid string) {
	e.evaluator.Trust(uid)
}

// ConfigureReadCache rebuilds the ristretto cache with explicit sizing.
func (e *Engine) ConfigureReadCache(numCounters, maxCost, bufferItems int64) error {
	if bufferItems <= 0 {
		bufferItems = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return err
	}
	old := e.readCache
	e.readCache = cache
	if old != nil {
		old.Close()
	}
	return nil
}

func (e *Engine) SetReadCacheTTL(ttl time.Duration) {
	e.readCacheTTL = ttl
	e.InvalidateReadCache()
}

// InvalidateReadCache drops every cached read decision. Called after each
// committed batch, since a write can change who may read what.
func (e *Engine) InvalidateReadCache() {
	e.readCache.Clear()
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

// Authorize decides a single operation without committing anything.
func (e *Engine) Authorize(ctx context.Context, token string, op Op, path string, incoming any) (*Decision, error) {
	return e.authorizeInternal(ctx, token, op, path, incoming, false)
}

// Explain is Authorize with the evaluation trace retained.
func (e *Engine) Explain(ctx context.Context, token string, op Op, path string, incoming any) (*Decision, error) {
	return e.authorizeInternal(ctx, token, op, path, incoming, true)
}

func (e *Engine) authorizeInternal(ctx context.Context, token string, op Op, path string, incoming any, includeTrace bool) (*Decision, error) {
	caller, d := e.resolveCaller(ctx, token)
	if d != nil {
		e.auditLog(token, op, path, d)
		return d, nil
	}

	cacheable := (op == OpGet || op == OpList) && !includeTrace
	cacheKey := caller.UID + "|" + string(op) + "|" + path
	if cacheable {
		if v, ok := e.readCache.Get(cacheKey); ok {
			cached := v.(*Decision)
			copied := *cached
			copied.Trace = []string{"(cached)"}
			return &copied, nil
		}
	}

	ref := e.classifier.Classify(path)
	view := storeView{ctx: ctx, store: e.store}
	var existing any
	if op != OpCreate && ref.IsDoc() {
		existing, _ = view.Lookup(ref.Path())
	}

	var decision *Decision
	if op == OpList {
		decision = e.evaluator.EvaluateList(view, caller, ref, nil)
	} else {
		decision = e.evaluator.Evaluate(view, caller, op, ref, existing, incoming)
	}
	decision.Timestamp = time.Now()
	if includeTrace {
		trace := []string{
			"path " + path + " classified as " + string(ref.Kind),
			"caller " + caller.Email + " (uid " + caller.UID + ")",
		}
		if decision.Allowed {
			trace = append(trace, "matched rule "+decision.MatchedBy)
		} else {
			trace = append(trace, "denied ("+string(decision.Code)+"): "+decision.Reason)
		}
		decision.Trace = append(trace, decision.Trace...)
	} else {
		decision.Trace = nil
	}

	if cacheable {
		e.readCache.SetWithTTL(cacheKey, decision, 1, e.readCacheTTL)
	}
	e.auditLog(caller.Email, op, path, decision)
	return decision, nil
}

// Get authorizes and fetches one document.
func (e *Engine) Get(ctx context.Context, token, path string) (any, *Decision, error) {
	decision, err := e.Authorize(ctx, token, OpGet, path, nil)
	if err != nil || !decision.Allowed {
		return nil, decision, err
	}
	doc, err := e.store.Get(ctx, path)
	if err != nil {
		return nil, decision, err
	}
	return doc, decision, nil
}

// List authorizes a collection query and returns the matching documents.
// pred narrows the query; supervisors must narrow by a location they hold a
// claim for.
func (e *Engine) List(ctx context.Context, token, collectionPath string, pred *ListPredicate) (map[string]any, *Decision, error) {
	caller, d := e.resolveCaller(ctx, token)
	if d != nil {
		e.auditLog(token, OpList, collectionPath, d)
		return nil, d, nil
	}
	ref := e.classifier.Classify(collectionPath)
	view := storeView{ctx: ctx, store: e.store}
	decision := e.evaluator.EvaluateList(view, caller, ref, pred)
	decision.Timestamp = time.Now()
	e.auditLog(caller.Email, OpList, collectionPath, decision)
	if !decision.Allowed {
		return nil, decision, nil
	}
	docs, err := e.store.List(ctx, collectionPath)
	if err != nil {
		return nil, decision, err
	}
	if pred != nil {
		for id, doc := range docs {
			if !pred.Matches(doc) {
				delete(docs, id)
			}
		}
	}
	return docs, decision, nil
}

// ----------------------------------------------------------------------------
// Writes
// ----------------------------------------------------------------------------

// Commit authorizes a batch and applies it atomically. Each op is evaluated
// against the store overlaid with the batch's earlier writes, then the whole
// batch goes through the workflow validator. A denial anywhere rejects the
// entire batch.
func (e *Engine) Commit(ctx context.Context, token string, batch *Batch) (*Decision, error) {
	caller, d := e.resolveCaller(ctx, token)
	if d != nil {
		e.auditLog(token, OpCreate, "batch", d)
		return d, nil
	}

	base := storeView{ctx: ctx, store: e.store}
	overlay := newOverlayView(base)
	classified := make([]ClassifiedOp, 0, len(batch.Ops))
	opDecisions := make([]*Decision, 0, len(batch.Ops))

	for _, op := range batch.Ops {
		ref := e.classifier.Classify(op.Path)
		existing, _ := overlay.Lookup(op.Path)
		decision := e.evaluator.Evaluate(overlay, caller, op.Op, ref, existing, op.Doc)
		if !decision.Allowed {
			decision.Timestamp = time.Now()
			e.auditLog(caller.Email, op.Op, op.Path, decision)
			return decision, nil
		}
		classified = append(classified, ClassifiedOp{Op: op.Op, Ref: ref, Doc: op.Doc, Existing: existing})
		opDecisions = append(opDecisions, decision)
		overlay.apply(op)
	}

	decision := e.workflow.ValidateBatch(base, caller, classified)
	decision.Timestamp = time.Now()
	if !decision.Allowed {
		e.auditLog(caller.Email, OpCreate, "batch", decision)
		return decision, nil
	}

	if err := e.store.Apply(ctx, batch); err != nil {
		if errors.Is(err, ErrDocExists) {
			// A racing batch won the create; the loser sees a structural
			// deny, same as any other duplicate-id write.
			d := deny(CodeStructuralViolation, "document already exists")
			d.Timestamp = time.Now()
			e.auditLog(caller.Email, OpCreate, "batch", d)
			return d, nil
		}
		e.log.Error("batch apply failed", "actor", caller.Email, "ops", len(batch.Ops), "error", err.Error())
		return nil, err
	}
	e.InvalidateReadCache()
	// Audit each write with the rule that admitted it, not the batch-level
	// workflow decision.
	committed := time.Now()
	for i, op := range batch.Ops {
		opDecisions[i].Timestamp = committed
		e.auditLog(caller.Email, op.Op, op.Path, opDecisions[i])
	}
	return decision, nil
}

// ----------------------------------------------------------------------------
// internals
// ----------------------------------------------------------------------------

func (e *Engine) resolveCaller(ctx context.Context, token string) (*Identity, *Decision) {
	caller, err := e.resolver.Resolve(ctx, token)
	if err != nil || caller == nil {
		d := deny(CodePermissionDenied, "unauthenticated")
		d.Timestamp = time.Now()
		return nil, d
	}
	return caller, nil
}

func (e *Engine) auditLog(actor string, op Op, path string, decision *Decision) {
	entry := AuditEntry{
		ID:        newAuditID(),
		Timestamp: decision.Timestamp,
		Actor:     actor,
		Op:        op,
		Path:      path,
		Decision:  decision,
	}

	phlog.Info().
		Str("actor", actor).
		Str("op", string(op)).
		Str("path", path).
		Bool("allowed", decision.Allowed).
		Str("matched_by", decision.MatchedBy).
		Str("reason", decision.Reason).
		Msg("policy decision")

	select {
	case e.auditCh <- entry:
		// queued
	default:
		// drop if channel is full to avoid blocking hot path
	}
}

func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return e.auditStore.GetAccessLog(ctx, filter)
}
