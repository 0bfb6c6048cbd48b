package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/tutorbook"
)

// SQLDocumentStore persists the document tree in SQL, one row per path with
// the JSON body alongside the routing columns queries filter on.
type SQLDocumentStore struct {
	db         *squealx.DB
	classifier *tutorbook.Classifier
	// serializes Apply; sqlite gives no row locks across NamedExec calls
	mu sync.Mutex
}

func NewSQLDocumentStore(db *squealx.DB) (*SQLDocumentStore, error) {
	return &SQLDocumentStore{db: db, classifier: tutorbook.NewClassifier()}, nil
}

func (s *SQLDocumentStore) Get(ctx context.Context, path string) (any, error) {
	q := `SELECT kind, doc_json FROM documents WHERE path = :path`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, tutorbook.ErrDocNotFound
	}
	var kind, docJSON string
	if err := r.Scan(&kind, &docJSON); err != nil {
		return nil, err
	}
	return decodeDoc(tutorbook.Kind(kind), []byte(docJSON))
}

func (s *SQLDocumentStore) List(ctx context.Context, collectionPath string) (map[string]any, error) {
	ref := s.classifier.Classify(collectionPath)
	if ref.Kind == tutorbook.KindUnknown || ref.Collection == "" {
		return nil, fmt.Errorf("unroutable collection %q", collectionPath)
	}
	ownerKind := "user"
	if ref.OwnerKind == tutorbook.OwnerLocation {
		ownerKind = "location"
	}
	q := `SELECT doc_id, kind, doc_json FROM documents WHERE owner_kind = :owner_kind AND owner = :owner AND collection = :collection`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"owner_kind": ownerKind,
		"owner":      ref.Owner,
		"collection": ref.Collection,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make(map[string]any)
	for r.Next() {
		var id, kind, docJSON string
		if err := r.Scan(&id, &kind, &docJSON); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(tutorbook.Kind(kind), []byte(docJSON))
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, nil
}

// Apply commits the batch inside one sqlite transaction. Creates use a bare
// INSERT so a concurrent create of the same path surfaces as a constraint
// error and fails the whole batch.
func (s *SQLDocumentStore) Apply(ctx context.Context, batch *tutorbook.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	if err := s.applyOps(ctx, batch); err != nil {
		_, _ = s.db.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := s.db.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = s.db.ExecContext(ctx, "ROLLBACK")
		return err
	}
	return nil
}

func (s *SQLDocumentStore) applyOps(ctx context.Context, batch *tutorbook.Batch) error {
	for _, op := range batch.Ops {
		switch op.Op {
		case tutorbook.OpCreate, tutorbook.OpUpdate:
			ref := s.classifier.Classify(op.Path)
			if ref.Kind == tutorbook.KindUnknown {
				return fmt.Errorf("unroutable path %q", op.Path)
			}
			docJSON, err := json.Marshal(op.Doc)
			if err != nil {
				return err
			}
			ownerKind := "user"
			if ref.OwnerKind == tutorbook.OwnerLocation {
				ownerKind = "location"
			}
			params := map[string]any{
				"path":       op.Path,
				"kind":       string(ref.Kind),
				"owner_kind": ownerKind,
				"owner":      ref.Owner,
				"collection": ref.Collection,
				"doc_id":     ref.ID,
				"doc_json":   string(docJSON),
				"updated_at": time.Now(),
			}
			var q string
			if op.Op == tutorbook.OpCreate {
				q = `INSERT INTO documents(path, kind, owner_kind, owner, collection, doc_id, doc_json, updated_at) VALUES(:path, :kind, :owner_kind, :owner, :collection, :doc_id, :doc_json, :updated_at)`
			} else {
				q = `UPDATE documents SET doc_json = :doc_json, updated_at = :updated_at WHERE path = :path`
			}
			if _, err := s.db.NamedExecContext(ctx, q, params); err != nil {
				if op.Op == tutorbook.OpCreate {
					return tutorbook.ErrDocExists
				}
				return err
			}
		case tutorbook.OpDelete:
			q := `DELETE FROM documents WHERE path = :path`
			if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"path": op.Path}); err != nil {
				return err
			}
		}
	}
	return nil
}
