package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/tutorbook"
)

// SQLAuditStore persists decision entries in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *tutorbook.AuditEntry) error {
	traceB, _ := json.Marshal(entry.Decision.Trace)
	q := `INSERT INTO audit_log(id, timestamp, actor, op, path, allowed, code, matched_by, reason, trace_json) VALUES(:id, :timestamp, :actor, :op, :path, :allowed, :code, :matched_by, :reason, :trace_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         entry.ID,
		"timestamp":  entry.Timestamp,
		"actor":      entry.Actor,
		"op":         string(entry.Op),
		"path":       entry.Path,
		"allowed":    boolToInt(entry.Decision.Allowed),
		"code":       string(entry.Decision.Code),
		"matched_by": entry.Decision.MatchedBy,
		"reason":     entry.Decision.Reason,
		"trace_json": string(traceB),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter tutorbook.AuditFilter) ([]*tutorbook.AuditEntry, error) {
	q := `SELECT id, timestamp, actor, op, path, allowed, code, matched_by, reason, trace_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.Actor != "" {
		q += " AND actor = :actor"
		params["actor"] = filter.Actor
	}
	if filter.Path != "" {
		q += " AND path = :path"
		params["path"] = filter.Path
	}
	if filter.Op != "" {
		q += " AND op = :op"
		params["op"] = string(filter.Op)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*tutorbook.AuditEntry, 0)
	for r.Next() {
		var id, actor, op, path, code, matchedBy, reason, traceJSON string
		var timestampRaw interface{}
		var allowedInt int
		if err := r.Scan(&id, &timestampRaw, &actor, &op, &path, &allowedInt, &code, &matchedBy, &reason, &traceJSON); err != nil {
			return nil, err
		}
		entry := &tutorbook.AuditEntry{ID: id, Actor: actor, Op: tutorbook.Op(op), Path: path}
		switch v := timestampRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		entry.Decision = &tutorbook.Decision{
			Allowed:   allowedInt != 0,
			Code:      tutorbook.DenyCode(code),
			MatchedBy: matchedBy,
			Reason:    reason,
		}
		_ = json.Unmarshal([]byte(traceJSON), &entry.Decision.Trace)
		out = append(out, entry)
	}
	return out, nil
}
