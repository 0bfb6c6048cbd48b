package tutorbook

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/tutorbook/utils"
)

// ============================================================================
// AUDIT
// ============================================================================

// AuditStore manages decision logs
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry records one authorization decision
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"` // caller email, or uid when no email
	Op        Op        `json:"op"`
	Path      string    `json:"path"`
	Decision  *Decision `json:"decision"`
}

// AuditFilter for querying decision logs
type AuditFilter struct {
	Actor     string
	Path      string
	Op        Op
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		entries: make([]*AuditEntry, 0),
	}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, e := range s.entries {
		if !matchAudit(e, filter) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func matchAudit(e *AuditEntry, f AuditFilter) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Path != "" {
		if strings.ContainsAny(f.Path, "*:") {
			if !utils.MatchPath(e.Path, f.Path) {
				return false
			}
		} else if e.Path != f.Path {
			return false
		}
	}
	if f.Op != "" && e.Op != f.Op {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

func newAuditID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
