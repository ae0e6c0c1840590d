package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/secureflow/secureflow/internal/idgen"
	"github.com/secureflow/secureflow/internal/pagination"
	"github.com/secureflow/secureflow/internal/policy"
)

// -----------------------------------------------------------------------------
// Store Interface (swap implementations later)
// -----------------------------------------------------------------------------

// Store defines the persistence interface for transactions
type Store interface {
	// Create persists a new transaction and assigns its ID and timestamps.
	// This is the authoritative commit point of the pipeline.
	Create(ctx context.Context, tx *Transaction) error

	// Get returns a transaction by ID
	Get(ctx context.Context, id string) (*Transaction, error)

	// AttachAudit sets the audit hash and timestamp together, at most once
	AttachAudit(ctx context.Context, id, auditTxHash string, auditedAt time.Time) error

	// List returns transactions ordered by creation time, newest first
	List(ctx context.Context, query Query) ([]*Transaction, error)

	// ListUnaudited returns transactions without an audit record, oldest first
	ListUnaudited(ctx context.Context, limit int) ([]*Transaction, error)

	// Stats returns decision aggregates for the dashboard
	Stats(ctx context.Context) (*Stats, error)

	// AuditStats returns audit coverage aggregates
	AuditStats(ctx context.Context) (*AuditStats, error)
}

// -----------------------------------------------------------------------------
// In-Memory Store (for development and tests, swap to Postgres in prod)
// -----------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory implementation
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction // id -> transaction
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*Transaction),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.ID == "" {
		tx.ID = idgen.Transaction()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	copy := *tx
	m.transactions[tx.ID] = &copy

	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, exists := m.transactions[id]
	if !exists {
		return nil, ErrNotFound
	}

	// Return a copy to prevent mutation
	copy := *tx
	return &copy, nil
}

func (m *MemoryStore) AttachAudit(ctx context.Context, id, auditTxHash string, auditedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.transactions[id]
	if !exists {
		return ErrNotFound
	}
	if tx.Audited() {
		return ErrAlreadyAudited
	}

	at := auditedAt.UTC()
	tx.AuditTxHash = auditTxHash
	tx.AuditedAt = &at
	tx.UpdatedAt = time.Now().UTC()

	return nil
}

func (m *MemoryStore) List(ctx context.Context, query Query) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if query.Limit == 0 {
		query.Limit = 100
	}

	var results []*Transaction
	for _, tx := range m.transactions {
		if query.Status != "" && tx.Status != query.Status {
			continue
		}
		if query.Cursor != nil && !beforeCursor(tx, query.Cursor) {
			continue
		}
		copy := *tx
		results = append(results, &copy)
	}

	// Sort by time (newest first)
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if query.Cursor != nil {
		query.Offset = 0
	}

	// Apply pagination
	if query.Offset >= len(results) {
		return []*Transaction{}, nil
	}
	end := query.Offset + query.Limit
	if end > len(results) {
		end = len(results)
	}

	return results[query.Offset:end], nil
}

// beforeCursor reports whether tx sits strictly after the cursor position in
// the newest-first ordering. Ties on timestamp fall back to ID comparison so
// a cursor never skips or repeats records.
func beforeCursor(tx *Transaction, cur *pagination.Cursor) bool {
	if tx.CreatedAt.Equal(cur.CreatedAt) {
		return tx.ID < cur.ID
	}
	return tx.CreatedAt.Before(cur.CreatedAt)
}

func (m *MemoryStore) ListUnaudited(ctx context.Context, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit == 0 {
		limit = 100
	}

	var results []*Transaction
	for _, tx := range m.transactions {
		if tx.Audited() {
			continue
		}
		copy := *tx
		results = append(results, &copy)
	}

	// Oldest first, so the longest-unaudited records surface first
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{UpdatedAt: time.Now().UTC()}
	var scoreSum float64
	var scored int64
	for _, tx := range m.transactions {
		stats.Total++
		stats.TotalVolume += tx.Amount
		if tx.RiskScore != nil {
			scoreSum += *tx.RiskScore
			scored++
		}
		switch tx.Status {
		case policy.DecisionApproved:
			stats.Approved++
		case policy.DecisionFlagged:
			stats.Flagged++
		case policy.DecisionRejected:
			stats.Rejected++
		}
	}
	if scored > 0 {
		stats.AvgRiskScore = scoreSum / float64(scored)
	}

	return &stats, nil
}

func (m *MemoryStore) AuditStats(ctx context.Context) (*AuditStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := AuditStats{UpdatedAt: time.Now().UTC()}
	for _, tx := range m.transactions {
		stats.Total++
		if tx.Audited() {
			stats.Audited++
		} else {
			stats.Unaudited++
		}
	}

	return &stats, nil
}
