package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureflow/secureflow/internal/pagination"
	"github.com/secureflow/secureflow/internal/policy"
)

func score(v float64) *float64 { return &v }

func newTx(status policy.Decision, riskScore *float64) *Transaction {
	return &Transaction{
		FromWallet: "0xA",
		ToWallet:   "0xB",
		Amount:     100,
		Currency:   "ETH",
		RiskScore:  riskScore,
		Status:     status,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := newTx(policy.DecisionApproved, score(0.1))
	require.NoError(t, store.Create(ctx, tx))

	assert.NotEmpty(t, tx.ID)
	assert.False(t, tx.CreatedAt.IsZero())
	assert.Equal(t, tx.CreatedAt, tx.UpdatedAt)

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, policy.DecisionApproved, got.Status)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 0.1, *got.RiskScore)
	assert.False(t, got.Audited())

	// Mutating the returned copy must not touch the stored record
	got.Status = policy.DecisionRejected
	again, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionApproved, again.Status)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "tx_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_AttachAudit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := newTx(policy.DecisionFlagged, score(0.5))
	require.NoError(t, store.Create(ctx, tx))

	auditedAt := time.Now()
	require.NoError(t, store.AttachAudit(ctx, tx.ID, "0xhash", auditedAt))

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", got.AuditTxHash)
	require.NotNil(t, got.AuditedAt)
	assert.True(t, got.Audited())
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))

	// A second attach must not overwrite the first record
	err = store.AttachAudit(ctx, tx.ID, "0xother", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyAudited)

	got, err = store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", got.AuditTxHash)
}

func TestMemoryStore_AttachAuditNotFound(t *testing.T) {
	store := NewMemoryStore()

	err := store.AttachAudit(context.Background(), "tx_missing", "0xhash", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		tx := newTx(policy.DecisionApproved, score(0.1))
		require.NoError(t, store.Create(ctx, tx))
		ids = append(ids, tx.ID)
		time.Sleep(2 * time.Millisecond)
	}

	txs, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, ids[2], txs[0].ID)
	assert.Equal(t, ids[0], txs[2].ID)
}

func TestMemoryStore_ListStatusFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTx(policy.DecisionApproved, score(0.1))))
	require.NoError(t, store.Create(ctx, newTx(policy.DecisionRejected, score(0.9))))
	require.NoError(t, store.Create(ctx, newTx(policy.DecisionFlagged, nil)))

	txs, err := store.List(ctx, Query{Status: policy.DecisionRejected})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, policy.DecisionRejected, txs[0].Status)
}

func TestMemoryStore_ListPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, newTx(policy.DecisionApproved, score(0.1))))
	}

	page, err := store.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = store.List(ctx, Query{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, err = store.List(ctx, Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStore_ListCursor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		tx := newTx(policy.DecisionApproved, score(0.1))
		require.NoError(t, store.Create(ctx, tx))
		ids = append(ids, tx.ID)
		time.Sleep(2 * time.Millisecond)
	}

	// First page: newest two
	page, err := store.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)

	// Resume after the last item of the first page
	cursor := &pagination.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	page, err = store.List(ctx, Query{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	// Cursor past the oldest record yields nothing
	oldest := &pagination.Cursor{CreatedAt: page[1].CreatedAt.Add(-time.Hour), ID: ""}
	page, err = store.List(ctx, Query{Cursor: oldest})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStore_ListUnaudited(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTx(policy.DecisionFlagged, nil)
	require.NoError(t, store.Create(ctx, first))
	time.Sleep(2 * time.Millisecond)

	audited := newTx(policy.DecisionApproved, score(0.1))
	require.NoError(t, store.Create(ctx, audited))
	require.NoError(t, store.AttachAudit(ctx, audited.ID, "0xhash", time.Now()))
	time.Sleep(2 * time.Millisecond)

	second := newTx(policy.DecisionRejected, score(0.9))
	require.NoError(t, store.Create(ctx, second))

	txs, err := store.ListUnaudited(ctx, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	// Oldest first
	assert.Equal(t, first.ID, txs[0].ID)
	assert.Equal(t, second.ID, txs[1].ID)
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTx(policy.DecisionApproved, score(0.1))))
	require.NoError(t, store.Create(ctx, newTx(policy.DecisionApproved, score(0.2))))
	require.NoError(t, store.Create(ctx, newTx(policy.DecisionFlagged, nil)))
	require.NoError(t, store.Create(ctx, newTx(policy.DecisionRejected, score(0.9))))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Approved)
	assert.Equal(t, int64(1), stats.Flagged)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, float64(400), stats.TotalVolume)
	// Average over the three scored records; the unscored one is excluded
	assert.InDelta(t, 0.4, stats.AvgRiskScore, 1e-9)
}

func TestMemoryStore_AuditStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	audited := newTx(policy.DecisionApproved, score(0.1))
	require.NoError(t, store.Create(ctx, audited))
	require.NoError(t, store.AttachAudit(ctx, audited.ID, "0xhash", time.Now()))
	require.NoError(t, store.Create(ctx, newTx(policy.DecisionFlagged, nil)))

	stats, err := store.AuditStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Audited)
	assert.Equal(t, int64(1), stats.Unaudited)
}
