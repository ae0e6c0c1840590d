package transaction_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureflow/secureflow/internal/policy"
	"github.com/secureflow/secureflow/internal/testutil"
	"github.com/secureflow/secureflow/internal/transaction"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := transaction.NewPostgresStore(db)
	ctx := context.Background()

	riskScore := 0.42
	tx := &transaction.Transaction{
		FromWallet: "0xA",
		ToWallet:   "0xB",
		Amount:     100,
		Currency:   "ETH",
		RiskScore:  &riskScore,
		Status:     policy.DecisionFlagged,
	}
	require.NoError(t, store.Create(ctx, tx))
	require.NotEmpty(t, tx.ID)

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, policy.DecisionFlagged, got.Status)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 0.42, *got.RiskScore)
	assert.False(t, got.Audited())

	// Attach audit fields atomically
	require.NoError(t, store.AttachAudit(ctx, tx.ID, "0xaudit", time.Now()))

	got, err = store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xaudit", got.AuditTxHash)
	require.NotNil(t, got.AuditedAt)

	// Second attach must fail without overwriting
	err = store.AttachAudit(ctx, tx.ID, "0xother", time.Now())
	assert.ErrorIs(t, err, transaction.ErrAlreadyAudited)
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := transaction.NewPostgresStore(db)

	_, err := store.Get(context.Background(), "tx_missing")
	assert.ErrorIs(t, err, transaction.ErrNotFound)
}

func TestPostgresStore_NullRiskScore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := transaction.NewPostgresStore(db)
	ctx := context.Background()

	tx := &transaction.Transaction{
		FromWallet: "0xA",
		ToWallet:   "0xB",
		Amount:     50,
		Currency:   "ETH",
		Status:     policy.DecisionFlagged, // scorer unavailable fallback
	}
	require.NoError(t, store.Create(ctx, tx))

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RiskScore)
}

func TestPostgresStore_ListAndStats(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := transaction.NewPostgresStore(db)
	ctx := context.Background()

	scores := []struct {
		status policy.Decision
		amount float64
	}{
		{policy.DecisionApproved, 10},
		{policy.DecisionFlagged, 20},
		{policy.DecisionRejected, 30},
	}
	var ids []string
	for _, s := range scores {
		tx := &transaction.Transaction{
			FromWallet: "0xA", ToWallet: "0xB",
			Amount: s.amount, Currency: "ETH", Status: s.status,
		}
		require.NoError(t, store.Create(ctx, tx))
		ids = append(ids, tx.ID)
		time.Sleep(5 * time.Millisecond)
	}

	// Newest first
	txs, err := store.List(ctx, transaction.Query{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, ids[2], txs[0].ID)

	// Status filter
	txs, err = store.List(ctx, transaction.Query{Status: policy.DecisionRejected})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, policy.DecisionRejected, txs[0].Status)

	// Unaudited: attach audit to one, expect the other two oldest-first
	require.NoError(t, store.AttachAudit(ctx, ids[1], "0xaudit", time.Now()))
	unaudited, err := store.ListUnaudited(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unaudited, 2)
	assert.Equal(t, ids[0], unaudited[0].ID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Approved)
	assert.Equal(t, int64(1), stats.Flagged)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, float64(60), stats.TotalVolume)
	assert.Zero(t, stats.AvgRiskScore, "no scored rows yet")

	auditStats, err := store.AuditStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), auditStats.Audited)
	assert.Equal(t, int64(2), auditStats.Unaudited)
}
