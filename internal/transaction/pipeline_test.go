package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureflow/secureflow/internal/audit"
	"github.com/secureflow/secureflow/internal/policy"
	"github.com/secureflow/secureflow/internal/scoring"
)

// stubScorer returns a fixed scoring result
type stubScorer struct {
	result scoring.Result
}

func (s *stubScorer) Score(_ context.Context, _ scoring.Transfer) scoring.Result {
	return s.result
}

// stubRecorder records calls and returns a fixed receipt or error
type stubRecorder struct {
	mu       sync.Mutex
	calls    int
	lastID   string
	decision policy.Decision
	score    *float64
	receipt  *audit.Receipt
	err      error
}

func (r *stubRecorder) RecordAudit(_ context.Context, transactionID string, decision policy.Decision, riskScore *float64) (*audit.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastID = transactionID
	r.decision = decision
	r.score = riskScore
	if r.err != nil {
		return nil, r.err
	}
	return r.receipt, nil
}

func (r *stubRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// failingStore fails Create, wrapping an otherwise working MemoryStore
type failingStore struct {
	*MemoryStore
}

func (f *failingStore) Create(_ context.Context, _ *Transaction) error {
	return errors.New("connection refused")
}

func okReceipt() *audit.Receipt {
	return &audit.Receipt{
		TxHash:      "0xaudit",
		BlockNumber: 42,
		RecordedAt:  time.Now().UTC(),
	}
}

func TestSubmit_ScoredApproved(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.1, 0.9, "low risk")}
	recorder := &stubRecorder{receipt: okReceipt()}
	p := NewPipeline(store, scorer, recorder)

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err)

	assert.Equal(t, policy.DecisionApproved, tx.Status)
	require.NotNil(t, tx.RiskScore)
	assert.Equal(t, 0.1, *tx.RiskScore)

	// The response is the pre-audit snapshot
	assert.Empty(t, tx.AuditTxHash)
	assert.Nil(t, tx.AuditedAt)

	p.Wait()

	// The audit result is visible on a subsequent read
	stored, err := store.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xaudit", stored.AuditTxHash)
	require.NotNil(t, stored.AuditedAt)

	assert.Equal(t, 1, recorder.callCount())
	assert.Equal(t, tx.ID, recorder.lastID)
	assert.Equal(t, policy.DecisionApproved, recorder.decision)
	require.NotNil(t, recorder.score)
	assert.Equal(t, 0.1, *recorder.score)
}

func TestSubmit_ScorerUnavailableFallsBackToFlagged(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Unavailable()}
	recorder := &stubRecorder{receipt: okReceipt()}
	p := NewPipeline(store, scorer, recorder)

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err)

	assert.Equal(t, policy.DecisionFlagged, tx.Status)
	assert.Nil(t, tx.RiskScore, "fallback decision carries no score")

	p.Wait()

	// Fallback decisions are still anchored, with a nil score
	assert.Equal(t, 1, recorder.callCount())
	assert.Nil(t, recorder.score)
}

func TestSubmit_MidRangeScoreFlagged(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.65, 0.8, "elevated risk")}
	p := NewPipeline(store, scorer, nil)

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err)

	assert.Equal(t, policy.DecisionFlagged, tx.Status)
	require.NotNil(t, tx.RiskScore)
	assert.Equal(t, 0.65, *tx.RiskScore)
	p.Wait()
}

func TestSubmit_PersistenceFailureIsFatal(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	scorer := &stubScorer{result: scoring.Scored(0.1, 0.9, "low risk")}
	recorder := &stubRecorder{receipt: okReceipt()}
	p := NewPipeline(store, scorer, recorder)

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, tx)

	p.Wait()
	assert.Equal(t, 0, recorder.callCount(), "no audit attempt when persistence fails")
}

func TestSubmit_AuditFailureIsRecovered(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.9, 0.95, "high risk")}
	recorder := &stubRecorder{err: errors.New("ledger timeout")}
	p := NewPipeline(store, scorer, recorder)

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err, "audit failure never reaches the caller")
	assert.Equal(t, policy.DecisionRejected, tx.Status)

	p.Wait()

	// The record stays unaudited; the missing hash is the signal
	stored, err := store.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AuditTxHash)
	assert.Nil(t, stored.AuditedAt)
}

func TestSubmit_NilAuditorSkipsAudit(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.1, 0.9, "low risk")}
	p := NewPipeline(store, scorer, nil)

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err)
	p.Wait()

	stored, err := store.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AuditTxHash)
}

type capturePublisher struct {
	mu     sync.Mutex
	txs    []*Transaction
	audits []*Transaction
}

func (c *capturePublisher) PublishDecision(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, tx)
}

func (c *capturePublisher) PublishAudit(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audits = append(c.audits, tx)
}

func TestSubmit_PublishesDecision(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.1, 0.9, "low risk")}
	pub := &capturePublisher{}
	p := NewPipeline(store, scorer, nil, WithPublisher(pub))

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err)
	p.Wait()

	require.Len(t, pub.txs, 1)
	assert.Equal(t, tx.ID, pub.txs[0].ID)
	assert.Equal(t, policy.DecisionApproved, pub.txs[0].Status)

	// No auditor, no audit event
	assert.Empty(t, pub.audits)
}

func TestSubmit_PublishesAuditAfterConfirmation(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.1, 0.9, "low risk")}
	recorder := &stubRecorder{receipt: okReceipt()}
	pub := &capturePublisher{}
	p := NewPipeline(store, scorer, recorder, WithPublisher(pub))

	tx, err := p.Submit(context.Background(), Transfer{
		FromWallet: "0xA", ToWallet: "0xB", Amount: 100, Currency: "ETH",
	})
	require.NoError(t, err)
	p.Wait()

	require.Len(t, pub.audits, 1)
	assert.Equal(t, tx.ID, pub.audits[0].ID)
	assert.Equal(t, "0xaudit", pub.audits[0].AuditTxHash)
}

func TestSubmit_ConcurrentSubmissionsAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	scorer := &stubScorer{result: scoring.Scored(0.5, 0.8, "medium risk")}
	recorder := &stubRecorder{receipt: okReceipt()}
	p := NewPipeline(store, scorer, recorder)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), Transfer{
				FromWallet: "0xA", ToWallet: "0xB", Amount: 10, Currency: "ETH",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	p.Wait()

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(10), stats.Flagged)
	assert.Equal(t, 10, recorder.callCount())
}
