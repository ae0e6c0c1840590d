package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/secureflow/secureflow/internal/audit"
	"github.com/secureflow/secureflow/internal/logging"
	"github.com/secureflow/secureflow/internal/metrics"
	"github.com/secureflow/secureflow/internal/policy"
	"github.com/secureflow/secureflow/internal/scoring"
	"github.com/secureflow/secureflow/internal/traces"
)

// DefaultAuditTimeout bounds the best-effort on-chain audit, including the
// wait for confirmation.
const DefaultAuditTimeout = 45 * time.Second

// Publisher receives decided transactions for live feeds. PublishAudit fires
// after a decision is anchored on-chain and the record carries its audit
// fields.
type Publisher interface {
	PublishDecision(tx *Transaction)
	PublishAudit(tx *Transaction)
}

// Pipeline orchestrates a submission: score, decide, persist, then anchor
// the decision on-chain without blocking the caller.
type Pipeline struct {
	store        Store
	scorer       scoring.Scorer
	auditor      audit.Recorder
	publisher    Publisher
	auditTimeout time.Duration

	// wg tracks in-flight audit goroutines so shutdown can drain them
	wg sync.WaitGroup
}

// PipelineOption configures the pipeline
type PipelineOption func(*Pipeline)

// WithAuditTimeout bounds each best-effort audit attempt
func WithAuditTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.auditTimeout = d
	}
}

// WithPublisher attaches a live decision feed
func WithPublisher(pub Publisher) PipelineOption {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// NewPipeline creates a pipeline. auditor may be nil, in which case decisions
// are persisted but never anchored on-chain.
func NewPipeline(store Store, scorer scoring.Scorer, auditor audit.Recorder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:        store,
		scorer:       scorer,
		auditor:      auditor,
		auditTimeout: DefaultAuditTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit evaluates a transfer end to end and returns the persisted record.
//
// The scorer's unavailability is recovered by forcing a FLAGGED decision with
// no score: unknown risk is never silently approved. Persistence failure is
// fatal to the submission. The on-chain audit runs in a detached goroutine
// and its outcome never reaches the caller; the returned record is the
// pre-audit snapshot.
func (p *Pipeline) Submit(ctx context.Context, transfer Transfer) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "pipeline.submit",
		traces.Wallet(transfer.FromWallet),
		traces.Amount(transfer.Amount),
		traces.Currency(transfer.Currency),
	)
	defer span.End()

	result := p.scorer.Score(ctx, scoring.Transfer{
		FromWallet: transfer.FromWallet,
		ToWallet:   transfer.ToWallet,
		Amount:     transfer.Amount,
		Currency:   transfer.Currency,
	})

	var riskScore *float64
	var decision policy.Decision
	if result.Scored {
		score := result.RiskScore
		riskScore = &score
		decision = policy.Decide(score)
	} else {
		// Fail-safe fallback: no score, flag for review
		decision = policy.DecisionFlagged
	}
	span.SetAttributes(traces.Decision(string(decision)))

	tx := &Transaction{
		FromWallet: transfer.FromWallet,
		ToWallet:   transfer.ToWallet,
		Amount:     transfer.Amount,
		Currency:   transfer.Currency,
		RiskScore:  riskScore,
		Status:     decision,
	}

	// Authoritative commit point
	if err := p.store.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.TransactionsTotal.WithLabelValues(string(decision)).Inc()
	span.SetAttributes(traces.TransactionID(tx.ID))

	logging.L(ctx).Info("transaction decided",
		"id", tx.ID,
		"status", string(decision),
		"scored", result.Scored,
	)

	// The caller gets the pre-audit snapshot; the audit result is only
	// visible on subsequent reads.
	snapshot := *tx

	p.wg.Add(1)
	go p.recordAudit(logging.L(ctx), tx.ID, decision, riskScore)

	if p.publisher != nil {
		p.publisher.PublishDecision(&snapshot)
	}

	return &snapshot, nil
}

// recordAudit runs the best-effort on-chain anchor for one transaction. It
// uses its own context so a finished HTTP request cannot cancel it.
func (p *Pipeline) recordAudit(logger *slog.Logger, id string, decision policy.Decision, riskScore *float64) {
	defer p.wg.Done()

	if p.auditor == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.auditTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := p.auditor.RecordAudit(ctx, id, decision, riskScore)
	if err != nil {
		metrics.AuditAttemptsTotal.WithLabelValues("failure").Inc()
		logger.Warn("audit attempt failed",
			"id", id,
			"error", err,
		)
		return
	}

	metrics.AuditConfirmationSeconds.Observe(time.Since(start).Seconds())

	if err := p.store.AttachAudit(ctx, id, receipt.TxHash, receipt.RecordedAt); err != nil {
		metrics.AuditAttemptsTotal.WithLabelValues("attach_failed").Inc()
		logger.Error("audit confirmed on-chain but record update failed",
			"id", id,
			"auditTxHash", receipt.TxHash,
			"error", err,
		)
		return
	}

	metrics.AuditAttemptsTotal.WithLabelValues("success").Inc()
	logger.Info("audit recorded",
		"id", id,
		"auditTxHash", receipt.TxHash,
		"block", receipt.BlockNumber,
	)

	if p.publisher != nil {
		if audited, err := p.store.Get(ctx, id); err == nil {
			p.publisher.PublishAudit(audited)
		}
	}
}

// Wait blocks until all in-flight audit goroutines finish. Called on
// shutdown so pending audits are not dropped.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
