// Package reconciliation tracks on-chain audit coverage of stored decisions.
//
// Audits are best-effort, so some records end up without an anchor. The
// sweeper surfaces that gap through metrics and logs; it does not retry
// audits itself.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/secureflow/secureflow/internal/logging"
	"github.com/secureflow/secureflow/internal/metrics"
	"github.com/secureflow/secureflow/internal/transaction"
)

// DefaultInterval between coverage sweeps.
const DefaultInterval = time.Minute

// AuditCoverageStore provides the store views the sweeper needs.
type AuditCoverageStore interface {
	AuditStats(ctx context.Context) (*transaction.AuditStats, error)
	ListUnaudited(ctx context.Context, limit int) ([]*transaction.Transaction, error)
}

// Result holds the outcome of one coverage sweep.
type Result struct {
	Total           int64      `json:"total"`
	Audited         int64      `json:"audited"`
	Unaudited       int64      `json:"unaudited"`
	Coverage        float64    `json:"coverage"` // audited / total, 1.0 when empty
	OldestUnaudited *time.Time `json:"oldestUnaudited,omitempty"`
}

// Service sweeps the store for unaudited decisions.
type Service struct {
	store          AuditCoverageStore
	alertThreshold int64
}

// NewService creates a reconciliation service.
func NewService(store AuditCoverageStore) *Service {
	return &Service{
		store:          store,
		alertThreshold: 100,
	}
}

// SetAlertThreshold sets the unaudited count above which sweeps log a warning.
func (s *Service) SetAlertThreshold(n int64) {
	if n > 0 {
		s.alertThreshold = n
	}
}

// Sweep measures audit coverage once and publishes it to the gauge.
func (s *Service) Sweep(ctx context.Context) (*Result, error) {
	stats, err := s.store.AuditStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	result := &Result{
		Total:     stats.Total,
		Audited:   stats.Audited,
		Unaudited: stats.Unaudited,
		Coverage:  1.0,
	}
	if stats.Total > 0 {
		result.Coverage = float64(stats.Audited) / float64(stats.Total)
	}

	if stats.Unaudited > 0 {
		unaudited, err := s.store.ListUnaudited(ctx, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to list unaudited transactions: %w", err)
		}
		if len(unaudited) > 0 {
			oldest := unaudited[0].CreatedAt
			result.OldestUnaudited = &oldest
		}
	}

	metrics.UnauditedTransactions.Set(float64(stats.Unaudited))

	logger := logging.L(ctx)
	if stats.Unaudited > s.alertThreshold {
		logger.Warn("audit coverage degraded",
			"unaudited", stats.Unaudited,
			"total", stats.Total,
			"coverage", result.Coverage,
		)
	} else {
		logger.Debug("audit coverage sweep",
			"unaudited", stats.Unaudited,
			"total", stats.Total,
		)
	}

	return result, nil
}

// Run sweeps on a fixed interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.L(ctx).Info("reconciliation sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			logging.L(ctx).Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logging.L(ctx).Error("coverage sweep failed", "error", err)
			}
		}
	}
}
