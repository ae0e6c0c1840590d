// Package transaction implements the transfer decision pipeline and its
// persistent record: score, decide, persist, then anchor the decision
// on-chain best-effort.
package transaction

import (
	"errors"
	"time"

	"github.com/secureflow/secureflow/internal/pagination"
	"github.com/secureflow/secureflow/internal/policy"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrNotFound       = errors.New("transaction: not found")
	ErrAlreadyAudited = errors.New("transaction: audit record already attached")
	ErrPersistence    = errors.New("transaction: persistence failed")
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// Transaction is the authoritative record of a transfer evaluation
type Transaction struct {
	ID string `json:"id"`

	// Transfer fields, immutable after creation
	FromWallet string  `json:"fromWallet"`
	ToWallet   string  `json:"toWallet"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`

	// RiskScore is absent when the scoring service was unreachable
	RiskScore *float64 `json:"riskScore,omitempty"`

	// Status is set exactly once at creation and never changes
	Status policy.Decision `json:"status"`

	// Audit linkage: both fields set together, at most once, after the
	// on-chain record confirms
	AuditTxHash string     `json:"auditTxHash,omitempty"`
	AuditedAt   *time.Time `json:"auditedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Audited reports whether the transaction has an on-chain audit record
func (t *Transaction) Audited() bool {
	return t.AuditTxHash != "" && t.AuditedAt != nil
}

// Transfer is the caller-submitted payload before evaluation
type Transfer struct {
	FromWallet string  `json:"fromWallet" binding:"required"`
	ToWallet   string  `json:"toWallet" binding:"required"`
	Amount     float64 `json:"amount" binding:"required"`
	Currency   string  `json:"currency" binding:"required"`
}

// -----------------------------------------------------------------------------
// Query Types
// -----------------------------------------------------------------------------

// Query filters for listing transactions
type Query struct {
	Status policy.Decision    // Filter by decision status
	Limit  int                // Max results (default 100)
	Offset int                // Pagination offset, ignored when Cursor is set
	Cursor *pagination.Cursor // Resume listing after this position
}

// Stats aggregates decided transactions for the dashboard
type Stats struct {
	Total       int64   `json:"total"`
	Approved    int64   `json:"approved"`
	Flagged     int64   `json:"flagged"`
	Rejected    int64   `json:"rejected"`
	TotalVolume float64 `json:"totalVolume"`
	// AvgRiskScore averages scored transactions only; unscored fallbacks
	// are excluded rather than counted as zero.
	AvgRiskScore float64   `json:"avgRiskScore"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AuditStats summarizes on-chain audit coverage
type AuditStats struct {
	Total     int64     `json:"total"`
	Audited   int64     `json:"audited"`
	Unaudited int64     `json:"unaudited"`
	UpdatedAt time.Time `json:"updatedAt"`
}
