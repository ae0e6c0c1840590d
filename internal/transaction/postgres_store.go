package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/secureflow/secureflow/internal/idgen"
	"github.com/secureflow/secureflow/internal/policy"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = idgen.Transaction()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, from_wallet, to_wallet, amount, currency, risk_score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, tx.ID, tx.FromWallet, tx.ToWallet, tx.Amount, tx.Currency, tx.RiskScore, string(tx.Status), now)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, from_wallet, to_wallet, amount, currency, risk_score, status, audit_tx_hash, audited_at, created_at, updated_at
		FROM transactions WHERE id = $1
	`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return tx, nil
}

func (p *PostgresStore) AttachAudit(ctx context.Context, id, auditTxHash string, auditedAt time.Time) error {
	// Both audit fields are written in one statement, and only when the
	// record has not been audited yet.
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions
		SET audit_tx_hash = $1, audited_at = $2, updated_at = NOW()
		WHERE id = $3 AND audit_tx_hash IS NULL
	`, auditTxHash, auditedAt.UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to attach audit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Either the row is missing or it already carries an audit record
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyAudited
	}

	return nil
}

func (p *PostgresStore) List(ctx context.Context, query Query) ([]*Transaction, error) {
	if query.Limit == 0 {
		query.Limit = 100
	}

	sqlQuery := `
		SELECT id, from_wallet, to_wallet, amount, currency, risk_score, status, audit_tx_hash, audited_at, created_at, updated_at
		FROM transactions`
	var args []interface{}
	var conditions []string

	if query.Status != "" {
		args = append(args, string(query.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if query.Cursor != nil {
		args = append(args, query.Cursor.CreatedAt, query.Cursor.ID)
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
		query.Offset = 0
	}

	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	sqlQuery += " ORDER BY created_at DESC, id DESC"

	args = append(args, query.Limit)
	sqlQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sqlQuery += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

func (p *PostgresStore) ListUnaudited(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit == 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, from_wallet, to_wallet, amount, currency, risk_score, status, audit_tx_hash, audited_at, created_at, updated_at
		FROM transactions
		WHERE audit_tx_hash IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unaudited transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := Stats{UpdatedAt: time.Now().UTC()}

	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'FLAGGED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COALESCE(SUM(amount), 0),
			COALESCE(AVG(risk_score), 0)
		FROM transactions
	`).Scan(&stats.Total, &stats.Approved, &stats.Flagged, &stats.Rejected, &stats.TotalVolume, &stats.AvgRiskScore)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &stats, nil
}

func (p *PostgresStore) AuditStats(ctx context.Context) (*AuditStats, error) {
	stats := AuditStats{UpdatedAt: time.Now().UTC()}

	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE audit_tx_hash IS NOT NULL),
			COUNT(*) FILTER (WHERE audit_tx_hash IS NULL)
		FROM transactions
	`).Scan(&stats.Total, &stats.Audited, &stats.Unaudited)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	return &stats, nil
}

// -----------------------------------------------------------------------------
// Row scanning
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var status string
	var riskScore sql.NullFloat64
	var auditTxHash sql.NullString
	var auditedAt sql.NullTime

	err := row.Scan(
		&tx.ID, &tx.FromWallet, &tx.ToWallet, &tx.Amount, &tx.Currency,
		&riskScore, &status, &auditTxHash, &auditedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = policy.Decision(status)
	if riskScore.Valid {
		tx.RiskScore = &riskScore.Float64
	}
	if auditTxHash.Valid {
		tx.AuditTxHash = auditTxHash.String
	}
	if auditedAt.Valid {
		at := auditedAt.Time
		tx.AuditedAt = &at
	}

	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]*Transaction, error) {
	results := []*Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		results = append(results, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return results, nil
}
