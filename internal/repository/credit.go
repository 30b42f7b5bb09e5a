package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

// Bounds on re-reading a rival's debit after losing the insert race on
// the idempotency key.
const (
	replayReadAttempts = 5
	replayReadDelay    = 20 * time.Millisecond
)

// DeductResult is the outcome of a successful or replayed debit.
type DeductResult struct {
	RemainingBalance int64
	AlreadyApplied   bool
}

// CreditRepository is the credit ledger: append-only usage rows plus the
// organization balance, mutated only inside a single transaction per
// debit. The unique index on webhook_log_id is the concurrency mutex: two
// callers racing on the same key produce exactly one debit.
type CreditRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewCreditRepository(db *sql.DB, clock core.Clock) *CreditRepository {
	return &CreditRepository{db: db, clock: clock}
}

// Deduct charges amount against the organization, keyed by idempotencyKey.
// Replays return the prior result without debiting again. An at_cost
// organization that cannot cover the amount gets ErrInsufficientCredits
// and no partial effects.
func (r *CreditRepository) Deduct(ctx context.Context, orgID int64, idempotencyKey string, amount int64, description string) (*DeductResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var plan domain.BillingPlan
	var balance int64
	query := `SELECT billing_plan, credit_balance FROM organization WHERE id = ` + placeholder(1)
	err = tx.QueryRowContext(ctx, query, orgID).Scan(&plan, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("organization", orgID)
	}
	if err != nil {
		return nil, err
	}

	// Replay check before any effect.
	var priorAmount int64
	query = `SELECT amount FROM credit_usage WHERE webhook_log_id = ` + placeholder(1)
	err = tx.QueryRowContext(ctx, query, idempotencyKey).Scan(&priorAmount)
	if err == nil {
		return &DeductResult{RemainingBalance: balance, AlreadyApplied: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if plan == domain.PlanAtCost && balance < amount {
		return nil, domain.ErrInsufficientCredits
	}

	vals := []interface{}{orgID, idempotencyKey, amount, description,
		formatDateInDatabase(r.clock.Now().UTC())}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query = `INSERT INTO credit_usage (
		organization_id, webhook_log_id, amount, description, created
	) VALUES (` + strings.Join(pps, ", ") + `)`
	if _, err := tx.ExecContext(ctx, query, vals...); err != nil {
		// A unique-constraint violation means a concurrent caller won the
		// race on this key; report their result as a replay.
		if replay := r.replayWithRetry(ctx, orgID, idempotencyKey); replay != nil {
			return replay, nil
		}
		return nil, err
	}

	query = `
		UPDATE organization
		SET credit_balance = credit_balance - ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + guardClause(plan, 4)
	args := []interface{}{amount, formatDateInDatabase(r.clock.Now().UTC()), orgID}
	if plan == domain.PlanAtCost {
		args = append(args, amount)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected != 1 {
		// Balance moved under us since the read; the guard refused the
		// debit, so the whole transaction rolls back.
		return nil, domain.ErrInsufficientCredits
	}

	var remaining int64
	query = `SELECT credit_balance FROM organization WHERE id = ` + placeholder(1)
	if err := tx.QueryRowContext(ctx, query, orgID).Scan(&remaining); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &DeductResult{RemainingBalance: remaining}, nil
}

// guardClause keeps an at_cost balance from ever going negative as an
// observable post-transaction state.
func guardClause(plan domain.BillingPlan, idx int) string {
	if plan == domain.PlanAtCost {
		return ` AND credit_balance >= ` + placeholder(idx)
	}
	return ""
}

// replayWithRetry re-reads a rival's debit after losing the insert race.
// The rival may not have committed yet, so the read is retried briefly
// before giving up.
func (r *CreditRepository) replayWithRetry(ctx context.Context, orgID int64, idempotencyKey string) *DeductResult {
	for attempt := 0; attempt < replayReadAttempts; attempt++ {
		if replay := r.replayResult(ctx, orgID, idempotencyKey); replay != nil {
			return replay
		}
		time.Sleep(replayReadDelay)
	}
	return nil
}

// replayResult re-reads the ledger outside the failed transaction after an
// insert conflict.
func (r *CreditRepository) replayResult(ctx context.Context, orgID int64, idempotencyKey string) *DeductResult {
	var amount int64
	query := `SELECT amount FROM credit_usage WHERE webhook_log_id = ` + placeholder(1)
	if err := r.db.QueryRowContext(ctx, query, idempotencyKey).Scan(&amount); err != nil {
		return nil
	}
	var balance int64
	query = `SELECT credit_balance FROM organization WHERE id = ` + placeholder(1)
	if err := r.db.QueryRowContext(ctx, query, orgID).Scan(&balance); err != nil {
		slog.Error("Failed to read balance for replay", "error", err, "organization_id", orgID)
		return nil
	}
	return &DeductResult{RemainingBalance: balance, AlreadyApplied: true}
}

// FindUsageByKey returns the ledger row for an idempotency key, or nil.
func (r *CreditRepository) FindUsageByKey(idempotencyKey string) (*domain.CreditUsage, error) {
	query := `
		SELECT id, organization_id, webhook_log_id, amount, description, created
		FROM credit_usage WHERE webhook_log_id = ` + placeholder(1)
	var u domain.CreditUsage
	var desc sql.NullString
	err := r.db.QueryRow(query, idempotencyKey).Scan(
		&u.ID, &u.OrganizationID, &u.WebhookLogID, &u.Amount, &desc, &u.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Description = desc.String
	return &u, nil
}

// CountUsageByOrganization exists for operator tooling and tests.
func (r *CreditRepository) CountUsageByOrganization(orgID int64) (int, error) {
	query := `SELECT COUNT(*) FROM credit_usage WHERE organization_id = ` + placeholder(1)
	var count int
	err := r.db.QueryRow(query, orgID).Scan(&count)
	return count, err
}
