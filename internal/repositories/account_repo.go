package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentledger/backend/internal/apperrors"
	"github.com/rentledger/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `
	id, job_id, property_id, payer_id, payee_id,
	amount_cents, currency, platform_fee_cents, processing_fee_cents,
	status, hold_start_date, funding_proof,
	requires_payer_approval, requires_payee_confirmation,
	auto_release_after_days, milestone_based_release,
	released_amount_cents, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.EscrowAccount, error) {
	var a models.EscrowAccount
	err := row.Scan(&a.ID, &a.JobID, &a.PropertyID, &a.PayerID, &a.PayeeID,
		&a.AmountCents, &a.Currency, &a.PlatformFeeCents, &a.ProcessingFeeCents,
		&a.Status, &a.HoldStartDate, &a.FundingProof,
		&a.Conditions.RequiresPayerApproval, &a.Conditions.RequiresPayeeConfirmation,
		&a.Conditions.AutoReleaseAfterDays, &a.Conditions.MilestoneBasedRelease,
		&a.ReleasedAmountCents, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts the account and its milestones in one transaction.
func (r *AccountRepo) Create(ctx context.Context, a *models.EscrowAccount, milestones []models.Milestone) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO escrow_accounts (job_id, property_id, payer_id, payee_id,
			amount_cents, currency, platform_fee_cents, processing_fee_cents, status,
			requires_payer_approval, requires_payee_confirmation,
			auto_release_after_days, milestone_based_release)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, version, created_at, updated_at
	`, a.JobID, a.PropertyID, a.PayerID, a.PayeeID,
		a.AmountCents, a.Currency, a.PlatformFeeCents, a.ProcessingFeeCents, a.Status,
		a.Conditions.RequiresPayerApproval, a.Conditions.RequiresPayeeConfirmation,
		a.Conditions.AutoReleaseAfterDays, a.Conditions.MilestoneBasedRelease,
	).Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range milestones {
		m := &milestones[i]
		m.AccountID = a.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO milestones (account_id, title, description, amount_cents, percentage, status, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`, m.AccountID, m.Title, m.Description, m.AmountCents, m.Percentage, m.Status, m.Position,
		).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("escrow account %s", id)
	}
	return a, err
}

type AccountFilter struct {
	PayerID *uuid.UUID
	PayeeID *uuid.UUID
	JobID   *uuid.UUID
	Status  *string
	Limit   int
	Offset  int
}

func (r *AccountRepo) List(ctx context.Context, f AccountFilter) ([]models.EscrowAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM escrow_accounts`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.PayerID != nil {
		where = append(where, fmt.Sprintf("payer_id = $%d", argIdx))
		args = append(args, *f.PayerID)
		argIdx++
	}
	if f.PayeeID != nil {
		where = append(where, fmt.Sprintf("payee_id = $%d", argIdx))
		args = append(args, *f.PayeeID)
		argIdx++
	}
	if f.JobID != nil {
		where = append(where, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, *f.JobID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.EscrowAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// MarkFunded performs the guarded created -> funded transition. Returns
// false when no row matched, i.e. the account was not in created.
func (r *AccountRepo) MarkFunded(ctx context.Context, id uuid.UUID, proof string, holdStart time.Time) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE escrow_accounts
		SET status = $1, hold_start_date = $2, funding_proof = $3,
		    version = version + 1, updated_at = now()
		WHERE id = $4 AND status = $5
	`, models.AccountStatusFunded, holdStart, proof, id, models.AccountStatusCreated)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateStatus is a compare-and-swap on the status column. Returns false
// when the account was no longer in the expected state.
func (r *AccountRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE escrow_accounts
		SET status = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ApplyRelease atomically increments released_amount_cents, marks the
// milestone released if given, and flips the account to released on full
// exhaustion. The single guarded UPDATE is the per-account serialization
// point: concurrent calls cannot interleave or over-release.
func (r *AccountRepo) ApplyRelease(ctx context.Context, id uuid.UUID, amountCents int64, milestoneID *uuid.UUID) (*models.EscrowAccount, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE escrow_accounts
		SET released_amount_cents = released_amount_cents + $1,
		    status = CASE WHEN released_amount_cents + $1 = amount_cents
		                  THEN 'released' ELSE status END,
		    version = version + 1, updated_at = now()
		WHERE id = $2 AND status = 'funded'
		  AND released_amount_cents + $1 <= amount_cents
	`, amountCents, id)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		a, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundf("escrow account %s", id)
		}
		if err != nil {
			return nil, err
		}
		if a.Status != models.AccountStatusFunded {
			return nil, apperrors.InvalidStatef("cannot release from account in status %s", a.Status)
		}
		return nil, apperrors.InsufficientBalancef("release of %d exceeds remaining balance %d", amountCents, a.RemainingCents())
	}

	if milestoneID != nil {
		ct, err := tx.Exec(ctx, `
			UPDATE milestones SET status = $1, updated_at = now()
			WHERE id = $2 AND account_id = $3 AND status != $1
		`, models.MilestoneStatusReleased, *milestoneID, id)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() == 0 {
			return nil, apperrors.Conflictf("milestone %s already released", *milestoneID)
		}
	}

	a, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// ListStaleCreated returns unfunded accounts older than the cutoff, for the
// worker's auto-cancel sweep.
func (r *AccountRepo) ListStaleCreated(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowAccount, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM escrow_accounts
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3
	`, models.AccountStatusCreated, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.EscrowAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// ---- Milestones ----

const milestoneColumns = `id, account_id, title, description, amount_cents, percentage, status, position, created_at, updated_at`

func scanMilestone(row pgx.Row) (*models.Milestone, error) {
	var m models.Milestone
	err := row.Scan(&m.ID, &m.AccountID, &m.Title, &m.Description,
		&m.AmountCents, &m.Percentage, &m.Status, &m.Position, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *AccountRepo) Milestones(ctx context.Context, accountID uuid.UUID) ([]models.Milestone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE account_id = $1 ORDER BY position`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []models.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		milestones = append(milestones, *m)
	}
	return milestones, rows.Err()
}

func (r *AccountRepo) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := scanMilestone(r.pool.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("milestone %s", id)
	}
	return m, err
}

// CompleteMilestone records the payee's completion sign-off. Guarded so a
// released milestone can never go back to completed.
func (r *AccountRepo) CompleteMilestone(ctx context.Context, id, accountID uuid.UUID) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE milestones SET status = $1, updated_at = now()
		WHERE id = $2 AND account_id = $3 AND status = $4
	`, models.MilestoneStatusCompleted, id, accountID, models.MilestoneStatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
