package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentledger/backend/internal/apperrors"
	"github.com/rentledger/backend/internal/models"
)

type RequestRepo struct {
	pool *pgxpool.Pool
}

func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

const requestColumns = `
	id, account_id, requested_by, requested_by_role, request_type,
	amount_cents, milestone_id, reason, evidence_refs,
	status, approvals, automatic_release_at,
	transfer_status, transfer_id, version, created_at, updated_at, resolved_at`

func scanRequest(row pgx.Row) (*models.ReleaseRequest, error) {
	var r models.ReleaseRequest
	var evidenceBytes, approvalsBytes []byte
	err := row.Scan(&r.ID, &r.AccountID, &r.RequestedBy, &r.RequestedByRole, &r.Type,
		&r.AmountCents, &r.MilestoneID, &r.Reason, &evidenceBytes,
		&r.Status, &approvalsBytes, &r.AutomaticReleaseAt,
		&r.TransferStatus, &r.TransferID, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(evidenceBytes, &r.EvidenceRefs); err != nil {
		return nil, fmt.Errorf("decode evidence_refs: %w", err)
	}
	if err := json.Unmarshal(approvalsBytes, &r.Approvals); err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	return &r, nil
}

// Create inserts a pending request. The partial unique index on
// (account_id) WHERE status = 'pending' makes check-then-create a single
// atomic statement: a concurrent second submission loses with ErrConflict.
func (r *RequestRepo) Create(ctx context.Context, req *models.ReleaseRequest) error {
	evidenceBytes, _ := json.Marshal(req.EvidenceRefs)
	approvalsBytes, _ := json.Marshal(req.Approvals)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO release_requests (account_id, requested_by, requested_by_role, request_type,
			amount_cents, milestone_id, reason, evidence_refs, status, approvals, automatic_release_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, version, created_at, updated_at
	`, req.AccountID, req.RequestedBy, req.RequestedByRole, req.Type,
		req.AmountCents, req.MilestoneID, req.Reason, evidenceBytes,
		req.Status, approvalsBytes, req.AutomaticReleaseAt,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.Conflictf("a pending release request already exists for account %s", req.AccountID)
	}
	return err
}

func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ReleaseRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM release_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("release request %s", id)
	}
	return req, err
}

func (r *RequestRepo) GetPendingByAccount(ctx context.Context, accountID uuid.UUID) (*models.ReleaseRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM release_requests
		WHERE account_id = $1 AND status = $2
	`, accountID, models.RequestStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("no pending release request for account %s", accountID)
	}
	return req, err
}

func (r *RequestRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.ReleaseRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM release_requests
		WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.ReleaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// UpdateApprovals persists a partial approval on a still-pending request.
// Returns false if the request already left pending.
func (r *RequestRepo) UpdateApprovals(ctx context.Context, id uuid.UUID, approvals map[string]string) (bool, error) {
	approvalsBytes, _ := json.Marshal(approvals)
	ct, err := r.pool.Exec(ctx, `
		UPDATE release_requests
		SET approvals = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, approvalsBytes, id, models.RequestStatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// Resolve is the terminal compare-and-swap: pending -> newStatus. A racing
// resolver loses here and observes RowsAffected == 0, never a double apply.
func (r *RequestRepo) Resolve(ctx context.Context, id uuid.UUID, newStatus string, approvals map[string]string, transferStatus *string, resolvedAt time.Time) (bool, error) {
	approvalsBytes, _ := json.Marshal(approvals)
	ct, err := r.pool.Exec(ctx, `
		UPDATE release_requests
		SET status = $1, approvals = $2, transfer_status = $3, resolved_at = $4,
		    version = version + 1, updated_at = now()
		WHERE id = $5 AND status = $6
	`, newStatus, approvalsBytes, transferStatus, resolvedAt, id, models.RequestStatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ListDueAutoRelease returns pending requests whose deadline has elapsed.
func (r *RequestRepo) ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.ReleaseRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM release_requests
		WHERE status = $1 AND automatic_release_at IS NOT NULL AND automatic_release_at <= $2
		ORDER BY automatic_release_at LIMIT $3
	`, models.RequestStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.ReleaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListTransferRetry returns resolved requests whose payout transfer has not
// gone through yet.
func (r *RequestRepo) ListTransferRetry(ctx context.Context, limit int) ([]models.ReleaseRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM release_requests
		WHERE transfer_status IN ($1, $2)
		ORDER BY updated_at LIMIT $3
	`, models.TransferStatusPending, models.TransferStatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.ReleaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func (r *RequestRepo) SetTransferStatus(ctx context.Context, id uuid.UUID, status string, transferID *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE release_requests
		SET transfer_status = $1, transfer_id = $2, version = version + 1, updated_at = now()
		WHERE id = $3
	`, status, transferID, id)
	return err
}
