package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/models"
	"github.com/rentledger/backend/internal/repositories"
)

// Narrow store interfaces over the ledger repositories. Services depend on
// these so the state machines can be exercised against in-memory fakes.

type AccountStore interface {
	Create(ctx context.Context, a *models.EscrowAccount, milestones []models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error)
	List(ctx context.Context, f repositories.AccountFilter) ([]models.EscrowAccount, error)
	MarkFunded(ctx context.Context, id uuid.UUID, proof string, holdStart time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	ApplyRelease(ctx context.Context, id uuid.UUID, amountCents int64, milestoneID *uuid.UUID) (*models.EscrowAccount, error)
	ListStaleCreated(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowAccount, error)
	Milestones(ctx context.Context, accountID uuid.UUID) ([]models.Milestone, error)
	GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	CompleteMilestone(ctx context.Context, id, accountID uuid.UUID) (bool, error)
}

type RequestStore interface {
	Create(ctx context.Context, req *models.ReleaseRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReleaseRequest, error)
	GetPendingByAccount(ctx context.Context, accountID uuid.UUID) (*models.ReleaseRequest, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.ReleaseRequest, error)
	UpdateApprovals(ctx context.Context, id uuid.UUID, approvals map[string]string) (bool, error)
	Resolve(ctx context.Context, id uuid.UUID, newStatus string, approvals map[string]string, transferStatus *string, resolvedAt time.Time) (bool, error)
	ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.ReleaseRequest, error)
	ListTransferRetry(ctx context.Context, limit int) ([]models.ReleaseRequest, error)
	SetTransferStatus(ctx context.Context, id uuid.UUID, status string, transferID *string) error
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// PaymentProcessor is the external money-movement rail. Capture runs before
// markFunded; Transfer runs after a release commits and is retried out of
// band on failure.
type PaymentProcessor interface {
	Capture(ctx context.Context, accountID uuid.UUID, amountCents int64, currency string) (string, error)
	Transfer(ctx context.Context, accountID, payeeID uuid.UUID, amountCents int64, currency string) (string, error)
}
