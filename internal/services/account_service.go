package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/apperrors"
	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/events"
	"github.com/rentledger/backend/internal/models"
	"github.com/rentledger/backend/internal/rbac"
	"github.com/rentledger/backend/internal/repositories"
)

// AccountService owns the EscrowAccount state machine. All balance
// mutation flows through ApplyRelease; side effects (events, payouts)
// happen after the ledger transition commits.
type AccountService struct {
	accounts  AccountStore
	requests  RequestStore
	auditRepo AuditLogger
	processor PaymentProcessor
	publisher events.Publisher
	feeCalc   *FeeCalculator
	cfg       *config.Config
	log       *zap.Logger
	nowFn     func() time.Time
}

func NewAccountService(
	accounts AccountStore,
	requests RequestStore,
	auditRepo AuditLogger,
	processor PaymentProcessor,
	publisher events.Publisher,
	feeCalc *FeeCalculator,
	cfg *config.Config,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		requests:  requests,
		auditRepo: auditRepo,
		processor: processor,
		publisher: publisher,
		feeCalc:   feeCalc,
		cfg:       cfg,
		log:       log,
		nowFn:     time.Now,
	}
}

// transition validates and performs a status transition with audit logging
// and event publication. The store-level CAS is the authority; losing it
// surfaces as a conflict the caller may retry after re-reading.
func (s *AccountService) transition(ctx context.Context, account *models.EscrowAccount, newStatus string, actorID *uuid.UUID, actorType string) error {
	if !models.IsValidAccountTransition(account.Status, newStatus) {
		return apperrors.InvalidStatef("cannot transition account from %s to %s", account.Status, newStatus)
	}

	ok, err := s.accounts.UpdateStatus(ctx, account.ID, account.Status, newStatus)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflictf("account %s changed concurrently", account.ID)
	}

	oldStatus := account.Status
	account.Status = newStatus

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("account_status_%s_to_%s", oldStatus, newStatus),
		EntityType:  "escrow_account",
		EntityID:    &account.ID,
		Meta:        map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})

	if eventType := accountEventType(newStatus); eventType != "" {
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: eventType,
			Payload: map[string]any{
				"account_id": account.ID.String(),
				"payer_id":   account.PayerID.String(),
				"payee_id":   account.PayeeID.String(),
				"old_status": oldStatus,
				"new_status": newStatus,
			},
		})
	}

	return nil
}

func accountEventType(status string) string {
	switch status {
	case models.AccountStatusFunded:
		return events.EventAccountFunded
	case models.AccountStatusReleased:
		return events.EventAccountReleased
	case models.AccountStatusDisputed:
		return events.EventAccountDisputed
	case models.AccountStatusCancelled:
		return events.EventAccountCancelled
	}
	return ""
}

type MilestoneInput struct {
	Title       string
	Description *string
	AmountCents int64
}

type CreateAccountInput struct {
	JobID       uuid.UUID
	PropertyID  uuid.UUID
	PayerID     uuid.UUID
	PayeeID     uuid.UUID
	AmountCents int64
	Currency    string
	Conditions  models.ReleaseConditions
	Milestones  []MilestoneInput
}

// Create validates the account parameters, computes fees and produces the account
// in created status. Milestone amounts must sum to the principal within the
// configured tolerance.
func (s *AccountService) Create(ctx context.Context, in CreateAccountInput) (*models.EscrowAccount, []models.Milestone, error) {
	if in.AmountCents <= 0 {
		return nil, nil, apperrors.Validationf("amount must be positive, got %d", in.AmountCents)
	}
	if in.PayerID == uuid.Nil || in.PayeeID == uuid.Nil {
		return nil, nil, apperrors.Validationf("payer and payee are required")
	}
	if in.PayerID == in.PayeeID {
		return nil, nil, apperrors.Validationf("payer and payee must be distinct parties")
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}

	if days := in.Conditions.AutoReleaseAfterDays; days != nil {
		if *days <= 0 {
			return nil, nil, apperrors.Validationf("auto_release_after_days must be positive, got %d", *days)
		}
		if *days > s.cfg.AutoReleaseCapDays {
			return nil, nil, apperrors.Validationf("auto_release_after_days %d exceeds cap of %d", *days, s.cfg.AutoReleaseCapDays)
		}
	}

	var milestones []models.Milestone
	if in.Conditions.MilestoneBasedRelease {
		if len(in.Milestones) == 0 {
			return nil, nil, apperrors.Validationf("milestone_based_release requires at least one milestone")
		}
		var sum int64
		for i, m := range in.Milestones {
			if m.Title == "" {
				return nil, nil, apperrors.Validationf("milestone %d: title is required", i)
			}
			if m.AmountCents <= 0 {
				return nil, nil, apperrors.Validationf("milestone %d: amount must be positive, got %d", i, m.AmountCents)
			}
			sum += m.AmountCents
		}
		if diff := sum - in.AmountCents; diff > s.cfg.MilestoneSumToleranceCents || diff < -s.cfg.MilestoneSumToleranceCents {
			return nil, nil, apperrors.Validationf("milestone amounts sum to %d, account amount is %d", sum, in.AmountCents)
		}
		for i, m := range in.Milestones {
			milestones = append(milestones, models.Milestone{
				Title:       m.Title,
				Description: m.Description,
				AmountCents: m.AmountCents,
				Percentage:  float64(m.AmountCents) * 100 / float64(in.AmountCents),
				Status:      models.MilestoneStatusPending,
				Position:    i,
			})
		}
	} else if len(in.Milestones) > 0 {
		return nil, nil, apperrors.Validationf("milestones given but milestone_based_release is false")
	}

	fees := s.feeCalc.ComputeFees(in.AmountCents)
	account := &models.EscrowAccount{
		JobID:              in.JobID,
		PropertyID:         in.PropertyID,
		PayerID:            in.PayerID,
		PayeeID:            in.PayeeID,
		AmountCents:        in.AmountCents,
		Currency:           in.Currency,
		PlatformFeeCents:   fees.PlatformFeeCents,
		ProcessingFeeCents: fees.ProcessingFeeCents,
		Status:             models.AccountStatusCreated,
		Conditions:         in.Conditions,
	}

	if err := s.accounts.Create(ctx, account, milestones); err != nil {
		return nil, nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &in.PayerID,
		ActorType:   "user",
		Action:      "escrow_account_created",
		EntityType:  "escrow_account",
		EntityID:    &account.ID,
		Meta:        map[string]any{"amount_cents": in.AmountCents, "currency": in.Currency, "milestones": len(milestones)},
	})

	return account, milestones, nil
}

// Fund captures the principal through the payment processor and marks the
// account funded. Capture happens before the transition so a failed charge
// never produces a funded ledger entry.
func (s *AccountService) Fund(ctx context.Context, id, actorID uuid.UUID) (*models.EscrowAccount, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	role := account.PartyRole(actorID)
	if !rbac.HasPermission(role, rbac.PermFundAccount) {
		return nil, apperrors.Validationf("only the payer can fund the escrow account")
	}

	// Already funded: do not charge again.
	if account.Status == models.AccountStatusFunded {
		return account, nil
	}
	if account.Status != models.AccountStatusCreated {
		return nil, apperrors.InvalidStatef("cannot fund account in status %s", account.Status)
	}

	proof, err := s.processor.Capture(ctx, account.ID, account.AmountCents, account.Currency)
	if err != nil {
		return nil, err
	}

	return s.MarkFunded(ctx, id, proof)
}

// MarkFunded transitions created -> funded and anchors the hold period.
// Calling twice with the same funding proof is a no-op.
func (s *AccountService) MarkFunded(ctx context.Context, id uuid.UUID, fundingProof string) (*models.EscrowAccount, error) {
	if fundingProof == "" {
		return nil, apperrors.Validationf("funding proof is required")
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if fundedWithProof(account, fundingProof) {
		return account, nil
	}

	ok, err := s.accounts.MarkFunded(ctx, id, fundingProof, s.nowFn())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race or wrong state: re-read and re-check idempotency.
		account, err = s.accounts.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if fundedWithProof(account, fundingProof) {
			return account, nil
		}
		return nil, apperrors.InvalidStatef("cannot fund account in status %s", account.Status)
	}

	account, err = s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "account_funded",
		EntityType: "escrow_account",
		EntityID:   &account.ID,
		Meta:       map[string]any{"funding_proof": fundingProof},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventAccountFunded,
		Payload: map[string]any{
			"account_id":   account.ID.String(),
			"payer_id":     account.PayerID.String(),
			"payee_id":     account.PayeeID.String(),
			"amount_cents": account.AmountCents,
		},
	})

	return account, nil
}

func fundedWithProof(a *models.EscrowAccount, proof string) bool {
	return a.Status == models.AccountStatusFunded && a.FundingProof != nil && *a.FundingProof == proof
}

// ApplyRelease decrements the held balance and, on full exhaustion, closes
// the account as released. The store guarantees the increment is atomic.
func (s *AccountService) ApplyRelease(ctx context.Context, id uuid.UUID, amountCents int64, milestoneID *uuid.UUID, actorType string) (*models.EscrowAccount, error) {
	account, err := s.accounts.ApplyRelease(ctx, id, amountCents, milestoneID)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"amount_cents": amountCents, "released_total_cents": account.ReleasedAmountCents}
	if milestoneID != nil {
		meta["milestone_id"] = milestoneID.String()
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  actorType,
		Action:     "release_applied",
		EntityType: "escrow_account",
		EntityID:   &account.ID,
		Meta:       meta,
	})

	if account.Status == models.AccountStatusReleased {
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventAccountReleased,
			Payload: map[string]any{
				"account_id":   account.ID.String(),
				"payer_id":     account.PayerID.String(),
				"payee_id":     account.PayeeID.String(),
				"amount_cents": account.AmountCents,
			},
		})
	}

	return account, nil
}

// Dispute freezes a funded account. A pending release request must be
// resolved first so a dispute can never race an in-flight release.
func (s *AccountService) Dispute(ctx context.Context, id, actorID uuid.UUID) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}

	role := account.PartyRole(actorID)
	if !rbac.HasPermission(role, rbac.PermDisputeAccount) {
		return apperrors.Validationf("only escrow parties can open a dispute")
	}

	switch _, err := s.requests.GetPendingByAccount(ctx, id); {
	case err == nil:
		return apperrors.Conflictf("account %s has a pending release request; it must resolve before a dispute", id)
	case !errors.Is(err, apperrors.ErrNotFound):
		return err
	}

	return s.transition(ctx, account, models.AccountStatusDisputed, &actorID, "user")
}

// Cancel voids an account before funding. Reached by the payer or by the
// worker's stale-account sweep.
func (s *AccountService) Cancel(ctx context.Context, id, actorID uuid.UUID, actorType string) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if actorType == "user" {
		role := account.PartyRole(actorID)
		if !rbac.HasPermission(role, rbac.PermCancelAccount) {
			return apperrors.Validationf("only the payer can cancel the escrow account")
		}
	}

	var actor *uuid.UUID
	if actorID != uuid.Nil {
		actor = &actorID
	}
	return s.transition(ctx, account, models.AccountStatusCancelled, actor, actorType)
}

// CompleteMilestone records the payee's completion sign-off. Informational:
// it does not gate release, but a released milestone cannot be signed off.
func (s *AccountService) CompleteMilestone(ctx context.Context, accountID, milestoneID, actorID uuid.UUID) (*models.Milestone, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	role := account.PartyRole(actorID)
	if !rbac.HasPermission(role, rbac.PermCompleteMilestone) {
		return nil, apperrors.Validationf("only the payee can mark a milestone completed")
	}
	if account.Status != models.AccountStatusFunded {
		return nil, apperrors.InvalidStatef("cannot complete milestone on account in status %s", account.Status)
	}

	ok, err := s.accounts.CompleteMilestone(ctx, milestoneID, accountID)
	if err != nil {
		return nil, err
	}

	milestone, err := s.accounts.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if milestone.Status == models.MilestoneStatusCompleted {
			return milestone, nil // already signed off
		}
		return nil, apperrors.InvalidStatef("cannot complete milestone in status %s", milestone.Status)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "milestone_completed",
		EntityType:  "milestone",
		EntityID:    &milestoneID,
	})

	return milestone, nil
}

// SweepStaleCreated auto-cancels accounts that were never funded within the
// configured timeout. Per-account failures are logged and retried next sweep.
func (s *AccountService) SweepStaleCreated(ctx context.Context) int {
	cutoff := s.nowFn().Add(-s.cfg.FundingTimeout)
	accounts, err := s.accounts.ListStaleCreated(ctx, cutoff, 100)
	if err != nil {
		s.log.Error("failed to list stale accounts", zap.Error(err))
		return 0
	}

	cancelled := 0
	for _, account := range accounts {
		s.log.Info("auto-cancelling unfunded account",
			zap.String("account_id", account.ID.String()),
			zap.Time("created_at", account.CreatedAt),
		)
		if err := s.Cancel(ctx, account.ID, uuid.Nil, "system"); err != nil {
			s.log.Error("failed to cancel stale account", zap.String("account_id", account.ID.String()), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *AccountService) ListAccounts(ctx context.Context, f repositories.AccountFilter) ([]models.EscrowAccount, error) {
	return s.accounts.List(ctx, f)
}

func (s *AccountService) GetMilestones(ctx context.Context, accountID uuid.UUID) ([]models.Milestone, error) {
	return s.accounts.Milestones(ctx, accountID)
}

// GetEvents returns the account's audit trail, newest first.
func (s *AccountService) GetEvents(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByEntity(ctx, "escrow_account", accountID, limit, offset)
}
