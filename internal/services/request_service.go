package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/apperrors"
	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/events"
	"github.com/rentledger/backend/internal/models"
	"github.com/rentledger/backend/internal/rbac"
)

// AccountReleaser applies a committed release decision to the ledger.
// Implemented by AccountService.
type AccountReleaser interface {
	ApplyRelease(ctx context.Context, id uuid.UUID, amountCents int64, milestoneID *uuid.UUID, actorType string) (*models.EscrowAccount, error)
}

// RequestService owns the release request workflow: submission, approval
// collection, resolution and the automatic-release deadline. The request's
// pending -> terminal CAS is the serialization point; whoever wins it is the
// one that moves money.
type RequestService struct {
	requests  RequestStore
	accounts  AccountStore
	releaser  AccountReleaser
	auditRepo AuditLogger
	processor PaymentProcessor
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	nowFn     func() time.Time
}

func NewRequestService(
	requests RequestStore,
	accounts AccountStore,
	releaser AccountReleaser,
	auditRepo AuditLogger,
	processor PaymentProcessor,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *RequestService {
	return &RequestService{
		requests:  requests,
		accounts:  accounts,
		releaser:  releaser,
		auditRepo: auditRepo,
		processor: processor,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		nowFn:     time.Now,
	}
}

type SubmitRequestInput struct {
	AccountID    uuid.UUID
	ActorID      uuid.UUID
	Type         string
	AmountCents  int64
	MilestoneID  *uuid.UUID
	Reason       *string
	EvidenceRefs []string
}

// Submit validates and files a release request against a funded account.
// At most one pending request may exist per account; the store's unique
// constraint is what enforces it under concurrency.
func (s *RequestService) Submit(ctx context.Context, in SubmitRequestInput) (*models.ReleaseRequest, error) {
	account, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}

	role := account.PartyRole(in.ActorID)
	if !rbac.HasPermission(role, rbac.PermSubmitRelease) {
		return nil, apperrors.Validationf("only escrow parties can request a release")
	}
	if account.Status != models.AccountStatusFunded {
		return nil, apperrors.InvalidStatef("cannot release from account in status %s", account.Status)
	}
	if !models.IsValidReleaseType(in.Type) {
		return nil, apperrors.Validationf("unknown release type %q", in.Type)
	}
	if account.Conditions.MilestoneBasedRelease && in.Type != models.ReleaseTypeMilestone {
		return nil, apperrors.Validationf("milestone-based account accepts only milestone release requests")
	}
	if !account.Conditions.MilestoneBasedRelease && in.Type == models.ReleaseTypeMilestone {
		return nil, apperrors.Validationf("account has no milestones")
	}

	amount := in.AmountCents
	switch in.Type {
	case models.ReleaseTypeMilestone:
		if in.MilestoneID == nil {
			return nil, apperrors.Validationf("milestone_id is required for milestone release")
		}
		milestone, err := s.accounts.GetMilestone(ctx, *in.MilestoneID)
		if err != nil {
			return nil, err
		}
		if milestone.AccountID != account.ID {
			return nil, apperrors.Validationf("milestone %s does not belong to account %s", milestone.ID, account.ID)
		}
		if milestone.Status == models.MilestoneStatusReleased {
			return nil, apperrors.InvalidStatef("milestone %s is already released", milestone.ID)
		}
		if amount == 0 {
			amount = milestone.AmountCents
		} else if amount != milestone.AmountCents {
			return nil, apperrors.Validationf("milestone release amount must be %d, got %d", milestone.AmountCents, amount)
		}
	case models.ReleaseTypeFull:
		remaining := account.RemainingCents()
		if amount == 0 {
			amount = remaining
		} else if amount != remaining {
			return nil, apperrors.Validationf("full release amount must be the remaining balance %d, got %d", remaining, amount)
		}
	case models.ReleaseTypePartial:
		if amount <= 0 {
			return nil, apperrors.Validationf("partial release amount must be positive, got %d", amount)
		}
		if amount > account.RemainingCents() {
			return nil, apperrors.InsufficientBalancef("partial release of %d exceeds remaining balance %d", amount, account.RemainingCents())
		}
	}

	approvers := RequiredApprovers(account.Conditions, role)
	now := s.nowFn()
	req := &models.ReleaseRequest{
		AccountID:       account.ID,
		RequestedBy:     in.ActorID,
		RequestedByRole: role,
		Type:            in.Type,
		AmountCents:     amount,
		MilestoneID:     in.MilestoneID,
		Reason:          in.Reason,
		EvidenceRefs:    in.EvidenceRefs,
		Status:          models.RequestStatusPending,
		Approvals:       map[string]string{role: models.DecisionApproved},
	}

	switch {
	case len(approvers) == 0:
		deadline := now.Add(s.cfg.MinProcessingDelay)
		req.AutomaticReleaseAt = &deadline
	case account.Conditions.AutoReleaseAfterDays != nil:
		deadline := now.Add(time.Duration(*account.Conditions.AutoReleaseAfterDays) * 24 * time.Hour)
		req.AutomaticReleaseAt = &deadline
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &in.ActorID,
		ActorType:   "user",
		Action:      "release_request_submitted",
		EntityType:  "release_request",
		EntityID:    &req.ID,
		Meta:        map[string]any{"account_id": account.ID.String(), "type": req.Type, "amount_cents": amount},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventRequestSubmitted,
		Payload: map[string]any{
			"request_id":   req.ID.String(),
			"account_id":   account.ID.String(),
			"type":         req.Type,
			"amount_cents": amount,
		},
	})

	// Nobody left to approve: release now rather than waiting for a sweep,
	// unless a processing delay is configured.
	if len(approvers) == 0 && s.cfg.MinProcessingDelay == 0 {
		return s.finalize(ctx, req, account, models.RequestStatusApproved, req.Approvals, nil, "system")
	}

	return req, nil
}

// Resolve records an approver's decision. A rejection resolves immediately;
// an approval resolves once every required approver has approved.
func (s *RequestService) Resolve(ctx context.Context, requestID, actorID uuid.UUID, decision string) (*models.ReleaseRequest, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, apperrors.Validationf("unknown decision %q", decision)
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, apperrors.InvalidStatef("release request is already %s", req.Status)
	}

	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	role := account.PartyRole(actorID)
	if !rbac.HasPermission(role, rbac.PermApproveRelease) ||
		!IsRequiredApprover(account.Conditions, req.RequestedByRole, role) {
		return nil, apperrors.Validationf("caller is not a required approver for this request")
	}

	approvals := make(map[string]string, len(req.Approvals)+1)
	for k, v := range req.Approvals {
		approvals[k] = v
	}
	approvals[role] = decision

	if decision == models.DecisionRejected {
		return s.finalize(ctx, req, account, models.RequestStatusRejected, approvals, &actorID, "user")
	}

	if allApproved(RequiredApprovers(account.Conditions, req.RequestedByRole), approvals) {
		return s.finalize(ctx, req, account, models.RequestStatusApproved, approvals, &actorID, "user")
	}

	ok, err := s.requests.UpdateApprovals(ctx, req.ID, approvals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Conflictf("release request %s was resolved concurrently", req.ID)
	}
	req.Approvals = approvals

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "release_request_approval_recorded",
		EntityType:  "release_request",
		EntityID:    &req.ID,
		Meta:        map[string]any{"role": role, "decision": decision},
	})

	return req, nil
}

// AutoResolve releases a request whose approval deadline has passed.
// Calling it on an already resolved request is a no-op.
func (s *RequestService) AutoResolve(ctx context.Context, requestID uuid.UUID) (*models.ReleaseRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return req, nil
	}
	if req.AutomaticReleaseAt == nil || s.nowFn().Before(*req.AutomaticReleaseAt) {
		return nil, apperrors.InvalidStatef("release request %s is not due for automatic release", req.ID)
	}

	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	return s.finalize(ctx, req, account, models.RequestStatusAutoReleased, req.Approvals, nil, "scheduler")
}

func allApproved(approvers []string, approvals map[string]string) bool {
	for _, r := range approvers {
		if approvals[r] != models.DecisionApproved {
			return false
		}
	}
	return true
}

// finalize moves a request to a terminal status and, for releasing outcomes,
// applies the amount to the account ledger. Losing the pending -> terminal
// CAS means another resolver won; the winner's outcome stands.
func (s *RequestService) finalize(ctx context.Context, req *models.ReleaseRequest, account *models.EscrowAccount, newStatus string, approvals map[string]string, actorID *uuid.UUID, actorType string) (*models.ReleaseRequest, error) {
	if !models.IsValidRequestTransition(req.Status, newStatus) {
		return nil, apperrors.InvalidStatef("cannot transition release request from %s to %s", req.Status, newStatus)
	}

	releasing := newStatus == models.RequestStatusApproved || newStatus == models.RequestStatusAutoReleased

	now := s.nowFn()
	ok, err := s.requests.Resolve(ctx, req.ID, newStatus, approvals, nil, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.requests.GetByID(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if current.IsTerminal() {
			return current, nil
		}
		return nil, apperrors.Conflictf("release request %s changed concurrently", req.ID)
	}

	req.Status = newStatus
	req.Approvals = approvals
	req.ResolvedAt = &now

	// The payout is queued only once the ledger debit has gone through.
	// If the debit fails after the decision committed, the request is
	// marked blocked so the transfer worker never pays against an account
	// that refused the release; reconciliation picks those up manually.
	if releasing {
		if _, err := s.releaser.ApplyRelease(ctx, account.ID, req.AmountCents, req.MilestoneID, actorType); err != nil {
			if serr := s.requests.SetTransferStatus(ctx, req.ID, models.TransferStatusBlocked, nil); serr != nil {
				s.log.Error("failed to mark blocked payout",
					zap.String("request_id", req.ID.String()),
					zap.Error(serr),
				)
			}
			s.log.Error("release decision committed but ledger update failed",
				zap.String("request_id", req.ID.String()),
				zap.String("account_id", account.ID.String()),
				zap.Error(err),
			)
			return nil, err
		}
		ts := models.TransferStatusPending
		if serr := s.requests.SetTransferStatus(ctx, req.ID, ts, nil); serr != nil {
			s.log.Error("failed to queue payout transfer",
				zap.String("request_id", req.ID.String()),
				zap.Error(serr),
			)
		} else {
			req.TransferStatus = &ts
		}
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "release_request_" + newStatus,
		EntityType:  "release_request",
		EntityID:    &req.ID,
		Meta:        map[string]any{"account_id": account.ID.String(), "amount_cents": req.AmountCents},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventRequestResolved,
		Payload: map[string]any{
			"request_id":   req.ID.String(),
			"account_id":   account.ID.String(),
			"status":       newStatus,
			"amount_cents": req.AmountCents,
		},
	})

	return req, nil
}

// SweepAutoRelease releases every pending request whose deadline has passed.
func (s *RequestService) SweepAutoRelease(ctx context.Context) int {
	due, err := s.requests.ListDueAutoRelease(ctx, s.nowFn(), 100)
	if err != nil {
		s.log.Error("failed to list due release requests", zap.Error(err))
		return 0
	}

	released := 0
	for _, req := range due {
		if _, err := s.AutoResolve(ctx, req.ID); err != nil {
			s.log.Error("automatic release failed", zap.String("request_id", req.ID.String()), zap.Error(err))
			continue
		}
		released++
	}
	return released
}

// SweepTransfers sends (or retries) the payout for released requests. A
// failed transfer only updates the annotation; the release itself stands.
func (s *RequestService) SweepTransfers(ctx context.Context) int {
	due, err := s.requests.ListTransferRetry(ctx, 100)
	if err != nil {
		s.log.Error("failed to list payout transfers", zap.Error(err))
		return 0
	}

	sent := 0
	for _, req := range due {
		account, err := s.accounts.GetByID(ctx, req.AccountID)
		if err != nil {
			s.log.Error("failed to load account for payout", zap.String("request_id", req.ID.String()), zap.Error(err))
			continue
		}

		transferID, err := s.processor.Transfer(ctx, account.ID, account.PayeeID, req.AmountCents, account.Currency)
		if err != nil {
			s.log.Warn("payout transfer failed, will retry",
				zap.String("request_id", req.ID.String()),
				zap.Error(err),
			)
			if err := s.requests.SetTransferStatus(ctx, req.ID, models.TransferStatusFailed, nil); err != nil {
				s.log.Error("failed to record transfer failure", zap.String("request_id", req.ID.String()), zap.Error(err))
			}
			continue
		}

		if err := s.requests.SetTransferStatus(ctx, req.ID, models.TransferStatusSent, &transferID); err != nil {
			s.log.Error("failed to record transfer", zap.String("request_id", req.ID.String()), zap.Error(err))
			continue
		}

		_ = s.auditRepo.Log(ctx, models.AuditLog{
			ActorType:  "system",
			Action:     "payout_transfer_sent",
			EntityType: "release_request",
			EntityID:   &req.ID,
			Meta:       map[string]any{"transfer_id": transferID, "amount_cents": req.AmountCents},
		})
		sent++
	}
	return sent
}

func (s *RequestService) GetRequest(ctx context.Context, id uuid.UUID) (*models.ReleaseRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *RequestService) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.ReleaseRequest, error) {
	return s.requests.ListByAccount(ctx, accountID)
}
