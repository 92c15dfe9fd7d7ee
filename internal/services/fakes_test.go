package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/apperrors"
	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/events"
	"github.com/rentledger/backend/internal/models"
	"github.com/rentledger/backend/internal/repositories"
)

// fakeStore is an in-memory stand-in for the postgres repositories. It
// mirrors their guarded-update semantics (CAS on status, the single-pending
// constraint, the balance guard) so the services see the same behavior.
type fakeStore struct {
	mu         sync.Mutex
	accounts   map[uuid.UUID]*models.EscrowAccount
	milestones map[uuid.UUID]*models.Milestone
	requests   map[uuid.UUID]*models.ReleaseRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:   map[uuid.UUID]*models.EscrowAccount{},
		milestones: map[uuid.UUID]*models.Milestone{},
		requests:   map[uuid.UUID]*models.ReleaseRequest{},
	}
}

func (f *fakeStore) Create(ctx context.Context, a *models.EscrowAccount, milestones []models.Milestone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = uuid.New()
	a.Version = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	f.accounts[a.ID] = &cp
	for i := range milestones {
		milestones[i].ID = uuid.New()
		milestones[i].AccountID = a.ID
		m := milestones[i]
		f.milestones[m.ID] = &m
	}
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.NotFoundf("escrow account %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) List(ctx context.Context, filter repositories.AccountFilter) ([]models.EscrowAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EscrowAccount
	for _, a := range f.accounts {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.PayerID != nil && a.PayerID != *filter.PayerID {
			continue
		}
		if filter.PayeeID != nil && a.PayeeID != *filter.PayeeID {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStore) MarkFunded(ctx context.Context, id uuid.UUID, proof string, holdStart time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Status != models.AccountStatusCreated {
		return false, nil
	}
	a.Status = models.AccountStatusFunded
	a.FundingProof = &proof
	a.HoldStartDate = &holdStart
	a.Version++
	return true, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.Version++
	return true, nil
}

func (f *fakeStore) ApplyRelease(ctx context.Context, id uuid.UUID, amountCents int64, milestoneID *uuid.UUID) (*models.EscrowAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.NotFoundf("escrow account %s not found", id)
	}
	if a.Status != models.AccountStatusFunded {
		return nil, apperrors.InvalidStatef("cannot release from account in status %s", a.Status)
	}
	if a.ReleasedAmountCents+amountCents > a.AmountCents {
		return nil, apperrors.InsufficientBalancef("release of %d exceeds remaining balance %d", amountCents, a.AmountCents-a.ReleasedAmountCents)
	}
	if milestoneID != nil {
		m, ok := f.milestones[*milestoneID]
		if !ok {
			return nil, apperrors.NotFoundf("milestone %s not found", *milestoneID)
		}
		if m.Status == models.MilestoneStatusReleased {
			return nil, apperrors.Conflictf("milestone %s is already released", *milestoneID)
		}
		m.Status = models.MilestoneStatusReleased
	}
	a.ReleasedAmountCents += amountCents
	if a.ReleasedAmountCents == a.AmountCents {
		a.Status = models.AccountStatusReleased
	}
	a.Version++
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListStaleCreated(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EscrowAccount
	for _, a := range f.accounts {
		if a.Status == models.AccountStatusCreated && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) Milestones(ctx context.Context, accountID uuid.UUID) ([]models.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Milestone
	for _, m := range f.milestones {
		if m.AccountID == accountID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.milestones[id]
	if !ok {
		return nil, apperrors.NotFoundf("milestone %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) CompleteMilestone(ctx context.Context, id, accountID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.milestones[id]
	if !ok || m.AccountID != accountID || m.Status != models.MilestoneStatusPending {
		return false, nil
	}
	m.Status = models.MilestoneStatusCompleted
	return true, nil
}

func (f *fakeStore) CreateRequest(ctx context.Context, req *models.ReleaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.AccountID == req.AccountID && r.Status == models.RequestStatusPending {
			return apperrors.Conflictf("a pending release request already exists for account %s", req.AccountID)
		}
	}
	req.ID = uuid.New()
	req.Version = 1
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	cp := *req
	f.requests[req.ID] = &cp
	return nil
}

func (f *fakeStore) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ReleaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, apperrors.NotFoundf("release request %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) GetPendingByAccount(ctx context.Context, accountID uuid.UUID) (*models.ReleaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.AccountID == accountID && r.Status == models.RequestStatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.NotFoundf("no pending release request for account %s", accountID)
}

func (f *fakeStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.ReleaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReleaseRequest
	for _, r := range f.requests {
		if r.AccountID == accountID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateApprovals(ctx context.Context, id uuid.UUID, approvals map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok || r.Status != models.RequestStatusPending {
		return false, nil
	}
	r.Approvals = approvals
	r.Version++
	return true, nil
}

func (f *fakeStore) Resolve(ctx context.Context, id uuid.UUID, newStatus string, approvals map[string]string, transferStatus *string, resolvedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok || r.Status != models.RequestStatusPending {
		return false, nil
	}
	r.Status = newStatus
	r.Approvals = approvals
	r.TransferStatus = transferStatus
	r.ResolvedAt = &resolvedAt
	r.Version++
	return true, nil
}

func (f *fakeStore) ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.ReleaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReleaseRequest
	for _, r := range f.requests {
		if r.Status == models.RequestStatusPending && r.AutomaticReleaseAt != nil && !r.AutomaticReleaseAt.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTransferRetry(ctx context.Context, limit int) ([]models.ReleaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReleaseRequest
	for _, r := range f.requests {
		if r.TransferStatus != nil && (*r.TransferStatus == models.TransferStatusPending || *r.TransferStatus == models.TransferStatusFailed) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetTransferStatus(ctx context.Context, id uuid.UUID, status string, transferID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return apperrors.NotFoundf("release request %s not found", id)
	}
	r.TransferStatus = &status
	r.TransferID = transferID
	return nil
}

// fakeRequestStore adapts fakeStore to the RequestStore interface; the
// request methods carry distinct names on fakeStore to avoid clashing with
// the account-side Create/GetByID.
type fakeRequestStore struct{ *fakeStore }

func (f fakeRequestStore) Create(ctx context.Context, req *models.ReleaseRequest) error {
	return f.CreateRequest(ctx, req)
}

func (f fakeRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ReleaseRequest, error) {
	return f.GetRequestByID(ctx, id)
}

type fakeProcessor struct {
	mu           sync.Mutex
	captures     int
	transfers    int
	failCapture  bool
	failTransfer bool
}

func (p *fakeProcessor) Capture(ctx context.Context, accountID uuid.UUID, amountCents int64, currency string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCapture {
		return "", fmt.Errorf("capture declined")
	}
	p.captures++
	return fmt.Sprintf("cap_%d", p.captures), nil
}

func (p *fakeProcessor) Transfer(ctx context.Context, accountID, payeeID uuid.UUID, amountCents int64, currency string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTransfer {
		return "", fmt.Errorf("transfer rail unavailable")
	}
	p.transfers++
	return fmt.Sprintf("tr_%d", p.transfers), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) typesSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *fakeAudit) Log(ctx context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, e := range a.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	store     *fakeStore
	processor *fakeProcessor
	publisher *fakePublisher
	audit     *fakeAudit
	cfg       *config.Config
	accounts  *AccountService
	requests  *RequestService
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	processor := &fakeProcessor{}
	publisher := &fakePublisher{}
	audit := &fakeAudit{}
	cfg := &config.Config{
		PlatformFeeBPS:             250,
		ProcessingFeeBPS:           290,
		ProcessingFeeFixedCents:    30,
		AutoReleaseCapDays:         90,
		MilestoneSumToleranceCents: 1,
		FundingTimeout:             72 * time.Hour,
	}
	feeCalc := NewFeeCalculator(FeeSchedule{
		PlatformFeeBPS:          cfg.PlatformFeeBPS,
		ProcessingFeeBPS:        cfg.ProcessingFeeBPS,
		ProcessingFeeFixedCents: cfg.ProcessingFeeFixedCents,
	})
	log := zap.NewNop()

	reqStore := fakeRequestStore{store}
	accounts := NewAccountService(store, reqStore, audit, processor, publisher, feeCalc, cfg, log)
	requests := NewRequestService(reqStore, store, accounts, audit, processor, publisher, cfg, log)

	return &testEnv{
		store:     store,
		processor: processor,
		publisher: publisher,
		audit:     audit,
		cfg:       cfg,
		accounts:  accounts,
		requests:  requests,
	}
}
