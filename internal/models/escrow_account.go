package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow account statuses
const (
	AccountStatusCreated   = "created"
	AccountStatusFunded    = "funded"
	AccountStatusReleased  = "released"
	AccountStatusDisputed  = "disputed"
	AccountStatusCancelled = "cancelled"
)

// Party roles
const (
	RolePayer = "payer"
	RolePayee = "payee"
)

// Valid state transitions: from -> []to
var ValidAccountTransitions = map[string][]string{
	AccountStatusCreated:   {AccountStatusFunded, AccountStatusCancelled},
	AccountStatusFunded:    {AccountStatusReleased, AccountStatusDisputed},
	AccountStatusReleased:  {},
	AccountStatusDisputed:  {},
	AccountStatusCancelled: {},
}

func IsValidAccountTransition(from, to string) bool {
	allowed, ok := ValidAccountTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ReleaseConditions is immutable once the account is funded.
type ReleaseConditions struct {
	RequiresPayerApproval     bool `json:"requires_payer_approval"`
	RequiresPayeeConfirmation bool `json:"requires_payee_confirmation"`
	AutoReleaseAfterDays      *int `json:"auto_release_after_days,omitempty"`
	MilestoneBasedRelease     bool `json:"milestone_based_release"`
}

// EscrowAccount holds funds pledged for a job between a payer (landlord)
// and a payee (contractor). All money values are integer minor units.
type EscrowAccount struct {
	ID                  uuid.UUID         `json:"id"`
	JobID               uuid.UUID         `json:"job_id"`
	PropertyID          uuid.UUID         `json:"property_id"`
	PayerID             uuid.UUID         `json:"payer_id"`
	PayeeID             uuid.UUID         `json:"payee_id"`
	AmountCents         int64             `json:"amount_cents"`
	Currency            string            `json:"currency"`
	PlatformFeeCents    int64             `json:"platform_fee_cents"`
	ProcessingFeeCents  int64             `json:"processing_fee_cents"`
	Status              string            `json:"status"`
	HoldStartDate       *time.Time        `json:"hold_start_date,omitempty"`
	FundingProof        *string           `json:"funding_proof,omitempty"`
	Conditions          ReleaseConditions `json:"release_conditions"`
	ReleasedAmountCents int64             `json:"released_amount_cents"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// RemainingCents is the unreleased balance still held.
func (a *EscrowAccount) RemainingCents() int64 {
	return a.AmountCents - a.ReleasedAmountCents
}

// PartyRole maps a user to their role on this account, or "" for strangers.
func (a *EscrowAccount) PartyRole(userID uuid.UUID) string {
	switch userID {
	case a.PayerID:
		return RolePayer
	case a.PayeeID:
		return RolePayee
	default:
		return ""
	}
}

// Milestone statuses
const (
	MilestoneStatusPending   = "pending"
	MilestoneStatusCompleted = "completed"
	MilestoneStatusReleased  = "released"
)

// Milestone is a named sub-portion of an account's principal, owned
// exclusively by its account. Percentage is informational only.
type Milestone struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Percentage  float64   `json:"percentage"`
	Status      string    `json:"status"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
