package models

import (
	"time"

	"github.com/google/uuid"
)

// Release request statuses. Everything except pending is terminal.
const (
	RequestStatusPending      = "pending"
	RequestStatusApproved     = "approved"
	RequestStatusRejected     = "rejected"
	RequestStatusAutoReleased = "auto_released"
)

var ValidRequestTransitions = map[string][]string{
	RequestStatusPending:      {RequestStatusApproved, RequestStatusRejected, RequestStatusAutoReleased},
	RequestStatusApproved:     {},
	RequestStatusRejected:     {},
	RequestStatusAutoReleased: {},
}

func IsValidRequestTransition(from, to string) bool {
	allowed, ok := ValidRequestTransitions[from]
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

// Release types
const (
	ReleaseTypeFull      = "full_release"
	ReleaseTypeMilestone = "milestone"
	ReleaseTypePartial   = "partial_release"
)

func IsValidReleaseType(t string) bool {
	switch t {
	case ReleaseTypeFull, ReleaseTypeMilestone, ReleaseTypePartial:
		return true
	}
	return false
}

// Approval decisions recorded per role.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Payout transfer annotation on resolved requests. The release decision is
// never reverted by a failed transfer; the worker retries pending and
// failed out of band. Blocked means the decision committed but the ledger
// debit did not; it is never retried automatically and needs reconciliation.
const (
	TransferStatusPending = "pending"
	TransferStatusSent    = "sent"
	TransferStatusFailed  = "failed"
	TransferStatusBlocked = "blocked"
)

// ReleaseRequest is a claim to release all or part of an account's held
// funds. The account remains the single source of truth for balance.
type ReleaseRequest struct {
	ID                 uuid.UUID         `json:"id"`
	AccountID          uuid.UUID         `json:"account_id"`
	RequestedBy        uuid.UUID         `json:"requested_by"`
	RequestedByRole    string            `json:"requested_by_role"`
	Type               string            `json:"type"`
	AmountCents        int64             `json:"amount_cents"`
	MilestoneID        *uuid.UUID        `json:"milestone_id,omitempty"`
	Reason             *string           `json:"reason,omitempty"`
	EvidenceRefs       []string          `json:"evidence_refs,omitempty"`
	Status             string            `json:"status"`
	Approvals          map[string]string `json:"approvals"`
	AutomaticReleaseAt *time.Time        `json:"automatic_release_at,omitempty"`
	TransferStatus     *string           `json:"transfer_status,omitempty"`
	TransferID         *string           `json:"transfer_id,omitempty"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
}

func (r *ReleaseRequest) IsTerminal() bool {
	return r.Status != RequestStatusPending
}
