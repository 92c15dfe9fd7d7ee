package dto

type ReleaseConditionsRequest struct {
	RequiresPayerApproval     bool `json:"requires_payer_approval"`
	RequiresPayeeConfirmation bool `json:"requires_payee_confirmation"`
	AutoReleaseAfterDays      *int `json:"auto_release_after_days,omitempty"`
	MilestoneBasedRelease     bool `json:"milestone_based_release"`
}

type MilestoneRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AmountCents int64   `json:"amount_cents"`
}

type CreateEscrowAccountRequest struct {
	JobID       string                   `json:"job_id"`
	PropertyID  string                   `json:"property_id"`
	PayeeID     string                   `json:"payee_id"`
	AmountCents int64                    `json:"amount_cents"`
	Currency    string                   `json:"currency,omitempty"` // defaults to USD
	Conditions  ReleaseConditionsRequest `json:"conditions"`
	Milestones  []MilestoneRequest       `json:"milestones,omitempty"`
}

type SubmitReleaseRequest struct {
	Type         string   `json:"type"` // full_release / milestone / partial_release
	AmountCents  int64    `json:"amount_cents,omitempty"`
	MilestoneID  *string  `json:"milestone_id,omitempty"`
	Reason       *string  `json:"reason,omitempty"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}
