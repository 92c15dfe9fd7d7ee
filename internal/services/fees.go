package services

// FeeSchedule pins the fee formulas as constants injected at construction.
// The processing formula mirrors the payment processor's published
// percentage-plus-fixed schedule.
type FeeSchedule struct {
	PlatformFeeBPS          int
	ProcessingFeeBPS        int
	ProcessingFeeFixedCents int64
}

type Fees struct {
	PlatformFeeCents   int64 `json:"platform_fee_cents"`
	ProcessingFeeCents int64 `json:"processing_fee_cents"`
	TotalFeeCents      int64 `json:"total_fee_cents"`
}

// FeeCalculator is pure: no state beyond the schedule, no I/O.
type FeeCalculator struct {
	schedule FeeSchedule
}

func NewFeeCalculator(schedule FeeSchedule) *FeeCalculator {
	return &FeeCalculator{schedule: schedule}
}

// ComputeFees maps a principal in minor units to platform and processing
// fees. Basis-point amounts round half up.
func (c *FeeCalculator) ComputeFees(principalCents int64) Fees {
	platform := bpsOf(principalCents, c.schedule.PlatformFeeBPS)
	processing := bpsOf(principalCents, c.schedule.ProcessingFeeBPS) + c.schedule.ProcessingFeeFixedCents
	return Fees{
		PlatformFeeCents:   platform,
		ProcessingFeeCents: processing,
		TotalFeeCents:      platform + processing,
	}
}

func bpsOf(amountCents int64, bps int) int64 {
	return (amountCents*int64(bps) + 5000) / 10000
}
