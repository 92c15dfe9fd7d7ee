package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type FeeQuoteResponse struct {
	AmountCents        int64  `json:"amount_cents"`
	Currency           string `json:"currency"`
	PlatformFeeCents   int64  `json:"platform_fee_cents"`
	ProcessingFeeCents int64  `json:"processing_fee_cents"`
	TotalFeeCents      int64  `json:"total_fee_cents"`
}
