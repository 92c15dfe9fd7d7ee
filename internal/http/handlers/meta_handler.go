package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/rentledger/backend/internal/http/dto"
	"github.com/rentledger/backend/internal/services"
)

type MetaHandler struct {
	feeCalc *services.FeeCalculator
}

func NewMetaHandler(feeCalc *services.FeeCalculator) *MetaHandler {
	return &MetaHandler{feeCalc: feeCalc}
}

// GetFeeQuote prices an amount without creating anything. Lets clients show
// the fee breakdown before the payer commits.
func (h *MetaHandler) GetFeeQuote(c *fiber.Ctx) error {
	amount, err := strconv.ParseInt(c.Query("amount_cents"), 10, 64)
	if err != nil || amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "amount_cents must be a positive integer"})
	}

	currency := c.Query("currency")
	if currency == "" {
		currency = "USD"
	}

	fees := h.feeCalc.ComputeFees(amount)
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.FeeQuoteResponse{
		AmountCents:        amount,
		Currency:           currency,
		PlatformFeeCents:   fees.PlatformFeeCents,
		ProcessingFeeCents: fees.ProcessingFeeCents,
		TotalFeeCents:      fees.TotalFeeCents,
	}})
}
