package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/http/dto"
	"github.com/rentledger/backend/internal/middleware"
	"github.com/rentledger/backend/internal/models"
	"github.com/rentledger/backend/internal/repositories"
	"github.com/rentledger/backend/internal/services"
)

type AccountHandler struct {
	accountService *services.AccountService
	log            *zap.Logger
}

func NewAccountHandler(accountService *services.AccountService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, log: log}
}

func (h *AccountHandler) CreateAccount(c *fiber.Ctx) error {
	var req dto.CreateEscrowAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid job_id"})
	}
	propertyID, err := uuid.Parse(req.PropertyID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid property_id"})
	}
	payeeID, err := uuid.Parse(req.PayeeID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid payee_id"})
	}

	in := services.CreateAccountInput{
		JobID:       jobID,
		PropertyID:  propertyID,
		PayerID:     middleware.GetUserID(c),
		PayeeID:     payeeID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Conditions: models.ReleaseConditions{
			RequiresPayerApproval:     req.Conditions.RequiresPayerApproval,
			RequiresPayeeConfirmation: req.Conditions.RequiresPayeeConfirmation,
			AutoReleaseAfterDays:      req.Conditions.AutoReleaseAfterDays,
			MilestoneBasedRelease:     req.Conditions.MilestoneBasedRelease,
		},
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, services.MilestoneInput{
			Title:       m.Title,
			Description: m.Description,
			AmountCents: m.AmountCents,
		})
	}

	account, milestones, err := h.accountService.Create(c.Context(), in)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"account":    account,
		"milestones": milestones,
	}})
}

func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	account, err := h.accountService.GetAccount(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: account})
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.AccountFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("job_id"); v != "" {
		if jobID, err := uuid.Parse(v); err == nil {
			filter.JobID = &jobID
		}
	}

	switch c.Query("role") {
	case models.RolePayee:
		filter.PayeeID = &userID
	default:
		filter.PayerID = &userID
	}

	accounts, err := h.accountService.ListAccounts(c.Context(), filter)
	if err != nil {
		h.log.Error("list accounts failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: accounts})
}

func (h *AccountHandler) FundAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	account, err := h.accountService.Fund(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: account})
}

func (h *AccountHandler) DisputeAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	if err := h.accountService.Dispute(c.Context(), id, middleware.GetUserID(c)); err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AccountHandler) CancelAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	if err := h.accountService.Cancel(c.Context(), id, middleware.GetUserID(c), "user"); err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AccountHandler) GetMilestones(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	milestones, err := h.accountService.GetMilestones(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestones})
}

func (h *AccountHandler) CompleteMilestone(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}
	milestoneID, err := uuid.Parse(c.Params("milestoneId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone id"})
	}

	milestone, err := h.accountService.CompleteMilestone(c.Context(), accountID, milestoneID, middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *AccountHandler) GetAccountEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := h.accountService.GetEvents(c.Context(), id, limit, 0)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}
