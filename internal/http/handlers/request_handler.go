package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/http/dto"
	"github.com/rentledger/backend/internal/middleware"
	"github.com/rentledger/backend/internal/models"
	"github.com/rentledger/backend/internal/services"
)

type RequestHandler struct {
	requestService *services.RequestService
	log            *zap.Logger
}

func NewRequestHandler(requestService *services.RequestService, log *zap.Logger) *RequestHandler {
	return &RequestHandler{requestService: requestService, log: log}
}

func (h *RequestHandler) SubmitRequest(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	var req dto.SubmitReleaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "type is required (full_release, milestone, partial_release)"})
	}

	in := services.SubmitRequestInput{
		AccountID:    accountID,
		ActorID:      middleware.GetUserID(c),
		Type:         req.Type,
		AmountCents:  req.AmountCents,
		Reason:       req.Reason,
		EvidenceRefs: req.EvidenceRefs,
	}
	if req.MilestoneID != nil {
		milestoneID, err := uuid.Parse(*req.MilestoneID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone_id"})
		}
		in.MilestoneID = &milestoneID
	}

	request, err := h.requestService.Submit(c.Context(), in)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: request})
}

func (h *RequestHandler) ListRequests(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
	}

	requests, err := h.requestService.ListByAccount(c.Context(), accountID)
	if err != nil {
		h.log.Error("list release requests failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: requests})
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request id"})
	}

	request, err := h.requestService.GetRequest(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: request})
}

func (h *RequestHandler) ApproveRequest(c *fiber.Ctx) error {
	return h.resolve(c, models.DecisionApproved)
}

func (h *RequestHandler) RejectRequest(c *fiber.Ctx) error {
	return h.resolve(c, models.DecisionRejected)
}

func (h *RequestHandler) resolve(c *fiber.Ctx, decision string) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request id"})
	}

	request, err := h.requestService.Resolve(c.Context(), id, middleware.GetUserID(c), decision)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: request})
}
