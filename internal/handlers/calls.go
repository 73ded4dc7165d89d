package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/services"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// CallHandler handles the call lifecycle API
type CallHandler struct {
	store        storage.Store
	orchestrator *services.CallOrchestrator
	handoff      *services.HandoffOrchestrator
}

// NewCallHandler creates a new call handler
func NewCallHandler(store storage.Store, orchestrator *services.CallOrchestrator, handoff *services.HandoffOrchestrator) *CallHandler {
	return &CallHandler{
		store:        store,
		orchestrator: orchestrator,
		handoff:      handoff,
	}
}

// InitiateCall starts a new outbound AI call
func (h *CallHandler) InitiateCall(c *fiber.Ctx) error {
	var req services.InitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.PhoneNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "phone_number is required",
		})
	}

	call, err := h.orchestrator.InitiateCall(req)
	if err != nil {
		log.Printf("❌ Failed to initiate call to %s: %v", req.PhoneNumber, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to initiate call",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"call":    call,
	})
}

// GetCall returns one call session with its transcript
func (h *CallHandler) GetCall(c *fiber.Ctx) error {
	callID := c.Params("callID")

	call, err := h.store.GetCall(callID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Call not found",
		})
	}

	transcript, _ := h.store.GetTranscript(callID)

	return c.JSON(fiber.Map{
		"success":    true,
		"call":       call,
		"transcript": transcript,
	})
}

// GetConversationLog returns the engine conversation items for a bridge call
func (h *CallHandler) GetConversationLog(c *fiber.Ctx) error {
	callID := c.Params("callID")

	if _, err := h.store.GetCall(callID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Call not found",
		})
	}

	items, err := h.store.GetConversationLog(callID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch conversation log",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"items":   items,
		"count":   len(items),
	})
}

// CancelCall stops a queued or live call
func (h *CallHandler) CancelCall(c *fiber.Ctx) error {
	callID := c.Params("callID")

	if _, err := h.store.GetCall(callID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Call not found",
		})
	}

	if err := h.orchestrator.CancelCall(callID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel call",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Call cancelled",
	})
}

// RequestHandoff asks for a manual transfer of a live call to an operator
func (h *CallHandler) RequestHandoff(c *fiber.Ctx) error {
	callID := c.Params("callID")

	var req struct {
		OperatorID  string `json:"operator_id"`
		Strategy    string `json:"strategy"`
		RequestedBy string `json:"requested_by"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "api"
	}

	rec, err := h.handoff.RequestHandoff(services.HandoffRequest{
		CallID:      callID,
		OperatorID:  req.OperatorID,
		Strategy:    req.Strategy,
		Method:      models.HandoffMethodManual,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidStatus):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Call is not in a transferable state",
			})
		case errors.Is(err, services.ErrHandoffInProgress):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Handoff already in progress",
			})
		case errors.Is(err, services.ErrNoOperator):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "No operator available",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to start handoff",
			})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"handoff": rec,
	})
}
