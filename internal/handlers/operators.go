package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// OperatorHandler manages the human operator pool
type OperatorHandler struct {
	store storage.Store
}

// NewOperatorHandler creates a new operator handler
func NewOperatorHandler(store storage.Store) *OperatorHandler {
	return &OperatorHandler{store: store}
}

// RegisterOperator adds an operator to the pool
func (h *OperatorHandler) RegisterOperator(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		PhoneNumber string `json:"phone_number"`
		Department  string `json:"department"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Name == "" || req.PhoneNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and phone_number are required",
		})
	}

	op, err := h.store.CreateOperator(&models.Operator{
		OperatorID:  "OP-" + uuid.NewString()[:8],
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Department:  req.Department,
		Available:   true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to register operator",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"operator": op,
	})
}

// GetOperator returns one operator
func (h *OperatorHandler) GetOperator(c *fiber.Ctx) error {
	op, err := h.store.GetOperator(c.Params("operatorID"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Operator not found",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"operator": op,
	})
}

// SetAvailability flips an operator's availability
func (h *OperatorHandler) SetAvailability(c *fiber.Ctx) error {
	var req struct {
		Available bool `json:"available"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	op, err := h.store.GetOperator(c.Params("operatorID"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Operator not found",
		})
	}

	op.Available = req.Available
	if err := h.store.UpdateOperator(op); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update operator",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"operator": op,
	})
}
