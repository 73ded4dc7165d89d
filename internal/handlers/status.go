package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/callpilot-ai/callpilot-backend/internal/services"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// StatusHandler processes provider status callbacks for call and operator legs
type StatusHandler struct {
	store        storage.Store
	orchestrator *services.CallOrchestrator
	handoff      *services.HandoffOrchestrator
}

// NewStatusHandler creates a new status webhook handler
func NewStatusHandler(store storage.Store, orchestrator *services.CallOrchestrator, handoff *services.HandoffOrchestrator) *StatusHandler {
	return &StatusHandler{
		store:        store,
		orchestrator: orchestrator,
		handoff:      handoff,
	}
}

// CallStatus handles status callbacks for the customer leg
func (h *StatusHandler) CallStatus(c *fiber.Ctx) error {
	callID := c.Query("call_id")
	legID := c.FormValue("CallSid")
	status := c.FormValue("CallStatus")

	log.Printf("Call status webhook: call=%s leg=%s status=%s", callID, legID, status)
	h.orchestrator.HandleCallStatus(callID, legID, status)
	return c.SendStatus(fiber.StatusOK)
}

// OperatorStatus handles status callbacks for an operator leg
func (h *StatusHandler) OperatorStatus(c *fiber.Ctx) error {
	legID := c.FormValue("CallSid")
	status := c.FormValue("CallStatus")

	log.Printf("Operator status webhook: leg=%s status=%s", legID, status)
	h.orchestrator.HandleOperatorStatus(legID, status)
	return c.SendStatus(fiber.StatusOK)
}

// OperatorConnect serves the TwiML the operator leg fetches on answer:
// join the active handoff's conference.
func (h *StatusHandler) OperatorConnect(c *fiber.Ctx) error {
	callID := c.Query("call_id")
	legID := c.FormValue("CallSid")

	rec, err := h.store.GetActiveHandoff(callID)
	if err != nil || rec == nil {
		if legID != "" {
			rec, err = h.store.GetHandoffByOperatorLeg(legID)
		}
		if err != nil || rec == nil {
			log.Printf("Operator connect for unknown handoff (call=%s leg=%s)", callID, legID)
			c.Set("Content-Type", "text/xml")
			return c.SendString(`<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`)
		}
	}

	c.Set("Content-Type", "text/xml")
	return c.SendString(h.handoff.OperatorConnectTwiML(rec))
}

// DialResult handles the action callback of a direct-strategy dial
func (h *StatusHandler) DialResult(c *fiber.Ctx) error {
	callID := c.Query("call_id")
	dialStatus := c.FormValue("DialCallStatus")

	log.Printf("Dial result webhook: call=%s status=%s", callID, dialStatus)
	h.orchestrator.HandleDialResult(callID, dialStatus)
	// The customer leg is done either way
	c.Set("Content-Type", "text/xml")
	return c.SendString(`<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`)
}
