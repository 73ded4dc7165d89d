package handlers

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/services"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// VoiceHandler renders the TwiML that drives the customer leg
type VoiceHandler struct {
	store        storage.Store
	orchestrator *services.CallOrchestrator
	speech       *services.SpeechService
	baseURL      string
}

// NewVoiceHandler creates a new voice webhook handler
func NewVoiceHandler(store storage.Store, orchestrator *services.CallOrchestrator, speech *services.SpeechService) *VoiceHandler {
	return &VoiceHandler{
		store:        store,
		orchestrator: orchestrator,
		speech:       speech,
		baseURL:      os.Getenv("PUBLIC_BASE_URL"),
	}
}

func twiml(c *fiber.Ctx, body string) error {
	c.Set("Content-Type", "text/xml")
	return c.SendString(`<?xml version="1.0" encoding="UTF-8"?><Response>` + body + `</Response>`)
}

// wsBaseURL rewrites the public base URL scheme for the stream socket
func (h *VoiceHandler) wsBaseURL() string {
	url := strings.Replace(h.baseURL, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

// Answer handles the initial voice webhook when the customer picks up.
// Classifier calls get a speech gather loop, bridge calls get a duplex
// media stream.
func (h *VoiceHandler) Answer(c *fiber.Ctx) error {
	callID := c.Query("call_id")

	call, err := h.store.GetCall(callID)
	if err != nil {
		log.Printf("Voice webhook for unknown call %s", callID)
		return twiml(c, `<Say>We are sorry, this call cannot be completed.</Say><Hangup/>`)
	}

	if call.Mode == models.ModeBridge {
		streamURL := fmt.Sprintf("%s/media-stream", h.wsBaseURL())
		return twiml(c, fmt.Sprintf(
			`<Connect><Stream url="%s"><Parameter name="call_id" value="%s"/></Stream></Connect>`,
			streamURL, callID))
	}

	// Classifier mode: open with the first gather. An empty speech result
	// comes back through the same webhook as a silent turn.
	decision, err := h.orchestrator.HandleSpeechResult(callID, "", 1.0)
	if err != nil {
		log.Printf("Failed to open conversation for call %s: %v", callID, err)
		return twiml(c, `<Say>We are sorry, something went wrong.</Say><Hangup/>`)
	}
	return h.renderDecision(c, call, decision)
}

// Speech handles one gathered speech result and replies with the next TwiML
func (h *VoiceHandler) Speech(c *fiber.Ctx) error {
	callID := c.Query("call_id")
	text := c.FormValue("SpeechResult")
	confidence := 1.0
	if v := c.FormValue("Confidence"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			confidence = parsed
		}
	}

	call, err := h.store.GetCall(callID)
	if err != nil {
		return twiml(c, `<Hangup/>`)
	}

	decision, err := h.orchestrator.HandleSpeechResult(callID, text, confidence)
	if err != nil {
		log.Printf("Speech handling failed for call %s: %v", callID, err)
		return twiml(c, `<Hangup/>`)
	}
	return h.renderDecision(c, call, decision)
}

// renderDecision turns a driver decision into the next TwiML document
func (h *VoiceHandler) renderDecision(c *fiber.Ctx, call *models.CallSession, decision *services.TurnDecision) error {
	voiceID := call.VoiceID
	if voiceID == "" {
		voiceID = services.DefaultVoiceID
	}

	var b strings.Builder
	if decision.Reply != "" {
		b.WriteString(h.speech.Speak(decision.Reply, voiceID))
	}

	switch decision.NextAction {
	case services.ActionRespondAndEnd, services.ActionApologizeEnd:
		b.WriteString(`<Hangup/>`)
	case services.ActionHandoff, services.ActionTriggerXfer:
		// The handoff orchestrator redirects this leg; keep it alive with a
		// short pause so the announcement finishes playing.
		b.WriteString(`<Pause length="10"/>`)
		b.WriteString(h.gather(call.CallID))
	default:
		b.WriteString(h.gather(call.CallID))
	}
	return twiml(c, b.String())
}

// gather renders the speech gather plus the silent-turn fallthrough
func (h *VoiceHandler) gather(callID string) string {
	action := fmt.Sprintf("%s/webhook/speech?call_id=%s", h.baseURL, callID)
	return fmt.Sprintf(
		`<Gather input="speech" action="%s" method="POST" speechTimeout="auto" timeout="6"/><Redirect method="POST">%s</Redirect>`,
		action, action)
}
