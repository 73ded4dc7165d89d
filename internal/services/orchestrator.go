package services

import (
	"fmt"
	"log"
	"os"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// InitiateRequest carries the parameters of one outbound call
type InitiateRequest struct {
	PhoneNumber        string `json:"phone_number"`
	Mode               string `json:"mode"`
	CompanyName        string `json:"company_name"`
	ServiceName        string `json:"service_name"`
	RepresentativeName string `json:"representative_name"`
	Department         string `json:"department"`
	PitchText          string `json:"pitch_text"`
	VoiceID            string `json:"voice_id"`
}

// CallOrchestrator owns the call lifecycle: place the leg, route provider
// events to the ledger, attach the right conversation driver, and tear
// everything down exactly once at the end.
type CallOrchestrator struct {
	ledger     *CallLedger
	telephony  Telephony
	supervisor *TimeoutSupervisor
	drivers    *DriverRegistry
	handoff    *HandoffOrchestrator
	notifier   *NotifyService

	classifier *ClassifierDriver
	bridge     *BridgeDriver

	baseURL string
}

func NewCallOrchestrator(ledger *CallLedger, telephony Telephony, supervisor *TimeoutSupervisor,
	drivers *DriverRegistry, handoff *HandoffOrchestrator, notifier *NotifyService,
	classifier *ClassifierDriver, bridge *BridgeDriver) *CallOrchestrator {
	return &CallOrchestrator{
		ledger:     ledger,
		telephony:  telephony,
		supervisor: supervisor,
		drivers:    drivers,
		handoff:    handoff,
		notifier:   notifier,
		classifier: classifier,
		bridge:     bridge,
		baseURL:    os.Getenv("PUBLIC_BASE_URL"),
	}
}

// InitiateCall creates the session, resolves the AI configuration once, and
// places the outbound leg. Configuration is frozen at this point; later env
// changes do not affect a live call.
func (o *CallOrchestrator) InitiateCall(req InitiateRequest) (*models.CallSession, error) {
	if req.PhoneNumber == "" {
		return nil, fmt.Errorf("phone_number is required")
	}
	mode := req.Mode
	if mode != models.ModeBridge {
		mode = models.ModeClassifier
	}

	cfg, err := ResolveCallConfig(&models.CallSession{
		CompanyName:        req.CompanyName,
		ServiceName:        req.ServiceName,
		RepresentativeName: req.RepresentativeName,
		Department:         req.Department,
		PitchText:          req.PitchText,
		VoiceID:            req.VoiceID,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot resolve call configuration: %w", err)
	}

	call, err := o.ledger.CreateSession(req.PhoneNumber, mode, cfg)
	if err != nil {
		return nil, err
	}

	o.ledger.TransitionStatus(call.CallID, models.StatusInitiated, models.StatusQueued)

	twimlURL := fmt.Sprintf("%s/webhook/voice?call_id=%s", o.baseURL, call.CallID)
	statusURL := fmt.Sprintf("%s/webhook/call-status?call_id=%s", o.baseURL, call.CallID)

	legID, err := o.telephony.CreateLeg(req.PhoneNumber, twimlURL, statusURL)
	if err != nil {
		o.ledger.SetError(call.CallID, fmt.Sprintf("outbound dial failed: %v", err))
		o.ledger.Terminate(call.CallID, models.EndReasonSystemError, "")
		return nil, fmt.Errorf("failed to place call: %w", err)
	}

	if err := o.ledger.SetLegID(call.CallID, legID); err != nil {
		log.Printf("Failed to attach leg %s to call %s: %v", legID, call.CallID, err)
	}
	o.ledger.TransitionStatus(call.CallID, models.StatusCalling, models.StatusInitiated)
	o.supervisor.Watch(call.CallID)

	log.Printf("📞 Call %s initiated to %s (mode=%s, leg=%s)", call.CallID, req.PhoneNumber, mode, legID)
	return o.ledger.GetCall(call.CallID)
}

// resolveCall finds the session by our call id or, failing that, the
// provider leg id. Webhooks may carry either.
func (o *CallOrchestrator) resolveCall(callID, legID string) (*models.CallSession, error) {
	if callID != "" {
		if call, err := o.ledger.GetCall(callID); err == nil {
			return call, nil
		}
	}
	if legID != "" {
		return o.ledger.GetCallByLegID(legID)
	}
	return nil, fmt.Errorf("no call reference in webhook")
}

// HandleCallStatus processes a provider status callback for the customer leg
func (o *CallOrchestrator) HandleCallStatus(callID, legID, status string) {
	call, err := o.resolveCall(callID, legID)
	if err != nil {
		log.Printf("Status %s for unknown call (call_id=%s leg=%s)", status, callID, legID)
		return
	}

	switch status {
	case "queued", "initiated":
		o.ledger.TransitionStatus(call.CallID, models.StatusInitiated, models.StatusQueued)
	case "ringing":
		o.ledger.TransitionStatus(call.CallID, models.StatusCalling,
			models.StatusQueued, models.StatusInitiated)
	case "in-progress", "answered":
		if o.ledger.MarkAnswered(call.CallID) {
			o.attachDriver(call)
			o.supervisor.Watch(call.CallID)
		}
	case "completed":
		o.finishCall(call, status)
	case "busy", "no-answer", "failed", "canceled":
		o.ledger.Terminate(call.CallID, "", status)
		o.cleanup(call.CallID)
	}

	if o.notifier != nil {
		if updated, err := o.ledger.GetCall(call.CallID); err == nil {
			o.notifier.BroadcastStatus(updated)
		}
	}
}

// finishCall handles the completed callback: classify who ended the call,
// terminate once, release timers and drivers.
func (o *CallOrchestrator) finishCall(call *models.CallSession, rawStatus string) {
	if call.IsTerminal() {
		o.cleanup(call.CallID)
		return
	}

	endCause := "customer hung up"
	switch {
	case call.DriverResult != "":
		endCause = "assistant ended the call"
	case call.Status == models.StatusHumanConnected:
		endCause = "callee hung up after operator handoff"
	}

	o.ledger.Terminate(call.CallID, ClassifyEndReason(endCause), rawStatus)
	o.cleanup(call.CallID)
}

func (o *CallOrchestrator) cleanup(callID string) {
	o.supervisor.Cancel(callID)
	o.drivers.Detach(callID)
}

// attachDriver binds the conversation driver matching the call's mode
func (o *CallOrchestrator) attachDriver(call *models.CallSession) {
	var d Driver
	if call.Mode == models.ModeBridge {
		d = o.bridge
	} else {
		d = o.classifier
	}
	if err := o.drivers.Attach(call.CallID, d); err != nil {
		log.Printf("Driver already attached for call %s", call.CallID)
	}
}

// HandleSpeechResult routes one recognized utterance to the call's driver
// and returns the driver's decision for the rendering layer.
func (o *CallOrchestrator) HandleSpeechResult(callID, text string, confidence float64) (*TurnDecision, error) {
	call, err := o.ledger.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call.IsTerminal() {
		return nil, fmt.Errorf("call %s already ended", callID)
	}

	driver, ok := o.drivers.Get(callID)
	if !ok {
		// Speech can race the answered callback; attach on demand
		o.attachDriver(call)
		driver, _ = o.drivers.Get(callID)
	}
	if driver == nil {
		return nil, fmt.Errorf("no driver for call %s", callID)
	}

	o.ledger.TransitionStatus(callID, models.StatusAIResponding,
		models.StatusInProgress, models.StatusAIResponding)

	isFirst := call.Status == models.StatusInProgress
	decision, err := driver.OnUtterance(callID, Utterance{
		Text:        text,
		Confidence:  confidence,
		IsFirstTurn: isFirst,
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// HandleOperatorStatus forwards operator leg callbacks to the handoff orchestrator
func (o *CallOrchestrator) HandleOperatorStatus(operatorLegID, status string) {
	o.handoff.HandleOperatorStatus(operatorLegID, status)
}

// HandleDialResult forwards direct-strategy dial outcomes to the handoff orchestrator
func (o *CallOrchestrator) HandleDialResult(callID, dialStatus string) {
	o.handoff.HandleDialResult(callID, dialStatus)
}

// CancelCall stops a call on user request. Pre-answer calls are cancelled,
// live calls are terminated with a manual end reason. Safe to race with
// provider callbacks.
func (o *CallOrchestrator) CancelCall(callID string) error {
	call, err := o.ledger.GetCall(callID)
	if err != nil {
		return err
	}
	if call.IsTerminal() {
		return nil
	}

	if !o.ledger.Cancel(callID) {
		// Already answered: end it like a manual hangup
		if err := o.ledger.Terminate(callID, models.EndReasonManual, ""); err != nil {
			return err
		}
	}
	if call.LegID != "" {
		if err := o.telephony.Hangup(call.LegID); err != nil {
			log.Printf("Hangup failed for call %s: %v", callID, err)
		}
	}
	o.cleanup(callID)
	log.Printf("🛑 Call %s cancelled by user", callID)
	return nil
}
