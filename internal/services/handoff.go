package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

var (
	// ErrInvalidStatus means the call is not in a state a handoff can start from
	ErrInvalidStatus = errors.New("call is not in a transferable state")
	// ErrHandoffInProgress means another handoff already owns this call
	ErrHandoffInProgress = errors.New("handoff already in progress")
	// ErrNoOperator means no operator could be resolved for the handoff
	ErrNoOperator = errors.New("no operator available")
)

// HandoffRequest carries the parameters of one handoff attempt
type HandoffRequest struct {
	CallID      string
	OperatorID  string
	Strategy    string
	Method      string
	RequestedBy string
}

// HandoffOrchestrator moves a live call from the AI to a human operator.
// Exactly one handoff can be in flight per call; a second request is
// rejected without side effects.
type HandoffOrchestrator struct {
	store     storage.Store
	ledger    *CallLedger
	telephony Telephony
	notifier  *NotifyService
	baseURL   string
	strategy  string

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewHandoffOrchestrator(store storage.Store, ledger *CallLedger, telephony Telephony, notifier *NotifyService) *HandoffOrchestrator {
	strategy := os.Getenv("HANDOFF_STRATEGY")
	if strategy != models.HandoffStrategyDirect {
		strategy = models.HandoffStrategyConference
	}
	return &HandoffOrchestrator{
		store:     store,
		ledger:    ledger,
		telephony: telephony,
		notifier:  notifier,
		baseURL:   os.Getenv("PUBLIC_BASE_URL"),
		strategy:  strategy,
		inFlight:  make(map[string]bool),
	}
}

// RequestAutoHandoff is the driver-facing entry point: default strategy,
// operator chosen by availability.
func (h *HandoffOrchestrator) RequestAutoHandoff(callID, method string) error {
	_, err := h.RequestHandoff(HandoffRequest{
		CallID:      callID,
		Strategy:    h.strategy,
		Method:      method,
		RequestedBy: "ai",
	})
	return err
}

// RequestHandoff validates, claims and executes one handoff attempt. All
// guards run before any side effect: a rejected request leaves the call
// untouched.
func (h *HandoffOrchestrator) RequestHandoff(req HandoffRequest) (*models.HandoffRecord, error) {
	h.mu.Lock()
	if h.inFlight[req.CallID] {
		h.mu.Unlock()
		return nil, ErrHandoffInProgress
	}
	h.inFlight[req.CallID] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.inFlight, req.CallID)
		h.mu.Unlock()
	}()

	call, err := h.ledger.GetCall(req.CallID)
	if err != nil {
		return nil, err
	}
	if !statusIn(call.Status, models.HandoffSourceStatuses) {
		return nil, ErrInvalidStatus
	}
	if existing, _ := h.store.GetActiveHandoff(req.CallID); existing != nil {
		return nil, ErrHandoffInProgress
	}

	operator, err := h.resolveOperator(req.OperatorID, call.Department)
	if err != nil {
		return nil, err
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = h.strategy
	}

	// Claim the call. A concurrent terminate or competing handoff loses the
	// race here and the request backs off cleanly.
	if !h.ledger.TransitionStatus(req.CallID, models.StatusTransferring, models.HandoffSourceStatuses...) {
		return nil, ErrInvalidStatus
	}

	rec := &models.HandoffRecord{
		CallID:      req.CallID,
		RequestedBy: req.RequestedBy,
		RequestedAt: time.Now(),
		Destination: operator.PhoneNumber,
		OperatorID:  operator.OperatorID,
		Method:      req.Method,
		Strategy:    strategy,
		Status:      models.StatusTransferring,
	}
	if strategy == models.HandoffStrategyConference {
		rec.ConferenceID = "conf-" + req.CallID
	}
	if rec, err = h.store.CreateHandoff(rec); err != nil {
		h.rollback(req.CallID)
		return nil, err
	}

	if err := h.execute(call, operator, rec); err != nil {
		h.rollback(req.CallID)
		h.store.DeleteActiveHandoff(req.CallID)
		return nil, err
	}

	h.ledger.SetOperator(req.CallID, operator.OperatorID)
	log.Printf("📞 Handoff started for call %s → operator %s (%s)", req.CallID, operator.OperatorID, strategy)
	if h.notifier != nil {
		if updated, err := h.ledger.GetCall(req.CallID); err == nil {
			h.notifier.BroadcastStatus(updated)
		}
	}
	return rec, nil
}

// rollback returns a failed handoff attempt to AI control. Only valid
// before any operator leg has answered.
func (h *HandoffOrchestrator) rollback(callID string) {
	h.ledger.TransitionStatus(callID, models.StatusAIResponding, models.StatusTransferring)
}

func (h *HandoffOrchestrator) resolveOperator(operatorID, department string) (*models.Operator, error) {
	if operatorID != "" {
		op, err := h.store.GetOperator(operatorID)
		if err != nil {
			return nil, ErrNoOperator
		}
		return op, nil
	}
	op, err := h.store.GetAvailableOperator(department)
	if err != nil || op == nil {
		return nil, ErrNoOperator
	}
	return op, nil
}

// execute runs the strategy-specific leg work. An error here means no leg
// reached the operator and the attempt is safe to roll back.
func (h *HandoffOrchestrator) execute(call *models.CallSession, operator *models.Operator, rec *models.HandoffRecord) error {
	switch rec.Strategy {
	case models.HandoffStrategyConference:
		return h.executeConference(call, operator, rec)
	case models.HandoffStrategyDirect:
		return h.executeDirect(call, rec)
	default:
		return fmt.Errorf("unknown handoff strategy: %s", rec.Strategy)
	}
}

// executeConference dials the operator into a conference and moves the
// customer leg in alongside. The operator leg carries endOnExit so the
// conference collapses when the operator hangs up.
func (h *HandoffOrchestrator) executeConference(call *models.CallSession, operator *models.Operator, rec *models.HandoffRecord) error {
	twimlURL := fmt.Sprintf("%s/webhook/operator-connect?call_id=%s", h.baseURL, rec.CallID)
	statusURL := fmt.Sprintf("%s/webhook/operator-status", h.baseURL)

	legID, err := h.telephony.CreateLeg(operator.PhoneNumber, twimlURL, statusURL)
	if err != nil {
		return fmt.Errorf("failed to dial operator: %w", err)
	}
	rec.OperatorLegID = legID
	if err := h.store.UpdateHandoff(rec); err != nil {
		log.Printf("Failed to persist operator leg for call %s: %v", call.CallID, err)
	}

	if err := h.telephony.Redirect(call.LegID, ConferenceTwiML(rec.ConferenceID, false)); err != nil {
		// Operator leg is already ringing, drop it before backing off
		h.telephony.Hangup(legID)
		return fmt.Errorf("failed to move customer into conference: %w", err)
	}
	return nil
}

// executeDirect redirects the customer leg straight at the operator's
// number. The dial result webhook reports how it went.
func (h *HandoffOrchestrator) executeDirect(call *models.CallSession, rec *models.HandoffRecord) error {
	actionURL := fmt.Sprintf("%s/webhook/dial-result?call_id=%s", h.baseURL, call.CallID)
	if err := h.telephony.Redirect(call.LegID, DialTwiML(rec.Destination, actionURL)); err != nil {
		return fmt.Errorf("failed to redirect customer leg: %w", err)
	}
	return nil
}

// OperatorConnectTwiML renders the TwiML the operator leg fetches when it
// answers: join the handoff's conference.
func (h *HandoffOrchestrator) OperatorConnectTwiML(rec *models.HandoffRecord) string {
	return ConferenceTwiML(rec.ConferenceID, true)
}

// HandleOperatorStatus processes provider status callbacks for an operator
// leg. Once the operator has answered the call never reverts to AI.
func (h *HandoffOrchestrator) HandleOperatorStatus(operatorLegID, status string) {
	rec, err := h.store.GetHandoffByOperatorLeg(operatorLegID)
	if err != nil || rec == nil {
		log.Printf("Operator status %s for unknown leg %s", status, operatorLegID)
		return
	}

	switch status {
	case "in-progress", "answered":
		h.operatorJoined(rec)
	case "busy", "no-answer":
		h.operatorUnreachable(rec, models.ResultNeedsFollow)
	case "failed", "canceled":
		h.operatorUnreachable(rec, models.ResultFailed)
	case "completed":
		h.operatorLeft(rec)
	}
}

func (h *HandoffOrchestrator) operatorJoined(rec *models.HandoffRecord) {
	if !h.ledger.TransitionStatus(rec.CallID, models.StatusHumanConnected, models.StatusTransferring) {
		return
	}
	now := time.Now()
	rec.Status = models.StatusHumanConnected
	rec.ConnectedAt = &now
	h.store.UpdateHandoff(rec)

	if op, err := h.store.GetOperator(rec.OperatorID); err == nil && op != nil {
		op.Available = false
		op.LastCallAt = &now
		h.store.UpdateOperator(op)
	}

	log.Printf("✅ Operator %s connected on call %s", rec.OperatorID, rec.CallID)
	if h.notifier != nil {
		if call, err := h.ledger.GetCall(rec.CallID); err == nil {
			h.notifier.BroadcastStatus(call)
		}
	}
}

// operatorUnreachable closes out a handoff whose operator leg never
// connected. The customer is still on the line, so the call ends with a
// spoken result rather than silently dropping.
func (h *HandoffOrchestrator) operatorUnreachable(rec *models.HandoffRecord, result string) {
	rec.Status = models.StatusFailed
	h.store.UpdateHandoff(rec)

	h.ledger.SetDriverResult(rec.CallID, result)
	endReason := models.EndReasonNormal
	if result == models.ResultFailed {
		endReason = models.EndReasonSystemError
	}
	h.ledger.Terminate(rec.CallID, endReason, "")

	if call, err := h.ledger.GetCall(rec.CallID); err == nil && call.LegID != "" {
		h.telephony.Hangup(call.LegID)
	}
	log.Printf("Operator unreachable on call %s, closed as %s", rec.CallID, result)
}

func (h *HandoffOrchestrator) operatorLeft(rec *models.HandoffRecord) {
	now := time.Now()
	rec.DisconnectedAt = &now
	if rec.Status == models.StatusHumanConnected {
		rec.Status = models.StatusCompleted
	}
	h.store.UpdateHandoff(rec)

	if op, err := h.store.GetOperator(rec.OperatorID); err == nil && op != nil {
		op.Available = true
		h.store.UpdateOperator(op)
	}
}

// HandleDialResult processes the action callback of a direct-strategy dial
func (h *HandoffOrchestrator) HandleDialResult(callID, dialStatus string) {
	rec, err := h.store.GetActiveHandoff(callID)
	if err != nil || rec == nil {
		return
	}

	switch dialStatus {
	case "completed", "answered":
		// Conversation with the operator happened and finished
		now := time.Now()
		rec.Status = models.StatusCompleted
		rec.DisconnectedAt = &now
		h.store.UpdateHandoff(rec)
		h.ledger.TransitionStatus(callID, models.StatusHumanConnected, models.StatusTransferring)
		h.ledger.Terminate(callID, models.EndReasonNormal, dialStatus)
	case "busy", "no-answer":
		h.operatorUnreachable(rec, models.ResultNeedsFollow)
	default:
		h.operatorUnreachable(rec, models.ResultFailed)
	}
}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
