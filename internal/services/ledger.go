package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// CallLedger owns the persisted call record and its legal state graph.
// Every mutation is a compare-and-set guarded by an allowed-source-states
// set, so duplicate or out-of-order provider callbacks are idempotent.
type CallLedger struct {
	store storage.Store
}

// NewCallLedger creates a new call ledger
func NewCallLedger(store storage.Store) *CallLedger {
	return &CallLedger{store: store}
}

// CreateSession creates a new persisted call session in the queued state
func (l *CallLedger) CreateSession(phoneNumber, mode string, cfg CallConfig) (*models.CallSession, error) {
	call := &models.CallSession{
		CallID:             uuid.NewString(),
		PhoneNumber:        phoneNumber,
		Mode:               mode,
		Status:             models.StatusQueued,
		CompanyName:        cfg.CompanyName,
		ServiceName:        cfg.ServiceName,
		RepresentativeName: cfg.RepresentativeName,
		Department:         cfg.Department,
		PitchText:          cfg.PitchText,
		VoiceID:            cfg.VoiceID,
	}
	return l.store.CreateCall(call)
}

// GetCall returns the session for a call id
func (l *CallLedger) GetCall(callID string) (*models.CallSession, error) {
	return l.store.GetCall(callID)
}

// GetCallByLegID returns the session owning a provider leg id
func (l *CallLedger) GetCallByLegID(legID string) (*models.CallSession, error) {
	return l.store.GetCallByLegID(legID)
}

// SetLegID attaches the provider leg id to the session
func (l *CallLedger) SetLegID(callID, legID string) error {
	call, err := l.store.GetCall(callID)
	if err != nil {
		return err
	}
	call.LegID = legID
	return l.store.UpdateCall(call)
}

// TransitionStatus moves the call to `to` if its current status is in
// allowedFrom. A guard miss is a silent no-op returning false.
func (l *CallLedger) TransitionStatus(callID, to string, allowedFrom ...string) bool {
	ok, err := l.store.CompareAndSetStatus(callID, to, allowedFrom)
	if err != nil {
		log.Printf("❌ Status transition failed for call %s → %s: %v", callID, to, err)
		return false
	}
	if !ok {
		log.Printf("Call %s: transition to %s skipped (status not in %v)", callID, to, allowedFrom)
	}
	return ok
}

// MarkAnswered records the answer time and moves the call to in-progress
func (l *CallLedger) MarkAnswered(callID string) bool {
	ok := l.TransitionStatus(callID, models.StatusInProgress,
		models.StatusQueued, models.StatusInitiated, models.StatusCalling)
	if !ok {
		return false
	}

	call, err := l.store.GetCall(callID)
	if err != nil {
		log.Printf("Failed to load call %s after answer: %v", callID, err)
		return true
	}
	if call.StartedAt == nil {
		now := time.Now()
		call.StartedAt = &now
		if err := l.store.UpdateCall(call); err != nil {
			log.Printf("Failed to stamp answer time for call %s: %v", callID, err)
		}
	}
	return true
}

// SetDriverResult stashes a driver-directed result for termination resolution
func (l *CallLedger) SetDriverResult(callID, result string) {
	call, err := l.store.GetCall(callID)
	if err != nil {
		log.Printf("Failed to load call %s for driver result: %v", callID, err)
		return
	}
	if call.IsTerminal() {
		return
	}
	call.DriverResult = result
	if err := l.store.UpdateCall(call); err != nil {
		log.Printf("Failed to save driver result for call %s: %v", callID, err)
	}
}

// Terminate moves the call to a terminal status and resolves exactly one
// final result. Calling it on an already-terminal call is a guarded no-op.
func (l *CallLedger) Terminate(callID, endReason, rawStatus string) error {
	call, err := l.store.GetCall(callID)
	if err != nil {
		return err
	}
	if call.IsTerminal() {
		return nil
	}

	result := ResolveCallResult(call.DriverResult, endReason, rawStatus)

	target := models.StatusCompleted
	if result == models.ResultFailed || endReason == models.EndReasonSystemError {
		target = models.StatusFailed
	}

	if ok, _ := l.store.CompareAndSetStatus(callID, target, models.ActiveStatuses); !ok {
		// Lost the race against another terminal transition
		return nil
	}

	call, err = l.store.GetCall(callID)
	if err != nil {
		return err
	}
	if endReason == "" {
		endReason = models.EndReasonNormal
	}
	now := time.Now()
	call.EndedAt = &now
	call.EndReason = endReason
	call.CallResult = result
	if call.StartedAt != nil {
		duration := int(now.Sub(*call.StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
		call.DurationSeconds = duration
	}
	if err := l.store.UpdateCall(call); err != nil {
		return fmt.Errorf("failed to finalize call %s: %w", callID, err)
	}

	log.Printf("📞 Call %s terminated: status=%s reason=%s result=%s duration=%ds",
		callID, call.Status, endReason, result, call.DurationSeconds)
	return nil
}

// Cancel moves a pre-answer call to cancelled. Returns false when the call
// has already been answered or terminated.
func (l *CallLedger) Cancel(callID string) bool {
	ok := l.TransitionStatus(callID, models.StatusCancelled,
		models.StatusQueued, models.StatusInitiated, models.StatusCalling)
	if !ok {
		return false
	}

	call, err := l.store.GetCall(callID)
	if err != nil {
		return true
	}
	now := time.Now()
	call.EndedAt = &now
	call.EndReason = models.EndReasonManual
	call.CallResult = models.ResultFailed
	if err := l.store.UpdateCall(call); err != nil {
		log.Printf("Failed to finalize cancelled call %s: %v", callID, err)
	}
	return true
}

// SetError records an error message on the session for later inspection
func (l *CallLedger) SetError(callID, message string) {
	call, err := l.store.GetCall(callID)
	if err != nil {
		return
	}
	call.ErrorMessage = message
	if err := l.store.UpdateCall(call); err != nil {
		log.Printf("Failed to record error for call %s: %v", callID, err)
	}
}

// SetOperator records the assigned operator on the session
func (l *CallLedger) SetOperator(callID, operatorID string) {
	call, err := l.store.GetCall(callID)
	if err != nil {
		return
	}
	call.OperatorID = operatorID
	if err := l.store.UpdateCall(call); err != nil {
		log.Printf("Failed to record operator for call %s: %v", callID, err)
	}
}

// AppendTranscript appends one spoken turn to the call transcript
func (l *CallLedger) AppendTranscript(callID, speaker, text string, confidence float64) {
	entry := &models.TranscriptEntry{
		CallID:     callID,
		Speaker:    speaker,
		Text:       text,
		Confidence: confidence,
		SpokenAt:   time.Now(),
	}
	if err := l.store.AppendTranscript(entry); err != nil {
		log.Printf("Failed to append transcript for call %s: %v", callID, err)
	}
}

// AppendConversationItem persists one structured engine item, idempotently
func (l *CallLedger) AppendConversationItem(callID, itemID, role, content string) {
	entry := &models.ConversationLogEntry{
		CallID:   callID,
		ItemID:   itemID,
		Role:     role,
		Content:  content,
		LoggedAt: time.Now(),
	}
	if err := l.store.AppendConversationItem(entry); err != nil {
		log.Printf("Failed to append conversation item for call %s: %v", callID, err)
	}
}
