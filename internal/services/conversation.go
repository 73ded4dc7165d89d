package services

import (
	"log"
	"sync"
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

const (
	// maxConversationTurns forces a handoff regardless of intent
	maxConversationTurns = 10
	// maxClarifications caps clarification retries before an apologetic end
	maxClarifications = 2
	// maxUnknownTurns escalates repeated unknown intents to a handoff
	maxUnknownTurns = 2
	// maxSilentTurns terminates after consecutive empty turns
	maxSilentTurns = 3
	// historyLimit bounds the rolling utterance history per call
	historyLimit = 6
)

// ConversationState is the ephemeral per-call state owned by the classifier
// driver. It is never persisted.
type ConversationState struct {
	Phase              string
	TurnCount          int
	SilenceCount       int
	ClarificationCount int
	UnknownCount       int
	WaitingForTransfer bool
	TransferConfirmed  bool
	PurposeExplained   bool
	ClosingPrepared    bool
	History            []string
}

// HandoffRequester triggers an AI-initiated operator handoff
type HandoffRequester interface {
	RequestAutoHandoff(callID, method string) error
}

// ClassifierDriver is the turn-based conversation driver: speech-to-text
// turns, keyword-weighted intent classification, scripted templated replies.
type ClassifierDriver struct {
	ledger     *CallLedger
	supervisor *TimeoutSupervisor
	handoff    HandoffRequester
	notifier   *NotifyService

	mu     sync.Mutex
	states map[string]*ConversationState
}

// NewClassifierDriver creates a new turn-based classifier driver
func NewClassifierDriver(ledger *CallLedger, supervisor *TimeoutSupervisor, handoff HandoffRequester, notifier *NotifyService) *ClassifierDriver {
	return &ClassifierDriver{
		ledger:     ledger,
		supervisor: supervisor,
		handoff:    handoff,
		notifier:   notifier,
		states:     make(map[string]*ConversationState),
	}
}

func (d *ClassifierDriver) state(callID string) *ConversationState {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[callID]
	if !ok {
		st = &ConversationState{Phase: PhaseAfterInitialQuestion}
		d.states[callID] = st
	}
	return st
}

// OnUtterance handles one recognized caller turn and decides the AI's reply
func (d *ClassifierDriver) OnUtterance(callID string, u Utterance) (*TurnDecision, error) {
	call, err := d.ledger.GetCall(callID)
	if err != nil {
		return nil, err
	}

	cfg, err := ResolveCallConfig(call)
	if err != nil {
		// No configuration could be resolved: apologize and terminate
		log.Printf("❌ No AI configuration for call %s: %v", callID, err)
		d.ledger.SetError(callID, "configuration missing")
		d.ledger.SetDriverResult(callID, models.ResultFailed)
		return &TurnDecision{
			NextAction: ActionApologizeEnd,
			Reply:      replyTemplates[TemplateConfigApology],
			EndResult:  models.ResultFailed,
			Hangup:     true,
		}, nil
	}

	st := d.state(callID)
	d.mu.Lock()
	st.TurnCount++
	d.mu.Unlock()

	if d.supervisor != nil {
		d.supervisor.ResetInactivity(callID)
	}

	if u.Text != "" {
		d.ledger.AppendTranscript(callID, "customer", u.Text, u.Confidence)
		if d.notifier != nil {
			d.notifier.BroadcastTranscript(callID, "customer", u.Text)
		}
	}

	decision := d.decide(callID, st, u, cfg)

	if decision.EndResult != "" {
		d.ledger.SetDriverResult(callID, decision.EndResult)
	}
	if decision.Reply != "" {
		d.ledger.AppendTranscript(callID, "ai", decision.Reply, 1.0)
		if d.notifier != nil {
			d.notifier.BroadcastTranscript(callID, "ai", decision.Reply)
		}
	}

	log.Printf("Call %s turn %d: intent=%s action=%s phase=%s",
		callID, st.TurnCount, decision.Intent, decision.NextAction, st.Phase)
	return decision, nil
}

// decide runs the turn policy. Caller must not hold d.mu.
func (d *ClassifierDriver) decide(callID string, st *ConversationState, u Utterance, cfg CallConfig) *TurnDecision {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The opening turn always introduces the call
	if u.IsFirstTurn || st.TurnCount == 1 {
		st.SilenceCount = 0
		return &TurnDecision{
			NextAction: ActionIntroduce,
			Reply:      RenderTemplate(TemplateIntroduction, cfg),
		}
	}

	if u.Text == "" {
		return d.handleSilence(st, cfg)
	}
	st.SilenceCount = 0

	st.History = append(st.History, u.Text)
	if len(st.History) > historyLimit {
		st.History = st.History[len(st.History)-historyLimit:]
	}

	// Hard turn cap forces a handoff regardless of intent
	if st.TurnCount > maxConversationTurns {
		return d.escalate(callID, st, cfg, models.HandoffMethodAIAuto)
	}

	// A prepared closing ends the call on the next turn, whatever is said
	if st.ClosingPrepared {
		return &TurnDecision{
			NextAction: ActionRespondAndEnd,
			Intent:     IntentDeclineSoft,
			Reply:      RenderTemplate(TemplateCallbackClose, cfg),
			EndResult:  models.ResultNeedsFollow,
			Hangup:     true,
		}
	}

	intent, _ := ClassifyIntent(u.Text, st.Phase)

	if intent == IntentClarify {
		st.ClarificationCount++
		if st.ClarificationCount >= maxClarifications {
			return &TurnDecision{
				NextAction: ActionApologizeEnd,
				Intent:     IntentClarify,
				Reply:      RenderTemplate(TemplateClarifyApology, cfg),
				EndResult:  models.ResultNeedsFollow,
				Hangup:     true,
			}
		}
		return &TurnDecision{
			NextAction: ActionClarify,
			Intent:     IntentClarify,
			Reply:      RenderTemplate(TemplateClarify, cfg) + d.phasePrompt(st, cfg),
		}
	}
	st.ClarificationCount = 0

	switch intent {
	case IntentRejection:
		return &TurnDecision{
			NextAction: ActionRespondAndEnd,
			Intent:     intent,
			Reply:      RenderTemplate(TemplateRejectionClose, cfg),
			EndResult:  models.ResultDeclined,
			Hangup:     true,
		}
	case IntentAbsent:
		return &TurnDecision{
			NextAction: ActionRespondAndEnd,
			Intent:     intent,
			Reply:      RenderTemplate(TemplateAbsentClose, cfg),
			EndResult:  models.ResultAbsent,
			Hangup:     true,
		}
	case IntentWebsiteRedirect:
		return &TurnDecision{
			NextAction: ActionRespondAndEnd,
			Intent:     intent,
			Reply:      RenderTemplate(TemplateWebsiteClose, cfg),
			EndResult:  models.ResultNeedsFollow,
			Hangup:     true,
		}
	case IntentUnknown:
		return d.handleUnknown(callID, st, cfg)
	}

	return d.handlePhaseIntent(callID, st, intent, cfg)
}

// handleSilence walks the empty-turn ladder: wait, prompt, terminate-absent
func (d *ClassifierDriver) handleSilence(st *ConversationState, cfg CallConfig) *TurnDecision {
	st.SilenceCount++

	switch {
	case st.SilenceCount == 1:
		return &TurnDecision{NextAction: ActionWait}
	case st.SilenceCount == 2:
		return &TurnDecision{
			NextAction: ActionPrompt,
			Reply:      replyTemplates[TemplateSilencePrompt],
		}
	default:
		return &TurnDecision{
			NextAction: ActionRespondAndEnd,
			Intent:     IntentAbsent,
			Reply:      RenderTemplate(TemplateAbsentClose, cfg),
			EndResult:  models.ResultAbsent,
			Hangup:     true,
		}
	}
}

// handleUnknown resolves an unclassifiable utterance contextually
func (d *ClassifierDriver) handleUnknown(callID string, st *ConversationState, cfg CallConfig) *TurnDecision {
	st.UnknownCount++

	if st.UnknownCount >= maxUnknownTurns {
		return d.escalate(callID, st, cfg, models.HandoffMethodAIAuto)
	}
	if st.PurposeExplained {
		return &TurnDecision{
			NextAction: ActionContinue,
			Intent:     IntentUnknown,
			Reply:      RenderTemplate(TemplateUnknownSoft, cfg),
		}
	}
	return &TurnDecision{
		NextAction: ActionContinue,
		Intent:     IntentUnknown,
		Reply:      RenderTemplate(TemplateUnknownRetry, cfg),
	}
}

// handlePhaseIntent maps a contextual intent to the next action and phase
func (d *ClassifierDriver) handlePhaseIntent(callID string, st *ConversationState, intent string, cfg CallConfig) *TurnDecision {
	switch st.Phase {
	case PhaseAfterInitialQuestion:
		switch intent {
		case IntentAffirmative:
			st.Phase = PhaseAfterCompanyConfirm
			return &TurnDecision{
				NextAction: ActionContinue,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateCompanyConfirm, cfg),
			}
		case IntentAskIdentity:
			return &TurnDecision{
				NextAction: ActionContinue,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateIdentity, cfg),
			}
		case IntentNegative:
			return &TurnDecision{
				NextAction: ActionRespondAndEnd,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateCallbackClose, cfg),
				EndResult:  models.ResultNeedsFollow,
				Hangup:     true,
			}
		}

	case PhaseAfterCompanyConfirm:
		switch intent {
		case IntentAffirmative, IntentPurposeQuestion:
			st.Phase = PhaseAfterPurposeExplain
			st.PurposeExplained = true
			return &TurnDecision{
				NextAction: ActionContinue,
				Intent:     intent,
				Reply:      RenderTemplate(TemplatePurposeExplain, cfg),
			}
		case IntentNegative:
			return &TurnDecision{
				NextAction: ActionRespondAndEnd,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateRejectionClose, cfg),
				EndResult:  models.ResultDeclined,
				Hangup:     true,
			}
		}

	case PhaseAfterPurposeExplain:
		switch intent {
		case IntentInterested:
			st.Phase = PhaseWaitingForTransfer
			st.WaitingForTransfer = true
			return &TurnDecision{
				NextAction: ActionTriggerXfer,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateTransferAnnounce, cfg),
			}
		case IntentDeclineSoft:
			st.ClosingPrepared = true
			return &TurnDecision{
				NextAction: ActionPrepareClosing,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateClosing, cfg),
			}
		case IntentNegative:
			return &TurnDecision{
				NextAction: ActionRespondAndEnd,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateRejectionClose, cfg),
				EndResult:  models.ResultDeclined,
				Hangup:     true,
			}
		}

	case PhaseWaitingForTransfer:
		switch intent {
		case IntentTransferOK:
			st.TransferConfirmed = true
			return d.escalate(callID, st, cfg, models.HandoffMethodAITriggered)
		case IntentTransferDeclined:
			return &TurnDecision{
				NextAction: ActionRespondAndEnd,
				Intent:     intent,
				Reply:      RenderTemplate(TemplateRejectionClose, cfg),
				EndResult:  models.ResultDeclined,
				Hangup:     true,
			}
		}
	}

	// Intent resolved but no mapping for this phase: keep the conversation going
	return &TurnDecision{
		NextAction: ActionContinue,
		Intent:     intent,
		Reply:      d.phasePrompt(st, cfg),
	}
}

// escalate hands the call to a human operator
func (d *ClassifierDriver) escalate(callID string, st *ConversationState, cfg CallConfig, method string) *TurnDecision {
	if d.handoff != nil {
		go func() {
			// Give the announcement a moment to start playing before the
			// customer leg is redirected
			time.Sleep(500 * time.Millisecond)
			if err := d.handoff.RequestAutoHandoff(callID, method); err != nil {
				log.Printf("Auto handoff failed for call %s: %v", callID, err)
			}
		}()
	}
	return &TurnDecision{
		NextAction: ActionHandoff,
		Intent:     IntentTransferOK,
		Reply:      RenderTemplate(TemplateHandoffNotice, cfg),
	}
}

// phasePrompt re-renders the prompt for the current phase
func (d *ClassifierDriver) phasePrompt(st *ConversationState, cfg CallConfig) string {
	switch st.Phase {
	case PhaseAfterCompanyConfirm:
		return RenderTemplate(TemplateCompanyConfirm, cfg)
	case PhaseAfterPurposeExplain:
		return RenderTemplate(TemplatePurposeExplain, cfg)
	case PhaseWaitingForTransfer:
		return RenderTemplate(TemplateTransferAnnounce, cfg)
	default:
		return RenderTemplate(TemplateIntroduction, cfg)
	}
}

// OnTimeout releases conversation state after a forced termination
func (d *ClassifierDriver) OnTimeout(callID string) {
	d.Close(callID)
}

// OnTransferRequested triggers an AI-requested handoff mid-conversation
func (d *ClassifierDriver) OnTransferRequested(callID, destination string) {
	if d.handoff == nil {
		return
	}
	if err := d.handoff.RequestAutoHandoff(callID, models.HandoffMethodAITriggered); err != nil {
		log.Printf("Transfer request failed for call %s: %v", callID, err)
	}
}

// Close drops the ephemeral conversation state for a call
func (d *ClassifierDriver) Close(callID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, callID)
}
