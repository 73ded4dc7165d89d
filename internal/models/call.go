package models

import (
	"time"

	"gorm.io/gorm"
)

// CallSession is the persisted record of one AI-driven phone call
type CallSession struct {
	gorm.Model
	CallID      string `json:"call_id" gorm:"uniqueIndex"`
	PhoneNumber string `json:"phone_number"`
	LegID       string `json:"leg_id" gorm:"index"` // Provider call SID for the customer leg

	// Conversation mode: "classifier" (turn-based) or "bridge" (duplex streaming)
	Mode string `json:"mode"`

	// Lifecycle
	Status       string `json:"status"`
	CallResult   string `json:"call_result"`
	EndReason    string `json:"end_reason"`
	ErrorMessage string `json:"error_message"`

	// DriverResult is a result directed by the conversation driver (e.g. an
	// "absent" classification) that takes precedence over end-cause defaults
	// when the call terminates.
	DriverResult string `json:"driver_result"`

	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds int        `json:"duration_seconds"`

	// Per-call AI configuration
	CompanyName        string `json:"company_name"`
	ServiceName        string `json:"service_name"`
	RepresentativeName string `json:"representative_name"`
	Department         string `json:"department"`
	PitchText          string `json:"pitch_text"`
	VoiceID            string `json:"voice_id"`

	// Assigned operator (set when a handoff is requested)
	OperatorID string `json:"operator_id"`

	Transcript      []TranscriptEntry      `json:"transcript" gorm:"foreignKey:CallID;references:CallID"`
	ConversationLog []ConversationLogEntry `json:"conversation_log" gorm:"foreignKey:CallID;references:CallID"`
	HandoffDetails  *HandoffRecord         `json:"handoff_details" gorm:"foreignKey:CallID;references:CallID"`
}

// TranscriptEntry is one spoken turn in a classifier-mode call
type TranscriptEntry struct {
	gorm.Model
	CallID     string    `json:"call_id" gorm:"index"`
	Speaker    string    `json:"speaker"` // "customer" or "ai"
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	SpokenAt   time.Time `json:"spoken_at"`
}

// ConversationLogEntry is one structured item from a bridge-mode call.
// ItemID comes from the speech engine; duplicate delivery must be a no-op.
type ConversationLogEntry struct {
	gorm.Model
	CallID   string    `json:"call_id" gorm:"index:idx_call_item,unique"`
	ItemID   string    `json:"item_id" gorm:"index:idx_call_item,unique"`
	Role     string    `json:"role"` // "user" or "assistant"
	Content  string    `json:"content"`
	LoggedAt time.Time `json:"logged_at"`
}

// Call status constants
const (
	StatusQueued         = "queued"
	StatusInitiated      = "initiated"
	StatusCalling        = "calling"
	StatusInProgress     = "in-progress"
	StatusAIResponding   = "ai-responding"
	StatusTransferring   = "transferring"
	StatusHumanConnected = "human-connected"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
)

// Call result constants. Empty string means no result yet.
const (
	ResultSuccess     = "success"
	ResultAbsent      = "absent"
	ResultDeclined    = "declined"
	ResultNeedsFollow = "needs_follow_up"
	ResultFailed      = "failed"
)

// End reason constants
const (
	EndReasonCustomerHangup = "customer_hangup"
	EndReasonAgentHangup    = "agent_hangup"
	EndReasonAIInitiated    = "ai_initiated"
	EndReasonTimeout        = "timeout"
	EndReasonManual         = "manual"
	EndReasonSystemError    = "system_error"
	EndReasonNormal         = "normal"
)

// Conversation mode constants
const (
	ModeClassifier = "classifier"
	ModeBridge     = "bridge"
)

// AllowedTransitions is the directed status graph. A transition not listed
// here must be a silent no-op.
var AllowedTransitions = map[string][]string{
	StatusQueued:         {StatusInitiated, StatusCalling, StatusCancelled},
	StatusInitiated:      {StatusCalling, StatusInProgress, StatusTransferring, StatusCancelled},
	StatusCalling:        {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInProgress:     {StatusAIResponding, StatusTransferring, StatusCompleted, StatusFailed},
	StatusAIResponding:   {StatusTransferring, StatusCompleted, StatusFailed},
	StatusTransferring:   {StatusAIResponding, StatusHumanConnected, StatusCompleted, StatusFailed},
	StatusHumanConnected: {StatusCompleted, StatusFailed},
	StatusCompleted:      {},
	StatusFailed:         {},
	StatusCancelled:      {},
}

// TerminalStatuses accept no further transitions
var TerminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// HandoffSourceStatuses are the only statuses a handoff may start from
var HandoffSourceStatuses = []string{StatusAIResponding, StatusInitiated, StatusInProgress}

// IsTerminal reports whether the session has reached a terminal status
func (c *CallSession) IsTerminal() bool {
	return TerminalStatuses[c.Status]
}

// CanTransitionTo reports whether the status graph allows moving from `from` to `to`
func CanTransitionTo(from, to string) bool {
	for _, allowed := range AllowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ActiveStatuses lists every non-terminal status (used by the stale-call sweep)
var ActiveStatuses = []string{
	StatusQueued, StatusInitiated, StatusCalling, StatusInProgress,
	StatusAIResponding, StatusTransferring, StatusHumanConnected,
}
