package models

import (
	"time"

	"gorm.io/gorm"
)

// HandoffRecord tracks one attempt to move a live call from AI to a human operator
type HandoffRecord struct {
	gorm.Model
	CallID      string    `json:"call_id" gorm:"index"`
	RequestedBy string    `json:"requested_by"` // user id or "ai"
	RequestedAt time.Time `json:"requested_at"`
	Destination string    `json:"destination"` // operator phone number
	OperatorID  string    `json:"operator_id"`

	// Method: how the handoff was initiated
	Method string `json:"method"` // "manual", "ai_auto", "ai_triggered"

	// Strategy: how the legs are joined
	Strategy string `json:"strategy"` // "conference" or "direct"

	ConferenceID  string `json:"conference_id"`
	OperatorLegID string `json:"operator_leg_id"`

	Status         string     `json:"status"` // "transferring", "human-connected", "completed", "failed"
	ConnectedAt    *time.Time `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
}

// Handoff method constants
const (
	HandoffMethodManual      = "manual"
	HandoffMethodAIAuto      = "ai_auto"
	HandoffMethodAITriggered = "ai_triggered"
)

// Handoff strategy constants
const (
	HandoffStrategyConference = "conference"
	HandoffStrategyDirect     = "direct"
)
