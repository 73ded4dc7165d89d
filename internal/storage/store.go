package storage

import (
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

var storeInstance Store

// SetStore sets the global store instance (call from main.go)
func SetStore(s Store) {
	storeInstance = s
}

// GetStore returns the global store instance
func GetStore() Store {
	return storeInstance
}

// Store defines the interface for storage operations
type Store interface {
	// Call operations
	CreateCall(call *models.CallSession) (*models.CallSession, error)
	GetCall(callID string) (*models.CallSession, error)
	GetCallByLegID(legID string) (*models.CallSession, error)
	UpdateCall(call *models.CallSession) error
	// CompareAndSetStatus moves the call to `to` only if its current status is
	// in allowedFrom. Returns false (and no error) when the guard fails.
	CompareAndSetStatus(callID, to string, allowedFrom []string) (bool, error)
	GetActiveCallsOlderThan(age time.Duration) ([]*models.CallSession, error)

	// Transcript operations
	AppendTranscript(entry *models.TranscriptEntry) error
	GetTranscript(callID string) ([]*models.TranscriptEntry, error)
	// AppendConversationItem is idempotent on (call_id, item_id)
	AppendConversationItem(entry *models.ConversationLogEntry) error
	GetConversationLog(callID string) ([]*models.ConversationLogEntry, error)

	// Handoff operations
	CreateHandoff(rec *models.HandoffRecord) (*models.HandoffRecord, error)
	GetActiveHandoff(callID string) (*models.HandoffRecord, error)
	GetHandoffByOperatorLeg(legID string) (*models.HandoffRecord, error)
	UpdateHandoff(rec *models.HandoffRecord) error
	DeleteActiveHandoff(callID string) error

	// Operator operations
	CreateOperator(op *models.Operator) (*models.Operator, error)
	GetOperator(operatorID string) (*models.Operator, error)
	GetAvailableOperator(department string) (*models.Operator, error)
	UpdateOperator(op *models.Operator) error
}
