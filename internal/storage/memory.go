package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// MemoryStore holds all data in memory for testing
type MemoryStore struct {
	calls     map[string]*models.CallSession // keyed by CallID
	handoffs  map[string][]*models.HandoffRecord
	operators map[string]*models.Operator

	transcripts map[string][]*models.TranscriptEntry
	convLogs    map[string][]*models.ConversationLogEntry

	// One mutex guards call state so status compare-and-sets are atomic
	callMu     sync.RWMutex
	handoffMu  sync.RWMutex
	operatorMu sync.RWMutex

	handoffCounter uint
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:       make(map[string]*models.CallSession),
		handoffs:    make(map[string][]*models.HandoffRecord),
		operators:   make(map[string]*models.Operator),
		transcripts: make(map[string][]*models.TranscriptEntry),
		convLogs:    make(map[string][]*models.ConversationLogEntry),
	}
}

// Call operations

func (m *MemoryStore) CreateCall(call *models.CallSession) (*models.CallSession, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	if call.CallID == "" {
		return nil, fmt.Errorf("call id required")
	}
	if _, exists := m.calls[call.CallID]; exists {
		return nil, fmt.Errorf("call already exists")
	}

	call.CreatedAt = time.Now()
	call.UpdatedAt = time.Now()
	m.calls[call.CallID] = call
	return call, nil
}

func (m *MemoryStore) GetCall(callID string) (*models.CallSession, error) {
	m.callMu.RLock()
	defer m.callMu.RUnlock()

	call, exists := m.calls[callID]
	if !exists {
		return nil, fmt.Errorf("call not found")
	}
	return call, nil
}

func (m *MemoryStore) GetCallByLegID(legID string) (*models.CallSession, error) {
	m.callMu.RLock()
	defer m.callMu.RUnlock()

	for _, call := range m.calls {
		if call.LegID == legID {
			return call, nil
		}
	}
	return nil, fmt.Errorf("call not found")
}

func (m *MemoryStore) UpdateCall(call *models.CallSession) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	if _, exists := m.calls[call.CallID]; !exists {
		return fmt.Errorf("call not found")
	}
	call.UpdatedAt = time.Now()
	m.calls[call.CallID] = call
	return nil
}

func (m *MemoryStore) CompareAndSetStatus(callID, to string, allowedFrom []string) (bool, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	call, exists := m.calls[callID]
	if !exists {
		return false, fmt.Errorf("call not found")
	}

	for _, from := range allowedFrom {
		if call.Status == from {
			call.Status = to
			call.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetActiveCallsOlderThan(age time.Duration) ([]*models.CallSession, error) {
	m.callMu.RLock()
	defer m.callMu.RUnlock()

	cutoff := time.Now().Add(-age)
	var stale []*models.CallSession
	for _, call := range m.calls {
		if call.IsTerminal() {
			continue
		}
		if call.CreatedAt.Before(cutoff) {
			stale = append(stale, call)
		}
	}
	return stale, nil
}

// Transcript operations

func (m *MemoryStore) AppendTranscript(entry *models.TranscriptEntry) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	entry.CreatedAt = time.Now()
	m.transcripts[entry.CallID] = append(m.transcripts[entry.CallID], entry)
	return nil
}

func (m *MemoryStore) GetTranscript(callID string) ([]*models.TranscriptEntry, error) {
	m.callMu.RLock()
	defer m.callMu.RUnlock()

	return m.transcripts[callID], nil
}

func (m *MemoryStore) AppendConversationItem(entry *models.ConversationLogEntry) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	// Duplicate delivery of the same engine item is a no-op
	for _, existing := range m.convLogs[entry.CallID] {
		if existing.ItemID == entry.ItemID {
			return nil
		}
	}
	entry.CreatedAt = time.Now()
	m.convLogs[entry.CallID] = append(m.convLogs[entry.CallID], entry)
	return nil
}

func (m *MemoryStore) GetConversationLog(callID string) ([]*models.ConversationLogEntry, error) {
	m.callMu.RLock()
	defer m.callMu.RUnlock()

	return m.convLogs[callID], nil
}

// Handoff operations

func (m *MemoryStore) CreateHandoff(rec *models.HandoffRecord) (*models.HandoffRecord, error) {
	m.handoffMu.Lock()
	defer m.handoffMu.Unlock()

	m.handoffCounter++
	rec.ID = m.handoffCounter
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = time.Now()
	m.handoffs[rec.CallID] = append(m.handoffs[rec.CallID], rec)
	return rec, nil
}

func (m *MemoryStore) GetActiveHandoff(callID string) (*models.HandoffRecord, error) {
	m.handoffMu.RLock()
	defer m.handoffMu.RUnlock()

	for _, rec := range m.handoffs[callID] {
		if rec.Status == models.StatusTransferring || rec.Status == models.StatusHumanConnected {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("handoff not found")
}

func (m *MemoryStore) GetHandoffByOperatorLeg(legID string) (*models.HandoffRecord, error) {
	m.handoffMu.RLock()
	defer m.handoffMu.RUnlock()

	for _, recs := range m.handoffs {
		for _, rec := range recs {
			if rec.OperatorLegID == legID {
				return rec, nil
			}
		}
	}
	return nil, fmt.Errorf("handoff not found")
}

func (m *MemoryStore) UpdateHandoff(rec *models.HandoffRecord) error {
	m.handoffMu.Lock()
	defer m.handoffMu.Unlock()

	for i, existing := range m.handoffs[rec.CallID] {
		if existing.ID == rec.ID {
			rec.UpdatedAt = time.Now()
			m.handoffs[rec.CallID][i] = rec
			return nil
		}
	}
	return fmt.Errorf("handoff not found")
}

func (m *MemoryStore) DeleteActiveHandoff(callID string) error {
	m.handoffMu.Lock()
	defer m.handoffMu.Unlock()

	recs := m.handoffs[callID]
	for i, rec := range recs {
		if rec.Status == models.StatusTransferring || rec.Status == models.StatusHumanConnected {
			m.handoffs[callID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("handoff not found")
}

// Operator operations

func (m *MemoryStore) CreateOperator(op *models.Operator) (*models.Operator, error) {
	m.operatorMu.Lock()
	defer m.operatorMu.Unlock()

	if op.OperatorID == "" {
		op.OperatorID = fmt.Sprintf("OP%05d", len(m.operators)+1)
	}
	op.CreatedAt = time.Now()
	op.UpdatedAt = time.Now()
	m.operators[op.OperatorID] = op
	return op, nil
}

func (m *MemoryStore) GetOperator(operatorID string) (*models.Operator, error) {
	m.operatorMu.RLock()
	defer m.operatorMu.RUnlock()

	op, exists := m.operators[operatorID]
	if !exists {
		return nil, fmt.Errorf("operator not found")
	}
	return op, nil
}

func (m *MemoryStore) GetAvailableOperator(department string) (*models.Operator, error) {
	m.operatorMu.RLock()
	defer m.operatorMu.RUnlock()

	for _, op := range m.operators {
		if !op.Available {
			continue
		}
		if department != "" && op.Department != department {
			continue
		}
		return op, nil
	}
	return nil, fmt.Errorf("no operator available")
}

func (m *MemoryStore) UpdateOperator(op *models.Operator) error {
	m.operatorMu.Lock()
	defer m.operatorMu.Unlock()

	if _, exists := m.operators[op.OperatorID]; !exists {
		return fmt.Errorf("operator not found")
	}
	op.UpdatedAt = time.Now()
	m.operators[op.OperatorID] = op
	return nil
}
