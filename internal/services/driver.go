package services

import (
	"fmt"
	"sync"
)

// Next-action constants returned by conversation drivers
const (
	ActionIntroduce      = "introduce"
	ActionContinue       = "continue"
	ActionWait           = "wait"
	ActionPrompt         = "prompt"
	ActionClarify        = "clarify"
	ActionRespondAndEnd  = "respond_and_end"
	ActionApologizeEnd   = "apologize_and_end"
	ActionPrepareClosing = "prepare_closing"
	ActionTriggerXfer    = "trigger_transfer"
	ActionHandoff        = "handoff"
)

// Utterance is one recognized piece of caller speech
type Utterance struct {
	Text        string
	Confidence  float64
	IsFirstTurn bool
}

// TurnDecision is the driver's reaction to one utterance
type TurnDecision struct {
	NextAction string
	Intent     string
	Reply      string
	// EndResult is the driver-directed call result for *_end actions
	EndResult string
	// Hangup tells the rendering layer to terminate the leg after the reply
	Hangup bool
}

// Driver decides what the AI does next on a live call. Exactly one driver
// variant is active per call; shared orchestration code never branches on
// which one.
type Driver interface {
	// OnUtterance handles one recognized utterance
	OnUtterance(callID string, u Utterance) (*TurnDecision, error)
	// OnTimeout is invoked when the supervisor forces termination
	OnTimeout(callID string)
	// OnTransferRequested is invoked when a transfer is requested mid-call
	OnTransferRequested(callID, destination string)
	// Close releases all per-call state held by the driver
	Close(callID string)
}

// DriverRegistry tracks the single active driver per call id
type DriverRegistry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewDriverRegistry creates a new driver registry
func NewDriverRegistry() *DriverRegistry {
	return &DriverRegistry{drivers: make(map[string]Driver)}
}

// Attach binds a driver to a call. A call may have at most one driver.
func (r *DriverRegistry) Attach(callID string, d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[callID]; exists {
		return fmt.Errorf("driver already attached for call %s", callID)
	}
	r.drivers[callID] = d
	return nil
}

// Get returns the active driver for a call, if any
func (r *DriverRegistry) Get(callID string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[callID]
	return d, ok
}

// Detach releases the driver binding and closes its per-call state
func (r *DriverRegistry) Detach(callID string) {
	r.mu.Lock()
	d, ok := r.drivers[callID]
	delete(r.drivers, callID)
	r.mu.Unlock()

	if ok {
		d.Close(callID)
	}
}
