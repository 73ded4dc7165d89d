package services

import (
	"log"
	"sync"
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

const (
	// DefaultInactivityTimeout forces termination when nothing is heard
	DefaultInactivityTimeout = 60 * time.Second
	// DefaultMaxCallDuration caps a call regardless of activity
	DefaultMaxCallDuration = 10 * time.Minute
)

// callTimers is the timer pair owned by one active call
type callTimers struct {
	inactivity *time.Timer
	maxDur     *time.Timer
}

// TimeoutSupervisor owns per-call inactivity and max-duration timers and
// forces termination through the ledger when either fires.
type TimeoutSupervisor struct {
	store     storage.Store
	ledger    *CallLedger
	telephony Telephony
	drivers   *DriverRegistry

	inactivityTTL time.Duration
	maxDuration   time.Duration

	mu     sync.Mutex
	timers map[string]*callTimers
}

// NewTimeoutSupervisor creates a new timeout supervisor
func NewTimeoutSupervisor(store storage.Store, ledger *CallLedger, telephony Telephony) *TimeoutSupervisor {
	return &TimeoutSupervisor{
		store:         store,
		ledger:        ledger,
		telephony:     telephony,
		inactivityTTL: DefaultInactivityTimeout,
		maxDuration:   DefaultMaxCallDuration,
		timers:        make(map[string]*callTimers),
	}
}

// SetDriverRegistry wires the driver registry so forced terminations also
// notify and detach the call's active driver
func (s *TimeoutSupervisor) SetDriverRegistry(r *DriverRegistry) {
	s.drivers = r
}

// SetTimeouts overrides the timer durations (used by tests and env config)
func (s *TimeoutSupervisor) SetTimeouts(inactivity, maxDuration time.Duration) {
	s.inactivityTTL = inactivity
	s.maxDuration = maxDuration
}

// Watch starts the timer pair for a call. Starting twice resets the
// inactivity timer but never the max-duration timer.
func (s *TimeoutSupervisor) Watch(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[callID]; ok {
		existing.inactivity.Reset(s.inactivityTTL)
		return
	}

	s.timers[callID] = &callTimers{
		inactivity: time.AfterFunc(s.inactivityTTL, func() { s.fire(callID, "inactivity") }),
		maxDur:     time.AfterFunc(s.maxDuration, func() { s.fire(callID, "max-duration") }),
	}
}

// ResetInactivity restarts the inactivity timer on a detected activity event
func (s *TimeoutSupervisor) ResetInactivity(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[callID]; ok {
		t.inactivity.Reset(s.inactivityTTL)
	}
}

// Cancel stops and removes both timers. Must be called on every terminal
// transition to prevent leaked timers or double termination.
func (s *TimeoutSupervisor) Cancel(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[callID]; ok {
		t.inactivity.Stop()
		t.maxDur.Stop()
		delete(s.timers, callID)
	}
}

// Watching reports whether in-memory timers exist for the call
func (s *TimeoutSupervisor) Watching(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[callID]
	return ok
}

// fire handles one timer expiry. Firing against an already-terminal call is
// a guarded no-op.
func (s *TimeoutSupervisor) fire(callID, which string) {
	call, err := s.store.GetCall(callID)
	if err != nil {
		log.Printf("Timeout fired for unknown call %s: %v", callID, err)
		s.Cancel(callID)
		return
	}
	if call.IsTerminal() {
		s.Cancel(callID)
		return
	}

	log.Printf("⏰ %s timeout fired for call %s (status=%s), forcing termination", which, callID, call.Status)

	if err := s.ledger.Terminate(callID, models.EndReasonTimeout, ""); err != nil {
		log.Printf("Failed to terminate timed-out call %s: %v", callID, err)
	}

	// Best-effort remote hangup; the terminal transition already landed
	if call.LegID != "" && s.telephony != nil {
		if err := s.telephony.Hangup(call.LegID); err != nil {
			log.Printf("Best-effort hangup failed for call %s: %v", callID, err)
		}
	}

	s.releaseDriver(callID)
	s.Cancel(callID)
}

// releaseDriver notifies and detaches the active driver after a forced
// termination. A bridge session or conversation state must not outlive the
// call even when the completed webhook never arrives.
func (s *TimeoutSupervisor) releaseDriver(callID string) {
	if s.drivers == nil {
		return
	}
	if d, ok := s.drivers.Get(callID); ok {
		d.OnTimeout(callID)
	}
	s.drivers.Detach(callID)
}

// SweepStale force-completes active calls older than the staleness threshold
// that have no in-memory timers (restart recovery). Returns the number of
// calls swept.
func (s *TimeoutSupervisor) SweepStale(threshold time.Duration) int {
	stale, err := s.store.GetActiveCallsOlderThan(threshold)
	if err != nil {
		log.Printf("Stale call sweep failed: %v", err)
		return 0
	}

	swept := 0
	for _, call := range stale {
		if s.Watching(call.CallID) {
			continue
		}
		log.Printf("🧹 Sweeping stale call %s (status=%s, created %s)",
			call.CallID, call.Status, call.CreatedAt.Format(time.RFC3339))
		if err := s.ledger.Terminate(call.CallID, models.EndReasonTimeout, ""); err != nil {
			log.Printf("Failed to sweep stale call %s: %v", call.CallID, err)
			continue
		}
		s.releaseDriver(call.CallID)
		swept++
	}
	return swept
}
