package services

import (
	"fmt"
	"sync"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// fakeTelephony records outbound telephony operations for assertions
type fakeTelephony struct {
	mu           sync.Mutex
	legs         []string
	hangups      []string
	redirects    map[string]string
	failCreate   bool
	failRedirect bool
	nextLegID    string
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{redirects: make(map[string]string), nextLegID: "LEG-1"}
}

func (f *fakeTelephony) CreateLeg(to, twimlURL, statusCallbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", fmt.Errorf("provider rejected the call")
	}
	f.legs = append(f.legs, to)
	return f.nextLegID, nil
}

func (f *fakeTelephony) Hangup(legID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, legID)
	return nil
}

func (f *fakeTelephony) Redirect(legID, twiml string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRedirect {
		return fmt.Errorf("leg not in progress")
	}
	f.redirects[legID] = twiml
	return nil
}

func (f *fakeTelephony) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hangups)
}

// fakeHandoffRequester records auto handoff requests from drivers
type fakeHandoffRequester struct {
	mu       sync.Mutex
	requests []string
	err      error
}

func (f *fakeHandoffRequester) RequestAutoHandoff(callID, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, callID+"/"+method)
	return nil
}

func (f *fakeHandoffRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeDriver records lifecycle notifications from the orchestration layer
type fakeDriver struct {
	mu       sync.Mutex
	timeouts []string
	closes   []string
}

func (f *fakeDriver) OnUtterance(callID string, u Utterance) (*TurnDecision, error) {
	return &TurnDecision{NextAction: ActionContinue}, nil
}

func (f *fakeDriver) OnTimeout(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, callID)
}

func (f *fakeDriver) OnTransferRequested(callID, destination string) {}

func (f *fakeDriver) Close(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, callID)
}

func (f *fakeDriver) timeoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timeouts)
}

func (f *fakeDriver) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closes)
}

// newTestCall seeds a call session in the given status
func newTestCall(store storage.Store, callID, status string) *models.CallSession {
	call := &models.CallSession{
		CallID:      callID,
		PhoneNumber: "+15550001111",
		Mode:        models.ModeClassifier,
		Status:      status,
		LegID:       "LEG-" + callID,
		CompanyName: "Acme Corp",
	}
	created, err := store.CreateCall(call)
	if err != nil {
		panic(err)
	}
	return created
}
