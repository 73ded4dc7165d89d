package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

type orchestratorFixture struct {
	orchestrator *CallOrchestrator
	store        storage.Store
	ledger       *CallLedger
	supervisor   *TimeoutSupervisor
	telephony    *fakeTelephony
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	ledger := NewCallLedger(store)
	telephony := newFakeTelephony()
	supervisor := NewTimeoutSupervisor(store, ledger, telephony)
	supervisor.SetTimeouts(time.Minute, 10*time.Minute)
	handoff := NewHandoffOrchestrator(store, ledger, telephony, nil)
	drivers := NewDriverRegistry()
	classifier := NewClassifierDriver(ledger, supervisor, handoff, nil)

	o := NewCallOrchestrator(ledger, telephony, supervisor, drivers, handoff, nil, classifier, nil)
	o.baseURL = "https://example.test"

	t.Cleanup(func() {
		supervisor.Cancel("c1")
	})
	return &orchestratorFixture{
		orchestrator: o, store: store, ledger: ledger,
		supervisor: supervisor, telephony: telephony,
	}
}

func TestInitiateCall(t *testing.T) {
	f := newOrchestratorFixture(t)

	call, err := f.orchestrator.InitiateCall(InitiateRequest{
		PhoneNumber: "+15550001111",
		CompanyName: "Acme Corp",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCalling, call.Status)
	assert.Equal(t, models.ModeClassifier, call.Mode)
	assert.Equal(t, "LEG-1", call.LegID)
	assert.Equal(t, "Acme Corp", call.CompanyName)
	assert.True(t, f.supervisor.Watching(call.CallID))
	f.supervisor.Cancel(call.CallID)
}

func TestInitiateCall_MissingNumber(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.InitiateCall(InitiateRequest{})
	assert.Error(t, err)
}

func TestInitiateCall_DialFailureTerminates(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.telephony.failCreate = true

	_, err := f.orchestrator.InitiateCall(InitiateRequest{PhoneNumber: "+15550001111"})
	require.Error(t, err)

	// The session exists and landed in a failed terminal state
	stale, _ := f.store.GetActiveCallsOlderThan(0)
	assert.Empty(t, stale)
}

func TestHandleCallStatus_AnswerAttachesDriver(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusCalling)

	f.orchestrator.HandleCallStatus("c1", "", "in-progress")

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusInProgress, call.Status)
	require.NotNil(t, call.StartedAt)

	_, attached := f.orchestrator.drivers.Get("c1")
	assert.True(t, attached)
}

func TestHandleCallStatus_CompletedWithDriverResult(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusAIResponding)
	f.ledger.SetDriverResult("c1", models.ResultDeclined)

	f.orchestrator.HandleCallStatus("c1", "", "completed")

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusCompleted, call.Status)
	assert.Equal(t, models.ResultDeclined, call.CallResult)
	assert.Equal(t, models.EndReasonAIInitiated, call.EndReason)
	assert.False(t, f.supervisor.Watching("c1"))
}

func TestHandleCallStatus_CompletedDefaultsToCustomerHangup(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusAIResponding)

	f.orchestrator.HandleCallStatus("c1", "", "completed")

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.EndReasonCustomerHangup, call.EndReason)
	assert.Equal(t, models.ResultDeclined, call.CallResult)
}

func TestHandleCallStatus_BusyIsAbsent(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusCalling)

	f.orchestrator.HandleCallStatus("c1", "", "busy")

	call, _ := f.store.GetCall("c1")
	assert.True(t, call.IsTerminal())
	assert.Equal(t, models.ResultAbsent, call.CallResult)
}

func TestHandleCallStatus_ResolvesByLegID(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusCalling)

	f.orchestrator.HandleCallStatus("", "LEG-c1", "in-progress")

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusInProgress, call.Status)
}

func TestHandleSpeechResult_ReturnsDecision(t *testing.T) {
	f := newOrchestratorFixture(t)
	call := newTestCall(f.store, "c1", models.StatusInProgress)
	call.CompanyName = "Acme Corp"
	require.NoError(t, f.store.UpdateCall(call))

	decision, err := f.orchestrator.HandleSpeechResult("c1", "", 1.0)
	require.NoError(t, err)
	assert.Equal(t, ActionIntroduce, decision.NextAction)
	assert.Contains(t, decision.Reply, "Acme Corp")

	got, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusAIResponding, got.Status)
}

func TestHandleSpeechResult_TerminalCallRejected(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusCompleted)

	_, err := f.orchestrator.HandleSpeechResult("c1", "hello", 1.0)
	assert.Error(t, err)
}

func TestCancelCall_PreAnswer(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusCalling)

	require.NoError(t, f.orchestrator.CancelCall("c1"))

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusCancelled, call.Status)
	assert.Equal(t, models.EndReasonManual, call.EndReason)
	assert.Contains(t, f.telephony.hangups, "LEG-c1")
}

func TestCancelCall_LiveCallTerminatesManual(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusAIResponding)

	require.NoError(t, f.orchestrator.CancelCall("c1"))

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusCompleted, call.Status)
	assert.Equal(t, models.EndReasonManual, call.EndReason)
}

func TestCancelCall_TerminalIsNoOp(t *testing.T) {
	f := newOrchestratorFixture(t)
	newTestCall(f.store, "c1", models.StatusCompleted)

	require.NoError(t, f.orchestrator.CancelCall("c1"))
	assert.Empty(t, f.telephony.hangups)
}
