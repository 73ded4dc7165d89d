package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

func newSupervisorFixture(t *testing.T) (*TimeoutSupervisor, storage.Store, *fakeTelephony) {
	t.Helper()
	store := storage.NewMemoryStore()
	ledger := NewCallLedger(store)
	telephony := newFakeTelephony()
	supervisor := NewTimeoutSupervisor(store, ledger, telephony)
	return supervisor, store, telephony
}

func TestInactivityTimeoutTerminatesCall(t *testing.T) {
	supervisor, store, telephony := newSupervisorFixture(t)
	supervisor.SetTimeouts(30*time.Millisecond, time.Minute)
	newTestCall(store, "c1", models.StatusInProgress)

	supervisor.Watch("c1")

	assert.Eventually(t, func() bool {
		call, _ := store.GetCall("c1")
		return call.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	call, _ := store.GetCall("c1")
	assert.Equal(t, models.EndReasonTimeout, call.EndReason)
	assert.Equal(t, models.ResultNeedsFollow, call.CallResult)
	assert.Equal(t, 1, telephony.hangupCount())
	assert.False(t, supervisor.Watching("c1"))
}

func TestResetInactivityDefersTimeout(t *testing.T) {
	supervisor, store, _ := newSupervisorFixture(t)
	supervisor.SetTimeouts(60*time.Millisecond, time.Minute)
	newTestCall(store, "c1", models.StatusInProgress)

	supervisor.Watch("c1")
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		supervisor.ResetInactivity("c1")
	}

	call, _ := store.GetCall("c1")
	assert.False(t, call.IsTerminal())
	supervisor.Cancel("c1")
}

func TestTimeoutAgainstTerminalCallIsNoOp(t *testing.T) {
	supervisor, store, telephony := newSupervisorFixture(t)
	supervisor.SetTimeouts(20*time.Millisecond, time.Minute)
	newTestCall(store, "c1", models.StatusCompleted)

	supervisor.Watch("c1")

	assert.Eventually(t, func() bool {
		return !supervisor.Watching("c1")
	}, 2*time.Second, 10*time.Millisecond)

	call, _ := store.GetCall("c1")
	assert.Equal(t, models.StatusCompleted, call.Status)
	assert.Empty(t, call.EndReason)
	assert.Equal(t, 0, telephony.hangupCount())
}

func TestCancelStopsTimers(t *testing.T) {
	supervisor, store, _ := newSupervisorFixture(t)
	supervisor.SetTimeouts(40*time.Millisecond, time.Minute)
	newTestCall(store, "c1", models.StatusInProgress)

	supervisor.Watch("c1")
	supervisor.Cancel("c1")

	time.Sleep(80 * time.Millisecond)
	call, _ := store.GetCall("c1")
	assert.False(t, call.IsTerminal())
}

func TestMaxDurationFiresEvenWithActivity(t *testing.T) {
	supervisor, store, _ := newSupervisorFixture(t)
	supervisor.SetTimeouts(time.Minute, 50*time.Millisecond)
	newTestCall(store, "c1", models.StatusAIResponding)

	supervisor.Watch("c1")
	// Activity keeps resetting inactivity but never the hard cap
	go func() {
		for i := 0; i < 5; i++ {
			supervisor.ResetInactivity("c1")
			time.Sleep(15 * time.Millisecond)
		}
	}()

	assert.Eventually(t, func() bool {
		call, _ := store.GetCall("c1")
		return call.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMaxDurationFiresDuringOperatorLeg(t *testing.T) {
	supervisor, store, telephony := newSupervisorFixture(t)
	supervisor.SetTimeouts(time.Minute, 30*time.Millisecond)
	newTestCall(store, "c1", models.StatusHumanConnected)

	supervisor.Watch("c1")

	assert.Eventually(t, func() bool {
		call, _ := store.GetCall("c1")
		return call.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	call, _ := store.GetCall("c1")
	assert.Equal(t, models.StatusCompleted, call.Status)
	assert.Equal(t, models.EndReasonTimeout, call.EndReason)
	assert.Equal(t, models.ResultNeedsFollow, call.CallResult)
	assert.Equal(t, 1, telephony.hangupCount())
}

func TestTimeoutNotifiesAndDetachesDriver(t *testing.T) {
	supervisor, store, _ := newSupervisorFixture(t)
	supervisor.SetTimeouts(30*time.Millisecond, time.Minute)
	registry := NewDriverRegistry()
	supervisor.SetDriverRegistry(registry)

	newTestCall(store, "c1", models.StatusInProgress)
	driver := &fakeDriver{}
	require.NoError(t, registry.Attach("c1", driver))

	supervisor.Watch("c1")

	assert.Eventually(t, func() bool {
		return driver.timeoutCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Detached and closed, no driver state left behind
	_, attached := registry.Get("c1")
	assert.False(t, attached)
	assert.Equal(t, 1, driver.closeCount())
}

func TestSweepStale(t *testing.T) {
	supervisor, store, _ := newSupervisorFixture(t)
	registry := NewDriverRegistry()
	supervisor.SetDriverRegistry(registry)

	stale := newTestCall(store, "old", models.StatusInProgress)
	staleDriver := &fakeDriver{}
	require.NoError(t, registry.Attach("old", staleDriver))
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateCall(stale))

	fresh := newTestCall(store, "fresh", models.StatusInProgress)
	fresh.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateCall(fresh))

	// A watched call is never swept, its own timers will handle it
	supervisor.Watch("fresh")

	swept := supervisor.SweepStale(15 * time.Minute)
	assert.Equal(t, 1, swept)

	oldCall, _ := store.GetCall("old")
	assert.True(t, oldCall.IsTerminal())
	assert.Equal(t, models.EndReasonTimeout, oldCall.EndReason)

	// The leaked driver goes with the swept call
	assert.Equal(t, 1, staleDriver.timeoutCount())
	_, attached := registry.Get("old")
	assert.False(t, attached)

	freshCall, _ := store.GetCall("fresh")
	assert.False(t, freshCall.IsTerminal())
	supervisor.Cancel("fresh")
}
