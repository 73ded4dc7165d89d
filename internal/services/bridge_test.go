package services

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

// fakeWS captures every WriteJSON as a decoded map
type fakeWS struct {
	mu     sync.Mutex
	writes []map[string]interface{}
	closed bool
}

func (f *fakeWS) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, m)
	return nil
}

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {} // never used in these tests
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWS) ofType(key, value string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, w := range f.writes {
		if w[key] == value {
			out = append(out, w)
		}
	}
	return out
}

type bridgeFixture struct {
	driver    *BridgeDriver
	session   *BridgeSession
	store     storage.Store
	telephony *fakeWS
	engine    *fakeWS
	handoff   *fakeHandoffRequester
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	ledger := NewCallLedger(store)
	handoff := &fakeHandoffRequester{}
	registry := NewBridgeRegistry()
	driver := NewBridgeDriver(ledger, nil, handoff, registry, nil)
	driver.settleDelay = 25 * time.Millisecond
	driver.fallbackDelay = 250 * time.Millisecond

	call := &models.CallSession{
		CallID: "c1", PhoneNumber: "+15550001111",
		Mode: models.ModeBridge, Status: models.StatusInProgress, LegID: "LEG-c1",
	}
	_, err := store.CreateCall(call)
	require.NoError(t, err)

	tel := &fakeWS{}
	eng := &fakeWS{}
	session := &BridgeSession{
		CallID:          "c1",
		StreamSID:       "MZ1",
		telephony:       tel,
		engine:          eng,
		responseStartTS: -1,
		settleDelay:     driver.settleDelay,
		fallbackDelay:   driver.fallbackDelay,
	}
	registry.Register(session)

	return &bridgeFixture{driver: driver, session: session, store: store,
		telephony: tel, engine: eng, handoff: handoff}
}

func mediaFrame(ts, payload string) []byte {
	return []byte(`{"event":"media","media":{"timestamp":"` + ts + `","payload":"` + payload + `"}}`)
}

func TestBridge_MediaForwardedToEngine(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))

	appends := f.engine.ofType("type", "input_audio_buffer.append")
	require.Len(t, appends, 1)
	assert.Equal(t, "AAAA", appends[0]["audio"])
	assert.Equal(t, int64(1000), f.session.latestMediaTS)
}

func TestBridge_AudioDeltaForwardedWithMark(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-1", Delta: "QUJD",
	})

	media := f.telephony.ofType("event", "media")
	require.Len(t, media, 1)
	marks := f.telephony.ofType("event", "mark")
	require.Len(t, marks, 1)

	assert.Equal(t, int64(1000), f.session.responseStartTS)
	assert.Equal(t, "item-1", f.session.currentItemID)
	assert.Len(t, f.session.markQueue, 1)
}

func TestBridge_MarkAckPopsQueue(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-1", Delta: "QUJD",
	})
	require.Len(t, f.session.markQueue, 1)
	name := f.session.markQueue[0]

	f.driver.HandleStreamMessage(f.session, []byte(`{"event":"mark","mark":{"name":"`+name+`"}}`))
	assert.Empty(t, f.session.markQueue)
}

func TestBridge_BargeInTruncatesAtElapsed(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-1", Delta: "QUJD",
	})
	f.driver.HandleStreamMessage(f.session, mediaFrame("1750", "BBBB"))

	f.driver.handleEngineEvent(f.session, engineEvent{Type: "input_audio_buffer.speech_started"})

	truncates := f.engine.ofType("type", "conversation.item.truncate")
	require.Len(t, truncates, 1)
	assert.Equal(t, "item-1", truncates[0]["item_id"])
	assert.Equal(t, float64(750), truncates[0]["audio_end_ms"])

	clears := f.telephony.ofType("event", "clear")
	require.Len(t, clears, 1)

	// Playback tracking fully reset
	assert.Equal(t, int64(-1), f.session.responseStartTS)
	assert.Empty(t, f.session.markQueue)
	assert.Empty(t, f.session.currentItemID)
}

func TestBridge_NewItemRestartsPlaybackClock(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-1", Delta: "QUJD",
	})
	f.driver.HandleStreamMessage(f.session, mediaFrame("3000", "BBBB"))

	// A new assistant item arrives with no done event in between
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-2", Delta: "REVG",
	})
	f.driver.HandleStreamMessage(f.session, mediaFrame("3400", "CCCC"))

	f.driver.handleEngineEvent(f.session, engineEvent{Type: "input_audio_buffer.speech_started"})

	// Truncation is measured from the second item's start, not the first's
	truncates := f.engine.ofType("type", "conversation.item.truncate")
	require.Len(t, truncates, 1)
	assert.Equal(t, "item-2", truncates[0]["item_id"])
	assert.Equal(t, float64(400), truncates[0]["audio_end_ms"])
}

func TestBridge_BargeInWithoutPlaybackIsNoOp(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{Type: "input_audio_buffer.speech_started"})

	assert.Empty(t, f.engine.ofType("type", "conversation.item.truncate"))
	assert.Empty(t, f.telephony.ofType("event", "clear"))
}

func TestBridge_BargeInFiresOnlyOnce(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-1", Delta: "QUJD",
	})

	f.driver.handleEngineEvent(f.session, engineEvent{Type: "input_audio_buffer.speech_started"})
	f.driver.handleEngineEvent(f.session, engineEvent{Type: "input_audio_buffer.speech_started"})

	assert.Len(t, f.engine.ofType("type", "conversation.item.truncate"), 1)
	assert.Len(t, f.telephony.ofType("event", "clear"), 1)
}

func TestBridge_StagedTransferWaitsForResponseDone(t *testing.T) {
	f := newBridgeFixture(t)

	// Response in flight when the transfer arrives
	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-1", Delta: "QUJD",
	})
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "transfer.requested", Destination: "operations",
	})

	// Not executed while the response is still playing
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, f.handoff.count())

	f.driver.handleEngineEvent(f.session, engineEvent{Type: "response.done"})

	assert.Eventually(t, func() bool { return f.handoff.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestBridge_StagedTransferWaitsForAnnouncement(t *testing.T) {
	f := newBridgeFixture(t)

	// Transfer arrives while nothing is playing; the farewell announcement
	// follows the ack
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "transfer.requested", Destination: "operations",
	})
	f.driver.HandleStreamMessage(f.session, mediaFrame("1000", "AAAA"))
	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "response.audio.delta", ItemID: "item-2", Delta: "QUJD",
	})

	// Announcement still playing, no done event yet
	time.Sleep(4 * f.session.settleDelay)
	assert.Equal(t, 0, f.handoff.count())

	f.driver.handleEngineEvent(f.session, engineEvent{Type: "response.done"})

	assert.Eventually(t, func() bool { return f.handoff.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestBridge_StagedTransferFallsBackWhenEngineStaysSilent(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "transfer.requested", Destination: "operations",
	})

	// No announcement and no done event: the settle delay alone never fires
	time.Sleep(4 * f.session.settleDelay)
	assert.Equal(t, 0, f.handoff.count())

	// The fallback timer eventually does
	assert.Eventually(t, func() bool { return f.handoff.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestBridge_StagedTransferDiscardedOnClose(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.handleEngineEvent(f.session, engineEvent{
		Type: "transfer.requested", Destination: "operations",
	})
	f.driver.Close("c1")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, f.handoff.count())
	assert.True(t, f.engine.closed)
	assert.True(t, f.telephony.closed)
}

func TestBridge_EngineErrorTerminatesCall(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.handleEngineEvent(f.session, engineEvent{
		Type:  "error",
		Error: &engineError{Message: "session expired"},
	})

	call, _ := f.store.GetCall("c1")
	assert.Equal(t, models.StatusFailed, call.Status)
	assert.Equal(t, models.EndReasonSystemError, call.EndReason)
	assert.Equal(t, "session expired", call.ErrorMessage)
	assert.True(t, f.engine.closed)

	// The registry no longer knows the call
	_, ok := f.driver.registry.Lookup("c1")
	assert.False(t, ok)
}

func TestBridge_TranscriptItemsAreIdempotent(t *testing.T) {
	f := newBridgeFixture(t)

	ev := engineEvent{
		Type: "response.audio_transcript.done", ItemID: "item-9",
		Transcript: "thank you for your time",
	}
	f.driver.handleEngineEvent(f.session, ev)
	f.driver.handleEngineEvent(f.session, ev)

	items, err := f.store.GetConversationLog("c1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "assistant", items[0].Role)
	assert.Equal(t, "thank you for your time", items[0].Content)
}

func TestBridge_StopFrameTearsDown(t *testing.T) {
	f := newBridgeFixture(t)

	f.driver.HandleStreamMessage(f.session, []byte(`{"event":"stop"}`))

	assert.True(t, f.engine.closed)
	assert.True(t, f.telephony.closed)
	_, ok := f.driver.registry.Lookup("c1")
	assert.False(t, ok)
}
