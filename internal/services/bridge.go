package services

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// defaultTransferSettleDelay is how long a staged transfer waits after the
// announcement response completes before the customer leg is redirected.
const defaultTransferSettleDelay = 5 * time.Second

// defaultTransferFallbackDelay bounds how long a staged transfer waits for
// an announcement that never comes.
const defaultTransferFallbackDelay = 30 * time.Second

// WSConn is the subset of a websocket connection the bridge needs. Both the
// telephony stream socket and the dialed engine socket satisfy it.
type WSConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// twilioStreamMessage is an inbound Media Streams frame
type twilioStreamMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// engineEvent is an inbound frame from the realtime conversation engine
type engineEvent struct {
	Type        string       `json:"type"`
	Delta       string       `json:"delta"`
	ItemID      string       `json:"item_id"`
	Transcript  string       `json:"transcript"`
	Destination string       `json:"destination"`
	Error       *engineError `json:"error,omitempty"`
}

type engineError struct {
	Message string `json:"message"`
}

type stagedTransfer struct {
	destination string
	requestedAt time.Time
}

// BridgeSession holds the live state of one duplex audio bridge: the
// telephony stream leg, the engine leg, and the playback bookkeeping that
// makes barge-in truncation possible.
type BridgeSession struct {
	CallID    string
	StreamSID string

	telephony WSConn
	engine    WSConn

	mu     sync.Mutex
	closed bool

	// latestMediaTS is the stream clock in milliseconds from the last
	// inbound media frame
	latestMediaTS int64
	// responseStartTS is the stream clock when the current assistant
	// response began playing, -1 when no response is in flight
	responseStartTS int64
	currentItemID   string
	markQueue       []string

	staged        *stagedTransfer
	settleDelay   time.Duration
	fallbackDelay time.Duration
	scheduled     *time.Timer
}

// BridgeRegistry tracks live bridge sessions by call id and stream sid
type BridgeRegistry struct {
	mu       sync.RWMutex
	byCall   map[string]*BridgeSession
	byStream map[string]*BridgeSession
}

func NewBridgeRegistry() *BridgeRegistry {
	return &BridgeRegistry{
		byCall:   make(map[string]*BridgeSession),
		byStream: make(map[string]*BridgeSession),
	}
}

func (r *BridgeRegistry) Register(s *BridgeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCall[s.CallID] = s
	if s.StreamSID != "" {
		r.byStream[s.StreamSID] = s
	}
}

func (r *BridgeRegistry) Lookup(callID string) (*BridgeSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byCall[callID]
	return s, ok
}

func (r *BridgeRegistry) LookupByStream(streamSID string) (*BridgeSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byStream[streamSID]
	return s, ok
}

func (r *BridgeRegistry) Unregister(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byCall[callID]; ok {
		delete(r.byStream, s.StreamSID)
	}
	delete(r.byCall, callID)
}

// EngineDialer opens the websocket leg to the realtime conversation engine
type EngineDialer interface {
	Dial(callID string) (WSConn, error)
}

// BridgeDriver is the continuous duplex conversation driver. Audio flows
// both ways through websockets, the engine talks back with streamed audio
// deltas, and the caller can barge in over assistant playback.
type BridgeDriver struct {
	ledger     *CallLedger
	supervisor *TimeoutSupervisor
	handoff    HandoffRequester
	registry   *BridgeRegistry
	dialer     EngineDialer

	// settleDelay and fallbackDelay override the staged transfer timing,
	// for tests
	settleDelay   time.Duration
	fallbackDelay time.Duration
}

func NewBridgeDriver(ledger *CallLedger, supervisor *TimeoutSupervisor, handoff HandoffRequester, registry *BridgeRegistry, dialer EngineDialer) *BridgeDriver {
	return &BridgeDriver{
		ledger:        ledger,
		supervisor:    supervisor,
		handoff:       handoff,
		registry:      registry,
		dialer:        dialer,
		settleDelay:   defaultTransferSettleDelay,
		fallbackDelay: defaultTransferFallbackDelay,
	}
}

// StartSession wires a just-accepted telephony stream socket to a fresh
// engine leg and begins pumping engine events. Blocks until the engine leg
// drains, so call it from the stream handler's goroutine.
func (d *BridgeDriver) StartSession(callID, streamSID string, telephonyConn WSConn) (*BridgeSession, error) {
	engineConn, err := d.dialer.Dial(callID)
	if err != nil {
		d.ledger.SetError(callID, fmt.Sprintf("engine dial failed: %v", err))
		d.ledger.Terminate(callID, models.EndReasonSystemError, "")
		return nil, err
	}

	s := &BridgeSession{
		CallID:          callID,
		StreamSID:       streamSID,
		telephony:       telephonyConn,
		engine:          engineConn,
		responseStartTS: -1,
		settleDelay:     d.settleDelay,
		fallbackDelay:   d.fallbackDelay,
	}
	d.registry.Register(s)

	go d.pumpEngine(s)
	log.Printf("🔊 Bridge session started for call %s (stream %s)", callID, streamSID)
	return s, nil
}

// HandleStreamMessage processes one inbound telephony stream frame
func (d *BridgeDriver) HandleStreamMessage(s *BridgeSession, raw []byte) {
	var msg twilioStreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("Bad stream frame on call %s: %v", s.CallID, err)
		return
	}

	switch msg.Event {
	case "media":
		if msg.Media == nil {
			return
		}
		d.onMedia(s, msg.Media.Timestamp, msg.Media.Payload)
	case "mark":
		if msg.Mark == nil {
			return
		}
		s.popMark(msg.Mark.Name)
	case "stop":
		log.Printf("Stream stopped for call %s", s.CallID)
		d.teardown(s)
	}
}

func (d *BridgeDriver) onMedia(s *BridgeSession, timestamp, payload string) {
	if ts, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		s.mu.Lock()
		s.latestMediaTS = ts
		s.mu.Unlock()
	}

	err := s.writeEngine(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	})
	if err != nil {
		log.Printf("Engine write failed for call %s: %v", s.CallID, err)
	}
	if d.supervisor != nil {
		d.supervisor.ResetInactivity(s.CallID)
	}
}

// pumpEngine reads engine events until the leg drains or errors
func (d *BridgeDriver) pumpEngine(s *BridgeSession) {
	for {
		_, raw, err := s.engine.ReadMessage()
		if err != nil {
			s.mu.Lock()
			wasClosed := s.closed
			s.mu.Unlock()
			if !wasClosed {
				log.Printf("❌ Engine leg dropped for call %s: %v", s.CallID, err)
				d.fail(s, "engine connection lost")
			}
			return
		}

		var ev engineEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("Bad engine frame on call %s: %v", s.CallID, err)
			continue
		}
		d.handleEngineEvent(s, ev)
	}
}

func (d *BridgeDriver) handleEngineEvent(s *BridgeSession, ev engineEvent) {
	switch ev.Type {
	case "response.audio.delta":
		d.onAudioDelta(s, ev.ItemID, ev.Delta)
	case "response.done":
		d.onResponseDone(s)
	case "input_audio_buffer.speech_started":
		d.onBargeIn(s)
	case "response.audio_transcript.done":
		d.ledger.AppendConversationItem(s.CallID, ev.ItemID, "assistant", ev.Transcript)
	case "conversation.item.input_audio_transcription.completed":
		d.ledger.AppendConversationItem(s.CallID, ev.ItemID, "user", ev.Transcript)
	case "transfer.requested":
		d.stageTransfer(s, ev.Destination)
	case "error":
		message := "engine error"
		if ev.Error != nil && ev.Error.Message != "" {
			message = ev.Error.Message
		}
		log.Printf("❌ Engine error on call %s: %s", s.CallID, message)
		d.fail(s, message)
	}
}

// onAudioDelta forwards one assistant audio chunk to the telephony leg and
// queues a mark so playback progress can be tracked
func (d *BridgeDriver) onAudioDelta(s *BridgeSession, itemID, delta string) {
	s.mu.Lock()
	// A new assistant item without an intervening done event still restarts
	// the playback clock, or barge-in would truncate against the old item's
	// start time.
	if s.responseStartTS < 0 || (itemID != "" && itemID != s.currentItemID) {
		s.responseStartTS = s.latestMediaTS
	}
	if itemID != "" {
		s.currentItemID = itemID
	}
	// The announcement for a staged transfer is playing; its done event
	// re-arms the settle timer, so any pending timer stands down.
	if s.staged != nil && s.scheduled != nil {
		s.scheduled.Stop()
		s.scheduled = nil
	}
	streamSID := s.StreamSID
	s.mu.Unlock()

	err := s.writeTelephony(map[string]interface{}{
		"event":     "media",
		"streamSid": streamSID,
		"media":     map[string]string{"payload": delta},
	})
	if err != nil {
		log.Printf("Telephony write failed for call %s: %v", s.CallID, err)
		return
	}

	markName := uuid.NewString()
	s.mu.Lock()
	s.markQueue = append(s.markQueue, markName)
	s.mu.Unlock()

	s.writeTelephony(map[string]interface{}{
		"event":     "mark",
		"streamSid": streamSID,
		"mark":      map[string]string{"name": markName},
	})
}

// onBargeIn truncates assistant playback when the caller starts speaking.
// A no-op unless audio is actually in flight on the telephony leg.
func (d *BridgeDriver) onBargeIn(s *BridgeSession) {
	s.mu.Lock()
	if len(s.markQueue) == 0 || s.responseStartTS < 0 {
		s.mu.Unlock()
		return
	}
	elapsed := s.latestMediaTS - s.responseStartTS
	if elapsed < 0 {
		elapsed = 0
	}
	itemID := s.currentItemID
	streamSID := s.StreamSID
	s.responseStartTS = -1
	s.currentItemID = ""
	s.markQueue = nil
	s.mu.Unlock()

	if itemID != "" {
		s.writeEngine(map[string]interface{}{
			"type":          "conversation.item.truncate",
			"item_id":       itemID,
			"content_index": 0,
			"audio_end_ms":  elapsed,
		})
	}
	s.writeTelephony(map[string]interface{}{
		"event":     "clear",
		"streamSid": streamSID,
	})
	log.Printf("Barge-in on call %s, truncated at %dms", s.CallID, elapsed)
}

// onResponseDone resets playback tracking and releases any staged transfer
func (d *BridgeDriver) onResponseDone(s *BridgeSession) {
	s.mu.Lock()
	s.responseStartTS = -1
	s.currentItemID = ""
	staged := s.staged
	s.mu.Unlock()

	if staged == nil {
		return
	}

	s.mu.Lock()
	if s.scheduled != nil {
		s.scheduled.Stop()
	}
	s.scheduled = time.AfterFunc(s.settleDelay, func() {
		d.executeTransfer(s, staged.destination)
	})
	s.mu.Unlock()
}

// stageTransfer records an engine transfer request. The engine announces the
// transfer to the caller next, so execution waits for that announcement's
// done event plus the settle delay; a longer fallback timer covers an engine
// that stays silent after the ack.
func (d *BridgeDriver) stageTransfer(s *BridgeSession, destination string) {
	s.mu.Lock()
	s.staged = &stagedTransfer{destination: destination, requestedAt: time.Now()}
	if s.scheduled != nil {
		s.scheduled.Stop()
	}
	fallback := s.fallbackDelay
	if fallback <= 0 {
		fallback = defaultTransferFallbackDelay
	}
	s.scheduled = time.AfterFunc(fallback, func() {
		d.executeTransfer(s, destination)
	})
	s.mu.Unlock()

	s.writeEngine(map[string]interface{}{
		"type":   "transfer.accepted",
		"status": "staged",
	})
	log.Printf("Transfer staged for call %s", s.CallID)
}

func (d *BridgeDriver) executeTransfer(s *BridgeSession, destination string) {
	s.mu.Lock()
	if s.closed || s.staged == nil {
		s.mu.Unlock()
		return
	}
	s.staged = nil
	s.mu.Unlock()

	log.Printf("📞 Executing staged transfer for call %s → %s", s.CallID, destination)
	if d.handoff == nil {
		return
	}
	if err := d.handoff.RequestAutoHandoff(s.CallID, models.HandoffMethodAITriggered); err != nil {
		log.Printf("Staged transfer failed for call %s: %v", s.CallID, err)
	}
}

// fail terminates the call as a system error and tears the bridge down
func (d *BridgeDriver) fail(s *BridgeSession, message string) {
	d.ledger.SetError(s.CallID, message)
	d.ledger.Terminate(s.CallID, models.EndReasonSystemError, "")
	d.teardown(s)
}

func (d *BridgeDriver) teardown(s *BridgeSession) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.staged = nil
	if s.scheduled != nil {
		s.scheduled.Stop()
		s.scheduled = nil
	}
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.Close()
	}
	if s.telephony != nil {
		s.telephony.Close()
	}
	d.registry.Unregister(s.CallID)
}

func (s *BridgeSession) writeEngine(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.engine == nil {
		return fmt.Errorf("bridge session closed")
	}
	return s.engine.WriteJSON(v)
}

func (s *BridgeSession) writeTelephony(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.telephony == nil {
		return fmt.Errorf("bridge session closed")
	}
	return s.telephony.WriteJSON(v)
}

func (s *BridgeSession) popMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.markQueue {
		if m == name {
			s.markQueue = append(s.markQueue[:i], s.markQueue[i+1:]...)
			return
		}
	}
}

// OnUtterance is not used in bridge mode; speech flows over the stream leg
func (d *BridgeDriver) OnUtterance(callID string, u Utterance) (*TurnDecision, error) {
	return &TurnDecision{NextAction: ActionContinue}, nil
}

// OnTimeout tears down the bridge after a forced termination
func (d *BridgeDriver) OnTimeout(callID string) {
	d.Close(callID)
}

// OnTransferRequested stages a transfer on the live session
func (d *BridgeDriver) OnTransferRequested(callID, destination string) {
	s, ok := d.registry.Lookup(callID)
	if !ok {
		return
	}
	d.stageTransfer(s, destination)
}

// Close tears down the session for a call if one is live
func (d *BridgeDriver) Close(callID string) {
	if s, ok := d.registry.Lookup(callID); ok {
		d.teardown(s)
	}
}
