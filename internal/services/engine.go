package services

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeEngineDialer dials the realtime conversation engine over websocket
// and primes the session before handing the connection to the bridge.
type RealtimeEngineDialer struct {
	url    string
	apiKey string
	ledger *CallLedger
}

func NewRealtimeEngineDialer(ledger *CallLedger) *RealtimeEngineDialer {
	return &RealtimeEngineDialer{
		url:    os.Getenv("ENGINE_WS_URL"),
		apiKey: os.Getenv("ENGINE_API_KEY"),
		ledger: ledger,
	}
}

// Dial opens the engine leg for one call and sends the session config
func (e *RealtimeEngineDialer) Dial(callID string) (WSConn, error) {
	if e.url == "" {
		return nil, fmt.Errorf("ENGINE_WS_URL not configured")
	}

	header := http.Header{}
	if e.apiKey != "" {
		header.Set("Authorization", "Bearer "+e.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(e.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine: %w", err)
	}

	if err := e.primeSession(conn, callID); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("🔌 Engine leg connected for call %s", callID)
	return conn, nil
}

// primeSession configures audio formats and the call-specific instructions
func (e *RealtimeEngineDialer) primeSession(conn *websocket.Conn, callID string) error {
	instructions := ""
	if call, err := e.ledger.GetCall(callID); err == nil {
		if cfg, err := ResolveCallConfig(call); err == nil {
			instructions = RenderTemplate(TemplateIntroduction, cfg) + " " + cfg.PitchText
		}
	}

	return conn.WriteJSON(map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"turn_detection":      map[string]string{"type": "server_vad"},
			"instructions":        instructions,
		},
	})
}
