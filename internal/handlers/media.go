package handlers

import (
	"encoding/json"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/callpilot-ai/callpilot-backend/internal/services"
)

// MediaHandler accepts the telephony media stream socket and wires it to the
// bridge driver.
type MediaHandler struct {
	bridge *services.BridgeDriver
}

// NewMediaHandler creates a new media stream handler
func NewMediaHandler(bridge *services.BridgeDriver) *MediaHandler {
	return &MediaHandler{bridge: bridge}
}

// Upgrade gates the route to websocket requests only
func (h *MediaHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream is the websocket handler for one media stream connection. It waits
// for the start frame to learn which call this stream belongs to, then feeds
// every frame to the bridge session.
func (h *MediaHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		var session *services.BridgeSession

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if session != nil {
					h.bridge.Close(session.CallID)
				}
				return
			}

			if session == nil {
				callID, streamSID, ok := parseStreamStart(raw)
				if !ok {
					continue
				}
				session, err = h.bridge.StartSession(callID, streamSID, conn)
				if err != nil {
					log.Printf("Failed to start bridge session for call %s: %v", callID, err)
					conn.Close()
					return
				}
				continue
			}

			h.bridge.HandleStreamMessage(session, raw)
		}
	})
}

// parseStreamStart extracts the call id and stream sid from a start frame
func parseStreamStart(raw []byte) (callID, streamSID string, ok bool) {
	var msg struct {
		Event string `json:"event"`
		Start *struct {
			StreamSid        string            `json:"streamSid"`
			CustomParameters map[string]string `json:"customParameters"`
		} `json:"start"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", "", false
	}
	if msg.Event != "start" || msg.Start == nil {
		return "", "", false
	}
	return msg.Start.CustomParameters["call_id"], msg.Start.StreamSid, true
}
