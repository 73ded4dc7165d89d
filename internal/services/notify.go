package services

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// NotifyService broadcasts call status and transcript events to the
// notification collaborator. Delivery is best-effort and never blocks the
// calling path; failures are only logged.
type NotifyService struct {
	webhookURL string
	client     *http.Client
}

// NewNotifyService creates a new notification service
func NewNotifyService() *NotifyService {
	return &NotifyService{
		webhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

type notifyEvent struct {
	Type       string    `json:"type"`
	CallID     string    `json:"call_id"`
	Status     string    `json:"status,omitempty"`
	CallResult string    `json:"call_result,omitempty"`
	EndReason  string    `json:"end_reason,omitempty"`
	Speaker    string    `json:"speaker,omitempty"`
	Text       string    `json:"text,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// BroadcastStatus announces a call status change
func (n *NotifyService) BroadcastStatus(call *models.CallSession) {
	if call == nil {
		return
	}
	n.send(notifyEvent{
		Type:       "call_status",
		CallID:     call.CallID,
		Status:     call.Status,
		CallResult: call.CallResult,
		EndReason:  call.EndReason,
		SentAt:     time.Now(),
	})
}

// BroadcastTranscript announces one transcript entry
func (n *NotifyService) BroadcastTranscript(callID, speaker, text string) {
	n.send(notifyEvent{
		Type:    "transcript",
		CallID:  callID,
		Speaker: speaker,
		Text:    text,
		SentAt:  time.Now(),
	})
}

func (n *NotifyService) send(event notifyEvent) {
	if n.webhookURL == "" {
		return
	}

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal notify event: %v", err)
			return
		}
		resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("Notify broadcast failed for call %s: %v", event.CallID, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Printf("Notify broadcast rejected for call %s (status %d)", event.CallID, resp.StatusCode)
		}
	}()
}
