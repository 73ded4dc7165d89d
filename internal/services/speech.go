package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// SpeechService requests speech synthesis from the TTS collaborator. A nil
// result (empty URL) signals the caller to fall back to the provider voice.
type SpeechService struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewSpeechService creates a new speech synthesis service
func NewSpeechService() *SpeechService {
	return &SpeechService{
		apiURL: os.Getenv("TTS_API_URL"),
		apiKey: os.Getenv("TTS_API_KEY"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

// Synthesize requests audio for the given text and voice profile. Returns an
// empty URL (never an error the caller must branch on) when synthesis is
// unavailable, triggering the documented fallback voice path.
func (s *SpeechService) Synthesize(text, voiceID string) string {
	if s.apiURL == "" || text == "" {
		return ""
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: voiceID})
	if err != nil {
		log.Printf("Failed to marshal TTS request: %v", err)
		return ""
	}

	req, err := http.NewRequest("POST", s.apiURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("Failed to build TTS request: %v", err)
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("TTS request failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("TTS API error (status %d): %s", resp.StatusCode, string(body))
		return ""
	}

	var result synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("Failed to decode TTS response: %v", err)
		return ""
	}
	return result.AudioURL
}

// Speak renders reply TwiML for a synthesized clip, or falls back to the
// provider <Say> voice when no clip could be produced.
func (s *SpeechService) Speak(text, voiceID string) string {
	if url := s.Synthesize(text, voiceID); url != "" {
		return fmt.Sprintf("<Play>%s</Play>", url)
	}
	return fmt.Sprintf(`<Say voice="%s">%s</Say>`, voiceID, text)
}
