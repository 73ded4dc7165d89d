package services

import (
	"fmt"
	"log"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Leg purposes for outbound leg creation
const (
	LegPurposeConference = "conference"
	LegPurposeDirect     = "direct"
)

// Telephony is the outbound interface to the telephony provider. All calls
// are fire-and-forget: outcomes arrive later through status callbacks.
type Telephony interface {
	// CreateLeg places an outbound call leg and returns the provider leg id
	CreateLeg(to, twimlURL, statusCallbackURL string) (string, error)
	// Hangup requests remote termination of a leg
	Hangup(legID string) error
	// Redirect replaces the live TwiML of a leg
	Redirect(legID, twiml string) error
}

// TwilioService talks to the Twilio REST API
type TwilioService struct {
	client *twilio.RestClient
	from   string // Caller id for outbound legs
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService() (*TwilioService, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_PHONE_NUMBER")

	if accountSid == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials in environment variables")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &TwilioService{
		client: client,
		from:   from,
	}, nil
}

// CreateLeg places an outbound call and returns the new call SID
func (t *TwilioService) CreateLeg(to, twimlURL, statusCallbackURL string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetUrl(twimlURL)
	if statusCallbackURL != "" {
		params.SetStatusCallback(statusCallbackURL)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		log.Printf("❌ Failed to create outbound leg to %s: %v", to, err)
		return "", err
	}

	log.Printf("✅ Outbound leg created! SID: %s", *resp.Sid)
	return *resp.Sid, nil
}

// Hangup requests termination of a live leg
func (t *TwilioService) Hangup(legID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")

	_, err := t.client.Api.UpdateCall(legID, params)
	if err != nil {
		log.Printf("❌ Failed to hang up leg %s: %v", legID, err)
		return err
	}
	return nil
}

// Redirect replaces the in-progress TwiML of a leg
func (t *TwilioService) Redirect(legID, twiml string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetTwiml(twiml)

	_, err := t.client.Api.UpdateCall(legID, params)
	if err != nil {
		log.Printf("❌ Failed to redirect leg %s: %v", legID, err)
		return err
	}
	return nil
}

// ConferenceTwiML joins a leg into a named conference room
func ConferenceTwiML(conferenceID string, endOnExit bool) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Dial>
        <Conference endConferenceOnExit="%t" statusCallbackEvent="join leave">%s</Conference>
    </Dial>
</Response>`, endOnExit, conferenceID)
}

// DialTwiML bridges a leg directly to a destination number
func DialTwiML(destination, actionURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Dial action="%s">%s</Dial>
</Response>`, actionURL, destination)
}
