package services

import (
	"fmt"
	"os"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// Documented defaults for per-call AI configuration. Every field of a
// resolved CallConfig falls back to one of these, so templates never render
// an unresolved placeholder.
const (
	DefaultCompanyName        = "our company"
	DefaultServiceName        = "our service"
	DefaultRepresentativeName = "the assistant"
	DefaultDepartment         = "sales"
	DefaultVoiceID            = "alice"
)

// DefaultPitchText is the fallback pitch when none is configured for the call
const DefaultPitchText = "We help businesses cut costs on their day-to-day operations, " +
	"and I would love to share a few details that may be relevant to you."

// CallConfig is the immutable per-call AI configuration. It is resolved
// exactly once, before any driver runs.
type CallConfig struct {
	CompanyName        string
	ServiceName        string
	RepresentativeName string
	Department         string
	PitchText          string
	VoiceID            string
}

// ResolveCallConfig resolves the configuration for one call: session columns
// first, then environment, then package defaults.
func ResolveCallConfig(call *models.CallSession) (CallConfig, error) {
	if call == nil {
		return CallConfig{}, fmt.Errorf("no call session to resolve configuration for")
	}

	cfg := CallConfig{
		CompanyName:        firstNonEmpty(call.CompanyName, os.Getenv("AI_COMPANY_NAME"), DefaultCompanyName),
		ServiceName:        firstNonEmpty(call.ServiceName, os.Getenv("AI_SERVICE_NAME"), DefaultServiceName),
		RepresentativeName: firstNonEmpty(call.RepresentativeName, os.Getenv("AI_REPRESENTATIVE_NAME"), DefaultRepresentativeName),
		Department:         firstNonEmpty(call.Department, os.Getenv("AI_DEPARTMENT"), DefaultDepartment),
		PitchText:          firstNonEmpty(call.PitchText, os.Getenv("AI_PITCH_TEXT"), DefaultPitchText),
		VoiceID:            firstNonEmpty(call.VoiceID, os.Getenv("AI_VOICE_ID"), DefaultVoiceID),
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
