package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent_GlobalBeatsContextual(t *testing.T) {
	// "no thank you" also matches the contextual negative pattern, but the
	// global rejection pattern is checked first and wins outright
	intent, score := ClassifyIntent("no thank you, stop calling us", PhaseAfterPurposeExplain)
	assert.Equal(t, IntentRejection, intent)
	assert.Equal(t, 1.0, score)
}

func TestClassifyIntent_AbsentGlobal(t *testing.T) {
	intent, _ := ClassifyIntent("She is not here today", PhaseAfterInitialQuestion)
	assert.Equal(t, IntentAbsent, intent)

	intent, _ = ClassifyIntent("I think you have the wrong number", PhaseAfterCompanyConfirm)
	assert.Equal(t, IntentAbsent, intent)
}

func TestClassifyIntent_WebsiteRedirect(t *testing.T) {
	intent, _ := ClassifyIntent("just send an email to our info address", PhaseAfterPurposeExplain)
	assert.Equal(t, IntentWebsiteRedirect, intent)
}

func TestClassifyIntent_ContextualByPhase(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		phase string
		want  string
	}{
		{"affirmative opening", "yes, speaking", PhaseAfterInitialQuestion, IntentAffirmative},
		{"identity question", "who is this exactly", PhaseAfterInitialQuestion, IntentAskIdentity},
		{"busy callback", "it's a bad time, call back later", PhaseAfterInitialQuestion, IntentNegative},
		{"purpose question", "what is this about", PhaseAfterCompanyConfirm, IntentPurposeQuestion},
		{"interested", "sure, tell me more", PhaseAfterPurposeExplain, IntentInterested},
		{"soft decline", "maybe later, I need to think about it", PhaseAfterPurposeExplain, IntentDeclineSoft},
		{"transfer hold", "okay, please hold", PhaseWaitingForTransfer, IntentTransferOK},
		{"transfer declined", "no, that's not necessary", PhaseWaitingForTransfer, IntentTransferDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, score := ClassifyIntent(tt.text, tt.phase)
			assert.Equal(t, tt.want, intent)
			assert.Greater(t, score, 0.0)
		})
	}
}

func TestClassifyIntent_Unknown(t *testing.T) {
	intent, score := ClassifyIntent("the weather has been strange lately", PhaseAfterInitialQuestion)
	assert.Equal(t, IntentUnknown, intent)
	assert.Equal(t, 0.0, score)
}

func TestClassifyIntent_EmptyText(t *testing.T) {
	intent, score := ClassifyIntent("   ", PhaseAfterInitialQuestion)
	assert.Equal(t, IntentUnknown, intent)
	assert.Equal(t, 0.0, score)
}

func TestScorePattern_BoostAndCap(t *testing.T) {
	keywords := map[string]float64{"alpha": 1.0, "beta": 1.0}

	// Half the weight matched: below the boost threshold, no boost
	assert.InDelta(t, 0.5, scorePattern("alpha only", keywords), 0.001)

	// Full match: 1.0 boosted by 1.2 but capped at 1.0
	assert.Equal(t, 1.0, scorePattern("alpha and beta", keywords))

	// Exactly at the threshold the boost applies
	threshold := map[string]float64{"one": 0.6, "two": 0.4}
	assert.InDelta(t, 0.6*1.2, scorePattern("one", threshold), 0.001)
}
