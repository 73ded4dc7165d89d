package services

import "strings"

// Conversation phase constants
const (
	PhaseAfterInitialQuestion = "after_initial_question"
	PhaseAfterCompanyConfirm  = "after_company_confirmation"
	PhaseAfterPurposeExplain  = "after_purpose_explanation"
	PhaseWaitingForTransfer   = "waiting_for_transfer"
)

// Intent constants
const (
	IntentRejection        = "rejection"
	IntentAbsent           = "absent"
	IntentWebsiteRedirect  = "website_redirect"
	IntentAffirmative      = "affirmative"
	IntentNegative         = "negative"
	IntentAskIdentity      = "ask_identity"
	IntentPurposeQuestion  = "purpose_question"
	IntentInterested       = "interested"
	IntentDeclineSoft      = "decline_soft"
	IntentClarify          = "clarify"
	IntentTransferOK       = "transfer_confirmed"
	IntentTransferDeclined = "transfer_declined"
	IntentUnknown          = "unknown"
)

// IntentPattern scores an utterance against weighted keywords. The score is
// the matched weight divided by the total weight, boosted once it clears the
// confidence threshold.
type IntentPattern struct {
	Intent   string
	Keywords map[string]float64
}

const (
	scoreBoostThreshold = 0.6
	scoreBoostFactor    = 1.2
)

// globalPatterns are context-independent signals checked before any phase
// pattern. First match wins.
var globalPatterns = []IntentPattern{
	{Intent: IntentRejection, Keywords: map[string]float64{
		"not interested": 1.0, "stop calling": 1.0, "remove us": 1.0,
		"don't call": 1.0, "no thank you": 0.8, "no thanks": 0.8,
	}},
	{Intent: IntentAbsent, Keywords: map[string]float64{
		"not here": 1.0, "not in": 0.8, "unavailable": 0.8,
		"out of the office": 1.0, "on leave": 0.8, "wrong number": 1.0,
		"no longer works": 1.0,
	}},
	{Intent: IntentWebsiteRedirect, Keywords: map[string]float64{
		"check the website": 1.0, "look at our website": 1.0,
		"send an email": 1.0, "email us": 1.0, "apply online": 0.8,
	}},
}

// contextualPatterns are selected by the current conversation phase
var contextualPatterns = map[string][]IntentPattern{
	PhaseAfterInitialQuestion: {
		{Intent: IntentAffirmative, Keywords: map[string]float64{
			"yes": 1.0, "sure": 0.8, "go ahead": 1.0, "speaking": 1.0,
			"that's me": 1.0, "this is": 0.6, "okay": 0.6,
		}},
		{Intent: IntentNegative, Keywords: map[string]float64{
			"no": 0.8, "busy": 1.0, "call back": 1.0, "later": 0.8,
			"bad time": 1.0, "in a meeting": 1.0,
		}},
		{Intent: IntentAskIdentity, Keywords: map[string]float64{
			"who is this": 1.0, "who's calling": 1.0, "what company": 1.0,
			"where are you calling from": 1.0, "who are you": 1.0,
		}},
		{Intent: IntentClarify, Keywords: map[string]float64{
			"sorry": 0.6, "what": 0.5, "pardon": 1.0, "repeat": 1.0,
			"say that again": 1.0, "didn't catch": 1.0,
		}},
	},
	PhaseAfterCompanyConfirm: {
		{Intent: IntentAffirmative, Keywords: map[string]float64{
			"yes": 1.0, "right": 0.8, "correct": 1.0, "that's us": 1.0, "go on": 0.8,
		}},
		{Intent: IntentPurposeQuestion, Keywords: map[string]float64{
			"what is this about": 1.0, "what's this about": 1.0,
			"regarding": 0.8, "why are you calling": 1.0, "what do you want": 1.0,
		}},
		{Intent: IntentNegative, Keywords: map[string]float64{
			"no": 0.8, "not interested": 1.0, "don't need": 1.0,
		}},
		{Intent: IntentClarify, Keywords: map[string]float64{
			"sorry": 0.6, "what": 0.5, "pardon": 1.0, "repeat": 1.0,
			"say that again": 1.0,
		}},
	},
	PhaseAfterPurposeExplain: {
		{Intent: IntentInterested, Keywords: map[string]float64{
			"interested": 1.0, "tell me more": 1.0, "sounds good": 1.0,
			"go ahead": 0.8, "sure": 0.6, "yes": 0.6,
		}},
		{Intent: IntentDeclineSoft, Keywords: map[string]float64{
			"not now": 1.0, "maybe later": 1.0, "think about it": 1.0,
			"not right now": 1.0, "some other time": 1.0,
		}},
		{Intent: IntentNegative, Keywords: map[string]float64{
			"no": 0.8, "not interested": 1.0, "don't need": 1.0,
		}},
		{Intent: IntentClarify, Keywords: map[string]float64{
			"sorry": 0.6, "what": 0.5, "pardon": 1.0, "repeat": 1.0,
			"say that again": 1.0,
		}},
	},
	PhaseWaitingForTransfer: {
		{Intent: IntentTransferOK, Keywords: map[string]float64{
			"okay": 0.8, "go ahead": 1.0, "connect me": 1.0, "put me through": 1.0,
			"yes": 0.8, "sure": 0.8, "please hold": 1.0,
		}},
		{Intent: IntentTransferDeclined, Keywords: map[string]float64{
			"no": 0.8, "don't transfer": 1.0, "not necessary": 1.0, "never mind": 1.0,
		}},
		{Intent: IntentClarify, Keywords: map[string]float64{
			"sorry": 0.6, "what": 0.5, "pardon": 1.0, "repeat": 1.0,
		}},
	},
}

// ClassifyIntent resolves an utterance to an intent. Global patterns are
// checked first and win outright; otherwise the highest-scoring contextual
// pattern for the current phase wins. No match resolves to "unknown".
func ClassifyIntent(text, phase string) (string, float64) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return IntentUnknown, 0
	}

	// Context-independent signals take precedence, first match wins
	for _, p := range globalPatterns {
		if matchedWeight(normalized, p.Keywords) > 0 {
			return p.Intent, 1.0
		}
	}

	bestIntent := IntentUnknown
	bestScore := 0.0
	for _, p := range contextualPatterns[phase] {
		score := scorePattern(normalized, p.Keywords)
		if score > bestScore {
			bestScore = score
			bestIntent = p.Intent
		}
	}
	if bestScore == 0 {
		return IntentUnknown, 0
	}
	return bestIntent, bestScore
}

// scorePattern is the matched-weight share of the pattern's total weight,
// boosted by 1.2 and capped at 1.0 once it reaches the threshold.
func scorePattern(text string, keywords map[string]float64) float64 {
	total := 0.0
	for _, w := range keywords {
		total += w
	}
	if total == 0 {
		return 0
	}

	score := matchedWeight(text, keywords) / total
	if score >= scoreBoostThreshold {
		score *= scoreBoostFactor
		if score > 1.0 {
			score = 1.0
		}
	}
	return score
}

func matchedWeight(text string, keywords map[string]float64) float64 {
	matched := 0.0
	for kw, w := range keywords {
		if strings.Contains(text, kw) {
			matched += w
		}
	}
	return matched
}
