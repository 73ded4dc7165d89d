package services

import (
	"strings"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// ClassifyEndReason maps a raw provider end-cause string to a canonical end reason
func ClassifyEndReason(endCause string) string {
	cause := strings.ToLower(strings.TrimSpace(endCause))

	switch {
	case cause == "":
		return models.EndReasonNormal
	case strings.Contains(cause, "callee") && strings.Contains(cause, "hung"),
		strings.Contains(cause, "callee") && strings.Contains(cause, "hangup"),
		strings.Contains(cause, "agent") && strings.Contains(cause, "hung"):
		return models.EndReasonAgentHangup
	case strings.Contains(cause, "caller") && strings.Contains(cause, "hung"),
		strings.Contains(cause, "customer") && strings.Contains(cause, "hung"),
		strings.Contains(cause, "remote") && strings.Contains(cause, "hangup"):
		return models.EndReasonCustomerHangup
	case strings.Contains(cause, "timeout"), strings.Contains(cause, "timed out"):
		return models.EndReasonTimeout
	case strings.Contains(cause, "assistant"), strings.Contains(cause, "ai-initiated"),
		strings.Contains(cause, "ai_initiated"):
		return models.EndReasonAIInitiated
	case strings.Contains(cause, "manual"), strings.Contains(cause, "cancel"):
		return models.EndReasonManual
	case strings.Contains(cause, "error"), strings.Contains(cause, "fail"):
		return models.EndReasonSystemError
	case strings.Contains(cause, "normal"):
		return models.EndReasonNormal
	default:
		return models.EndReasonNormal
	}
}

// ResolveCallResult resolves the final call result with explicit precedence:
// a driver-directed result wins over the end-cause default, which wins over
// the raw provider-status fallback.
func ResolveCallResult(driverResult, endReason, rawStatus string) string {
	// 1. Driver-directed result (e.g. respond_and_end with intent "absent")
	if driverResult != "" {
		return driverResult
	}

	// 2. End-cause-derived default
	switch endReason {
	case models.EndReasonCustomerHangup:
		return models.ResultDeclined
	case models.EndReasonAgentHangup:
		return models.ResultSuccess
	case models.EndReasonTimeout:
		return models.ResultNeedsFollow
	case models.EndReasonSystemError:
		return models.ResultFailed
	case models.EndReasonAIInitiated, models.EndReasonNormal, models.EndReasonManual:
		return models.ResultSuccess
	}

	// 3. Generic fallback from the raw provider status
	switch strings.ToLower(rawStatus) {
	case "completed":
		return models.ResultSuccess
	case "busy", "no-answer":
		return models.ResultAbsent
	case "failed", "canceled", "cancelled":
		return models.ResultFailed
	default:
		return models.ResultFailed
	}
}
