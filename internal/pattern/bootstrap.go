package pattern

import (
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

// bootstrapPatterns returns the fixed signature set every registry
// starts with. These are pre-approved, never persisted, and their
// occurrence counts are not tracked.
func bootstrapPatterns(now time.Time) []*types.ErrorPattern {
	seed := func(id, pattern string, severity types.Severity, action types.PatternAction, description string) *types.ErrorPattern {
		return &types.ErrorPattern{
			ID:          types.BootstrapIDPrefix + id,
			Pattern:     pattern,
			Severity:    severity,
			Action:      action,
			Description: description,
			FirstSeen:   now,
			LastSeen:    now,
			Approved:    true,
		}
	}

	return []*types.ErrorPattern{
		seed("connection-refused", `ECONNREFUSED`,
			types.SeverityP1, types.ActionDispatchAfterThreshold,
			"Worker cannot reach a local service"),
		seed("auth-failure", `401|Unauthorized`,
			types.SeverityP0, types.ActionDispatch,
			"Authentication failure against an external API"),
		seed("unhandled-rejection", `UnhandledPromiseRejection`,
			types.SeverityP0, types.ActionRestartAndDispatch,
			"Unhandled promise rejection in the worker"),
		seed("nonzero-exit", `exit(ed)?\s+(with\s+)?code\s+[1-9]`,
			types.SeverityP0, types.ActionRestartAndDispatch,
			"Worker exited with a non-zero code"),
		seed("timeout", `ETIMEDOUT|ESOCKETTIMEDOUT|timed?\s+out`,
			types.SeverityP1, types.ActionDispatchAfterThreshold,
			"Call to an external service timed out"),
		seed("dns-failure", `ENOTFOUND|EAI_AGAIN|getaddrinfo`,
			types.SeverityP1, types.ActionDispatchAfterThreshold,
			"DNS resolution failure"),
		seed("rate-limit", `429|rate.?limit`,
			types.SeverityP2, types.ActionLog,
			"External API rate limiting"),
		seed("object-not-found", `object_not_found`,
			types.SeverityP2, types.ActionLog,
			"Notion object missing or not shared with the integration"),
	}
}
