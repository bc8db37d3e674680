package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pitbosshq/pitboss/internal/types"
)

// exitCodeRe recognizes crash phrasing in a signature or matched line.
// The crash-class bootstrap signature is a regex, so its matches carry
// "exited with code N" rather than a fixed literal.
var exitCodeRe = regexp.MustCompile(`(?i)exit(ed)?\s+(with\s+)?code`)

// BuildDispatch renders a pattern match plus current process state into
// an escalation payload for the dispatch executor
func BuildDispatch(match *types.PatternMatch, state *types.ProcessState, now time.Time) *types.PitCrewDispatch {
	p := match.Pattern

	title := p.Description
	if title == "" {
		title = p.Pattern
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pattern: %s\n", p.Pattern)
	fmt.Fprintf(&b, "Severity: %s\n", p.Severity)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	fmt.Fprintf(&b, "\nMatched line:\n%s\n", match.MatchedText)
	if match.Context != "" {
		fmt.Fprintf(&b, "\nRecent output:\n%s\n", match.Context)
	}

	b.WriteString("\nProcess state:\n")
	fmt.Fprintf(&b, "- Consecutive errors: %d\n", state.ConsecutiveErrors)
	fmt.Fprintf(&b, "- Total errors: %d\n", state.ErrorCount)
	fmt.Fprintf(&b, "- Restarts: %d\n", state.RestartCount)
	fmt.Fprintf(&b, "- Uptime: %s\n", state.Uptime(now).Truncate(time.Second))
	if state.LastSuccessTime != nil {
		fmt.Fprintf(&b, "- Last success: %s\n", state.LastSuccessTime.Format(time.RFC3339))
	} else {
		b.WriteString("- Last success: none recorded\n")
	}

	fmt.Fprintf(&b, "\nImpact:\n%s", ImpactAssessment(match, state.ConsecutiveErrors))

	return &types.PitCrewDispatch{
		ID:       uuid.New().String(),
		Type:     types.DispatchTypeBugReport,
		Title:    fmt.Sprintf("[%s] Worker error: %s", p.Severity, title),
		Context:  b.String(),
		Priority: p.Severity,
		Metadata: map[string]string{
			"pattern_id":         p.ID,
			"pattern":            p.Pattern,
			"consecutive_errors": strconv.Itoa(state.ConsecutiveErrors),
			"restart_count":      strconv.Itoa(state.RestartCount),
		},
	}
}

// ImpactAssessment selects a severity-specific impact paragraph by
// matching well-known substrings in the signature and the matched line
func ImpactAssessment(match *types.PatternMatch, consecutiveErrors int) string {
	hay := match.Pattern.Pattern + " " + match.MatchedText

	switch {
	case strings.Contains(hay, "ECONNREFUSED") || strings.Contains(hay, "ETIMEDOUT"):
		return "Worker cannot reach an upstream dependency. Integration calls will keep failing until connectivity is restored."
	case strings.Contains(hay, "401") || strings.Contains(hay, "Unauthorized"):
		return "Authentication with an upstream service is failing. Tokens or credentials have likely expired; every authenticated call is affected."
	case strings.Contains(hay, "UnhandledPromiseRejection"):
		return "Code defect: an async failure escaped its handler. The worker may be in an inconsistent state until the defect is fixed."
	case exitCodeRe.MatchString(hay):
		return "The worker process crashed. In-flight work was lost and the supervisor is cycling the process."
	case consecutiveErrors > 5:
		return fmt.Sprintf("Recurring issue: %d consecutive errors with no successful operation in between.", consecutiveErrors)
	default:
		return "Single classified error; impact appears limited so far. Review the surrounding output to assess scope."
	}
}
