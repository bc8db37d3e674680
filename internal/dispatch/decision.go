package dispatch

import (
	"fmt"

	"github.com/pitbosshq/pitboss/internal/types"
)

// DefaultErrorThreshold is how many consecutive errors a
// dispatch_after_threshold pattern tolerates before escalating
const DefaultErrorThreshold = 3

// Decision is the outcome of evaluating one pattern match against the
// escalation table
type Decision struct {
	// Escalate is true when the match should be delivered to the
	// dispatch executor
	Escalate bool `json:"escalate"`

	// Reason explains the outcome, including current/threshold counts
	// for below-threshold waits
	Reason string `json:"reason"`
}

// Decide applies the severity × action escalation table:
//
//	restart_and_dispatch         → always escalate (crash-class)
//	P0 + dispatch                → always escalate
//	dispatch_after_threshold     → escalate once consecutiveErrors ≥ threshold
//	anything else                → never escalate
func Decide(p *types.ErrorPattern, consecutiveErrors, threshold int) Decision {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}

	switch {
	case p.Action == types.ActionRestartAndDispatch:
		return Decision{Escalate: true, Reason: "crash-class signature always dispatches"}

	case p.Severity == types.SeverityP0 && p.Action == types.ActionDispatch:
		return Decision{Escalate: true, Reason: "P0 severity dispatches immediately"}

	case p.Action == types.ActionDispatchAfterThreshold:
		if consecutiveErrors >= threshold {
			return Decision{
				Escalate: true,
				Reason:   fmt.Sprintf("consecutive errors reached threshold (%d/%d)", consecutiveErrors, threshold),
			}
		}
		return Decision{
			Escalate: false,
			Reason:   fmt.Sprintf("below threshold: %d/%d consecutive errors", consecutiveErrors, threshold),
		}

	case p.Action == types.ActionDispatch:
		return Decision{Escalate: false, Reason: fmt.Sprintf("severity %s does not auto-dispatch", p.Severity)}

	default:
		return Decision{Escalate: false, Reason: fmt.Sprintf("action %q never dispatches", p.Action)}
	}
}
