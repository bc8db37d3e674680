package types

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks how urgently a matched signature needs human attention
type Severity string

const (
	SeverityP0 Severity = "P0" // drop everything
	SeverityP1 Severity = "P1" // actionable, tolerates a threshold
	SeverityP2 Severity = "P2" // informational
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityP0, SeverityP1, SeverityP2:
		return true
	}
	return false
}

// PatternAction tells the dispatcher what a match should trigger
type PatternAction string

const (
	ActionDispatch               PatternAction = "dispatch"
	ActionDispatchAfterThreshold PatternAction = "dispatch_after_threshold"
	ActionRestartAndDispatch     PatternAction = "restart_and_dispatch"
	ActionLog                    PatternAction = "log"
)

// IsValid checks if the pattern action value is valid
func (a PatternAction) IsValid() bool {
	switch a {
	case ActionDispatch, ActionDispatchAfterThreshold, ActionRestartAndDispatch, ActionLog:
		return true
	}
	return false
}

// BootstrapIDPrefix marks the fixed signatures shipped with the system.
// Bootstrap patterns are pre-approved, never persisted, and their
// occurrence counts never change.
const BootstrapIDPrefix = "bootstrap-"

// MaxPatternContexts caps how many sample contexts a learned pattern keeps
const MaxPatternContexts = 5

// ProposalThreshold is the occurrence count at which a learned pattern
// becomes ready for human review
const ProposalThreshold = 3

// ErrorPattern is a recognizable error signature: either a bootstrap
// signature or one learned from repeated unclassified errors
type ErrorPattern struct {
	ID              string        `json:"id"`
	Pattern         string        `json:"pattern"`
	Severity        Severity      `json:"severity"`
	Action          PatternAction `json:"action"`
	Description     string        `json:"description,omitempty"`
	OccurrenceCount int           `json:"occurrence_count"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	Approved        bool          `json:"approved"`
	Contexts        []string      `json:"contexts,omitempty"`
}

// Validate checks if the pattern has valid field values
func (p *ErrorPattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern id is required")
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return fmt.Errorf("pattern text is required")
	}
	if !p.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", p.Severity)
	}
	if !p.Action.IsValid() {
		return fmt.Errorf("invalid action: %s", p.Action)
	}
	if p.OccurrenceCount < 0 {
		return fmt.Errorf("occurrence_count cannot be negative")
	}
	if len(p.Contexts) > MaxPatternContexts {
		return fmt.Errorf("contexts must hold at most %d samples (got %d)", MaxPatternContexts, len(p.Contexts))
	}
	return nil
}

// IsBootstrap reports whether this is a fixed shipped signature
func (p *ErrorPattern) IsBootstrap() bool {
	return strings.HasPrefix(p.ID, BootstrapIDPrefix)
}

// ShouldPropose reports whether the pattern has recurred enough to be
// worth a human review. Stays true once reached.
func (p *ErrorPattern) ShouldPropose() bool {
	return !p.Approved && p.OccurrenceCount >= ProposalThreshold
}

// AddContext retains a sample context until the cap is reached; samples
// beyond the cap are ignored
func (p *ErrorPattern) AddContext(context string) {
	if context == "" || len(p.Contexts) >= MaxPatternContexts {
		return
	}
	p.Contexts = append(p.Contexts, context)
}

// Clone returns a deep copy of the pattern
func (p *ErrorPattern) Clone() *ErrorPattern {
	if p == nil {
		return nil
	}
	c := *p
	if p.Contexts != nil {
		c.Contexts = append([]string(nil), p.Contexts...)
	}
	return &c
}

// MaxMatchContextChars bounds the recent-log context carried by a match
const MaxMatchContextChars = 500

// PatternMatch records one observed hit of a pattern against a log line.
// Matches live only in a bounded in-memory ring; they are never persisted.
type PatternMatch struct {
	Pattern     *ErrorPattern `json:"pattern"`
	MatchedText string        `json:"matched_text"`
	Context     string        `json:"context,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Clone returns a deep copy of the match
func (m *PatternMatch) Clone() *PatternMatch {
	if m == nil {
		return nil
	}
	c := *m
	c.Pattern = m.Pattern.Clone()
	return &c
}
