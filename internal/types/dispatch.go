package types

// DispatchTypeBugReport is the payload type for pattern-match escalations
const DispatchTypeBugReport = "bug_report"

// PitCrewDispatch is an escalation payload handed to the dispatch
// executor. Created per escalation decision and consumed once.
type PitCrewDispatch struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Context  string            `json:"context"`
	Priority Severity          `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DispatchResult is the parsed outcome of a dispatch executor call
type DispatchResult struct {
	Success      bool   `json:"success"`
	DiscussionID string `json:"discussion_id,omitempty"`
	NotionURL    string `json:"notion_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// PatternStats summarizes registry population for status output
type PatternStats struct {
	Active         int `json:"active"`
	Bootstrap      int `json:"bootstrap"`
	Learned        int `json:"learned"`
	Proposed       int `json:"proposed"`
	ReadyForReview int `json:"ready_for_review"`
}

// SupervisorStatus aggregates the full control-surface view: process
// state, latest telemetry, pattern stats, and the recent-match ring
type SupervisorStatus struct {
	InstanceID    string             `json:"instance_id"`
	Running       bool               `json:"running"`
	Process       *ProcessState      `json:"process"`
	Telemetry     *TelemetrySnapshot `json:"telemetry,omitempty"`
	Patterns      PatternStats       `json:"patterns"`
	RecentMatches []*PatternMatch    `json:"recent_matches,omitempty"`
}
