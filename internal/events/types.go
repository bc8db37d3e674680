// Package events defines the supervisor event stream: typed payloads for
// every observable occurrence (process lifecycle, pattern matches,
// dispatches, telemetry, log mirroring) and the emitter that fans them
// out to handlers and channel subscribers.
package events

import (
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

// EventType identifies a supervisor event
type EventType string

const (
	// EventStarted fires when the worker process comes up
	EventStarted EventType = "started"
	// EventStopped fires when the worker process exits for any reason
	EventStopped EventType = "stopped"
	// EventError fires for process-level and classified log errors
	EventError EventType = "error"
	// EventPatternMatched fires when a log line hits a known signature
	EventPatternMatched EventType = "pattern_matched"
	// EventDispatchSent fires after an escalation delivery attempt
	EventDispatchSent EventType = "dispatch_sent"
	// EventTelemetry fires once per telemetry tick
	EventTelemetry EventType = "telemetry"
	// EventLog mirrors noteworthy supervisor log output
	EventLog EventType = "log"
)

// IsValid checks if the event type value is valid
func (t EventType) IsValid() bool {
	switch t {
	case EventStarted, EventStopped, EventError, EventPatternMatched,
		EventDispatchSent, EventTelemetry, EventLog:
		return true
	}
	return false
}

// StartedData carries the started(pid) payload
type StartedData struct {
	PID int `json:"pid"`
}

// StoppedData carries the stopped(code) payload
type StoppedData struct {
	Code int `json:"code"`
}

// ErrorData carries the error(err, shouldDispatch) payload
type ErrorData struct {
	Err            string `json:"err"`
	ShouldDispatch bool   `json:"should_dispatch"`
}

// PatternMatchedData carries the pattern_matched(match) payload
type PatternMatchedData struct {
	Match *types.PatternMatch `json:"match"`
}

// DispatchSentData carries the dispatch_sent(dispatch, result) payload
type DispatchSentData struct {
	Dispatch *types.PitCrewDispatch `json:"dispatch"`
	Result   *types.DispatchResult  `json:"result"`
}

// TelemetryData carries the telemetry(status) payload: the snapshot just
// taken plus the promotion outcome
type TelemetryData struct {
	Snapshot *types.TelemetrySnapshot `json:"snapshot"`
	Promoted bool                     `json:"promoted"`
	Severity string                   `json:"severity,omitempty"`
	Reason   string                   `json:"reason,omitempty"`
}

// LogData carries the log(level, message) payload
type LogData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Event is one supervisor occurrence. Exactly one payload field is
// non-nil and it always corresponds to Type.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Started        *StartedData        `json:"started,omitempty"`
	Stopped        *StoppedData        `json:"stopped,omitempty"`
	Error          *ErrorData          `json:"error,omitempty"`
	PatternMatched *PatternMatchedData `json:"pattern_matched,omitempty"`
	DispatchSent   *DispatchSentData   `json:"dispatch_sent,omitempty"`
	Telemetry      *TelemetryData      `json:"telemetry,omitempty"`
	Log            *LogData            `json:"log,omitempty"`
}
