package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitbosshq/pitboss/internal/types"
)

func newEvent(t EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
	}
}

// NewStartedEvent creates a started(pid) event
func NewStartedEvent(pid int) Event {
	ev := newEvent(EventStarted)
	ev.Started = &StartedData{PID: pid}
	return ev
}

// NewStoppedEvent creates a stopped(code) event
func NewStoppedEvent(code int) Event {
	ev := newEvent(EventStopped)
	ev.Stopped = &StoppedData{Code: code}
	return ev
}

// NewErrorEvent creates an error(err, shouldDispatch) event
func NewErrorEvent(err string, shouldDispatch bool) Event {
	ev := newEvent(EventError)
	ev.Error = &ErrorData{Err: err, ShouldDispatch: shouldDispatch}
	return ev
}

// NewPatternMatchedEvent creates a pattern_matched(match) event
func NewPatternMatchedEvent(match *types.PatternMatch) Event {
	ev := newEvent(EventPatternMatched)
	ev.PatternMatched = &PatternMatchedData{Match: match}
	return ev
}

// NewDispatchSentEvent creates a dispatch_sent(dispatch, result) event
func NewDispatchSentEvent(dispatch *types.PitCrewDispatch, result *types.DispatchResult) Event {
	ev := newEvent(EventDispatchSent)
	ev.DispatchSent = &DispatchSentData{Dispatch: dispatch, Result: result}
	return ev
}

// NewTelemetryEvent creates a telemetry(status) event
func NewTelemetryEvent(snapshot *types.TelemetrySnapshot, promoted bool, severity, reason string) Event {
	ev := newEvent(EventTelemetry)
	ev.Telemetry = &TelemetryData{
		Snapshot: snapshot,
		Promoted: promoted,
		Severity: severity,
		Reason:   reason,
	}
	return ev
}

// NewLogEvent creates a log(level, message) event
func NewLogEvent(level, message string) Event {
	ev := newEvent(EventLog)
	ev.Log = &LogData{Level: level, Message: message}
	return ev
}
