package types

import "time"

// ProcessStatus represents the worker process lifecycle state
type ProcessStatus string

const (
	StatusStopped  ProcessStatus = "stopped"
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusErrored  ProcessStatus = "error"
	StatusStopping ProcessStatus = "stopping"
)

// IsValid checks if the process status value is valid
func (s ProcessStatus) IsValid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusErrored, StatusStopping:
		return true
	}
	return false
}

// ProcessState tracks the worker process condition across restarts.
// Created once at supervisor construction with zero values and mutated in
// place by the process manager; external readers get deep copies via Clone.
type ProcessState struct {
	Status            ProcessStatus `json:"status"`
	PID               int           `json:"pid"`
	StartTime         *time.Time    `json:"start_time,omitempty"`
	RestartCount      int           `json:"restart_count"`
	ErrorCount        int           `json:"error_count"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastError         string        `json:"last_error,omitempty"`
	LastErrorTime     *time.Time    `json:"last_error_time,omitempty"`
	LastSuccessTime   *time.Time    `json:"last_success_time,omitempty"`
	DispatchedBugs    []string      `json:"dispatched_bugs,omitempty"`
}

// Clone returns a deep copy safe to hand to concurrent readers
func (s *ProcessState) Clone() *ProcessState {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.LastErrorTime != nil {
		t := *s.LastErrorTime
		c.LastErrorTime = &t
	}
	if s.LastSuccessTime != nil {
		t := *s.LastSuccessTime
		c.LastSuccessTime = &t
	}
	if s.DispatchedBugs != nil {
		c.DispatchedBugs = append([]string(nil), s.DispatchedBugs...)
	}
	return &c
}

// Uptime returns how long the process has been up as of now, or zero when
// it has no recorded start time
func (s *ProcessState) Uptime(now time.Time) time.Duration {
	if s == nil || s.StartTime == nil {
		return 0
	}
	d := now.Sub(*s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}
