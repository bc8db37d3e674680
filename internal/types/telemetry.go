package types

import "time"

// CrashContextFeedLines is how many recent log lines a crash context keeps
const CrashContextFeedLines = 5

// CrashContext captures worker state at the moment of an unexpected exit.
// Attached to the next telemetry snapshot, then cleared, so each crash is
// reported exactly once.
type CrashContext struct {
	LastFeedEntries []string  `json:"last_feed_entries,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	ActiveSkill     string    `json:"active_skill,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the crash context
func (c *CrashContext) Clone() *CrashContext {
	if c == nil {
		return nil
	}
	cc := *c
	if c.LastFeedEntries != nil {
		cc.LastFeedEntries = append([]string(nil), c.LastFeedEntries...)
	}
	return &cc
}

// TelemetrySnapshot is a point-in-time health summary of the worker and
// its log stream
type TelemetrySnapshot struct {
	Timestamp             time.Time          `json:"timestamp"`
	UptimeSeconds         float64            `json:"uptime_seconds"`
	MemoryUsage           uint64             `json:"memory_usage"`
	MemoryUsageMb         float64            `json:"memory_usage_mb"`
	RequestCount          int64              `json:"request_count"`
	ErrorCount            int64              `json:"error_count"`
	ErrorRate             float64            `json:"error_rate"`
	P50LatencyMs          float64            `json:"p50_latency_ms"`
	P95LatencyMs          float64            `json:"p95_latency_ms"`
	IntegrationErrorRates map[string]float64 `json:"integration_error_rates,omitempty"`
	UnknownErrorPatterns  []string           `json:"unknown_error_patterns,omitempty"`
	LastCrashContext      *CrashContext      `json:"last_crash_context,omitempty"`
}

// Clone returns a deep copy of the snapshot
func (s *TelemetrySnapshot) Clone() *TelemetrySnapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.IntegrationErrorRates != nil {
		c.IntegrationErrorRates = make(map[string]float64, len(s.IntegrationErrorRates))
		for k, v := range s.IntegrationErrorRates {
			c.IntegrationErrorRates[k] = v
		}
	}
	if s.UnknownErrorPatterns != nil {
		c.UnknownErrorPatterns = append([]string(nil), s.UnknownErrorPatterns...)
	}
	c.LastCrashContext = s.LastCrashContext.Clone()
	return &c
}

// HeartbeatEntry pairs a snapshot with its append time in the capped
// heartbeat log
type HeartbeatEntry struct {
	Timestamp time.Time          `json:"timestamp"`
	Snapshot  *TelemetrySnapshot `json:"snapshot"`
}
