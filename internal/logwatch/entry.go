package logwatch

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pitbosshq/pitboss/internal/process"
)

// Level classifies a parsed worker log line
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// IsValid checks if the level value is valid
func (l Level) IsValid() bool {
	switch l {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return true
	}
	return false
}

// Entry is one structured line parsed from the worker's output stream
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// String renders the entry the way the context window and crash
// contexts carry it
func (e Entry) String() string {
	return fmt.Sprintf("[%s] [%s] %s", e.Timestamp.Format("15:04:05"), strings.ToUpper(string(e.Level)), e.Message)
}

var levelTagRe = regexp.MustCompile(`(?i)\[(error|warn|info|debug)\]`)

// parseLine turns a raw process line into a structured entry. The level
// comes from an explicit [LEVEL] tag when present; otherwise it is
// inferred from "error"/"warn" substrings, with bare stderr lines
// defaulting to error and everything else to info.
func parseLine(line process.Line, now time.Time) Entry {
	ts := line.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Entry{
		Timestamp: ts,
		Level:     detectLevel(line.Text, line.Stream),
		Source:    line.Stream,
		Message:   line.Text,
	}
}

func detectLevel(message, stream string) Level {
	if m := levelTagRe.FindStringSubmatch(message); m != nil {
		return Level(strings.ToLower(m[1]))
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error"):
		return LevelError
	case strings.Contains(lower, "warn"):
		return LevelWarn
	case stream == process.StreamStderr:
		return LevelError
	default:
		return LevelInfo
	}
}
