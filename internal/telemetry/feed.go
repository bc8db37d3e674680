package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

// Report is one promoted telemetry entry handed to the feed
type Report struct {
	Timestamp time.Time                `json:"timestamp"`
	Severity  string                   `json:"severity"`
	Title     string                   `json:"title"`
	Body      string                   `json:"body"`
	Snapshot  *types.TelemetrySnapshot `json:"snapshot,omitempty"`
}

// Feed receives promoted telemetry reports
type Feed interface {
	Publish(ctx context.Context, report *Report) error
}

// FileFeed appends reports to a JSONL file, one report per line.
// The console's feed command and external tooling tail this file.
type FileFeed struct {
	mu   sync.Mutex
	path string
}

// NewFileFeed creates a feed writing to path, creating the parent
// directory if needed
func NewFileFeed(path string) (*FileFeed, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create feed directory: %w", err)
	}
	return &FileFeed{path: path}, nil
}

// Path returns the backing file location
func (f *FileFeed) Path() string {
	return f.path
}

// Publish appends one report as a JSON line
func (f *FileFeed) Publish(ctx context.Context, report *Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open feed file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to feed: %w", err)
	}
	return nil
}

// ReadReports loads every report in the feed file, oldest first.
// A missing file yields an empty list. Unparseable lines are skipped.
func ReadReports(path string) ([]*Report, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file: %w", err)
	}

	var reports []*Report
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r Report
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		reports = append(reports, &r)
	}
	return reports, nil
}

// LogFeed prints promoted reports to stdout. Used when no feed file is
// configured.
type LogFeed struct{}

// Publish writes the report through the standard log prefix
func (LogFeed) Publish(ctx context.Context, report *Report) error {
	fmt.Printf("[telemetry] %s\n%s\n", report.Title, report.Body)
	return nil
}
