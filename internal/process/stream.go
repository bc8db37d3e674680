package process

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// Streams a log line can arrive on
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// maxLineBytes bounds a single worker log line
const maxLineBytes = 1024 * 1024

// Line is one raw line of worker output
type Line struct {
	Text      string
	Stream    string
	Timestamp time.Time
}

// scanStream pumps one pipe into the shared line channel until EOF.
// When the manager is draining (shutdown), remaining output is dropped
// instead of blocking on a consumer that is no longer reading.
func (m *Manager) scanStream(rc io.ReadCloser, stream string) error {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := Line{Text: scanner.Text(), Stream: stream, Timestamp: m.now()}
		select {
		case m.lines <- line:
		case <-m.drainCh:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s scan failed: %w", stream, err)
	}
	return nil
}
