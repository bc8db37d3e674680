package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

const (
	patternsFileName   = "patterns.json"
	heartbeatsFileName = "heartbeats.json"
	storeVersion       = 1
)

// patternsFile is the on-disk shape of the pattern store
type patternsFile struct {
	Version          int                   `json:"version"`
	Patterns         []*types.ErrorPattern `json:"patterns"`
	ProposedPatterns []*types.ErrorPattern `json:"proposedPatterns"`
}

// heartbeatsFile is the on-disk shape of the capped heartbeat log
type heartbeatsFile struct {
	Version    int                     `json:"version"`
	MaxEntries int                     `json:"maxEntries"`
	Entries    []*types.HeartbeatEntry `json:"entries"`
}

// FileStore keeps both data sets in JSON files under one directory.
// Every write goes through a temp file and rename so a crash never
// leaves a half-written store.
type FileStore struct {
	mu             sync.Mutex
	patternsPath   string
	heartbeatsPath string
	heartbeatMax   int
}

// NewFileStore creates the directory if needed and returns a file store
func NewFileStore(dir string, heartbeatMax int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if heartbeatMax <= 0 {
		heartbeatMax = DefaultHeartbeatMax
	}
	return &FileStore{
		patternsPath:   filepath.Join(dir, patternsFileName),
		heartbeatsPath: filepath.Join(dir, heartbeatsFileName),
		heartbeatMax:   heartbeatMax,
	}, nil
}

// PatternsPath returns the pattern store file location (for hot reload)
func (s *FileStore) PatternsPath() string {
	return s.patternsPath
}

// GetPattern looks up a pattern in the approved set, then the proposed set
func (s *FileStore) GetPattern(ctx context.Context, id string) (*types.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return nil, err
	}
	for _, p := range pf.Patterns {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	for _, p := range pf.ProposedPatterns {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
}

// PutPattern upserts a pattern into the set matching its Approved flag
func (s *FileStore) PutPattern(ctx context.Context, p *types.ErrorPattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return err
	}
	pf.Patterns = removePattern(pf.Patterns, p.ID)
	pf.ProposedPatterns = removePattern(pf.ProposedPatterns, p.ID)
	if p.Approved {
		pf.Patterns = append(pf.Patterns, p.Clone())
	} else {
		pf.ProposedPatterns = append(pf.ProposedPatterns, p.Clone())
	}
	return s.savePatterns(pf)
}

// ListPatterns returns the approved patterns
func (s *FileStore) ListPatterns(ctx context.Context) ([]*types.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return nil, err
	}
	return clonePatterns(pf.Patterns), nil
}

// ListProposed returns the pending proposals
func (s *FileStore) ListProposed(ctx context.Context) ([]*types.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return nil, err
	}
	return clonePatterns(pf.ProposedPatterns), nil
}

// IncrementCount bumps occurrence count and last-seen for a stored pattern
func (s *FileStore) IncrementCount(ctx context.Context, id string, seenAt time.Time, sample string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return err
	}
	p := findPattern(pf.Patterns, id)
	if p == nil {
		p = findPattern(pf.ProposedPatterns, id)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	p.OccurrenceCount++
	p.LastSeen = seenAt
	if sample != "" {
		p.AddContext(sample)
	}
	return s.savePatterns(pf)
}

// ProposePattern adds a new unapproved proposal
func (s *FileStore) ProposePattern(ctx context.Context, p *types.ErrorPattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if p.Approved {
		return fmt.Errorf("proposal %s must not be pre-approved", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return err
	}
	if findPattern(pf.Patterns, p.ID) != nil || findPattern(pf.ProposedPatterns, p.ID) != nil {
		return fmt.Errorf("pattern %s already exists", p.ID)
	}
	pf.ProposedPatterns = append(pf.ProposedPatterns, p.Clone())
	return s.savePatterns(pf)
}

// ApprovePattern moves a proposal into the approved set
func (s *FileStore) ApprovePattern(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return err
	}
	p := findPattern(pf.ProposedPatterns, id)
	if p == nil {
		if findPattern(pf.Patterns, id) != nil {
			return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	pf.ProposedPatterns = removePattern(pf.ProposedPatterns, id)
	approved := p.Clone()
	approved.Approved = true
	pf.Patterns = append(pf.Patterns, approved)
	return s.savePatterns(pf)
}

// RejectPattern removes a proposal
func (s *FileStore) RejectPattern(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.loadPatterns()
	if err != nil {
		return err
	}
	if findPattern(pf.ProposedPatterns, id) == nil {
		if findPattern(pf.Patterns, id) != nil {
			return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	pf.ProposedPatterns = removePattern(pf.ProposedPatterns, id)
	return s.savePatterns(pf)
}

// AppendHeartbeat appends a snapshot, trimming the oldest beyond the cap
func (s *FileStore) AppendHeartbeat(ctx context.Context, snapshot *types.TelemetrySnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hf, err := s.loadHeartbeats()
	if err != nil {
		return err
	}
	ts := snapshot.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	hf.MaxEntries = s.heartbeatMax
	hf.Entries = append(hf.Entries, &types.HeartbeatEntry{
		Timestamp: ts,
		Snapshot:  snapshot.Clone(),
	})
	if over := len(hf.Entries) - s.heartbeatMax; over > 0 {
		hf.Entries = hf.Entries[over:]
	}
	return s.saveHeartbeats(hf)
}

// ListHeartbeats returns the retained entries, oldest first
func (s *FileStore) ListHeartbeats(ctx context.Context) ([]*types.HeartbeatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hf, err := s.loadHeartbeats()
	if err != nil {
		return nil, err
	}
	entries := make([]*types.HeartbeatEntry, 0, len(hf.Entries))
	for _, e := range hf.Entries {
		entries = append(entries, &types.HeartbeatEntry{
			Timestamp: e.Timestamp,
			Snapshot:  e.Snapshot.Clone(),
		})
	}
	return entries, nil
}

// LatestHeartbeat returns the newest entry, or nil when the log is empty
func (s *FileStore) LatestHeartbeat(ctx context.Context) (*types.HeartbeatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hf, err := s.loadHeartbeats()
	if err != nil {
		return nil, err
	}
	if len(hf.Entries) == 0 {
		return nil, nil
	}
	last := hf.Entries[len(hf.Entries)-1]
	return &types.HeartbeatEntry{
		Timestamp: last.Timestamp,
		Snapshot:  last.Snapshot.Clone(),
	}, nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) loadPatterns() (*patternsFile, error) {
	pf := &patternsFile{Version: storeVersion}
	data, err := os.ReadFile(s.patternsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return pf, nil
		}
		return nil, fmt.Errorf("failed to read pattern store: %w", err)
	}
	if err := json.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("failed to parse pattern store: %w", err)
	}
	return pf, nil
}

func (s *FileStore) savePatterns(pf *patternsFile) error {
	pf.Version = storeVersion
	return writeAtomic(s.patternsPath, pf)
}

func (s *FileStore) loadHeartbeats() (*heartbeatsFile, error) {
	hf := &heartbeatsFile{Version: storeVersion, MaxEntries: s.heartbeatMax}
	data, err := os.ReadFile(s.heartbeatsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return hf, nil
		}
		return nil, fmt.Errorf("failed to read heartbeat store: %w", err)
	}
	if err := json.Unmarshal(data, hf); err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat store: %w", err)
	}
	return hf, nil
}

func (s *FileStore) saveHeartbeats(hf *heartbeatsFile) error {
	hf.Version = storeVersion
	return writeAtomic(s.heartbeatsPath, hf)
}

// writeAtomic marshals v and replaces path via temp file + rename
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pitboss-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func findPattern(patterns []*types.ErrorPattern, id string) *types.ErrorPattern {
	for _, p := range patterns {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func removePattern(patterns []*types.ErrorPattern, id string) []*types.ErrorPattern {
	out := patterns[:0]
	for _, p := range patterns {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func clonePatterns(patterns []*types.ErrorPattern) []*types.ErrorPattern {
	out := make([]*types.ErrorPattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.Clone())
	}
	return out
}
