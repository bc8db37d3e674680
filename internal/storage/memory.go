package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

// MemoryStore keeps everything in process memory. Used by tests and by
// runs that do not want anything written to disk.
type MemoryStore struct {
	mu           sync.Mutex
	patterns     []*types.ErrorPattern
	proposed     []*types.ErrorPattern
	heartbeats   []*types.HeartbeatEntry
	heartbeatMax int
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore(heartbeatMax int) *MemoryStore {
	if heartbeatMax <= 0 {
		heartbeatMax = DefaultHeartbeatMax
	}
	return &MemoryStore{heartbeatMax: heartbeatMax}
}

func (s *MemoryStore) GetPattern(ctx context.Context, id string) (*types.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := findPattern(s.patterns, id); p != nil {
		return p.Clone(), nil
	}
	if p := findPattern(s.proposed, id); p != nil {
		return p.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
}

func (s *MemoryStore) PutPattern(ctx context.Context, p *types.ErrorPattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns = removePattern(s.patterns, p.ID)
	s.proposed = removePattern(s.proposed, p.ID)
	if p.Approved {
		s.patterns = append(s.patterns, p.Clone())
	} else {
		s.proposed = append(s.proposed, p.Clone())
	}
	return nil
}

func (s *MemoryStore) ListPatterns(ctx context.Context) ([]*types.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePatterns(s.patterns), nil
}

func (s *MemoryStore) ListProposed(ctx context.Context) ([]*types.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePatterns(s.proposed), nil
}

func (s *MemoryStore) IncrementCount(ctx context.Context, id string, seenAt time.Time, sample string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := findPattern(s.patterns, id)
	if p == nil {
		p = findPattern(s.proposed, id)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	p.OccurrenceCount++
	p.LastSeen = seenAt
	if sample != "" {
		p.AddContext(sample)
	}
	return nil
}

func (s *MemoryStore) ProposePattern(ctx context.Context, p *types.ErrorPattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if p.Approved {
		return fmt.Errorf("proposal %s must not be pre-approved", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if findPattern(s.patterns, p.ID) != nil || findPattern(s.proposed, p.ID) != nil {
		return fmt.Errorf("pattern %s already exists", p.ID)
	}
	s.proposed = append(s.proposed, p.Clone())
	return nil
}

func (s *MemoryStore) ApprovePattern(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := findPattern(s.proposed, id)
	if p == nil {
		if findPattern(s.patterns, id) != nil {
			return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	s.proposed = removePattern(s.proposed, id)
	p.Approved = true
	s.patterns = append(s.patterns, p)
	return nil
}

func (s *MemoryStore) RejectPattern(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if findPattern(s.proposed, id) == nil {
		if findPattern(s.patterns, id) != nil {
			return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	s.proposed = removePattern(s.proposed, id)
	return nil
}

func (s *MemoryStore) AppendHeartbeat(ctx context.Context, snapshot *types.TelemetrySnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := snapshot.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.heartbeats = append(s.heartbeats, &types.HeartbeatEntry{
		Timestamp: ts,
		Snapshot:  snapshot.Clone(),
	})
	if over := len(s.heartbeats) - s.heartbeatMax; over > 0 {
		s.heartbeats = s.heartbeats[over:]
	}
	return nil
}

func (s *MemoryStore) ListHeartbeats(ctx context.Context) ([]*types.HeartbeatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*types.HeartbeatEntry, 0, len(s.heartbeats))
	for _, e := range s.heartbeats {
		entries = append(entries, &types.HeartbeatEntry{
			Timestamp: e.Timestamp,
			Snapshot:  e.Snapshot.Clone(),
		})
	}
	return entries, nil
}

func (s *MemoryStore) LatestHeartbeat(ctx context.Context) (*types.HeartbeatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heartbeats) == 0 {
		return nil, nil
	}
	last := s.heartbeats[len(s.heartbeats)-1]
	return &types.HeartbeatEntry{
		Timestamp: last.Timestamp,
		Snapshot:  last.Snapshot.Clone(),
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
