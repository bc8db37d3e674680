// Package storage persists the two supervisor data sets: the pattern
// registry (approved signatures plus pending proposals) and the capped
// heartbeat log of telemetry snapshots. The daemon and the CLI share one
// store, so every backend serializes its writes.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pitbosshq/pitboss/internal/storage/sqlite"
	"github.com/pitbosshq/pitboss/internal/types"
)

// Store is the persistence surface for patterns and heartbeats
type Store interface {
	// GetPattern looks up a pattern by id in the approved set, then the
	// proposed set. Returns types.ErrPatternNotFound when absent.
	GetPattern(ctx context.Context, id string) (*types.ErrorPattern, error)

	// PutPattern upserts a pattern into the set matching its Approved
	// flag, replacing any same-id entry in either set
	PutPattern(ctx context.Context, p *types.ErrorPattern) error

	// ListPatterns returns the approved patterns
	ListPatterns(ctx context.Context) ([]*types.ErrorPattern, error)

	// ListProposed returns the pending (unapproved) proposals
	ListProposed(ctx context.Context) ([]*types.ErrorPattern, error)

	// IncrementCount bumps a pattern's occurrence count, updates its
	// last-seen time, and samples a context line when one is given
	IncrementCount(ctx context.Context, id string, seenAt time.Time, sample string) error

	// ProposePattern adds a new unapproved proposal
	ProposePattern(ctx context.Context, p *types.ErrorPattern) error

	// ApprovePattern moves a proposal into the approved set. Returns
	// types.ErrAlreadyResolved if the id is approved already and
	// types.ErrPatternNotFound if it is unknown.
	ApprovePattern(ctx context.Context, id string) error

	// RejectPattern removes a proposal. Same error contract as
	// ApprovePattern.
	RejectPattern(ctx context.Context, id string) error

	// AppendHeartbeat appends a snapshot to the heartbeat log, dropping
	// the oldest entries beyond the configured cap
	AppendHeartbeat(ctx context.Context, snapshot *types.TelemetrySnapshot) error

	// ListHeartbeats returns the retained heartbeat entries, oldest first
	ListHeartbeats(ctx context.Context) ([]*types.HeartbeatEntry, error)

	// LatestHeartbeat returns the newest entry, or nil when none exist
	LatestHeartbeat(ctx context.Context) (*types.HeartbeatEntry, error)

	// Close releases backend resources
	Close() error
}

// Supported storage backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultHeartbeatMax caps the heartbeat ring when the config gives none
const DefaultHeartbeatMax = 96

// Config selects and locates a storage backend
type Config struct {
	// Backend is one of BackendFile, BackendSQLite, BackendMemory
	// Default: BackendFile
	Backend string

	// Dir holds the store files for the file and sqlite backends
	// Default: ".pitboss"
	Dir string

	// HeartbeatMax caps the heartbeat ring
	// Default: 96
	HeartbeatMax int
}

// DefaultConfig returns the stock storage configuration
func DefaultConfig() Config {
	return Config{
		Backend:      BackendFile,
		Dir:          ".pitboss",
		HeartbeatMax: DefaultHeartbeatMax,
	}
}

// NewStore creates the configured storage backend
func NewStore(cfg Config) (Store, error) {
	if cfg.HeartbeatMax <= 0 {
		cfg.HeartbeatMax = DefaultHeartbeatMax
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}

	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Dir, cfg.HeartbeatMax)
	case BackendSQLite:
		return sqlite.New(filepath.Join(cfg.Dir, "pitboss.db"), cfg.HeartbeatMax)
	case BackendMemory:
		return NewMemoryStore(cfg.HeartbeatMax), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be file, sqlite, or memory)", cfg.Backend)
	}
}
