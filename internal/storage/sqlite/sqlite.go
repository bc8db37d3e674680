// Package sqlite stores patterns and heartbeats in a single SQLite
// database, for deployments that want queryable history instead of
// flat JSON files.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pitbosshq/pitboss/internal/types"
)

// Store implements the storage interface on a SQLite database
type Store struct {
	db           *sql.DB
	heartbeatMax int
}

// New opens (or creates) the database at path
func New(path string, heartbeatMax int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode so reads from the console do not block the write path
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if heartbeatMax <= 0 {
		heartbeatMax = 96
	}
	return &Store{db: db, heartbeatMax: heartbeatMax}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

const patternColumns = "id, pattern, severity, action, description, occurrence_count, first_seen, last_seen, approved, contexts"

// GetPattern returns one pattern by ID, approved or proposed
func (s *Store) GetPattern(ctx context.Context, id string) (*types.ErrorPattern, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+patternColumns+" FROM patterns WHERE id = ?", id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	return p, err
}

// PutPattern upserts a pattern row
func (s *Store) PutPattern(ctx context.Context, p *types.ErrorPattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	contexts, err := json.Marshal(p.Contexts)
	if err != nil {
		return fmt.Errorf("failed to marshal contexts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pattern = excluded.pattern,
			severity = excluded.severity,
			action = excluded.action,
			description = excluded.description,
			occurrence_count = excluded.occurrence_count,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			approved = excluded.approved,
			contexts = excluded.contexts
	`, p.ID, p.Pattern, string(p.Severity), string(p.Action), p.Description,
		p.OccurrenceCount, formatTime(p.FirstSeen), formatTime(p.LastSeen),
		boolToInt(p.Approved), string(contexts))
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return nil
}

// ListPatterns returns the approved patterns
func (s *Store) ListPatterns(ctx context.Context) ([]*types.ErrorPattern, error) {
	return s.listPatterns(ctx, 1)
}

// ListProposed returns the pending proposals
func (s *Store) ListProposed(ctx context.Context) ([]*types.ErrorPattern, error) {
	return s.listPatterns(ctx, 0)
}

func (s *Store) listPatterns(ctx context.Context, approved int) ([]*types.ErrorPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+patternColumns+" FROM patterns WHERE approved = ? ORDER BY first_seen, id", approved)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*types.ErrorPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// IncrementCount bumps the occurrence count and last-seen, optionally
// recording a context sample
func (s *Store) IncrementCount(ctx context.Context, id string, seenAt time.Time, sample string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	var contextsJSON string
	err = tx.QueryRowContext(ctx, "SELECT occurrence_count, contexts FROM patterns WHERE id = ?", id).
		Scan(&count, &contextsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read pattern: %w", err)
	}

	var contexts []string
	if err := json.Unmarshal([]byte(contextsJSON), &contexts); err != nil {
		return fmt.Errorf("failed to parse contexts: %w", err)
	}
	if sample != "" && len(contexts) < types.MaxPatternContexts {
		contexts = append(contexts, sample)
	}
	updated, err := json.Marshal(contexts)
	if err != nil {
		return fmt.Errorf("failed to marshal contexts: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE patterns SET occurrence_count = ?, last_seen = ?, contexts = ? WHERE id = ?",
		count+1, formatTime(seenAt), string(updated), id)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}
	return tx.Commit()
}

// ProposePattern inserts a new unapproved proposal
func (s *Store) ProposePattern(ctx context.Context, p *types.ErrorPattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if p.Approved {
		return fmt.Errorf("proposal %s must not be pre-approved", p.ID)
	}
	contexts, err := json.Marshal(p.Contexts)
	if err != nil {
		return fmt.Errorf("failed to marshal contexts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, p.ID, p.Pattern, string(p.Severity), string(p.Action), p.Description,
		p.OccurrenceCount, formatTime(p.FirstSeen), formatTime(p.LastSeen), string(contexts))
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

// ApprovePattern flips a proposal to approved
func (s *Store) ApprovePattern(ctx context.Context, id string) error {
	return s.resolveProposal(ctx, id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE patterns SET approved = 1 WHERE id = ?", id)
		return err
	})
}

// RejectPattern deletes a proposal
func (s *Store) RejectPattern(ctx context.Context, id string) error {
	return s.resolveProposal(ctx, id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM patterns WHERE id = ?", id)
		return err
	})
}

// resolveProposal runs apply against a row that must exist and still be
// unapproved, mapping the two failure modes to sentinel errors
func (s *Store) resolveProposal(ctx context.Context, id string, apply func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var approved int
	err = tx.QueryRowContext(ctx, "SELECT approved FROM patterns WHERE id = ?", id).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read pattern: %w", err)
	}
	if approved != 0 {
		return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
	}
	if err := apply(tx); err != nil {
		return fmt.Errorf("failed to resolve proposal: %w", err)
	}
	return tx.Commit()
}

// AppendHeartbeat inserts a snapshot and trims rows beyond the cap
func (s *Store) AppendHeartbeat(ctx context.Context, snapshot *types.TelemetrySnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	ts := snapshot.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO heartbeats (timestamp, snapshot) VALUES (?, ?)",
		formatTime(ts), string(data)); err != nil {
		return fmt.Errorf("failed to insert heartbeat: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM heartbeats WHERE id NOT IN (
			SELECT id FROM heartbeats ORDER BY id DESC LIMIT ?
		)`, s.heartbeatMax); err != nil {
		return fmt.Errorf("failed to trim heartbeats: %w", err)
	}
	return tx.Commit()
}

// ListHeartbeats returns the retained entries, oldest first
func (s *Store) ListHeartbeats(ctx context.Context) ([]*types.HeartbeatEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT timestamp, snapshot FROM heartbeats ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	defer rows.Close()

	var entries []*types.HeartbeatEntry
	for rows.Next() {
		entry, err := scanHeartbeat(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LatestHeartbeat returns the newest entry, or nil when the table is empty
func (s *Store) LatestHeartbeat(ctx context.Context) (*types.HeartbeatEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT timestamp, snapshot FROM heartbeats ORDER BY id DESC LIMIT 1")
	entry, err := scanHeartbeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*types.ErrorPattern, error) {
	var p types.ErrorPattern
	var severity, action, firstSeen, lastSeen, contextsJSON string
	var approved int
	err := row.Scan(&p.ID, &p.Pattern, &severity, &action, &p.Description,
		&p.OccurrenceCount, &firstSeen, &lastSeen, &approved, &contextsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pattern: %w", err)
	}
	p.Severity = types.Severity(severity)
	p.Action = types.PatternAction(action)
	p.Approved = approved != 0
	if p.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("invalid first_seen for %s: %w", p.ID, err)
	}
	if p.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("invalid last_seen for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(contextsJSON), &p.Contexts); err != nil {
		return nil, fmt.Errorf("invalid contexts for %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanHeartbeat(row rowScanner) (*types.HeartbeatEntry, error) {
	var ts, snapshotJSON string
	err := row.Scan(&ts, &snapshotJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
	}
	entry := &types.HeartbeatEntry{Snapshot: &types.TelemetrySnapshot{}}
	if entry.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("invalid heartbeat timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshotJSON), entry.Snapshot); err != nil {
		return nil, fmt.Errorf("invalid heartbeat snapshot: %w", err)
	}
	return entry, nil
}

// formatTime stores timestamps as RFC3339 text so scans do not depend
// on driver-specific time handling
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
