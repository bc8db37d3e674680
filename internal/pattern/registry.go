// Package pattern owns the catalog of error signatures: the fixed
// bootstrap set, human-approved learned patterns, and the proposal
// workflow that turns repeated unclassified errors into review
// candidates.
package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/types"
)

// Registry matches text against the active signature set and manages
// proposals. All methods are safe for concurrent use; the store is only
// ever written through the registry's single mutex.
type Registry struct {
	mu        sync.Mutex
	store     storage.Store
	bootstrap []*types.ErrorPattern
	learned   []*types.ErrorPattern
	proposed  []*types.ErrorPattern
	matchers  map[string]*matcher
	now       func() time.Time
}

// NewRegistry creates a registry seeded with the bootstrap set. Call
// Load to hydrate learned patterns and proposals from the store.
func NewRegistry(store storage.Store) *Registry {
	r := &Registry{
		store:    store,
		matchers: make(map[string]*matcher),
		now:      time.Now,
	}
	r.bootstrap = bootstrapPatterns(r.now())
	for _, p := range r.bootstrap {
		r.matchers[p.ID] = newMatcher(p.Pattern)
	}
	return r
}

// Load replaces the learned and proposed sets with the store contents.
// Safe to call again at runtime to pick up external edits.
func (r *Registry) Load(ctx context.Context) error {
	learned, err := r.store.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load approved patterns: %w", err)
	}
	proposed, err := r.store.ListProposed(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proposals: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.learned = learned
	r.proposed = proposed
	matchers := make(map[string]*matcher, len(r.bootstrap)+len(learned)+len(proposed))
	for _, p := range r.bootstrap {
		matchers[p.ID] = newMatcher(p.Pattern)
	}
	for _, p := range learned {
		matchers[p.ID] = newMatcher(p.Pattern)
	}
	for _, p := range proposed {
		matchers[p.ID] = newMatcher(p.Pattern)
	}
	r.matchers = matchers
	return nil
}

// MatchText checks text against the active set (bootstrap plus approved
// learned patterns) and returns every hit. Learned matches bump their
// occurrence counts; bootstrap counts stay fixed.
func (r *Registry) MatchText(ctx context.Context, text, logContext string) []*types.PatternMatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	sample := truncate(logContext, types.MaxMatchContextChars)
	var matches []*types.PatternMatch
	for _, p := range r.activeLocked() {
		m := r.matchers[p.ID]
		if m == nil || !m.matches(text) {
			continue
		}
		if !p.IsBootstrap() {
			p.OccurrenceCount++
			p.LastSeen = now
			if err := r.store.IncrementCount(ctx, p.ID, now, ""); err != nil {
				fmt.Printf("[registry] Failed to persist match count for %s: %v\n", p.ID, err)
			}
		}
		matches = append(matches, &types.PatternMatch{
			Pattern:     p.Clone(),
			MatchedText: text,
			Context:     sample,
			Timestamp:   now,
		})
	}
	return matches
}

// RecordUnknown folds an unclassified error line into the proposal set.
// A line that hits a pending proposal increments it; otherwise a new
// proposal is created from the extracted key. Returns the proposal and
// whether it is new.
func (r *Registry) RecordUnknown(ctx context.Context, text, logContext string) (*types.ErrorPattern, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	key := ExtractPattern(text)
	sample := truncate(logContext, types.MaxMatchContextChars)
	lowerText := strings.ToLower(text)

	for _, p := range r.proposed {
		hit := p.Pattern == key
		if !hit {
			if m := r.matchers[p.ID]; m != nil && m.matches(text) {
				hit = true
			}
		}
		if !hit && strings.Contains(lowerText, strings.ToLower(p.Pattern)) {
			hit = true
		}
		if !hit {
			continue
		}
		p.OccurrenceCount++
		p.LastSeen = now
		p.AddContext(sample)
		if err := r.store.IncrementCount(ctx, p.ID, now, sample); err != nil {
			fmt.Printf("[registry] Failed to persist proposal count for %s: %v\n", p.ID, err)
		}
		return p.Clone(), false
	}

	p := &types.ErrorPattern{
		ID:              "pattern-" + uuid.New().String(),
		Pattern:         key,
		Severity:        types.SeverityP2,
		Action:          types.ActionLog,
		Description:     "Learned from unclassified worker errors",
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
	}
	p.AddContext(sample)
	if err := r.store.ProposePattern(ctx, p); err != nil {
		fmt.Printf("[registry] Failed to persist proposal %s: %v\n", p.ID, err)
	}
	r.proposed = append(r.proposed, p)
	r.matchers[p.ID] = newMatcher(p.Pattern)
	return p.Clone(), true
}

// Approve promotes a proposal into the active set. Non-empty severity
// and action override the learned defaults. One-way: approving an
// already-resolved pattern returns ErrAlreadyResolved.
func (r *Registry) Approve(ctx context.Context, id string, severity types.Severity, action types.PatternAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexByID(r.proposed, id)
	if idx < 0 {
		if indexByID(r.learned, id) >= 0 || indexByID(r.bootstrap, id) >= 0 {
			return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}

	updated := r.proposed[idx].Clone()
	if severity != "" {
		if !severity.IsValid() {
			return fmt.Errorf("invalid severity: %s", severity)
		}
		updated.Severity = severity
	}
	if action != "" {
		if !action.IsValid() {
			return fmt.Errorf("invalid action: %s", action)
		}
		updated.Action = action
	}
	updated.Approved = true

	// Persist before touching memory so a store failure leaves the
	// proposal reviewable
	var perr error
	if severity == "" && action == "" {
		perr = r.store.ApprovePattern(ctx, id)
		if errors.Is(perr, types.ErrPatternNotFound) {
			perr = r.store.PutPattern(ctx, updated)
		}
	} else {
		perr = r.store.PutPattern(ctx, updated)
	}
	if perr != nil {
		return fmt.Errorf("failed to persist approval: %w", perr)
	}

	r.proposed = append(r.proposed[:idx], r.proposed[idx+1:]...)
	r.learned = append(r.learned, updated)
	r.matchers[id] = newMatcher(updated.Pattern)
	return nil
}

// Reject discards a proposal. One-way, same contract as Approve.
func (r *Registry) Reject(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexByID(r.proposed, id)
	if idx < 0 {
		if indexByID(r.learned, id) >= 0 || indexByID(r.bootstrap, id) >= 0 {
			return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
	}

	if err := r.store.RejectPattern(ctx, id); err != nil && !errors.Is(err, types.ErrPatternNotFound) {
		return fmt.Errorf("failed to persist rejection: %w", err)
	}
	r.proposed = append(r.proposed[:idx], r.proposed[idx+1:]...)
	delete(r.matchers, id)
	return nil
}

// Get returns a pattern from any set by ID
func (r *Registry) Get(id string) (*types.ErrorPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, set := range [][]*types.ErrorPattern{r.bootstrap, r.learned, r.proposed} {
		if i := indexByID(set, id); i >= 0 {
			return set[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrPatternNotFound, id)
}

// ReadyForReview returns proposals that have crossed the occurrence
// threshold. Pull-based: crossing the threshold has no side effects.
func (r *Registry) ReadyForReview() []*types.ErrorPattern {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*types.ErrorPattern
	for _, p := range r.proposed {
		if p.ShouldPropose() {
			ready = append(ready, p.Clone())
		}
	}
	return ready
}

// Proposals returns every pending proposal
func (r *Registry) Proposals() []*types.ErrorPattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePatterns(r.proposed)
}

// ActivePatterns returns the bootstrap and approved learned patterns
func (r *Registry) ActivePatterns() []*types.ErrorPattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePatterns(r.activeLocked())
}

// UnknownPatterns returns the pattern keys of pending proposals, for
// telemetry snapshots
func (r *Registry) UnknownPatterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.proposed))
	for _, p := range r.proposed {
		keys = append(keys, p.Pattern)
	}
	return keys
}

// Stats summarizes the registry for status reporting
func (r *Registry) Stats() types.PatternStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := types.PatternStats{
		Active:    len(r.bootstrap) + len(r.learned),
		Bootstrap: len(r.bootstrap),
		Learned:   len(r.learned),
		Proposed:  len(r.proposed),
	}
	for _, p := range r.proposed {
		if p.ShouldPropose() {
			stats.ReadyForReview++
		}
	}
	return stats
}

func (r *Registry) activeLocked() []*types.ErrorPattern {
	active := make([]*types.ErrorPattern, 0, len(r.bootstrap)+len(r.learned))
	active = append(active, r.bootstrap...)
	active = append(active, r.learned...)
	return active
}

func indexByID(patterns []*types.ErrorPattern, id string) int {
	for i, p := range patterns {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func clonePatterns(patterns []*types.ErrorPattern) []*types.ErrorPattern {
	out := make([]*types.ErrorPattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.Clone())
	}
	return out
}
