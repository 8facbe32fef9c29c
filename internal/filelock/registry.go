package filelock

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/planstore/internal/logging"
)

// ErrAlreadyClaimed is returned when a target belongs to another phase.
var ErrAlreadyClaimed = errors.New("target already claimed by another phase")

// Claim is a phase's ownership of one action target.
type Claim struct {
	PhaseID   string
	Target    string
	ClaimedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger reports claims and releases at debug level.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrNop(l) }
}

// WithClock overrides the clock used to stamp claims.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry holds the target claims of one run. Each target has at most one
// owning phase.
type Registry struct {
	mu      sync.RWMutex
	byTgt   map[string]Claim
	byPhase map[string][]string
	logger  *logging.Logger
	now     func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byTgt:   make(map[string]Claim),
		byPhase: make(map[string][]string),
		logger:  logging.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim is ClaimAll for a single target.
func (r *Registry) Claim(phaseID, target string) error {
	return r.ClaimAll(phaseID, []string{target})
}

// ClaimAll gives phaseID every target, or none of them if any target is
// owned by a different phase. Targets phaseID already owns are skipped.
func (r *Registry) ClaimAll(phaseID string, targets []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []string
	for _, t := range targets {
		c, ok := r.byTgt[t]
		switch {
		case !ok:
			if !slices.Contains(fresh, t) {
				fresh = append(fresh, t)
			}
		case c.PhaseID != phaseID:
			return fmt.Errorf("%w: %s owns %s", ErrAlreadyClaimed, c.PhaseID, t)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	at := r.now()
	for _, t := range fresh {
		r.byTgt[t] = Claim{PhaseID: phaseID, Target: t, ClaimedAt: at}
	}
	r.byPhase[phaseID] = append(r.byPhase[phaseID], fresh...)
	r.logger.Debug("targets claimed", "phase_id", phaseID, "count", len(fresh))
	return nil
}

// ReleaseAll drops every claim of phaseID and returns how many there were.
func (r *Registry) ReleaseAll(phaseID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.byPhase[phaseID]
	for _, t := range owned {
		delete(r.byTgt, t)
	}
	delete(r.byPhase, phaseID)
	if len(owned) > 0 {
		r.logger.Debug("targets released", "phase_id", phaseID, "count", len(owned))
	}
	return len(owned)
}

// Conflicts returns, sorted, the targets owned by phases other than phaseID.
func (r *Registry) Conflicts(phaseID string, targets []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, t := range targets {
		if c, ok := r.byTgt[t]; ok && c.PhaseID != phaseID {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns the claim on target, if any.
func (r *Registry) Lookup(target string) (Claim, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byTgt[target]
	return c, ok
}

// Targets returns the targets owned by phaseID, sorted.
func (r *Registry) Targets(phaseID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.byPhase[phaseID])
	sort.Strings(out)
	return out
}
