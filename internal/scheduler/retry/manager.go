// Package retry tracks scheduler-level retry attempts of plan phases.
//
// A phase that fails is re-run while its failures stay within the plan's
// retry policy. The delay before each retry grows linearly with the number
// of failures so far.
package retry

import (
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/planstore/internal/plan"
)

// Policy bounds retries of one phase.
type Policy struct {
	// MaxAttempts is the number of retries after the first run. Zero
	// disables retries.
	MaxAttempts int
	// Backoff is the delay before the first retry; the n-th retry waits
	// n times as long.
	Backoff time.Duration
}

// PolicyFromPlan converts a plan's retry policy.
func PolicyFromPlan(p plan.RetryPolicy) Policy {
	return Policy{
		MaxAttempts: p.MaxAttempts,
		Backoff:     time.Duration(p.BackoffMs) * time.Millisecond,
	}
}

// PhaseState tracks attempts of one phase.
type PhaseState struct {
	PhaseID    string          `json:"phaseId"`
	Attempts   int             `json:"attempts"`
	Failures   int             `json:"failures"`
	MaxRetries int             `json:"maxRetries"`
	LastError  string          `json:"lastError,omitempty"`
	Durations  []time.Duration `json:"durations,omitempty"` // Per attempt
	Succeeded  bool            `json:"succeeded,omitempty"`
}

// Exhausted reports whether the phase failed and has no retries left.
func (s *PhaseState) Exhausted() bool {
	return !s.Succeeded && s.Failures > s.MaxRetries
}

// Manager manages retry state for phases.
// It is thread-safe and can be used concurrently.
type Manager struct {
	mu     sync.RWMutex
	policy Policy
	states map[string]*PhaseState
}

// NewManager creates a new retry manager.
func NewManager(policy Policy) *Manager {
	return &Manager{
		policy: policy,
		states: make(map[string]*PhaseState),
	}
}

// GetOrCreateState returns or creates retry state for a phase.
func (m *Manager) GetOrCreateState(phaseID string) *PhaseState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[phaseID]
	if !exists {
		state = &PhaseState{
			PhaseID:    phaseID,
			MaxRetries: m.policy.MaxAttempts,
		}
		m.states[phaseID] = state
	}
	return state
}

// State returns a copy of the retry state for a phase, or nil if not found.
func (m *Manager) State(phaseID string) *PhaseState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[phaseID]
	if !ok {
		return nil
	}
	return copyState(state)
}

// ShouldRetry returns whether a phase should run again: its last attempt
// failed and it has retries left.
func (m *Manager) ShouldRetry(phaseID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[phaseID]
	if !exists {
		return false
	}
	return !state.Succeeded && state.Failures > 0 && state.Failures <= state.MaxRetries
}

// RecordAttempt records one run of a phase. A successful attempt ends the
// phase's retries.
func (m *Manager) RecordAttempt(phaseID string, success bool, duration time.Duration, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[phaseID]
	if !exists {
		return
	}

	state.Attempts++
	state.Durations = append(state.Durations, duration)
	if success {
		state.Succeeded = true
		return
	}
	state.Failures++
	state.LastError = errMsg
}

// Delay returns how long to wait before the next retry of a phase.
func (m *Manager) Delay(phaseID string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[phaseID]
	if !exists || state.Failures == 0 {
		return 0
	}
	return m.policy.Backoff * time.Duration(state.Failures)
}

// ResetAll clears all retry state.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = make(map[string]*PhaseState)
}

// States returns copies of all phase states, sorted by phase ID.
func (m *Manager) States() []*PhaseState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*PhaseState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, copyState(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhaseID < out[j].PhaseID })
	return out
}

func copyState(s *PhaseState) *PhaseState {
	c := *s
	if s.Durations != nil {
		c.Durations = make([]time.Duration, len(s.Durations))
		copy(c.Durations, s.Durations)
	}
	return &c
}
