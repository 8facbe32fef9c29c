// Package budget provides token budget admission for the phases of a plan run.
package budget

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// Config holds budget configuration.
type Config struct {
	// Total is the token budget of the whole run. Zero means unlimited.
	Total int
	// PerPhase is the expected ceiling of one phase. Exceeding it is logged
	// but does not block admission.
	PerPhase int
	// WarningThreshold is the fraction of Total at which OnBudgetWarning fires.
	WarningThreshold float64
}

// ConfigFromPlan converts a plan's token budget.
func ConfigFromPlan(b plan.TokenBudget) Config {
	return Config{
		Total:            b.Total,
		PerPhase:         b.PerPhase,
		WarningThreshold: b.WarningThreshold,
	}
}

// Usage is a snapshot of the budget.
type Usage struct {
	Total     int  `json:"total"`
	Spent     int  `json:"spent"`
	Reserved  int  `json:"reserved"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted  bool
	Reason    string
	Remaining int
}

// Callbacks defines callbacks for budget events.
type Callbacks struct {
	// OnBudgetWarning is called once, when committed tokens first reach the
	// warning threshold.
	OnBudgetWarning func(Usage)
	// OnPhaseRejected is called when a phase does not fit the remaining budget.
	OnPhaseRejected func(phaseID string, estimated int, remaining int)
}

// Manager tracks reserved and spent tokens. Each admitted phase reserves
// its estimate until it settles with its actual spend or releases it.
type Manager struct {
	mu        sync.Mutex
	config    Config
	callbacks Callbacks
	logger    *logging.Logger

	reserved map[string]int
	spent    int
	warned   bool
}

// NewManager creates a new budget manager.
func NewManager(cfg Config, callbacks Callbacks, logger *logging.Logger) *Manager {
	return &Manager{
		config:    cfg,
		callbacks: callbacks,
		logger:    logging.OrNop(logger),
		reserved:  make(map[string]int),
	}
}

// Admit reserves estimated tokens for a phase if they fit the remaining
// budget. A phase that does not fit is rejected and never scheduled.
// Admitting a phase that already holds a reservation replaces it.
func (m *Manager) Admit(phaseID string, estimated int) Decision {
	m.mu.Lock()
	delete(m.reserved, phaseID)
	usage := m.usageLocked()

	if !usage.Unlimited && estimated > usage.Remaining {
		m.mu.Unlock()
		reason := fmt.Sprintf("phase %s needs %d tokens but only %d remain", phaseID, estimated, usage.Remaining)
		m.logger.Warn("phase rejected by token budget",
			"phase_id", phaseID,
			"estimated", estimated,
			"remaining", usage.Remaining)
		if m.callbacks.OnPhaseRejected != nil {
			m.callbacks.OnPhaseRejected(phaseID, estimated, usage.Remaining)
		}
		return Decision{Reason: reason, Remaining: usage.Remaining}
	}

	if m.config.PerPhase > 0 && estimated > m.config.PerPhase {
		m.logger.Warn("phase estimate exceeds per-phase budget",
			"phase_id", phaseID,
			"estimated", estimated,
			"per_phase", m.config.PerPhase)
	}

	m.reserved[phaseID] = estimated
	usage = m.usageLocked()
	warn := m.checkWarningLocked(usage)
	m.mu.Unlock()

	if warn {
		m.fireWarning(usage)
	}
	return Decision{Admitted: true, Remaining: usage.Remaining}
}

// Settle replaces a phase's reservation with the tokens it actually spent.
func (m *Manager) Settle(phaseID string, actual int) {
	m.mu.Lock()
	delete(m.reserved, phaseID)
	if actual > 0 {
		m.spent += actual
	}
	usage := m.usageLocked()
	warn := m.checkWarningLocked(usage)
	m.mu.Unlock()

	if warn {
		m.fireWarning(usage)
	}
}

// Release drops a phase's reservation without recording spend.
func (m *Manager) Release(phaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, phaseID)
}

// Usage returns the current budget snapshot.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usageLocked()
}

func (m *Manager) usageLocked() Usage {
	u := Usage{
		Total:     m.config.Total,
		Spent:     m.spent,
		Unlimited: m.config.Total <= 0,
	}
	for _, n := range m.reserved {
		u.Reserved += n
	}
	if !u.Unlimited {
		u.Remaining = max(u.Total-u.Spent-u.Reserved, 0)
	}
	return u
}

func (m *Manager) checkWarningLocked(u Usage) bool {
	if m.warned || u.Unlimited || m.config.WarningThreshold <= 0 {
		return false
	}
	committed := float64(u.Spent + u.Reserved)
	if committed < m.config.WarningThreshold*float64(u.Total) {
		return false
	}
	m.warned = true
	return true
}

func (m *Manager) fireWarning(u Usage) {
	m.logger.Warn("token budget warning threshold reached",
		"spent", u.Spent,
		"reserved", u.Reserved,
		"total", u.Total)
	if m.callbacks.OnBudgetWarning != nil {
		m.callbacks.OnBudgetWarning(u)
	}
}
