package budget

import (
	"sync"
	"testing"

	"github.com/Iron-Ham/planstore/internal/plan"
)

func TestConfigFromPlan(t *testing.T) {
	cfg := ConfigFromPlan(plan.TokenBudget{Total: 5000, PerPhase: 1000, WarningThreshold: 0.8})
	if cfg.Total != 5000 || cfg.PerPhase != 1000 || cfg.WarningThreshold != 0.8 {
		t.Errorf("ConfigFromPlan() = %+v", cfg)
	}
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		reserve   map[string]int
		estimated int
		wantOK    bool
		wantLeft  int
	}{
		{name: "unlimited", total: 0, estimated: 1_000_000, wantOK: true},
		{name: "fits", total: 3000, estimated: 1000, wantOK: true, wantLeft: 2000},
		{name: "exactly fits", total: 1000, estimated: 1000, wantOK: true, wantLeft: 0},
		{name: "exceeds", total: 1000, estimated: 1001, wantLeft: 1000},
		{
			name:      "reservations count",
			total:     3000,
			reserve:   map[string]int{"a": 1500, "b": 1000},
			estimated: 600,
			wantLeft:  500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{Total: tt.total}, Callbacks{}, nil)
			for id, n := range tt.reserve {
				if d := m.Admit(id, n); !d.Admitted {
					t.Fatalf("setup Admit(%s) rejected: %s", id, d.Reason)
				}
			}
			d := m.Admit("x", tt.estimated)
			if d.Admitted != tt.wantOK {
				t.Fatalf("Admitted = %v, want %v (reason %q)", d.Admitted, tt.wantOK, d.Reason)
			}
			if d.Remaining != tt.wantLeft {
				t.Errorf("Remaining = %d, want %d", d.Remaining, tt.wantLeft)
			}
			if !d.Admitted && d.Reason == "" {
				t.Error("rejection should carry a reason")
			}
		})
	}
}

func TestAdmitRejectionCallback(t *testing.T) {
	var gotID string
	var gotEst, gotLeft int
	m := NewManager(Config{Total: 500}, Callbacks{
		OnPhaseRejected: func(id string, est, left int) {
			gotID, gotEst, gotLeft = id, est, left
		},
	}, nil)

	m.Admit("big", 800)
	if gotID != "big" || gotEst != 800 || gotLeft != 500 {
		t.Errorf("callback got (%q, %d, %d)", gotID, gotEst, gotLeft)
	}
	if u := m.Usage(); u.Reserved != 0 {
		t.Errorf("rejected phase should not reserve, Reserved = %d", u.Reserved)
	}
}

func TestPerPhaseDoesNotBlock(t *testing.T) {
	m := NewManager(Config{Total: 10_000, PerPhase: 100}, Callbacks{}, nil)
	if d := m.Admit("a", 5000); !d.Admitted {
		t.Fatalf("per-phase ceiling should not block: %s", d.Reason)
	}
}

func TestSettleAndRelease(t *testing.T) {
	m := NewManager(Config{Total: 4000}, Callbacks{}, nil)
	m.Admit("a", 1000)
	m.Admit("b", 1000)

	m.Settle("a", 1500)
	m.Release("b")

	u := m.Usage()
	if u.Spent != 1500 || u.Reserved != 0 || u.Remaining != 2500 {
		t.Errorf("Usage() = %+v", u)
	}
}

func TestReadmitReplacesReservation(t *testing.T) {
	m := NewManager(Config{Total: 1000}, Callbacks{}, nil)
	m.Admit("a", 800)
	if d := m.Admit("a", 900); !d.Admitted {
		t.Fatalf("readmit should replace the reservation: %s", d.Reason)
	}
	if u := m.Usage(); u.Reserved != 900 {
		t.Errorf("Reserved = %d, want 900", u.Reserved)
	}
}

func TestWarningFiresOnce(t *testing.T) {
	warnings := 0
	m := NewManager(Config{Total: 1000, WarningThreshold: 0.5}, Callbacks{
		OnBudgetWarning: func(Usage) { warnings++ },
	}, nil)

	m.Admit("a", 400)
	if warnings != 0 {
		t.Fatalf("warning fired below threshold")
	}
	m.Admit("b", 200)
	m.Settle("a", 450)
	m.Admit("c", 100)
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}

func TestWarningNeedsLimitedBudget(t *testing.T) {
	warned := false
	m := NewManager(Config{WarningThreshold: 0.1}, Callbacks{
		OnBudgetWarning: func(Usage) { warned = true },
	}, nil)
	m.Admit("a", 1_000_000)
	m.Settle("a", 1_000_000)
	if warned {
		t.Error("unlimited budget should never warn")
	}
}

func TestConcurrentAdmit(t *testing.T) {
	m := NewManager(Config{Total: 1000}, Callbacks{}, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if m.Admit(string(rune('a'+n)), 100).Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("admitted = %d, want 10", admitted)
	}
}
