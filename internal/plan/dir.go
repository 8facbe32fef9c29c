package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/errors"
)

// Well-known names inside a plan directory.
const (
	OrchestrationFile  = "orchestration.json"
	ExecutionStateFile = "execution-state.json"
	PhasesDir          = "phases"
	LogsBackupDir      = ".logs-backup"
)

// Dir is a handle on a plan directory.
type Dir struct {
	Path string
}

// Open confirms that path is a plan directory and returns a handle on it.
func Open(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, errors.NewNotFoundError("plan", path)
	}
	if !docstore.Exists(filepath.Join(path, OrchestrationFile)) {
		return nil, errors.NewNotFoundError("plan", path)
	}
	return &Dir{Path: path}, nil
}

// OrchestrationPath returns the path of orchestration.json.
func (d *Dir) OrchestrationPath() string {
	return filepath.Join(d.Path, OrchestrationFile)
}

// StatePath returns the path of execution-state.json.
func (d *Dir) StatePath() string {
	return filepath.Join(d.Path, ExecutionStateFile)
}

// PhasePath resolves a PhaseRef's file relative to the plan directory.
func (d *Dir) PhasePath(ref PhaseRef) string {
	return filepath.Join(d.Path, filepath.FromSlash(ref.File))
}

// PhaseFile returns the conventional relative file path for a phase id.
func PhaseFile(phaseID string) string {
	return PhasesDir + "/" + phaseID + ".json"
}

// LoadPlan reads orchestration.json.
func (d *Dir) LoadPlan() (*Plan, error) {
	var p Plan
	if err := docstore.ReadDocument(d.OrchestrationPath(), &p); err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return nil, errors.NewNotFoundError("plan", d.Path).WithCause(err)
		}
		return nil, err
	}
	return &p, nil
}

// SavePlan writes orchestration.json atomically.
func (d *Dir) SavePlan(p *Plan) error {
	return docstore.WriteDocument(d.OrchestrationPath(), p)
}

// LoadPhase reads the phase document referenced by ref.
func (d *Dir) LoadPhase(ref PhaseRef) (*PhaseDocument, error) {
	var doc PhaseDocument
	if err := docstore.ReadDocument(d.PhasePath(ref), &doc); err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return nil, errors.NewNotFoundError("phase", ref.ID).WithCause(err)
		}
		return nil, err
	}
	return &doc, nil
}

// SavePhase writes the phase document referenced by ref atomically.
func (d *Dir) SavePhase(ref PhaseRef, doc *PhaseDocument) error {
	return docstore.WriteDocument(d.PhasePath(ref), doc)
}

// LoadState reads execution-state.json. A missing file yields an empty,
// not-started state.
func (d *Dir) LoadState(planID string) (*ExecutionState, error) {
	var s ExecutionState
	if err := docstore.ReadDocument(d.StatePath(), &s); err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return NewExecutionState(planID), nil
		}
		return nil, err
	}
	if s.PhaseStatuses == nil {
		s.PhaseStatuses = make(map[string]Status)
	}
	if s.TaskStatuses == nil {
		s.TaskStatuses = make(map[string]map[string]Status)
	}
	if s.PlanID == "" {
		s.PlanID = planID
	}
	return &s, nil
}

// SaveState writes execution-state.json atomically.
func (d *Dir) SaveState(s *ExecutionState) error {
	return docstore.WriteDocument(d.StatePath(), s)
}

// Load reads the orchestration document, every phase document it references,
// and the execution state.
func (d *Dir) Load() (*Tree, error) {
	p, err := d.LoadPlan()
	if err != nil {
		return nil, err
	}

	phases := make(map[string]*PhaseDocument, len(p.Phases))
	for _, ref := range p.Phases {
		doc, err := d.LoadPhase(ref)
		if err != nil {
			return nil, err
		}
		phases[ref.ID] = doc
	}

	state, err := d.LoadState(p.ID)
	if err != nil {
		return nil, err
	}

	return NewTree(p, phases, state), nil
}

// Save writes every dirty phase document, removes files of dropped phases,
// and writes the execution state and orchestration document. The
// orchestration document is written last.
func (d *Dir) Save(t *Tree) error {
	for _, id := range t.DirtyPhases() {
		ref, ok := t.Plan.Phase(id)
		if !ok {
			continue
		}
		doc, ok := t.Phases[id]
		if !ok {
			return fmt.Errorf("phase %s has no document", id)
		}
		if err := d.SavePhase(*ref, doc); err != nil {
			return fmt.Errorf("save phase %s: %w", id, err)
		}
	}

	live := make(map[string]bool, len(t.Plan.Phases))
	for _, ref := range t.Plan.Phases {
		live[ref.File] = true
	}
	for _, file := range t.droppedFiles {
		if live[file] {
			continue
		}
		path := filepath.Join(d.Path, filepath.FromSlash(file))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove phase document %s: %w", file, err)
		}
	}

	if err := d.SaveState(t.State); err != nil {
		return fmt.Errorf("save execution state: %w", err)
	}
	if err := d.SavePlan(t.Plan); err != nil {
		return fmt.Errorf("save orchestration: %w", err)
	}

	t.clean()
	return nil
}
