package plan

import (
	"encoding/json"
	"sort"
)

// Tree is the in-memory form of a whole plan directory.
type Tree struct {
	Plan   *Plan
	Phases map[string]*PhaseDocument
	State  *ExecutionState

	dirty        map[string]bool
	droppedFiles []string
}

// NewTree assembles a Tree. A nil state becomes an empty one.
func NewTree(p *Plan, phases map[string]*PhaseDocument, state *ExecutionState) *Tree {
	if phases == nil {
		phases = make(map[string]*PhaseDocument)
	}
	if state == nil {
		state = NewExecutionState(p.ID)
	}
	return &Tree{
		Plan:   p,
		Phases: phases,
		State:  state,
		dirty:  make(map[string]bool),
	}
}

// MarkDirty flags a phase document for writing on the next Save.
func (t *Tree) MarkDirty(phaseID string) {
	t.dirty[phaseID] = true
}

// MarkAllDirty flags every phase document for writing.
func (t *Tree) MarkAllDirty() {
	for id := range t.Phases {
		t.dirty[id] = true
	}
}

// DirtyPhases returns the flagged phase ids in sorted order.
func (t *Tree) DirtyPhases() []string {
	ids := make([]string, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DropPhase forgets the document of a removed phase and schedules its file
// for deletion.
func (t *Tree) DropPhase(ref PhaseRef) {
	delete(t.Phases, ref.ID)
	delete(t.dirty, ref.ID)
	t.droppedFiles = append(t.droppedFiles, ref.File)
}

func (t *Tree) clean() {
	t.dirty = make(map[string]bool)
	t.droppedFiles = nil
}

// Clone returns a deep copy of the tree, dirty tracking included.
func (t *Tree) Clone() (*Tree, error) {
	var c Tree
	if err := deepCopy(t.Plan, &c.Plan); err != nil {
		return nil, err
	}
	if err := deepCopy(t.Phases, &c.Phases); err != nil {
		return nil, err
	}
	if err := deepCopy(t.State, &c.State); err != nil {
		return nil, err
	}
	if c.Phases == nil {
		c.Phases = make(map[string]*PhaseDocument)
	}
	c.dirty = make(map[string]bool, len(t.dirty))
	for id := range t.dirty {
		c.dirty[id] = true
	}
	c.droppedFiles = append([]string(nil), t.droppedFiles...)
	return &c, nil
}

func deepCopy(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// PhaseStatus resolves a phase's status: the execution state entry wins, then
// the structural status, then pending.
func (t *Tree) PhaseStatus(id string) Status {
	if st, ok := t.State.PhaseStatuses[id]; ok && st.Valid() {
		return st
	}
	if ref, ok := t.Plan.Phase(id); ok && ref.Status.Valid() {
		return ref.Status
	}
	return StatusPending
}

// TaskStatus resolves a task's status with the same precedence as PhaseStatus.
func (t *Tree) TaskStatus(phaseID, taskID string) Status {
	if tasks, ok := t.State.TaskStatuses[phaseID]; ok {
		if st, ok := tasks[taskID]; ok && st.Valid() {
			return st
		}
	}
	if doc, ok := t.Phases[phaseID]; ok {
		if task, ok := doc.Task(taskID); ok && task.Status.Valid() {
			return task.Status
		}
	}
	return StatusPending
}
