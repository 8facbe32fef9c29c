package plan

import "sort"

// ReconcileReport lists the status entries Reconcile created and pruned.
type ReconcileReport struct {
	AddedPhases  []string
	PrunedPhases []string
	AddedTasks   []string // phase/task keys
	PrunedTasks  []string // phase/task keys
}

// Changed reports whether Reconcile modified the state.
func (r ReconcileReport) Changed() bool {
	return len(r.AddedPhases)+len(r.PrunedPhases)+len(r.AddedTasks)+len(r.PrunedTasks) > 0
}

// Reconcile makes the execution state's status maps cover exactly the phase
// and task ids present in the structural documents. Missing ids are seeded
// from their structural status (pending when unset) and unknown ids are
// pruned. Existing entries are never rewritten.
func Reconcile(p *Plan, phases map[string]*PhaseDocument, s *ExecutionState) ReconcileReport {
	var report ReconcileReport
	if s.PhaseStatuses == nil {
		s.PhaseStatuses = make(map[string]Status)
	}
	if s.TaskStatuses == nil {
		s.TaskStatuses = make(map[string]map[string]Status)
	}

	phaseIDs := make(map[string]bool, len(p.Phases))
	for _, ref := range p.Phases {
		phaseIDs[ref.ID] = true
		if _, ok := s.PhaseStatuses[ref.ID]; !ok {
			s.PhaseStatuses[ref.ID] = seedStatus(ref.Status)
			report.AddedPhases = append(report.AddedPhases, ref.ID)
		}

		doc := phases[ref.ID]
		tasks := s.TaskStatuses[ref.ID]
		if tasks == nil {
			tasks = make(map[string]Status)
			s.TaskStatuses[ref.ID] = tasks
		}
		taskIDs := make(map[string]bool)
		if doc != nil {
			for _, task := range doc.Tasks {
				taskIDs[task.ID] = true
				if _, ok := tasks[task.ID]; !ok {
					tasks[task.ID] = seedStatus(task.Status)
					report.AddedTasks = append(report.AddedTasks, TaskKey(ref.ID, task.ID))
				}
			}
		}
		for id := range tasks {
			if !taskIDs[id] {
				delete(tasks, id)
				report.PrunedTasks = append(report.PrunedTasks, TaskKey(ref.ID, id))
			}
		}
	}

	for id := range s.PhaseStatuses {
		if !phaseIDs[id] {
			delete(s.PhaseStatuses, id)
			report.PrunedPhases = append(report.PrunedPhases, id)
		}
	}
	for id, tasks := range s.TaskStatuses {
		if !phaseIDs[id] {
			for taskID := range tasks {
				report.PrunedTasks = append(report.PrunedTasks, TaskKey(id, taskID))
			}
			delete(s.TaskStatuses, id)
		}
	}
	if s.CurrentPhase != "" && !phaseIDs[s.CurrentPhase] {
		s.CurrentPhase = ""
	}

	sort.Strings(report.AddedPhases)
	sort.Strings(report.PrunedPhases)
	sort.Strings(report.AddedTasks)
	sort.Strings(report.PrunedTasks)
	return report
}

func seedStatus(structural Status) Status {
	if structural.Valid() {
		return structural
	}
	return StatusPending
}

// Reconcile reconciles the tree's execution state with its structure and
// refreshes the progress snapshot.
func (t *Tree) Reconcile() ReconcileReport {
	report := Reconcile(t.Plan, t.Phases, t.State)
	t.RefreshProgress()
	return report
}

// RefreshProgress recomputes Plan.Progress from structure and resolved
// statuses, so TotalPhases always equals len(Plan.Phases).
func (t *Tree) RefreshProgress() {
	t.Plan.Progress = t.ComputeProgress()
}

// ComputeProgress derives the progress snapshot without storing it.
func (t *Tree) ComputeProgress() Progress {
	var prog Progress
	prog.TotalPhases = len(t.Plan.Phases)

	firstActive := ""
	for _, ref := range t.Plan.Phases {
		status := t.PhaseStatus(ref.ID)
		if status == StatusCompleted {
			prog.CompletedPhases++
		}
		if status == StatusInProgress && firstActive == "" {
			firstActive = ref.ID
		}
		if doc, ok := t.Phases[ref.ID]; ok {
			prog.TotalTasks += len(doc.Tasks)
			for _, task := range doc.Tasks {
				if t.TaskStatus(ref.ID, task.ID) == StatusCompleted {
					prog.CompletedTasks++
				}
			}
		}
	}

	prog.CurrentPhase = firstActive
	if t.State.CurrentPhase != "" {
		if _, ok := t.Plan.Phase(t.State.CurrentPhase); ok {
			prog.CurrentPhase = t.State.CurrentPhase
		}
	}
	return prog
}
