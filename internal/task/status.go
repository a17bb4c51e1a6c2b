package task

import "github.com/dukerupert/famhabit/internal/model"

// transitions lists the statuses reachable from each status. Approved and
// rejected have no entry and are terminal.
var transitions = map[model.TaskStatus][]model.TaskStatus{
	model.TaskNew:        {model.TaskInProgress, model.TaskDone, model.TaskRejected},
	model.TaskInProgress: {model.TaskDone, model.TaskRejected},
	model.TaskDone:       {model.TaskApproved, model.TaskRejected},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to model.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s model.TaskStatus) bool {
	return s.Valid() && len(transitions[s]) == 0
}
