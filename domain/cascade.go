package domain

// CascadeTarget decides whether toggling a checklist item promotes the owning
// task. Checking an item (false -> true) on a backlog or todo task starts it.
// Unchecking never moves the task backward.
func CascadeTarget(current Status, prevCompleted, nextCompleted bool) (Status, bool) {
	if prevCompleted || !nextCompleted {
		return "", false
	}
	switch current {
	case StatusTodo, StatusBacklog:
		return StatusInProgress, true
	}
	return "", false
}
