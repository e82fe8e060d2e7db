package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every lifecycle state in board order.
var Statuses = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusCompleted}

var (
	// ErrInvalidStatus is returned when a status string is not one of the four lifecycle states.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrTaskNotFound is returned when the task does not exist or was soft-deleted.
	ErrTaskNotFound = errors.New("task not found")
	// ErrChecklistItemNotFound is returned when the task has no checklist item with the given id.
	ErrChecklistItemNotFound = errors.New("checklist item not found")
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Label is the human readable name shown on action panels and buttons.
func (s Status) Label() string {
	switch s {
	case StatusBacklog:
		return "Backlog"
	case StatusTodo:
		return "Todo"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	}
	return string(s)
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ChecklistItem belongs to exactly one task.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Task represents a single item on the board.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    Priority        `json:"priority"`
	Category    string          `json:"category"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Checklist   []ChecklistItem `json:"checklist"`
	Status      Status          `json:"status"`
	Deleted     bool            `json:"-"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ChecklistItem returns the item with the given id.
func (t *Task) ChecklistItem(id string) (*ChecklistItem, bool) {
	for i := range t.Checklist {
		if t.Checklist[i].ID == id {
			return &t.Checklist[i], true
		}
	}
	return nil, false
}

// MutationRejectedError is returned when the backend answers a status update
// with a non-success status.
type MutationRejectedError struct {
	TaskID  string
	Message string
}

func (e *MutationRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status update for task %s rejected", e.TaskID)
	}
	return fmt.Sprintf("status update for task %s rejected: %s", e.TaskID, e.Message)
}
