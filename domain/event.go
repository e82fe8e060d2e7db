package domain

// Source identifies which input channel asked for a status change.
type Source string

const (
	SourceDirect  Source = "direct"
	SourceSwipe   Source = "swipe"
	SourceCascade Source = "cascade"
)

const StatusChangedEventType = "task-status-changed"

// StatusChangedEvent records an applied status transition.
type StatusChangedEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	TaskID    string `json:"taskId"`
	From      Status `json:"from"`
	To        Status `json:"to"`
	Source    Source `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
