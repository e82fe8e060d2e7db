package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tasklane/domain"
)

// eventStamper assigns ids and timestamps to status change events. Timestamps
// are unix nanoseconds and strictly increase within one process, even when the
// wall clock steps back.
type eventStamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

var stamper = newEventStamper(time.Now)

func newEventStamper(now func() time.Time) *eventStamper {
	return &eventStamper{now: now}
}

func (s *eventStamper) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

// statusChanged builds the event for a transition that was just written.
func (s *eventStamper) statusChanged(userID, taskID string, from, to domain.Status, source domain.Source) domain.StatusChangedEvent {
	switch source {
	case domain.SourceDirect, domain.SourceSwipe, domain.SourceCascade:
	default:
		source = ""
	}
	return domain.StatusChangedEvent{
		ID:        uuid.NewString(),
		Type:      domain.StatusChangedEventType,
		UserID:    userID,
		TaskID:    taskID,
		From:      from,
		To:        to,
		Source:    source,
		Timestamp: s.next(),
	}
}
