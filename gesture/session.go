// Package gesture turns single-finger horizontal touch events on a task row
// into swipe decisions.
package gesture

import "time"

// Session tracks one finger-down to finger-up interaction. A session belongs to
// exactly one row's Recognizer and is never shared.
type Session struct {
	StartX    float64
	CurrentX  float64
	StartedAt time.Time
	Active    bool
}

// Delta is the horizontal travel since touch-start.
func (s Session) Delta() float64 {
	if !s.Active {
		return 0
	}
	return s.CurrentX - s.StartX
}

// Elapsed is the time since touch-start.
func (s Session) Elapsed(now time.Time) time.Duration {
	if !s.Active || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Reset returns the session to its neutral value.
func (s *Session) Reset() {
	*s = Session{}
}
