package gesture

import (
	"math"
	"time"

	"tasklane/domain"
)

// Side is the action panel revealed behind the row.
type Side string

const (
	SideNone  Side = "none"
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Phase is the row's animation state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseTracking  Phase = "tracking"
	PhaseDragging  Phase = "dragging"
	PhaseExiting   Phase = "exiting"
	PhaseCollapsed Phase = "collapsed"
)

// Outcome of a finished interaction.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeAborted   Outcome = "aborted"
)

// Config holds the recognizer thresholds.
type Config struct {
	// Deadband is the travel below which moves are treated as scroll noise.
	Deadband float64
	// CommitDistance is the travel beyond which a release always commits.
	CommitDistance float64
	// FlickWindow commits any release that happens sooner than this after touch-start.
	FlickWindow time.Duration
	// ExitOffset is the translation of a row that has been swiped off-screen.
	ExitOffset float64
	// SettleDelay is the wait between the exit animation and the row collapsing.
	SettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Deadband:       100,
		CommitDistance: 300,
		FlickWindow:    300 * time.Millisecond,
		ExitOffset:     2000,
		SettleDelay:    300 * time.Millisecond,
	}
}

// MoveResult tells the caller whether the move was claimed by the swipe. When
// Intercept is true the event must not propagate to click or scroll handlers.
type MoveResult struct {
	Intercept bool
}

// Decision is produced once per interaction at touch-end.
type Decision struct {
	Outcome   Outcome
	Direction domain.Direction
	Delta     float64
	Elapsed   time.Duration
}

func (d Decision) Committed() bool { return d.Outcome == OutcomeCommitted }

// View is the render state derived from the current session.
type View struct {
	Offset      float64
	VisibleSide Side
	Phase       Phase
	Collapsed   bool
}

// Recognizer consumes the touch events of one row. It is not safe for
// concurrent use; the owning row serializes calls.
type Recognizer struct {
	cfg     Config
	actions domain.SwipeActions
	session Session
	offset  float64
	side    Side
	phase   Phase
}

// New creates a recognizer for a row whose available actions are given.
func New(cfg Config, actions domain.SwipeActions) *Recognizer {
	return &Recognizer{cfg: cfg, actions: actions, side: SideNone, phase: PhaseIdle}
}

// SetActions replaces the available actions, e.g. after the task's status changed.
func (r *Recognizer) SetActions(actions domain.SwipeActions) {
	r.actions = actions
}

func (r *Recognizer) Config() Config { return r.cfg }

// Session returns a copy of the current session.
func (r *Recognizer) Session() Session { return r.session }

// Start begins a new interaction. A start while another session is active
// restarts it, which also bounds sessions whose touch-end was lost. Rows that
// were swiped away ignore new touches.
func (r *Recognizer) Start(x float64, at time.Time) bool {
	if r.phase == PhaseExiting || r.phase == PhaseCollapsed {
		return false
	}
	r.session = Session{StartX: x, CurrentX: x, StartedAt: at, Active: true}
	r.offset = 0
	r.side = SideNone
	r.phase = PhaseTracking
	return true
}

// Move records the finger position and updates the visual offset once the
// deadband is exceeded.
func (r *Recognizer) Move(x float64) MoveResult {
	if !r.session.Active || r.phase == PhaseExiting {
		return MoveResult{}
	}
	if !r.actions.Any() {
		return MoveResult{}
	}
	r.session.CurrentX = x
	delta := r.session.Delta()

	if math.Abs(delta) < r.cfg.Deadband {
		r.clearVisual()
		return MoveResult{}
	}
	dir := directionOf(delta)
	if !r.actions.Has(dir) {
		r.clearVisual()
		return MoveResult{}
	}
	r.offset = delta
	r.side = sideFor(dir)
	r.phase = PhaseDragging
	return MoveResult{Intercept: true}
}

// End finishes the interaction. A release commits when the travel exceeds
// CommitDistance or when it comes within FlickWindow of touch-start.
// The time-only branch lets a very short fast flick commit; that is kept on
// purpose until the product decides on a distance floor.
func (r *Recognizer) End(at time.Time) Decision {
	if !r.session.Active || r.phase == PhaseExiting {
		return Decision{Outcome: OutcomeAborted}
	}
	delta := r.session.Delta()
	elapsed := r.session.Elapsed(at)
	d := Decision{Outcome: OutcomeAborted, Delta: delta, Elapsed: elapsed}

	qualifies := math.Abs(delta) > r.cfg.CommitDistance || elapsed < r.cfg.FlickWindow
	if qualifies && delta != 0 && r.actions.Any() {
		dir := directionOf(delta)
		if r.actions.Has(dir) {
			d.Outcome = OutcomeCommitted
			d.Direction = dir
			r.offset = math.Copysign(r.cfg.ExitOffset, delta)
			r.side = sideFor(dir)
			r.phase = PhaseExiting
			return d
		}
	}

	r.abort()
	return d
}

// Cancel aborts the interaction without a decision, as on touch-cancel.
func (r *Recognizer) Cancel() {
	if r.phase == PhaseExiting || r.phase == PhaseCollapsed {
		return
	}
	r.abort()
}

// Settle runs after SettleDelay following a commit: the session is cleared
// and the row collapses.
func (r *Recognizer) Settle() {
	if r.phase != PhaseExiting {
		return
	}
	r.session.Reset()
	r.phase = PhaseCollapsed
}

// Reset returns the recognizer to idle, e.g. when the row is rendered again
// for a reloaded task.
func (r *Recognizer) Reset() {
	r.abort()
}

func (r *Recognizer) View() View {
	return View{
		Offset:      r.offset,
		VisibleSide: r.side,
		Phase:       r.phase,
		Collapsed:   r.phase == PhaseCollapsed,
	}
}

func (r *Recognizer) abort() {
	r.session.Reset()
	r.offset = 0
	r.side = SideNone
	r.phase = PhaseIdle
}

func (r *Recognizer) clearVisual() {
	r.offset = 0
	r.side = SideNone
	r.phase = PhaseTracking
}

func directionOf(delta float64) domain.Direction {
	if delta < 0 {
		return domain.DirectionLeft
	}
	return domain.DirectionRight
}

func sideFor(dir domain.Direction) Side {
	if dir == domain.DirectionLeft {
		return SideLeft
	}
	return SideRight
}
