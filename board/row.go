// Package board holds the per-row view models that connect touch input and
// checklist edits to the status mutation coordinator.
package board

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tasklane/coordinator"
	"tasklane/domain"
	"tasklane/gesture"
)

// ChecklistSaver persists a checklist item's completion flag.
type ChecklistSaver interface {
	SetChecklistItem(ctx context.Context, taskID, itemID string, completed bool) error
}

// Scheduler runs f after d. time.AfterFunc is used when none is configured.
type Scheduler func(d time.Duration, f func())

// Options configures rows.
type Options struct {
	Gesture   gesture.Config
	Saver     ChecklistSaver
	Notifier  coordinator.Notifier
	Scheduler Scheduler
	Logger    *log.Logger
}

// RowView is everything a renderer needs to draw one task row.
type RowView struct {
	TaskID      string
	Status      domain.Status
	Offset      float64
	VisibleSide gesture.Side
	Phase       gesture.Phase
	Collapsed   bool
	// Busy is true while a status mutation is pending; status buttons are disabled.
	Busy  bool
	Left  *domain.SwipeAction
	Right *domain.SwipeAction
}

// ToggleResult reports what a checklist toggle set in motion.
type ToggleResult struct {
	CascadeIssued bool
}

// Row is the view model of one task row. It owns its recognizer and
// therefore its gesture session.
type Row struct {
	coord    *coordinator.Coordinator
	saver    ChecklistSaver
	notifier coordinator.Notifier
	schedule Scheduler
	logger   *log.Logger

	mu   sync.Mutex
	task domain.Task
	rec  *gesture.Recognizer

	wg sync.WaitGroup
}

func NewRow(task domain.Task, coord *coordinator.Coordinator, opts Options) *Row {
	if coord == nil {
		panic("board.NewRow: coordinator is nil")
	}
	cfg := opts.Gesture
	if cfg == (gesture.Config{}) {
		cfg = gesture.DefaultConfig()
	}
	schedule := opts.Scheduler
	if schedule == nil {
		schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = coordinator.NotifierFunc(func(coordinator.Feedback) {})
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Row{
		coord:    coord,
		saver:    opts.Saver,
		notifier: notifier,
		schedule: schedule,
		logger:   logger,
		task:     task,
		rec:      gesture.New(cfg, domain.SwipeActionsFor(task.Status)),
	}
}

// Task returns a copy of the row's task.
func (r *Row) Task() domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.task
	t.Checklist = append([]domain.ChecklistItem(nil), r.task.Checklist...)
	return t
}

// TouchStart begins a gesture unless a mutation for this task is pending.
func (r *Row) TouchStart(x float64, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coord.InFlight(r.task.ID) {
		return false
	}
	return r.rec.Start(x, at)
}

// TouchMove forwards a move. When the result intercepts, the caller stops
// propagation so row clicks and parent scrolling do not fire.
func (r *Row) TouchMove(x float64) gesture.MoveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Move(x)
}

// TouchCancel aborts the current gesture.
func (r *Row) TouchCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Cancel()
}

// TouchEnd finishes the gesture. A committed swipe requests the status from
// the swipe table and schedules the row to collapse after the settle delay.
// When the task already has a mutation pending, e.g. a cascade fired during
// the drag, the swipe is refused: the row snaps back and an error is shown.
func (r *Row) TouchEnd(ctx context.Context, at time.Time) (gesture.Decision, error) {
	r.mu.Lock()
	d := r.rec.End(at)
	if !d.Committed() {
		r.mu.Unlock()
		return d, nil
	}
	taskID := r.task.ID
	action, ok := domain.LookupSwipe(r.task.Status, d.Direction)
	if !ok {
		// the recognizer only commits directions that have an action
		r.rec.Reset()
		r.mu.Unlock()
		return refused(d), errors.New("committed swipe has no action")
	}

	ch, err := r.coord.Request(ctx, taskID, action.Target, domain.SourceSwipe)
	if err != nil {
		r.rec.Reset()
		r.mu.Unlock()
		r.logger.WithFields(log.Fields{"task": taskID, "target": action.Target}).WithError(err).Warn("swipe mutation not issued")
		r.notifier.Notify(coordinator.Feedback{
			Level:   coordinator.LevelError,
			TaskID:  taskID,
			Target:  action.Target,
			Source:  domain.SourceSwipe,
			Message: swipeRefusedMessage,
		})
		return refused(d), err
	}
	settle := r.rec.Config().SettleDelay
	r.mu.Unlock()

	r.schedule(settle, r.settle)
	r.track(ch)
	return d, nil
}

const swipeRefusedMessage = "Task status is already being updated"

func refused(d gesture.Decision) gesture.Decision {
	d.Outcome = gesture.OutcomeAborted
	d.Direction = ""
	return d
}

// SetStatus is the direct button path.
func (r *Row) SetStatus(ctx context.Context, target domain.Status) error {
	r.mu.Lock()
	taskID, current := r.task.ID, r.task.Status
	r.mu.Unlock()

	if target == current {
		return nil
	}
	ch, err := r.coord.Request(ctx, taskID, target, domain.SourceDirect)
	if err != nil {
		return err
	}
	r.track(ch)
	return nil
}

// ToggleChecklistItem saves the item's new completion flag and, independently
// of that save, applies the cascade rule to the task.
func (r *Row) ToggleChecklistItem(ctx context.Context, itemID string, completed bool) (ToggleResult, error) {
	r.mu.Lock()
	item, ok := r.task.ChecklistItem(itemID)
	if !ok {
		r.mu.Unlock()
		return ToggleResult{}, domain.ErrChecklistItemNotFound
	}
	prev := item.Completed
	taskID, current := r.task.ID, r.task.Status
	r.mu.Unlock()

	if r.saver != nil {
		r.wg.Add(1)
		go r.saveChecklistItem(context.WithoutCancel(ctx), taskID, itemID, completed)
	}

	var res ToggleResult
	target, issue := domain.CascadeTarget(current, prev, completed)
	if !issue {
		return res, nil
	}
	ch, err := r.coord.Request(ctx, taskID, target, domain.SourceCascade)
	if err != nil {
		// the checklist edit stands on its own
		r.logger.WithFields(log.Fields{"task": taskID, "item": itemID}).WithError(err).Warn("cascade mutation not issued")
		return res, nil
	}
	res.CascadeIssued = true
	r.track(ch)
	return res, nil
}

func (r *Row) saveChecklistItem(ctx context.Context, taskID, itemID string, completed bool) {
	defer r.wg.Done()
	saved := r.saver.SetChecklistItem(ctx, taskID, itemID, completed) == nil
	if !saved {
		r.notifier.Notify(coordinator.Feedback{Level: coordinator.LevelError, TaskID: taskID, Message: "Failed to update checklist item"})
		return
	}
	r.mu.Lock()
	if item, ok := r.task.ChecklistItem(itemID); ok {
		item.Completed = completed
	}
	r.mu.Unlock()
	r.notifier.Notify(coordinator.Feedback{Level: coordinator.LevelSuccess, TaskID: taskID, Message: "Checklist item updated"})
}

// track applies a successful outcome to the row. Failures leave the row as
// the recognizer last rendered it.
func (r *Row) track(ch <-chan coordinator.Outcome) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		out, ok := <-ch
		if !ok || out.Err != nil {
			return
		}
		r.mu.Lock()
		r.task.Status = out.Target
		r.rec.SetActions(domain.SwipeActionsFor(out.Target))
		r.mu.Unlock()
	}()
}

func (r *Row) settle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Settle()
}

// Wait blocks until background saves and mutations started by this row finish.
func (r *Row) Wait() {
	r.wg.Wait()
}

func (r *Row) View() RowView {
	r.mu.Lock()
	defer r.mu.Unlock()
	gv := r.rec.View()
	v := RowView{
		TaskID:      r.task.ID,
		Status:      r.task.Status,
		Offset:      gv.Offset,
		VisibleSide: gv.VisibleSide,
		Phase:       gv.Phase,
		Collapsed:   gv.Collapsed,
		Busy:        r.coord.InFlight(r.task.ID),
	}
	actions := domain.SwipeActionsFor(r.task.Status)
	if actions.LeftOK {
		left := actions.Left
		v.Left = &left
	}
	if actions.RightOK {
		right := actions.Right
		v.Right = &right
	}
	return v
}
