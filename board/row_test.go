package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"tasklane/coordinator"
	"tasklane/domain"
	"tasklane/gesture"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type statusCall struct {
	taskID string
	status domain.Status
}

type fakeBackend struct {
	mu        sync.Mutex
	calls     []statusCall
	statusErr error
	saveErr   error
	saves     int
	hold      chan struct{}
}

func (f *fakeBackend) UpdateStatus(ctx context.Context, taskID string, status domain.Status) error {
	f.mu.Lock()
	f.calls = append(f.calls, statusCall{taskID, status})
	hold, err := f.hold, f.statusErr
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return err
}

func (f *fakeBackend) SetChecklistItem(ctx context.Context, taskID, itemID string, completed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return f.saveErr
}

func (f *fakeBackend) Calls() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.calls...)
}

type feedbackLog struct {
	mu    sync.Mutex
	items []coordinator.Feedback
}

func (l *feedbackLog) Notify(fb coordinator.Feedback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, fb)
}

func (l *feedbackLog) levels() []coordinator.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]coordinator.Level, len(l.items))
	for i, fb := range l.items {
		out[i] = fb.Level
	}
	return out
}

// manualScheduler collects settle callbacks so tests decide when they run.
type manualScheduler struct {
	mu    sync.Mutex
	funcs []func()
	delay time.Duration
}

func (s *manualScheduler) schedule(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	s.funcs = append(s.funcs, f)
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

type harness struct {
	backend  *fakeBackend
	feedback *feedbackLog
	sched    *manualScheduler
	coord    *coordinator.Coordinator
}

func newHarness() *harness {
	h := &harness{backend: &fakeBackend{}, feedback: &feedbackLog{}, sched: &manualScheduler{}}
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	h.coord = coordinator.New(h.backend, h.feedback, coordinator.Options{Logger: logger})
	return h
}

func (h *harness) row(task domain.Task) *Row {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return NewRow(task, h.coord, Options{
		Saver:     h.backend,
		Notifier:  h.feedback,
		Scheduler: h.sched.schedule,
		Logger:    logger,
	})
}

func todoTask() domain.Task {
	return domain.Task{
		ID:     "task-1",
		Title:  "Write report",
		Status: domain.StatusTodo,
		Checklist: []domain.ChecklistItem{
			{ID: "c1", Text: "outline"},
			{ID: "c2", Text: "draft", Completed: true},
		},
	}
}

func TestSwipeLeftOnTodoCompletesTask(t *testing.T) {
	h := newHarness()
	r := h.row(todoTask())

	r.TouchStart(600, t0)
	if res := r.TouchMove(250); !res.Intercept {
		t.Fatalf("expected drag past deadband to be intercepted")
	}
	if v := r.View(); v.VisibleSide != gesture.SideLeft || v.Left == nil || v.Left.Target != domain.StatusCompleted {
		t.Fatalf("expected left completed panel, got %#v", v)
	}

	d, err := r.TouchEnd(context.Background(), t0.Add(800*time.Millisecond))
	if err != nil || !d.Committed() || d.Direction != domain.DirectionLeft {
		t.Fatalf("unexpected decision %#v err %v", d, err)
	}
	if v := r.View(); v.Offset >= 0 || v.Phase != gesture.PhaseExiting {
		t.Fatalf("expected row to animate off-screen left, got %#v", v)
	}
	if h.sched.delay != gesture.DefaultConfig().SettleDelay {
		t.Fatalf("expected settle after %v, got %v", gesture.DefaultConfig().SettleDelay, h.sched.delay)
	}

	r.Wait()
	calls := h.backend.Calls()
	if len(calls) != 1 || calls[0] != (statusCall{"task-1", domain.StatusCompleted}) {
		t.Fatalf("unexpected mutation calls: %#v", calls)
	}
	if got := r.Task().Status; got != domain.StatusCompleted {
		t.Fatalf("expected task status completed after success, got %s", got)
	}

	h.sched.fire()
	if v := r.View(); !v.Collapsed {
		t.Fatalf("expected row to collapse after settle, got %#v", v)
	}
}

func TestSwipeRightOnBacklogDoesNothing(t *testing.T) {
	h := newHarness()
	task := todoTask()
	task.Status = domain.StatusBacklog
	r := h.row(task)

	for _, elapsed := range []time.Duration{20 * time.Millisecond, 2 * time.Second} {
		r.TouchStart(100, t0)
		for _, x := range []float64{180, 300, 500, 900} {
			r.TouchMove(x)
			if v := r.View(); v.VisibleSide != gesture.SideNone {
				t.Fatalf("backlog right swipe revealed a panel: %#v", v)
			}
		}
		d, err := r.TouchEnd(context.Background(), t0.Add(elapsed))
		if err != nil || d.Committed() {
			t.Fatalf("backlog right swipe must abort, got %#v %v", d, err)
		}
	}
	r.Wait()
	if calls := h.backend.Calls(); len(calls) != 0 {
		t.Fatalf("expected no mutation, got %#v", calls)
	}
	if v := r.View(); v.Right != nil {
		t.Fatalf("backlog row must not expose a right action: %#v", v.Right)
	}
}

func TestAbortedSwipeIssuesNothing(t *testing.T) {
	h := newHarness()
	r := h.row(todoTask())

	r.TouchStart(500, t0)
	r.TouchMove(750)
	d, _ := r.TouchEnd(context.Background(), t0.Add(time.Second))
	if d.Committed() {
		t.Fatalf("250px slow drag must abort")
	}
	if v := r.View(); v.Offset != 0 || v.Phase != gesture.PhaseIdle {
		t.Fatalf("expected reset, got %#v", v)
	}
	r.Wait()
	if len(h.backend.Calls()) != 0 {
		t.Fatalf("aborted swipe must not mutate")
	}
}

func TestCheckingItemOnTodoCascadesOnce(t *testing.T) {
	for _, saveErr := range []error{nil, errors.New("save failed")} {
		h := newHarness()
		h.backend.saveErr = saveErr
		r := h.row(todoTask())

		res, err := r.ToggleChecklistItem(context.Background(), "c1", true)
		if err != nil || !res.CascadeIssued {
			t.Fatalf("expected cascade to be issued, got %#v %v", res, err)
		}
		r.Wait()
		calls := h.backend.Calls()
		if len(calls) != 1 || calls[0].status != domain.StatusInProgress {
			t.Fatalf("expected one inprogress mutation (save err %v), got %#v", saveErr, calls)
		}
		if got := r.Task().Status; got != domain.StatusInProgress {
			t.Fatalf("expected task to be in progress, got %s", got)
		}
		task := r.Task()
		item, _ := task.ChecklistItem("c1")
		if item.Completed != (saveErr == nil) {
			t.Fatalf("checklist item completion should follow its own save outcome")
		}
	}
}

func TestUncheckingOrStartedTaskNeverCascades(t *testing.T) {
	h := newHarness()
	r := h.row(todoTask())
	if res, _ := r.ToggleChecklistItem(context.Background(), "c2", false); res.CascadeIssued {
		t.Fatalf("unchecking must not cascade")
	}

	task := todoTask()
	task.ID = "task-2"
	task.Status = domain.StatusInProgress
	r2 := h.row(task)
	if res, _ := r2.ToggleChecklistItem(context.Background(), "c1", true); res.CascadeIssued {
		t.Fatalf("in-progress task must not cascade")
	}

	r.Wait()
	r2.Wait()
	if calls := h.backend.Calls(); len(calls) != 0 {
		t.Fatalf("expected no status mutation, got %#v", calls)
	}
	if h.backend.saves != 2 {
		t.Fatalf("expected both checklist saves, got %d", h.backend.saves)
	}
}

func TestToggleUnknownItem(t *testing.T) {
	h := newHarness()
	r := h.row(todoTask())
	if _, err := r.ToggleChecklistItem(context.Background(), "nope", true); !errors.Is(err, domain.ErrChecklistItemNotFound) {
		t.Fatalf("expected ErrChecklistItemNotFound, got %v", err)
	}
}

func TestFailedSwipeKeepsVisualStateAndReleasesGuard(t *testing.T) {
	h := newHarness()
	h.backend.statusErr = errors.New("network unreachable")
	h.backend.hold = make(chan struct{})
	r := h.row(todoTask())

	r.TouchStart(0, t0)
	r.TouchMove(-400)
	if _, err := r.TouchEnd(context.Background(), t0.Add(time.Second)); err != nil {
		t.Fatalf("touch end: %v", err)
	}
	if v := r.View(); !v.Busy {
		t.Fatalf("expected row to be busy while the mutation is pending")
	}
	if r.TouchStart(10, t0.Add(2*time.Second)) {
		t.Fatalf("touch start must be ignored while in flight")
	}
	if err := r.SetStatus(context.Background(), domain.StatusBacklog); !errors.Is(err, coordinator.ErrInFlight) {
		t.Fatalf("direct status change must be refused while in flight, got %v", err)
	}

	close(h.backend.hold)
	r.Wait()

	v := r.View()
	if v.Busy {
		t.Fatalf("guard must be released after failure")
	}
	if v.Offset != -gesture.DefaultConfig().ExitOffset {
		t.Fatalf("visual offset must stay at the committed position, got %v", v.Offset)
	}
	if v.Status != domain.StatusTodo {
		t.Fatalf("status must not change on failure, got %s", v.Status)
	}
	levels := h.feedback.levels()
	if len(levels) != 1 || levels[0] != coordinator.LevelError {
		t.Fatalf("expected one error notification, got %#v", levels)
	}
}

func TestSetStatusSameStatusIsNoop(t *testing.T) {
	h := newHarness()
	r := h.row(todoTask())
	if err := r.SetStatus(context.Background(), domain.StatusTodo); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := r.SetStatus(context.Background(), domain.StatusBacklog); err != nil {
		t.Fatalf("set status: %v", err)
	}
	r.Wait()
	calls := h.backend.Calls()
	if len(calls) != 1 || calls[0].status != domain.StatusBacklog {
		t.Fatalf("unexpected calls: %#v", calls)
	}
	if levels := h.feedback.levels(); len(levels) != 1 || levels[0] != coordinator.LevelSuccess {
		t.Fatalf("expected success feedback for direct change, got %#v", levels)
	}
}

func TestBoardRowsHaveIndependentSessions(t *testing.T) {
	h := newHarness()
	b := NewBoard(h.coord, Options{Scheduler: h.sched.schedule})
	second := todoTask()
	second.ID = "task-2"
	deleted := todoTask()
	deleted.ID = "task-3"
	deleted.Deleted = true
	b.Load([]domain.Task{todoTask(), second, deleted})

	if _, ok := b.Row("task-3"); ok {
		t.Fatalf("soft-deleted task must not get a row")
	}
	r1, _ := b.Row("task-1")
	r2, _ := b.Row("task-2")
	r1.TouchStart(0, t0)
	r1.TouchMove(-200)
	if v := r2.View(); v.Offset != 0 || v.VisibleSide != gesture.SideNone {
		t.Fatalf("rows must not share sessions, got %#v", v)
	}

	r1.TouchMove(-400)
	if d, err := r1.TouchEnd(context.Background(), t0.Add(time.Second)); err != nil || !d.Committed() {
		t.Fatalf("expected committed swipe, got %#v (%v)", d, err)
	}
	b.Wait()
	h.sched.fire()
	views := b.Views()
	if len(views) != 1 || views[0].TaskID != "task-2" {
		t.Fatalf("expected collapsed row to be hidden, got %#v", views)
	}
}

func TestSwipeRefusedWhileCascadePending(t *testing.T) {
	h := newHarness()
	h.backend.hold = make(chan struct{})
	r := h.row(todoTask())

	r.TouchStart(0, t0)
	r.TouchMove(-400)
	res, err := r.ToggleChecklistItem(context.Background(), "c1", true)
	if err != nil || !res.CascadeIssued {
		t.Fatalf("expected cascade, got %#v (%v)", res, err)
	}

	d, err := r.TouchEnd(context.Background(), t0.Add(time.Second))
	if !errors.Is(err, coordinator.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if d.Committed() {
		t.Fatalf("refused swipe must not report a commit, got %#v", d)
	}
	v := r.View()
	if v.Offset != 0 || v.Collapsed || v.Phase != gesture.PhaseIdle || v.VisibleSide != gesture.SideNone {
		t.Fatalf("row must snap back, got %#v", v)
	}
	h.sched.mu.Lock()
	pending := len(h.sched.funcs)
	h.sched.mu.Unlock()
	if pending != 0 {
		t.Fatalf("refused swipe must not schedule a collapse")
	}

	close(h.backend.hold)
	r.Wait()

	calls := h.backend.Calls()
	if len(calls) != 1 || calls[0].status != domain.StatusInProgress {
		t.Fatalf("only the cascade may reach the backend, got %#v", calls)
	}
	h.feedback.mu.Lock()
	var refusals int
	for _, fb := range h.feedback.items {
		if fb.Level == coordinator.LevelError && fb.Source == domain.SourceSwipe {
			refusals++
		}
	}
	h.feedback.mu.Unlock()
	if refusals != 1 {
		t.Fatalf("expected one swipe error notification, got %#v", h.feedback.levels())
	}
	if v := r.View(); v.Status != domain.StatusInProgress || v.Collapsed {
		t.Fatalf("expected visible in-progress row, got %#v", v)
	}
}
