package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"tasklane/board"
	"tasklane/coordinator"
	"tasklane/domain"
)

// Trace is a recorded interaction with one task row.
type Trace struct {
	Task  TraceTask `yaml:"task"`
	Steps []Step    `yaml:"steps"`
}

type TraceTask struct {
	ID        string                 `yaml:"id"`
	Title     string                 `yaml:"title"`
	Status    string                 `yaml:"status"`
	Checklist []domain.ChecklistItem `yaml:"checklist"`
}

// Step is one input event. Op is one of start, move, end, cancel, settle,
// toggle, set or wait. At is the offset from the start of the trace.
type Step struct {
	Op        string        `yaml:"op"`
	X         float64       `yaml:"x"`
	At        time.Duration `yaml:"at"`
	Item      string        `yaml:"item"`
	Completed bool          `yaml:"completed"`
	Status    string        `yaml:"status"`
	// Async leaves the resulting mutation pending instead of waiting for it.
	Async bool `yaml:"async"`
}

func LoadTrace(path string) (Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Trace{}, err
	}
	var tr Trace
	if err := yaml.Unmarshal(data, &tr); err != nil {
		return Trace{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if tr.Task.ID == "" {
		return Trace{}, fmt.Errorf("%s: task id is required", path)
	}
	if _, err := domain.ParseStatus(tr.Task.Status); err != nil {
		return Trace{}, fmt.Errorf("%s: %w", path, err)
	}
	return tr, nil
}

// Backend is what a replay mutates: the HTTP client or a dry run.
type Backend interface {
	coordinator.Mutator
	board.ChecklistSaver
}

// Report summarizes a replay.
type Report struct {
	Task     domain.Task
	Final    board.RowView
	Feedback []coordinator.Feedback
}

// Replayer drives a board row with a trace.
type Replayer struct {
	Backend    Backend
	Out        io.Writer
	Logger     *log.Logger
	Registerer prometheus.Registerer
}

func (r *Replayer) Run(ctx context.Context, tr Trace) (Report, error) {
	status, err := domain.ParseStatus(tr.Task.Status)
	if err != nil {
		return Report{}, err
	}
	task := domain.Task{ID: tr.Task.ID, Title: tr.Task.Title, Status: status, Checklist: tr.Task.Checklist}

	var mu sync.Mutex
	var feedback []coordinator.Feedback
	notifier := coordinator.NotifierFunc(func(fb coordinator.Feedback) {
		mu.Lock()
		feedback = append(feedback, fb)
		mu.Unlock()
		fmt.Fprintf(r.Out, "  feedback %-8s %s\n", fb.Level, fb.Message)
	})

	var settles []func()
	coord := coordinator.New(r.Backend, notifier, coordinator.Options{Logger: r.Logger, Registerer: r.Registerer})
	row := board.NewRow(task, coord, board.Options{
		Saver:    r.Backend,
		Notifier: notifier,
		Logger:   r.Logger,
		Scheduler: func(d time.Duration, f func()) {
			mu.Lock()
			settles = append(settles, f)
			mu.Unlock()
		},
	})

	t0 := time.Now()
	for i, st := range tr.Steps {
		fmt.Fprintf(r.Out, "#%d %s\n", i+1, describe(st))
		switch st.Op {
		case "start":
			if !row.TouchStart(st.X, t0.Add(st.At)) {
				fmt.Fprintln(r.Out, "  ignored")
			}
		case "move":
			if res := row.TouchMove(st.X); res.Intercept {
				fmt.Fprintln(r.Out, "  intercepted")
			}
		case "end":
			d, err := row.TouchEnd(ctx, t0.Add(st.At))
			fmt.Fprintf(r.Out, "  %s delta=%.0f elapsed=%s", d.Outcome, d.Delta, d.Elapsed)
			if d.Committed() {
				fmt.Fprintf(r.Out, " direction=%s", d.Direction)
			}
			fmt.Fprintln(r.Out)
			if err != nil {
				fmt.Fprintf(r.Out, "  not issued: %v\n", err)
			}
		case "cancel":
			row.TouchCancel()
		case "settle":
			mu.Lock()
			pending := settles
			settles = nil
			mu.Unlock()
			for _, f := range pending {
				f()
			}
		case "toggle":
			res, err := row.ToggleChecklistItem(ctx, st.Item, st.Completed)
			if err != nil {
				fmt.Fprintf(r.Out, "  error: %v\n", err)
			} else if res.CascadeIssued {
				fmt.Fprintln(r.Out, "  cascade issued")
			}
		case "set":
			target, err := domain.ParseStatus(st.Status)
			if err != nil {
				return Report{}, fmt.Errorf("step %d: %w", i+1, err)
			}
			if err := row.SetStatus(ctx, target); err != nil {
				fmt.Fprintf(r.Out, "  not issued: %v\n", err)
			}
		case "wait":
			row.Wait()
		default:
			return Report{}, fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
		if !st.Async {
			row.Wait()
		}
		printView(r.Out, row.View())
	}
	row.Wait()

	mu.Lock()
	defer mu.Unlock()
	return Report{Task: row.Task(), Final: row.View(), Feedback: append([]coordinator.Feedback(nil), feedback...)}, nil
}

func describe(st Step) string {
	switch st.Op {
	case "start", "end":
		return fmt.Sprintf("%s x=%.0f at=%s", st.Op, st.X, st.At)
	case "move":
		return fmt.Sprintf("move x=%.0f", st.X)
	case "toggle":
		return fmt.Sprintf("toggle %s completed=%t", st.Item, st.Completed)
	case "set":
		return "set " + st.Status
	}
	return st.Op
}

func printView(w io.Writer, v board.RowView) {
	fmt.Fprintf(w, "  status=%s offset=%.0f side=%s phase=%s busy=%t\n", v.Status, v.Offset, v.VisibleSide, v.Phase, v.Busy)
}

// dryRun accepts every write without a server. Fail makes status updates
// fail like a dropped connection.
type dryRun struct {
	Fail    bool
	Latency time.Duration
	Logger  *log.Logger
}

func (d dryRun) UpdateStatus(ctx context.Context, taskID string, status domain.Status) error {
	if d.Latency > 0 {
		select {
		case <-time.After(d.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.Logger.WithFields(log.Fields{"task": taskID, "status": status}).Debug("dry-run status update")
	if d.Fail {
		return fmt.Errorf("dry run: connection refused")
	}
	return nil
}

func (d dryRun) SetChecklistItem(ctx context.Context, taskID, itemID string, completed bool) error {
	d.Logger.WithFields(log.Fields{"task": taskID, "item": itemID, "completed": completed}).Debug("dry-run checklist update")
	return nil
}
