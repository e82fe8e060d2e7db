// Package coordinator issues task status mutations on behalf of both the swipe
// and the checklist cascade paths, guarding each task against concurrent
// mutations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tasklane/domain"
)

const tracerName = "tasklane/coordinator"

// ErrInFlight is returned when the task already has a pending mutation.
var ErrInFlight = errors.New("status mutation already in flight")

// Mutator performs the status update against the backend.
type Mutator interface {
	UpdateStatus(ctx context.Context, taskID string, status domain.Status) error
}

// Level ranks feedback shown to the user.
type Level string

const (
	LevelSuccess  Level = "success"
	LevelError    Level = "error"
	LevelAdvisory Level = "advisory"
)

// Feedback is a user-facing notification.
type Feedback struct {
	Level   Level
	TaskID  string
	Target  domain.Status
	Source  domain.Source
	Message string
}

// Notifier renders feedback, e.g. as a toast.
type Notifier interface {
	Notify(Feedback)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Feedback)

func (f NotifierFunc) Notify(fb Feedback) { f(fb) }

// Outcome is delivered once the mutation finished and the guard was released.
type Outcome struct {
	TaskID   string
	Target   domain.Status
	Source   domain.Source
	Err      error
	Duration time.Duration
}

const (
	networkFailureMessage  = "Failed to update task status. Please check your connection and try again."
	rejectedDefaultMessage = "Unable to update task status"
)

// Options configures a Coordinator.
type Options struct {
	// Timeout bounds a single mutation request. Zero means no timeout.
	Timeout    time.Duration
	Logger     *log.Logger
	Registerer prometheus.Registerer
}

// Coordinator serializes status mutations per task id.
type Coordinator struct {
	mutator  Mutator
	notifier Notifier
	logger   *log.Logger
	timeout  time.Duration
	metrics  *mutationMetrics

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func New(mutator Mutator, notifier Notifier, opts Options) *Coordinator {
	if mutator == nil {
		panic("coordinator.New: mutator is nil")
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Feedback) {})
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{
		mutator:  mutator,
		notifier: notifier,
		logger:   logger,
		timeout:  opts.Timeout,
		metrics:  newMutationMetrics(opts.Registerer),
		inflight: make(map[string]struct{}),
	}
}

// InFlight reports whether taskID has a pending mutation. Rows consult it to
// ignore touch-starts and to disable status buttons.
func (c *Coordinator) InFlight(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[taskID]
	return ok
}

// Request starts an asynchronous status mutation and returns immediately.
// The returned channel receives exactly one Outcome and is then closed.
// The mutation is not cancelled when ctx is; only its values are kept.
func (c *Coordinator) Request(ctx context.Context, taskID string, target domain.Status, source domain.Source) (<-chan Outcome, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, target)
	}

	c.mu.Lock()
	if _, busy := c.inflight[taskID]; busy {
		c.mu.Unlock()
		c.metrics.rejected.WithLabelValues(string(source)).Inc()
		c.logger.WithFields(log.Fields{"task": taskID, "target": target, "source": source}).Debug("status mutation skipped, already in flight")
		return nil, ErrInFlight
	}
	c.inflight[taskID] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()
	c.metrics.inflight.Inc()

	done := make(chan Outcome, 1)
	go c.run(context.WithoutCancel(ctx), taskID, target, source, done)
	return done, nil
}

// Wait blocks until every started mutation has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, taskID string, target domain.Status, source domain.Source, done chan<- Outcome) {
	defer c.wg.Done()
	defer close(done)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "task.status.mutate",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.status.target", string(target)),
			attribute.String("task.status.source", string(source)),
		))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.mutator.UpdateStatus(ctx, taskID, target)
	elapsed := time.Since(start)

	c.release(taskID)

	out := Outcome{TaskID: taskID, Target: target, Source: source, Err: err, Duration: elapsed}
	fields := log.Fields{
		"task":        taskID,
		"target":      target,
		"source":      source,
		"duration_ms": float64(elapsed) / float64(time.Millisecond),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.observe(source, resultLabel(err), elapsed)
		c.reportFailure(out, fields)
	} else {
		c.metrics.observe(source, "success", elapsed)
		c.logger.WithFields(fields).Info("task.status.mutation")
		if source != domain.SourceCascade {
			c.notifier.Notify(Feedback{
				Level:   LevelSuccess,
				TaskID:  taskID,
				Target:  target,
				Source:  source,
				Message: fmt.Sprintf("Task moved to %s", target.Label()),
			})
		}
	}
	done <- out
}

func (c *Coordinator) release(taskID string) {
	c.mu.Lock()
	delete(c.inflight, taskID)
	c.mu.Unlock()
	c.metrics.inflight.Dec()
}

// reportFailure never rolls back visual state; it only informs the user.
func (c *Coordinator) reportFailure(out Outcome, fields log.Fields) {
	entry := c.logger.WithFields(fields).WithError(out.Err)

	if out.Source == domain.SourceCascade {
		entry.Warn("task.status.cascade_failed")
		c.notifier.Notify(Feedback{
			Level:   LevelAdvisory,
			TaskID:  out.TaskID,
			Target:  out.Target,
			Source:  out.Source,
			Message: fmt.Sprintf("Checklist saved, but the task could not be moved to %s", out.Target.Label()),
		})
		return
	}

	entry.Error("task.status.mutation_failed")
	msg := networkFailureMessage
	var rejected *domain.MutationRejectedError
	if errors.As(out.Err, &rejected) {
		msg = rejected.Message
		if msg == "" {
			msg = rejectedDefaultMessage
		}
	}
	c.notifier.Notify(Feedback{
		Level:   LevelError,
		TaskID:  out.TaskID,
		Target:  out.Target,
		Source:  out.Source,
		Message: msg,
	})
}

func resultLabel(err error) string {
	var rejected *domain.MutationRejectedError
	if errors.As(err, &rejected) {
		return "rejected"
	}
	return "network_error"
}
