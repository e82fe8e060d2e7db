package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tasklane/api"

// requestMetrics times one task request and reports it as a log entry and a span.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	taskID        string
	target        string
	changed       bool
	duplicate     bool
	tasksReturned int
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, route, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetTask(taskID string) { m.taskID = taskID }

func (m *requestMetrics) SetTarget(target string) { m.target = target }

func (m *requestMetrics) SetChanged(changed bool) { m.changed = changed }

func (m *requestMetrics) SetDuplicate(dup bool) { m.duplicate = dup }

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("http.route", m.route),
			attribute.Int("http.response.status_code", status),
			attribute.String("tasklane.task_id", m.taskID),
			attribute.String("tasklane.target_status", m.target),
			attribute.Bool("tasklane.changed", m.changed),
			attribute.Bool("tasklane.duplicate", m.duplicate),
			attribute.Float64("tasklane.total_ms", durationToMillis(total)),
		)
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case m.errorStage != "" || status >= 500:
			m.span.SetStatus(codes.Error, m.errorStage)
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(total),
	}
	if m.taskID != "" {
		fields["task_id"] = m.taskID
	}
	if m.target != "" {
		fields["target_status"] = m.target
		fields["changed"] = m.changed
	}
	if m.duplicate {
		fields["duplicate"] = true
	}
	if m.tasksReturned > 0 {
		fields["tasks_returned"] = m.tasksReturned
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("task.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
