package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records bookflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStepExecution records a workflow step with its duration and error status.
	RecordStepExecution(ctx context.Context, workflow, step string, duration time.Duration, err error)

	// RecordWorkflowRun records a workflow run completion.
	RecordWorkflowRun(ctx context.Context, workflow string, success bool, duration time.Duration)

	// RecordAppend records an event-store append.
	RecordAppend(ctx context.Context, eventType string, conflict bool)

	// RecordDispatch records one handler invocation by the event bus.
	RecordDispatch(ctx context.Context, eventType, handlerID string, duration time.Duration, err error)

	// RecordDeadLetter records a handler invocation entering the dead-letter queue.
	RecordDeadLetter(ctx context.Context, eventType, handlerID string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stepExecutions  metric.Int64Counter
	stepLatency     metric.Float64Histogram
	stepErrors      metric.Int64Counter
	workflowRuns    metric.Int64Counter
	workflowLatency metric.Float64Histogram
	appends         metric.Int64Counter
	conflicts       metric.Int64Counter
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	deadLetters     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("bookflow")

	stepExecutions, err := meter.Int64Counter("bookflow.step.executions",
		metric.WithDescription("Number of workflow step executions"),
	)
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("bookflow.step.latency_ms",
		metric.WithDescription("Workflow step latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stepErrors, err := meter.Int64Counter("bookflow.step.errors",
		metric.WithDescription("Number of workflow step errors"),
	)
	if err != nil {
		return nil, err
	}

	workflowRuns, err := meter.Int64Counter("bookflow.workflow.runs",
		metric.WithDescription("Number of workflow runs"),
	)
	if err != nil {
		return nil, err
	}

	workflowLatency, err := meter.Float64Histogram("bookflow.workflow.latency_ms",
		metric.WithDescription("Workflow run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	appends, err := meter.Int64Counter("bookflow.store.appends",
		metric.WithDescription("Number of event-store appends"),
	)
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter("bookflow.store.conflicts",
		metric.WithDescription("Number of optimistic-concurrency conflicts"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter("bookflow.bus.dispatches",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("bookflow.bus.dispatch_latency_ms",
		metric.WithDescription("Handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("bookflow.bus.dead_letters",
		metric.WithDescription("Number of handler invocations dead-lettered"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions:  stepExecutions,
		stepLatency:     stepLatency,
		stepErrors:      stepErrors,
		workflowRuns:    workflowRuns,
		workflowLatency: workflowLatency,
		appends:         appends,
		conflicts:       conflicts,
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		deadLetters:     deadLetters,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStepExecution records a workflow step execution.
func (m *otelMetrics) RecordStepExecution(ctx context.Context, workflow, step string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow", workflow),
		attribute.String("step", step),
	}

	m.stepExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stepErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordWorkflowRun records a workflow run.
func (m *otelMetrics) RecordWorkflowRun(ctx context.Context, workflow string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow", workflow),
		attribute.Bool("success", success),
	}
	m.workflowRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.workflowLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordAppend records an event-store append.
func (m *otelMetrics) RecordAppend(ctx context.Context, eventType string, conflict bool) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.appends.Add(ctx, 1, metric.WithAttributes(attrs...))
	if conflict {
		m.conflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDispatch records one handler invocation.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType, handlerID string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("handler_id", handlerID),
		attribute.Bool("success", err == nil),
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDeadLetter records a dead-lettered handler invocation.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType, handlerID string) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("handler_id", handlerID),
	}
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attrs...))
}
