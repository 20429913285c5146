// Package workflow runs booking commands as ordered step pipelines with
// compensation. Each command gets one synchronous run: steps execute
// sequentially, and when a step fails the compensations of every completed
// step run in strict reverse order, exactly once per step. Only steps marked
// retryable are retried, and only on transient failures.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
	"github.com/bookflow/bookflow/pkg/bookflow/observability"
)

// Status describes one run or step state.
type Status string

// Run and step states.
const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// StepFunc executes a forward step or a compensation against the run's
// execution context.
type StepFunc func(ctx context.Context, exec *Execution) error

// Step is one stage of a pipeline.
type Step struct {
	// Name identifies this step.
	Name string

	// Run executes the forward action.
	Run StepFunc

	// Compensate undoes the forward action. It runs at most once, and only
	// if Run completed. Nil for steps without external side effects.
	Compensate StepFunc

	// Retryable marks the forward action as safe to retry on transient
	// failures. Non-retryable steps propagate the first error.
	Retryable bool

	// Timeout bounds one forward attempt. Zero means the pipeline default.
	Timeout time.Duration

	// Retry overrides the pipeline retry policy for this step.
	Retry *bferrors.RetryConfig
}

// Definition is a named, ordered pipeline of steps.
type Definition struct {
	// Name identifies this workflow type.
	Name string

	// Steps execute in order.
	Steps []Step

	// StepTimeout is the default timeout per forward attempt.
	StepTimeout time.Duration

	// Retry is the default policy for retryable steps.
	Retry bferrors.RetryConfig

	// OnFailure runs after compensation finishes, with the terminal error.
	// Used to record a durable failure event.
	OnFailure func(ctx context.Context, exec *Execution, werr *Error)
}

// Validate checks the pipeline definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %q has an unnamed step", d.Name)
		}
		if step.Run == nil {
			return fmt.Errorf("workflow %q step %q has no run function", d.Name, step.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %q has duplicate step %q", d.Name, step.Name)
		}
		seen[step.Name] = true
	}
	return nil
}

// StepResult records the outcome of one step.
type StepResult struct {
	Name        string
	Status      Status
	Err         error
	Attempts    int
	Duration    time.Duration
	Compensated bool
}

// Execution is the ephemeral context of one workflow run. It carries the
// target aggregate's ID and arbitrary step outputs; it is never persisted.
// Only the events a run causes are durable. Steps run sequentially, so
// access needs no locking from inside the pipeline.
type Execution struct {
	ID        string
	Workflow  string
	BookingID string
	ActorID   string
	StartedAt time.Time

	Steps []StepResult

	mu     sync.Mutex
	values map[string]any
}

// SetBookingID records the target aggregate's ID once a step has created or
// resolved it.
func (e *Execution) SetBookingID(id string) { e.BookingID = id }

// Set stores a step output under key.
func (e *Execution) Set(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.values[key] = value
}

// Get returns a stored step output.
func (e *Execution) Get(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[key]
	return v, ok
}

// GetString returns a stored string output, "" if absent.
func (e *Execution) GetString(key string) string {
	v, ok := e.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Error is the terminal failure of a workflow run. It carries the failing
// step, the cause chain, and the compensation outcome.
type Error struct {
	Workflow         string
	Step             string
	Err              error
	Compensated      []string
	CompensationErrs []error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("workflow %s failed at step %s: %v", e.Workflow, e.Step, e.Err)
}

// Unwrap returns the underlying step error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CauseChain renders the full unwrap chain of the step error, outermost
// first.
func (e *Error) CauseChain() []string {
	var chain []string
	for err := e.Err; err != nil; {
		chain = append(chain, err.Error())
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return chain
}

// Orchestrator runs registered workflow definitions.
type Orchestrator struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) OrchestratorOption {
	return func(o *Orchestrator) { o.spans = s }
}

// NewOrchestrator creates an orchestrator with no registered workflows.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		defs:    make(map[string]*Definition),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a workflow definition.
func (o *Orchestrator) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.defs[def.Name]; exists {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	o.defs[def.Name] = def
	return nil
}

// MustRegister registers a workflow, panicking on error.
func (o *Orchestrator) MustRegister(def *Definition) {
	if err := o.Register(def); err != nil {
		panic(err)
	}
}

// Run executes one registered workflow synchronously. It returns the
// execution record and, on failure, an *Error whose compensations have
// already run. Concurrent runs are independent and share no state beyond
// what the steps themselves touch.
func (o *Orchestrator) Run(ctx context.Context, name string, seed func(*Execution)) (*Execution, error) {
	o.mu.RLock()
	def, exists := o.defs[name]
	o.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("workflow %q not found", name)
	}

	exec := &Execution{
		ID:        fmt.Sprintf("wf-%s", uuid.New().String()[:8]),
		Workflow:  name,
		StartedAt: time.Now(),
		Steps:     make([]StepResult, len(def.Steps)),
	}
	for i, step := range def.Steps {
		exec.Steps[i] = StepResult{Name: step.Name, Status: StatusPending}
	}
	if seed != nil {
		seed(exec)
	}

	ctx, span := o.spans.StartWorkflowSpan(ctx, name, exec.ID)
	logger := observability.EnrichLogger(o.logger, name, exec.ID, exec.BookingID)
	observability.LogWorkflowStart(logger, name, exec.ID)
	done := observability.TimedOperation()

	werr := o.execute(ctx, def, exec, logger)

	duration := time.Since(exec.StartedAt)
	o.metrics.RecordWorkflowRun(ctx, name, werr == nil, duration)

	if werr != nil {
		observability.LogWorkflowError(logger, name, exec.ID, werr, done(), werr.Step)
		o.spans.EndSpanWithError(span, werr)
		if def.OnFailure != nil {
			def.OnFailure(ctx, exec, werr)
		}
		return exec, werr
	}

	completed := 0
	for _, sr := range exec.Steps {
		if sr.Status == StatusCompleted {
			completed++
		}
	}
	observability.LogWorkflowComplete(logger, name, exec.ID, done(), completed)
	o.spans.EndSpanWithError(span, nil)
	return exec, nil
}

// execute runs the steps in order and compensates on failure.
func (o *Orchestrator) execute(ctx context.Context, def *Definition, exec *Execution, logger *slog.Logger) *Error {
	for i := range def.Steps {
		step := &def.Steps[i]

		// Cancellation is checked at step boundaries only; an in-flight
		// external call is never interrupted mid-step.
		if err := ctx.Err(); err != nil {
			return o.failAndCompensate(ctx, def, exec, i, err, logger)
		}

		result := &exec.Steps[i]
		result.Status = StatusRunning
		observability.LogStepStart(logger, step.Name)

		stepCtx, stepSpan := o.spans.StartStepSpan(ctx, step.Name)
		start := time.Now()
		attempts, err := o.runStep(stepCtx, def, step, exec)
		result.Duration = time.Since(start)
		result.Attempts = attempts
		o.metrics.RecordStepExecution(ctx, def.Name, step.Name, result.Duration, err)
		o.spans.EndSpanWithError(stepSpan, err)

		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			observability.LogStepError(logger, step.Name, err)
			return o.failAndCompensate(ctx, def, exec, i, err, logger)
		}

		result.Status = StatusCompleted
		observability.LogStepComplete(logger, step.Name, float64(result.Duration.Milliseconds()))
	}
	return nil
}

// runStep executes one forward action, bounded by the step timeout and
// retried per policy when the step is retryable and the failure transient.
func (o *Orchestrator) runStep(ctx context.Context, def *Definition, step *Step, exec *Execution) (int, error) {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = def.StepTimeout
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	attempt := func(ctx context.Context) (struct{}, error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return struct{}{}, step.Run(stepCtx, exec)
	}

	if !step.Retryable {
		_, err := attempt(ctx)
		if err != nil {
			return 1, err
		}
		return 1, nil
	}

	policy := def.Retry
	if step.Retry != nil {
		policy = *step.Retry
	}
	res := bferrors.WithRetryContext(ctx, policy, attempt)
	return res.Attempts, res.Err
}

// failAndCompensate runs compensations for steps [0, failedIdx) in reverse
// order, exactly once each, and builds the terminal error.
func (o *Orchestrator) failAndCompensate(
	ctx context.Context,
	def *Definition,
	exec *Execution,
	failedIdx int,
	cause error,
	logger *slog.Logger,
) *Error {
	werr := &Error{
		Workflow: def.Name,
		Step:     def.Steps[failedIdx].Name,
		Err:      cause,
	}

	// Compensation must run even when the trigger was cancellation, so the
	// rollback context is detached from the caller's.
	compCtx := context.WithoutCancel(ctx)

	for i := failedIdx - 1; i >= 0; i-- {
		step := &def.Steps[i]
		result := &exec.Steps[i]

		if result.Status != StatusCompleted || step.Compensate == nil {
			continue
		}
		if result.Compensated {
			continue
		}
		result.Compensated = true
		result.Status = StatusCompensating

		stepCtx, cancel := context.WithTimeout(compCtx, 30*time.Second)
		err := step.Compensate(stepCtx, exec)
		cancel()

		observability.LogCompensation(logger, step.Name, err)
		if err != nil {
			result.Status = StatusFailed
			werr.CompensationErrs = append(werr.CompensationErrs,
				fmt.Errorf("compensate %s: %w", step.Name, err))
			continue
		}
		result.Status = StatusCompensated
		werr.Compensated = append(werr.Compensated, step.Name)
	}

	return werr
}
