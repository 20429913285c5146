package event

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
	"github.com/bookflow/bookflow/pkg/bookflow/observability"
)

// Handler processes a published event.
type Handler func(ctx context.Context, evt DomainEvent) error

// BusConfig configures bus behavior.
type BusConfig struct {
	// Registry validates event types before dispatch. Required.
	Registry *Registry

	// DLQ receives handler invocations that exhaust their retry budget.
	// Optional; without it exhausted failures are only reported.
	DLQ DeadLetterQueue

	// Retry is the default per-handler retry policy.
	// Default: bferrors.HandlerRetry (5 attempts, exponential backoff).
	// Handler failures of any category count against the attempt cap unless
	// the policy sets its own RetryableFunc.
	Retry bferrors.RetryConfig

	// OnDispatch is called with the collected report once every handler for a
	// published event has finished. It runs detached from the publish path.
	OnDispatch func(DispatchReport)

	// OnError is called when a handler fails terminally (for logging).
	OnError func(evt DomainEvent, handlerID string, err error)

	// Logger for dispatch diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records per-handler dispatch outcomes and dead-letter
	// enqueues. Default: observability.NoopMetrics.
	Metrics observability.MetricsRecorder
}

// Bus distributes persisted events to subscribed handlers. Each handler runs
// in its own goroutine: one handler's failure never blocks or aborts the
// others, and the publishing call never waits for handlers.
//
// A Bus owns its handler registry; construct one and inject it rather than
// sharing process-wide state.
type Bus struct {
	config BusConfig
	logger *slog.Logger

	mu        sync.RWMutex
	subs      []*Subscription
	nextSubID atomic.Int64

	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewBus creates a new event bus.
func NewBus(config BusConfig) (*Bus, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("event registry is required")
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = bferrors.HandlerRetry
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		config:  config,
		logger:  logger,
		closeCh: make(chan struct{}),
	}, nil
}

// Subscription represents a registered handler.
type Subscription struct {
	id        string
	types     []Type // empty = all types
	handler   Handler
	priority  int
	regOrder  int64
	retry     bferrors.RetryConfig
	timeout   time.Duration
	paused    atomic.Bool
	cancelled atomic.Bool
	bus       *Bus
}

// HandlerID returns the subscription's handler id.
func (s *Subscription) HandlerID() string { return s.id }

// Unsubscribe removes the subscription. In-flight deliveries finish.
func (s *Subscription) Unsubscribe() {
	s.cancelled.Store(true)

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			return
		}
	}
}

// Pause temporarily stops delivery.
func (s *Subscription) Pause() { s.paused.Store(true) }

// Resume continues delivery after pause.
func (s *Subscription) Resume() { s.paused.Store(false) }

// IsPaused returns true if the subscription is paused.
func (s *Subscription) IsPaused() bool { return s.paused.Load() }

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithHandlerID sets a stable handler id, used for dead-letter lookups.
// Default: an auto-generated "handler-<n>" id.
func WithHandlerID(id string) SubscribeOption {
	return func(s *Subscription) { s.id = id }
}

// WithPriority sets the dispatch priority. Handlers are ordered by
// descending priority, ties broken by registration order. Default: 0.
func WithPriority(p int) SubscribeOption {
	return func(s *Subscription) { s.priority = p }
}

// WithRetry overrides the bus default retry policy for this handler.
func WithRetry(cfg bferrors.RetryConfig) SubscribeOption {
	return func(s *Subscription) { s.retry = cfg }
}

// WithTimeout bounds each delivery attempt for this handler.
func WithTimeout(d time.Duration) SubscribeOption {
	return func(s *Subscription) { s.timeout = d }
}

// Subscribe registers a handler for specific event types.
func (b *Bus) Subscribe(types []Type, handler Handler, opts ...SubscribeOption) *Subscription {
	if b.closed.Load() {
		return nil
	}

	n := b.nextSubID.Add(1)
	sub := &Subscription{
		id:       fmt.Sprintf("handler-%d", n),
		types:    types,
		handler:  handler,
		regOrder: n,
		retry:    b.config.Retry,
		bus:      b,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler, opts ...SubscribeOption) *Subscription {
	return b.Subscribe(nil, handler, opts...)
}

// DispatchReport collects the outcome of dispatching one event.
type DispatchReport struct {
	Event    DomainEvent
	Results  []DispatchResult
	Duration time.Duration
}

// Failed returns the results that ended in a terminal error.
func (r DispatchReport) Failed() []DispatchResult {
	var failed []DispatchResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// DispatchResult is the outcome of one handler's delivery.
type DispatchResult struct {
	HandlerID    string
	Attempts     int
	Duration     time.Duration
	Err          error
	DeadLettered bool
}

// Publish dispatches a persisted event to all matching handlers.
//
// Durability precedes dispatch: the event must already carry a version
// assigned by the event store. Handlers run concurrently as detached
// goroutines; their failures are collected into a DispatchReport, never
// returned from Publish.
func (b *Bus) Publish(ctx context.Context, evt DomainEvent) error {
	if b.closed.Load() {
		return &EventError{Event: evt, Message: "bus is closed"}
	}
	if !evt.Persisted() {
		return &EventError{Event: evt, Message: "event is not persisted: refusing to dispatch"}
	}
	if err := b.config.Registry.Validate(evt); err != nil {
		return &EventError{Event: evt, Message: "event validation failed", Err: err}
	}

	subs := b.matching(evt.Type)
	if len(subs) == 0 {
		return nil
	}

	// Handlers must not observe cancellation of the publishing caller.
	dispatchCtx := context.WithoutCancel(ctx)

	start := time.Now()
	results := make([]DispatchResult, len(subs))
	var handlerWG sync.WaitGroup

	for i, sub := range subs {
		handlerWG.Add(1)
		b.wg.Add(1)
		go func(i int, sub *Subscription) {
			defer handlerWG.Done()
			defer b.wg.Done()
			results[i] = b.deliver(dispatchCtx, evt, sub)
		}(i, sub)
	}

	// Collect the report without blocking the publish path.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		handlerWG.Wait()
		if b.config.OnDispatch != nil {
			b.config.OnDispatch(DispatchReport{
				Event:    evt,
				Results:  results,
				Duration: time.Since(start),
			})
		}
	}()

	return nil
}

// matching returns subscriptions for an event type ordered by descending
// priority, ties broken by registration order.
func (b *Bus) matching(typ Type) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var subs []*Subscription
	for _, sub := range b.subs {
		if sub.paused.Load() || sub.cancelled.Load() {
			continue
		}
		if len(sub.types) == 0 {
			subs = append(subs, sub)
			continue
		}
		for _, t := range sub.types {
			if t == typ {
				subs = append(subs, sub)
				break
			}
		}
	}

	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].regOrder < subs[j].regOrder
	})
	return subs
}

// deliver runs one handler with retry; exhausted failures go to the DLQ.
func (b *Bus) deliver(ctx context.Context, evt DomainEvent, sub *Subscription) DispatchResult {
	if sub.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sub.timeout)
		defer cancel()
	}

	// Redelivery is bounded by the attempt cap, not the error category: a
	// handler bug looks permanent yet the next attempt may still land.
	retry := sub.retry
	if retry.RetryableFunc == nil {
		retry.RetryableFunc = func(error) bool { return true }
	}

	result := bferrors.WithRetryContext(ctx, retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sub.handler(ctx, evt)
	})

	res := DispatchResult{
		HandlerID: sub.id,
		Attempts:  result.Attempts,
		Duration:  result.Duration,
		Err:       result.Err,
	}
	b.config.Metrics.RecordDispatch(ctx, string(evt.Type), sub.id, result.Duration, result.Err)
	if result.Err == nil {
		return res
	}

	b.logger.Error("event handler failed",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"handler_id", sub.id,
		"attempts", result.Attempts,
		"error", result.Err,
	)

	if b.config.OnError != nil {
		b.config.OnError(evt, sub.id, result.Err)
	}

	if b.config.DLQ != nil {
		entry := NewDeadLetterEntry(evt, sub.id, result.Err, result.Attempts)
		if dlqErr := b.config.DLQ.Enqueue(ctx, entry); dlqErr != nil {
			b.logger.Error("dead-letter enqueue failed",
				"event_id", evt.ID,
				"handler_id", sub.id,
				"error", dlqErr,
			)
		} else {
			res.DeadLettered = true
			b.config.Metrics.RecordDeadLetter(ctx, string(evt.Type), sub.id)
		}
	}

	return res
}

// Reprocess re-runs a dead-lettered handler invocation once, without retry.
// On success the entry is removed from the DLQ.
func (b *Bus) Reprocess(ctx context.Context, eventID, handlerID string) error {
	if b.config.DLQ == nil {
		return fmt.Errorf("no dead-letter queue configured")
	}

	entry, err := b.config.DLQ.Get(ctx, eventID, handlerID)
	if err != nil {
		return err
	}

	sub := b.findByHandlerID(handlerID)
	if sub == nil {
		return fmt.Errorf("handler %s is not subscribed", handlerID)
	}

	if err := sub.handler(ctx, entry.Event); err != nil {
		return fmt.Errorf("reprocess %s for handler %s: %w", eventID, handlerID, err)
	}

	return b.config.DLQ.Delete(ctx, eventID, handlerID)
}

func (b *Bus) findByHandlerID(handlerID string) *Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.id == handlerID {
			return sub
		}
	}
	return nil
}

// Close stops accepting publishes and waits for in-flight dispatches.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	close(b.closeCh)
	b.wg.Wait()
	return nil
}
