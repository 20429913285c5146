package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/bookflow/booking"
	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
	"github.com/bookflow/bookflow/pkg/bookflow/event"
	"github.com/bookflow/bookflow/pkg/bookflow/eventstore"
	"github.com/bookflow/bookflow/pkg/bookflow/external"
	"github.com/bookflow/bookflow/pkg/bookflow/observability"
)

// Workflow names registered by the engine.
const (
	WorkflowCreate     = "booking.create"
	WorkflowReschedule = "booking.reschedule"
	WorkflowCancel     = "booking.cancel"
)

// Execution value keys.
const (
	keyCommand         = "command"
	keyAggregate       = "aggregate"
	keyCalendarEventID = "calendar_event_id"
	keyPaymentID       = "payment_id"
	keyPriorCalendar   = "prior_calendar_event"
)

// ErrUnavailable indicates the requested time is already taken for the
// organizer. Permanent: retrying the same window cannot succeed.
var ErrUnavailable = errors.New("requested time is unavailable")

// ErrNotAuthorized indicates the actor may not perform the command.
var ErrNotAuthorized = errors.New("actor is not authorized")

// Services are the external collaborators the pipelines call.
type Services struct {
	Availability  external.AvailabilityService
	Calendar      external.CalendarAdapter
	Payments      external.PaymentService
	Notifications external.NotificationService
	Permissions   external.PermissionService
}

// CreateBookingCommand creates and submits a booking in one run.
type CreateBookingCommand struct {
	OrganizerID  string    `validate:"required"`
	ActorID      string    `validate:"required"`
	StartTime    time.Time `validate:"required"`
	EndTime      time.Time `validate:"required,gtfield=StartTime"`
	Participants []string  `validate:"dive,required"`
	TeamIDs      []string  `validate:"dive,required"`
	Title        string    `validate:"max=200"`

	RequiresPayment bool
	AmountMinor     int64  `validate:"required_with=RequiresPayment,gte=0"`
	Currency        string `validate:"omitempty,iso4217"`
}

// RescheduleBookingCommand moves a confirmed booking to a new time.
type RescheduleBookingCommand struct {
	BookingID    string    `validate:"required"`
	ActorID      string    `validate:"required"`
	NewStartTime time.Time `validate:"required"`
	NewEndTime   time.Time `validate:"required,gtfield=NewStartTime"`
	Reason       string    `validate:"max=500"`
}

// CancelBookingCommand cancels a confirmed or rescheduled booking.
type CancelBookingCommand struct {
	BookingID string `validate:"required"`
	ActorID   string `validate:"required"`
	Reason    string `validate:"max=500"`
}

// Engine wires the booking pipelines to an event store, an event bus, and
// the external collaborators. One engine serves concurrent runs.
type Engine struct {
	repo        *booking.Repository
	store       eventstore.Store
	bus         *event.Bus
	services    Services
	orch        *Orchestrator
	validate    *validator.Validate
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	retry       bferrors.RetryConfig
	stepTimeout time.Duration
	orchOpts    []OrchestratorOption
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithEngineMetrics sets the metrics recorder.
func WithEngineMetrics(m observability.MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineSpans sets the span manager for workflow tracing.
func WithEngineSpans(s observability.SpanManager) EngineOption {
	return func(e *Engine) {
		e.orchOpts = append(e.orchOpts, WithSpans(s))
	}
}

// WithEngineRetry sets the retry policy for retryable pipeline steps.
// Default: bferrors.DefaultRetry.
func WithEngineRetry(cfg bferrors.RetryConfig) EngineOption {
	return func(e *Engine) { e.retry = cfg }
}

// WithEngineStepTimeout bounds one forward step attempt. Default: 10s.
func WithEngineStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepTimeout = d }
}

// NewEngine builds an engine and registers the booking pipelines.
func NewEngine(store eventstore.Store, bus *event.Bus, services Services, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:        booking.NewRepository(store),
		store:       store,
		bus:         bus,
		services:    services,
		validate:    validator.New(),
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		retry:       bferrors.DefaultRetry,
		stepTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.orch = NewOrchestrator(append(e.orchOpts,
		WithLogger(e.logger),
		WithMetrics(e.metrics),
	)...)
	e.orch.MustRegister(e.createDefinition())
	e.orch.MustRegister(e.rescheduleDefinition())
	e.orch.MustRegister(e.cancelDefinition())
	return e
}

// CreateBooking runs the create pipeline: validate, check availability,
// reserve calendar, process payment (if required), notify, then append and
// publish the lifecycle events. On failure every completed side effect is
// compensated and a durable failure event is recorded.
func (e *Engine) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (*booking.Aggregate, error) {
	exec, err := e.orch.Run(ctx, WorkflowCreate, func(exec *Execution) {
		exec.BookingID = uuid.NewString()
		exec.ActorID = cmd.ActorID
		exec.Set(keyCommand, cmd)
	})
	if err != nil {
		return nil, err
	}
	return aggregateOf(exec)
}

// RescheduleBooking runs the reschedule pipeline for a confirmed booking.
func (e *Engine) RescheduleBooking(ctx context.Context, cmd RescheduleBookingCommand) (*booking.Aggregate, error) {
	exec, err := e.orch.Run(ctx, WorkflowReschedule, func(exec *Execution) {
		exec.BookingID = cmd.BookingID
		exec.ActorID = cmd.ActorID
		exec.Set(keyCommand, cmd)
	})
	if err != nil {
		return nil, err
	}
	return aggregateOf(exec)
}

// CancelBooking runs the cancel pipeline for a confirmed or rescheduled
// booking, releasing its calendar slot and refunding any payment.
func (e *Engine) CancelBooking(ctx context.Context, cmd CancelBookingCommand) (*booking.Aggregate, error) {
	exec, err := e.orch.Run(ctx, WorkflowCancel, func(exec *Execution) {
		exec.BookingID = cmd.BookingID
		exec.ActorID = cmd.ActorID
		exec.Set(keyCommand, cmd)
	})
	if err != nil {
		return nil, err
	}
	return aggregateOf(exec)
}

func aggregateOf(exec *Execution) (*booking.Aggregate, error) {
	v, ok := exec.Get(keyAggregate)
	if !ok {
		return nil, fmt.Errorf("workflow %s produced no aggregate", exec.Workflow)
	}
	return v.(*booking.Aggregate), nil
}

func commandOf[T any](exec *Execution) (T, error) {
	v, ok := exec.Get(keyCommand)
	if !ok {
		var zero T
		return zero, fmt.Errorf("workflow %s has no command", exec.Workflow)
	}
	cmd, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("workflow %s command has type %T", exec.Workflow, v)
	}
	return cmd, nil
}

// appendAndPublish persists one event at the aggregate's version, folds it,
// and hands it to the bus.
func (e *Engine) appendAndPublish(ctx context.Context, agg *booking.Aggregate, evt event.DomainEvent) error {
	stored, err := e.repo.Save(ctx, agg, evt)
	e.metrics.RecordAppend(ctx, string(evt.Type), errors.Is(err, eventstore.ErrConcurrencyConflict))
	if err != nil {
		return err
	}
	return e.bus.Publish(ctx, stored)
}

// notify sends one payload per recipient. Delivery is best-effort: a failed
// send is logged and never fails the pipeline.
func (e *Engine) notify(ctx context.Context, recipients []string, payload external.NotificationPayload) {
	for _, userID := range recipients {
		payload.UserID = userID
		if err := e.services.Notifications.Send(ctx, payload); err != nil {
			e.logger.Warn("notification send failed",
				"user_id", userID,
				"booking_id", payload.BookingID,
				"kind", payload.Kind,
				"error", err,
			)
		}
	}
}

func (e *Engine) authorize(ctx context.Context, actorID, action, resourceRef string) error {
	ok, err := e.services.Permissions.Authorize(ctx, actorID, action, resourceRef)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return fmt.Errorf("%s on %s: %w", action, resourceRef, ErrNotAuthorized)
	}
	return nil
}

// recordFailure appends and publishes an advisory failure event on the
// booking's log. The event is fold-neutral: it never changes status, it only
// makes the failed run and its cause chain durable.
func (e *Engine) recordFailure(ctx context.Context, exec *Execution, werr *Error) {
	if exec.BookingID == "" {
		return
	}

	// The failure record must land even when the run died by cancellation.
	ctx = context.WithoutCancel(ctx)

	head, err := e.store.Head(ctx, exec.BookingID)
	if err != nil {
		e.logger.Error("record workflow failure: read head", "booking_id", exec.BookingID, "error", err)
		return
	}

	evt, err := event.New(event.TypeWorkflowFailed, event.AggregateBooking, exec.BookingID,
		booking.WorkflowFailedPayload{
			Workflow:    werr.Workflow,
			FailedStep:  werr.Step,
			CauseChain:  werr.CauseChain(),
			Compensated: werr.Compensated,
		},
		event.WithActor(exec.ActorID),
	)
	if err != nil {
		e.logger.Error("record workflow failure: build event", "booking_id", exec.BookingID, "error", err)
		return
	}

	stored, err := e.store.Append(ctx, evt, head)
	if err != nil {
		e.logger.Error("record workflow failure: append", "booking_id", exec.BookingID, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, stored); err != nil {
		e.logger.Error("record workflow failure: publish", "booking_id", exec.BookingID, "error", err)
	}
}

func (e *Engine) createDefinition() *Definition {
	return &Definition{
		Name:        WorkflowCreate,
		StepTimeout: e.stepTimeout,
		Retry:       e.retry,
		OnFailure:   e.recordFailure,
		Steps: []Step{
			{
				Name: "validate",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CreateBookingCommand](exec)
					if err != nil {
						return err
					}
					if err := e.validate.Struct(cmd); err != nil {
						return &bferrors.ValidationError{Field: "command", Message: err.Error()}
					}
					return e.authorize(ctx, cmd.ActorID, "booking:create", cmd.OrganizerID)
				},
			},
			{
				Name:      "check_availability",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CreateBookingCommand](exec)
					if err != nil {
						return err
					}
					res, err := e.services.Availability.Check(ctx, cmd.OrganizerID, cmd.StartTime, cmd.EndTime)
					if err != nil {
						return fmt.Errorf("check availability: %w", err)
					}
					if !res.Available {
						return fmt.Errorf("%d conflicting entries: %w", len(res.Conflicts), ErrUnavailable)
					}
					return nil
				},
			},
			{
				Name:      "reserve_calendar",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CreateBookingCommand](exec)
					if err != nil {
						return err
					}
					created, err := e.services.Calendar.CreateEvent(ctx, external.CalendarEvent{
						OwnerID: cmd.OrganizerID,
						Title:   cmd.Title,
						Start:   cmd.StartTime,
						End:     cmd.EndTime,
					})
					if err != nil {
						return fmt.Errorf("reserve calendar: %w", err)
					}
					exec.Set(keyCalendarEventID, created.ID)
					return nil
				},
				Compensate: func(ctx context.Context, exec *Execution) error {
					id := exec.GetString(keyCalendarEventID)
					if id == "" {
						return nil
					}
					return e.services.Calendar.DeleteEvent(ctx, id)
				},
			},
			{
				Name:      "process_payment",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CreateBookingCommand](exec)
					if err != nil {
						return err
					}
					if !cmd.RequiresPayment {
						return nil
					}
					// A retried attempt confirms the payment created by an
					// earlier attempt instead of creating a second one.
					paymentID := exec.GetString(keyPaymentID)
					if paymentID == "" {
						payment, err := e.services.Payments.CreatePayment(ctx, exec.BookingID, cmd.AmountMinor, cmd.Currency)
						if err != nil {
							return fmt.Errorf("create payment: %w", err)
						}
						paymentID = payment.ID
						exec.Set(keyPaymentID, paymentID)
					}
					if _, err := e.services.Payments.ConfirmPayment(ctx, paymentID); err != nil {
						return fmt.Errorf("confirm payment: %w", err)
					}
					return nil
				},
				Compensate: func(ctx context.Context, exec *Execution) error {
					id := exec.GetString(keyPaymentID)
					if id == "" {
						return nil
					}
					_, err := e.services.Payments.RefundPayment(ctx, id)
					return err
				},
			},
			{
				Name: "notify",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CreateBookingCommand](exec)
					if err != nil {
						return err
					}
					e.notify(ctx, append([]string{cmd.OrganizerID}, cmd.Participants...), external.NotificationPayload{
						BookingID: exec.BookingID,
						Kind:      "booking_confirmed",
						Message:   "Your booking has been confirmed",
					})
					return nil
				},
			},
			{
				Name: "append_events",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CreateBookingCommand](exec)
					if err != nil {
						return err
					}

					created, err := booking.Create(booking.CreateParams{
						BookingID:       exec.BookingID,
						OrganizerID:     cmd.OrganizerID,
						TeamIDs:         cmd.TeamIDs,
						StartTime:       cmd.StartTime,
						EndTime:         cmd.EndTime,
						Participants:    cmd.Participants,
						Title:           cmd.Title,
						CalendarEventID: exec.GetString(keyCalendarEventID),
					}, event.WithActor(cmd.ActorID))
					if err != nil {
						return err
					}

					agg := &booking.Aggregate{}
					if err := e.appendAndPublish(ctx, agg, created); err != nil {
						return err
					}

					submitted, err := agg.Submit(cmd.RequiresPayment,
						event.WithActor(cmd.ActorID), event.WithCorrelationID(created.Metadata.CorrelationID))
					if err != nil {
						return err
					}
					if err := e.appendAndPublish(ctx, agg, submitted); err != nil {
						return err
					}

					if cmd.RequiresPayment {
						confirmed, err := agg.ConfirmPayment(exec.GetString(keyPaymentID), cmd.AmountMinor, cmd.Currency,
							event.WithActor(cmd.ActorID), event.WithCorrelationID(created.Metadata.CorrelationID))
						if err != nil {
							return err
						}
						if err := e.appendAndPublish(ctx, agg, confirmed); err != nil {
							return err
						}
					}

					exec.Set(keyAggregate, agg)
					return nil
				},
			},
		},
	}
}

func (e *Engine) rescheduleDefinition() *Definition {
	return &Definition{
		Name:        WorkflowReschedule,
		StepTimeout: e.stepTimeout,
		Retry:       e.retry,
		OnFailure:   e.recordFailure,
		Steps: []Step{
			{
				Name: "validate",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[RescheduleBookingCommand](exec)
					if err != nil {
						return err
					}
					if err := e.validate.Struct(cmd); err != nil {
						return &bferrors.ValidationError{Field: "command", Message: err.Error()}
					}
					if err := e.authorize(ctx, cmd.ActorID, "booking:reschedule", cmd.BookingID); err != nil {
						return err
					}
					agg, err := e.repo.Load(ctx, cmd.BookingID)
					if err != nil {
						return err
					}
					if agg.Status != booking.StatusConfirmed {
						return &booking.InvalidTransitionError{
							BookingID: agg.ID, From: agg.Status, Command: "reschedule",
						}
					}
					exec.Set(keyAggregate, agg)
					return nil
				},
			},
			{
				Name:      "check_availability",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[RescheduleBookingCommand](exec)
					if err != nil {
						return err
					}
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					res, err := e.services.Availability.Check(ctx, agg.OrganizerID, cmd.NewStartTime, cmd.NewEndTime)
					if err != nil {
						return fmt.Errorf("check availability: %w", err)
					}
					// The booking's own calendar entry may overlap the new
					// window; it does not make the window unavailable.
					conflicts := 0
					for _, c := range res.Conflicts {
						if c.ID != agg.CalendarEventID {
							conflicts++
						}
					}
					if conflicts > 0 {
						return fmt.Errorf("%d conflicting entries: %w", conflicts, ErrUnavailable)
					}
					return nil
				},
			},
			{
				Name:      "update_calendar",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[RescheduleBookingCommand](exec)
					if err != nil {
						return err
					}
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					if agg.CalendarEventID == "" {
						return nil
					}
					exec.Set(keyPriorCalendar, external.CalendarEvent{
						ID:      agg.CalendarEventID,
						OwnerID: agg.OrganizerID,
						Start:   agg.StartTime,
						End:     agg.EndTime,
					})
					_, err = e.services.Calendar.UpdateEvent(ctx, external.CalendarEvent{
						ID:      agg.CalendarEventID,
						OwnerID: agg.OrganizerID,
						Start:   cmd.NewStartTime,
						End:     cmd.NewEndTime,
					})
					if err != nil {
						return fmt.Errorf("update calendar: %w", err)
					}
					return nil
				},
				Compensate: func(ctx context.Context, exec *Execution) error {
					v, ok := exec.Get(keyPriorCalendar)
					if !ok {
						return nil
					}
					_, err := e.services.Calendar.UpdateEvent(ctx, v.(external.CalendarEvent))
					return err
				},
			},
			{
				Name: "notify",
				Run: func(ctx context.Context, exec *Execution) error {
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					e.notify(ctx, append([]string{agg.OrganizerID}, agg.Participants...), external.NotificationPayload{
						BookingID: agg.ID,
						Kind:      "booking_rescheduled",
						Message:   "Your booking has been rescheduled",
					})
					return nil
				},
			},
			{
				Name: "append_events",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[RescheduleBookingCommand](exec)
					if err != nil {
						return err
					}
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}

					requested, err := agg.Reschedule(cmd.NewStartTime, cmd.NewEndTime, cmd.Reason,
						event.WithActor(cmd.ActorID))
					if err != nil {
						return err
					}
					if err := e.appendAndPublish(ctx, agg, requested); err != nil {
						return err
					}

					confirmed, err := agg.ConfirmReschedule(
						event.WithActor(cmd.ActorID), event.WithCorrelationID(requested.Metadata.CorrelationID))
					if err != nil {
						return err
					}
					return e.appendAndPublish(ctx, agg, confirmed)
				},
			},
		},
	}
}

func (e *Engine) cancelDefinition() *Definition {
	return &Definition{
		Name:        WorkflowCancel,
		StepTimeout: e.stepTimeout,
		Retry:       e.retry,
		OnFailure:   e.recordFailure,
		Steps: []Step{
			{
				Name: "validate",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CancelBookingCommand](exec)
					if err != nil {
						return err
					}
					if err := e.validate.Struct(cmd); err != nil {
						return &bferrors.ValidationError{Field: "command", Message: err.Error()}
					}
					if err := e.authorize(ctx, cmd.ActorID, "booking:cancel", cmd.BookingID); err != nil {
						return err
					}
					agg, err := e.repo.Load(ctx, cmd.BookingID)
					if err != nil {
						return err
					}
					if agg.Status != booking.StatusConfirmed && agg.Status != booking.StatusRescheduled {
						return &booking.InvalidTransitionError{
							BookingID: agg.ID, From: agg.Status, Command: "cancel",
						}
					}
					exec.Set(keyAggregate, agg)
					return nil
				},
			},
			{
				Name:      "release_calendar",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					if agg.CalendarEventID == "" {
						return nil
					}
					exec.Set(keyPriorCalendar, external.CalendarEvent{
						ID:      agg.CalendarEventID,
						OwnerID: agg.OrganizerID,
						Start:   agg.StartTime,
						End:     agg.EndTime,
					})
					if err := e.services.Calendar.DeleteEvent(ctx, agg.CalendarEventID); err != nil {
						return fmt.Errorf("release calendar: %w", err)
					}
					return nil
				},
				Compensate: func(ctx context.Context, exec *Execution) error {
					v, ok := exec.Get(keyPriorCalendar)
					if !ok {
						return nil
					}
					// Once the cancellation is durable the released slot
					// stays released; only a cancel that never committed
					// restores its calendar entry.
					if agg, err := aggregateOf(exec); err == nil && agg.Status == booking.StatusCancelled {
						return nil
					}
					_, err := e.services.Calendar.CreateEvent(ctx, v.(external.CalendarEvent))
					return err
				},
			},
			{
				Name: "append_events",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CancelBookingCommand](exec)
					if err != nil {
						return err
					}
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					cancelled, err := agg.Cancel(cmd.Reason, event.WithActor(cmd.ActorID))
					if err != nil {
						return err
					}
					return e.appendAndPublish(ctx, agg, cancelled)
				},
			},
			{
				// Refunds have no inverse, so money moves only after the
				// cancellation is durable. A refund failure here is recorded
				// by the workflow failure event, never rolled back.
				Name:      "refund_payment",
				Retryable: true,
				Run: func(ctx context.Context, exec *Execution) error {
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					if agg.PaymentID == "" {
						return nil
					}
					if _, err := e.services.Payments.RefundPayment(ctx, agg.PaymentID); err != nil {
						return fmt.Errorf("refund payment: %w", err)
					}
					return nil
				},
			},
			{
				Name: "notify",
				Run: func(ctx context.Context, exec *Execution) error {
					cmd, err := commandOf[CancelBookingCommand](exec)
					if err != nil {
						return err
					}
					agg, err := aggregateOf(exec)
					if err != nil {
						return err
					}
					e.notify(ctx, append([]string{agg.OrganizerID}, agg.Participants...), external.NotificationPayload{
						BookingID: agg.ID,
						Kind:      "booking_cancelled",
						Message:   fmt.Sprintf("Your booking has been cancelled: %s", cmd.Reason),
					})
					return nil
				},
			},
		},
	}
}
