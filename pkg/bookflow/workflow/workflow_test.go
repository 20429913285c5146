package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
	"github.com/bookflow/bookflow/pkg/bookflow/workflow"
)

var fastRetry = bferrors.NewRetryConfig(
	bferrors.WithMaxAttempts(3),
	bferrors.WithInitialBackoff(time.Millisecond),
	bferrors.WithMaxBackoff(5*time.Millisecond),
	bferrors.WithJitter(0),
)

func noopStep(name string) workflow.Step {
	return workflow.Step{
		Name: name,
		Run:  func(context.Context, *workflow.Execution) error { return nil },
	}
}

func TestDefinitionValidate(t *testing.T) {
	valid := func() *workflow.Definition {
		return &workflow.Definition{
			Name:  "demo",
			Steps: []workflow.Step{noopStep("one"), noopStep("two")},
		}
	}

	t.Run("accepts a well-formed pipeline", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects missing name", func(t *testing.T) {
		def := valid()
		def.Name = ""
		assert.Error(t, def.Validate())
	})

	t.Run("rejects empty pipeline", func(t *testing.T) {
		def := valid()
		def.Steps = nil
		assert.Error(t, def.Validate())
	})

	t.Run("rejects unnamed step", func(t *testing.T) {
		def := valid()
		def.Steps[1].Name = ""
		assert.Error(t, def.Validate())
	})

	t.Run("rejects step without run function", func(t *testing.T) {
		def := valid()
		def.Steps[1].Run = nil
		assert.Error(t, def.Validate())
	})

	t.Run("rejects duplicate step names", func(t *testing.T) {
		def := valid()
		def.Steps[1].Name = "one"
		assert.Error(t, def.Validate())
	})
}

func TestOrchestratorRegister(t *testing.T) {
	orch := workflow.NewOrchestrator()
	def := &workflow.Definition{Name: "demo", Steps: []workflow.Step{noopStep("one")}}

	require.NoError(t, orch.Register(def))
	err := orch.Register(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("runs steps in order", func(t *testing.T) {
		var order []string
		record := func(name string) workflow.Step {
			return workflow.Step{
				Name: name,
				Run: func(_ context.Context, _ *workflow.Execution) error {
					order = append(order, name)
					return nil
				},
			}
		}

		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name:  "demo",
			Steps: []workflow.Step{record("validate"), record("reserve"), record("notify")},
		})

		exec, err := orch.Run(ctx, "demo", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"validate", "reserve", "notify"}, order)
		for _, sr := range exec.Steps {
			assert.Equal(t, workflow.StatusCompleted, sr.Status)
		}
	})

	t.Run("unknown workflow fails", func(t *testing.T) {
		_, err := workflow.NewOrchestrator().Run(ctx, "missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("seed populates the execution", func(t *testing.T) {
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name: "demo",
			Steps: []workflow.Step{{
				Name: "check",
				Run: func(_ context.Context, exec *workflow.Execution) error {
					if exec.BookingID != "bk-1" || exec.GetString("note") != "seeded" {
						return errors.New("seed not visible")
					}
					return nil
				},
			}},
		})

		exec, err := orch.Run(ctx, "demo", func(exec *workflow.Execution) {
			exec.SetBookingID("bk-1")
			exec.ActorID = "user-1"
			exec.Set("note", "seeded")
		})
		require.NoError(t, err)
		assert.Equal(t, "bk-1", exec.BookingID)
		assert.Equal(t, "user-1", exec.ActorID)
	})

	t.Run("failure compensates completed steps in reverse order", func(t *testing.T) {
		var compensated []string
		comp := func(name string) workflow.Step {
			return workflow.Step{
				Name: name,
				Run:  func(context.Context, *workflow.Execution) error { return nil },
				Compensate: func(context.Context, *workflow.Execution) error {
					compensated = append(compensated, name)
					return nil
				},
			}
		}

		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name: "demo",
			Steps: []workflow.Step{
				comp("reserve_calendar"),
				comp("process_payment"),
				{
					Name: "notify",
					Run: func(context.Context, *workflow.Execution) error {
						return errors.New("provider down")
					},
				},
			},
		})

		exec, err := orch.Run(ctx, "demo", nil)
		require.Error(t, err)

		var werr *workflow.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, "notify", werr.Step)
		assert.Equal(t, []string{"process_payment", "reserve_calendar"}, compensated)
		assert.Equal(t, []string{"process_payment", "reserve_calendar"}, werr.Compensated)
		assert.Empty(t, werr.CompensationErrs)

		assert.Equal(t, workflow.StatusFailed, exec.Steps[2].Status)
		assert.Equal(t, workflow.StatusCompensated, exec.Steps[0].Status)
		assert.True(t, exec.Steps[0].Compensated)
	})

	t.Run("compensation runs at most once per step", func(t *testing.T) {
		runs := 0
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name: "demo",
			Steps: []workflow.Step{
				{
					Name: "reserve",
					Run:  func(context.Context, *workflow.Execution) error { return nil },
					Compensate: func(context.Context, *workflow.Execution) error {
						runs++
						return nil
					},
				},
				{
					Name: "fail",
					Run: func(context.Context, *workflow.Execution) error {
						return errors.New("boom")
					},
				},
			},
		})

		_, err := orch.Run(ctx, "demo", nil)
		require.Error(t, err)
		assert.Equal(t, 1, runs)
	})

	t.Run("compensation failures are collected, not fatal", func(t *testing.T) {
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name: "demo",
			Steps: []workflow.Step{
				{
					Name: "first",
					Run:  func(context.Context, *workflow.Execution) error { return nil },
					Compensate: func(context.Context, *workflow.Execution) error {
						return nil
					},
				},
				{
					Name: "second",
					Run:  func(context.Context, *workflow.Execution) error { return nil },
					Compensate: func(context.Context, *workflow.Execution) error {
						return errors.New("rollback refused")
					},
				},
				{
					Name: "fail",
					Run: func(context.Context, *workflow.Execution) error {
						return errors.New("boom")
					},
				},
			},
		})

		_, err := orch.Run(ctx, "demo", nil)
		var werr *workflow.Error
		require.ErrorAs(t, err, &werr)

		// The broken compensation is recorded and the rest still run.
		require.Len(t, werr.CompensationErrs, 1)
		assert.Contains(t, werr.CompensationErrs[0].Error(), "second")
		assert.Equal(t, []string{"first"}, werr.Compensated)
	})

	t.Run("retryable step retries transient failures", func(t *testing.T) {
		calls := 0
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name:  "demo",
			Retry: fastRetry,
			Steps: []workflow.Step{{
				Name:      "flaky",
				Retryable: true,
				Run: func(context.Context, *workflow.Execution) error {
					calls++
					if calls < 3 {
						return bferrors.Transient(errors.New("blip"), "remote call")
					}
					return nil
				},
			}},
		})

		exec, err := orch.Run(ctx, "demo", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, exec.Steps[0].Attempts)
	})

	t.Run("permanent failures are not retried", func(t *testing.T) {
		calls := 0
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name:  "demo",
			Retry: fastRetry,
			Steps: []workflow.Step{{
				Name:      "broken",
				Retryable: true,
				Run: func(context.Context, *workflow.Execution) error {
					calls++
					return bferrors.Permanent(errors.New("bad input"), "validation")
				},
			}},
		})

		_, err := orch.Run(ctx, "demo", nil)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("non-retryable step gets one attempt even for transient errors", func(t *testing.T) {
		calls := 0
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name:  "demo",
			Retry: fastRetry,
			Steps: []workflow.Step{{
				Name: "once",
				Run: func(context.Context, *workflow.Execution) error {
					calls++
					return bferrors.Transient(errors.New("blip"), "remote call")
				},
			}},
		})

		_, err := orch.Run(ctx, "demo", nil)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("per-step retry policy overrides the pipeline default", func(t *testing.T) {
		twoAttempts := bferrors.NewRetryConfig(
			bferrors.WithMaxAttempts(2),
			bferrors.WithInitialBackoff(time.Millisecond),
			bferrors.WithJitter(0),
		)
		calls := 0
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name:  "demo",
			Retry: fastRetry,
			Steps: []workflow.Step{{
				Name:      "limited",
				Retryable: true,
				Retry:     &twoAttempts,
				Run: func(context.Context, *workflow.Execution) error {
					calls++
					return bferrors.Transient(errors.New("blip"), "remote call")
				},
			}},
		})

		_, err := orch.Run(ctx, "demo", nil)
		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancellation is honored at step boundaries and compensates", func(t *testing.T) {
		var compensated bool
		runCtx, cancel := context.WithCancel(ctx)

		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name: "demo",
			Steps: []workflow.Step{
				{
					Name: "first",
					Run: func(context.Context, *workflow.Execution) error {
						// Cancel mid-run: the current step finishes, the next
						// never starts.
						cancel()
						return nil
					},
					Compensate: func(context.Context, *workflow.Execution) error {
						compensated = true
						return nil
					},
				},
				noopStep("second"),
			},
		})

		exec, err := orch.Run(runCtx, "demo", nil)
		var werr *workflow.Error
		require.ErrorAs(t, err, &werr)
		assert.ErrorIs(t, werr.Err, context.Canceled)
		assert.Equal(t, "second", werr.Step)

		assert.Equal(t, workflow.StatusCompleted, exec.Steps[0].Status, "in-flight step is never interrupted")
		assert.True(t, compensated, "compensation runs despite cancellation")
		assert.Equal(t, workflow.StatusPending, exec.Steps[1].Status)
	})

	t.Run("on-failure hook receives the terminal error", func(t *testing.T) {
		var hookErr *workflow.Error
		orch := workflow.NewOrchestrator()
		orch.MustRegister(&workflow.Definition{
			Name: "demo",
			Steps: []workflow.Step{{
				Name: "fail",
				Run: func(context.Context, *workflow.Execution) error {
					return errors.New("boom")
				},
			}},
			OnFailure: func(_ context.Context, _ *workflow.Execution, werr *workflow.Error) {
				hookErr = werr
			},
		})

		_, err := orch.Run(ctx, "demo", nil)
		require.Error(t, err)
		require.NotNil(t, hookErr)
		assert.Equal(t, "fail", hookErr.Step)
	})
}

func TestErrorCauseChain(t *testing.T) {
	inner := errors.New("connection refused")
	werr := &workflow.Error{
		Workflow: "booking.create",
		Step:     "process_payment",
		Err:      bferrors.Transient(inner, "payment call"),
	}

	chain := werr.CauseChain()
	require.Len(t, chain, 2)
	assert.Contains(t, chain[0], "payment call")
	assert.Equal(t, "connection refused", chain[1])

	assert.ErrorIs(t, werr, inner)
}
