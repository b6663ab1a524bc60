package splitjoin_test

import (
	"context"
	"testing"
	"time"

	"github.com/fogfactory/splitjoin"
	"github.com/maxatome/go-testdeep/td"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEngineOptions(t *testing.T) {
	dispatch := splitjoin.Dispatch{Splitter: splitN(3), Aggregator: &recorder{}}

	t.Run("success_config", func(t *testing.T) {
		// Arrange
		cfg := splitjoin.Config{
			MaxThreads:    2,
			Timeout:       5 * time.Second,
			Pooled:        true,
			IdleTimeout:   time.Minute,
			BorrowTimeout: 100 * time.Millisecond,
			CloseGrace:    2 * time.Second,
		}

		// Act
		engine := InitEngine(t, dispatch, (&probe{}).factory(nil), splitjoin.WithConfig(cfg))

		// Assert
		td.Cmp(t, engine.Config(), cfg)
	})

	t.Run("success_options_override_config", func(t *testing.T) {
		// Act
		engine := InitEngine(t, dispatch, (&probe{}).factory(nil),
			splitjoin.WithConfig(splitjoin.DefaultConfig()),
			splitjoin.WithMaxThreads(4),
			splitjoin.WithTimeout(time.Second),
			splitjoin.WithPooled(true),
			splitjoin.WithWorkerIdleTimeout(0),
			splitjoin.WithBorrowTimeout(time.Second),
			splitjoin.WithCloseGrace(0))

		// Assert
		td.Cmp(t, engine.Config(), splitjoin.Config{
			MaxThreads:    4,
			Timeout:       time.Second,
			Pooled:        true,
			BorrowTimeout: time.Second,
		})
	})

	t.Run("success_tracer_provider", func(t *testing.T) {
		// Arrange
		spanRecorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
		fail := splitjoin.StageFunc(func(_ context.Context, sub *splitjoin.SubUnit) error {
			if sub.Metadata.Get("fail") == "yes" {
				return context.Canceled
			}
			return nil
		})
		engine := InitEngine(t, dispatch, splitjoin.FromPrototype(fail), splitjoin.WithTracerProvider(tp))

		// Act
		td.CmpNoError(t, engine.Execute(context.Background(), splitjoin.NewMessage(nil, nil)))
		td.CmpError(t, engine.Execute(context.Background(), splitjoin.NewMessage(nil, splitjoin.Metadata{"fail": "yes"})))

		// Assert
		spans := spanRecorder.Ended()
		td.Require(t).Cmp(len(spans), 2)
		td.Cmp(t, spans[0].Name(), "splitjoin.Execute")
		td.Cmp(t, lo.Map(spans[0].Events(), func(e sdktrace.Event, _ int) string { return e.Name }), []string{
			"splitting", "dispatching", "awaiting_completion", "joining", "succeeded",
		})
		td.Cmp(t, spans[0].Status().Code, codes.Unset)
		td.Cmp(t, spans[1].Status().Code, codes.Error)
	})

	t.Run("error_scheduler_options", func(t *testing.T) {
		// Arrange
		slow := splitjoin.StageFunc(func(context.Context, *splitjoin.SubUnit) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		engine := InitEngine(t, dispatch, splitjoin.FromPrototype(slow),
			splitjoin.WithMaxThreads(1),
			splitjoin.WithSchedulerOptions(ants.WithNonblocking(true)))

		// Act
		err := engine.Execute(context.Background(), splitjoin.NewMessage(nil, nil))

		// Assert
		td.CmpErrorIs(t, err, ants.ErrPoolOverload)
		td.Cmp(t, splitjoin.Position(err), 2)
	})
}

func TestPhase(t *testing.T) {
	td.Cmp(t, lo.Map([]splitjoin.Phase{
		splitjoin.PhaseIdle,
		splitjoin.PhaseSplitting,
		splitjoin.PhaseDispatching,
		splitjoin.PhaseAwaitingCompletion,
		splitjoin.PhaseJoining,
		splitjoin.PhaseSucceeded,
		splitjoin.PhaseFailed,
	}, func(p splitjoin.Phase, _ int) string { return p.String() }), []string{
		"idle", "splitting", "dispatching", "awaiting_completion", "joining", "succeeded", "failed",
	})
}
