package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hindsightlab/hindsight/learning-plane/internal/dispatch"
	"github.com/hindsightlab/hindsight/learning-plane/internal/executor"
	"github.com/hindsightlab/hindsight/learning-plane/internal/prediction"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// captureConsumer stashes every dispatched event for inspection.
type captureConsumer struct {
	events []*models.OutcomeEvent
}

func (c *captureConsumer) Name() string { return "capture" }

func (c *captureConsumer) Consume(event *models.OutcomeEvent) error {
	c.events = append(c.events, event)
	return nil
}

// fixedPredictor returns a settable score and counts invocations.
type fixedPredictor struct {
	score float64
	calls int
}

func (p *fixedPredictor) Score(ctx context.Context, situation, action string) (float64, error) {
	p.calls++
	return p.score, nil
}

func newTestExecutor(t *testing.T) (*executor.Executor, *captureConsumer) {
	t.Helper()
	capture := &captureConsumer{}
	d := dispatch.NewDispatcher(capture)
	return executor.NewExecutor(d, nil, 0), capture
}

// ─── Outcome Classification ──────────────────────────────────

func TestRun_ClassifiesOutcomes(t *testing.T) {
	exec, capture := newTestExecutor(t)

	exec.Register("succeeds", func(ctx context.Context) (bool, error) { return true, nil })
	exec.Register("partial", func(ctx context.Context) (bool, error) { return false, nil })
	exec.Register("fails", func(ctx context.Context) (bool, error) { return false, errors.New("no luck") })
	exec.Register("times-out", func(ctx context.Context) (bool, error) {
		return false, context.DeadlineExceeded
	})

	cases := []struct {
		strategy string
		want     models.OutcomeKind
	}{
		{"succeeds", models.OutcomeSuccess},
		{"partial", models.OutcomePartial},
		{"fails", models.OutcomeFailure},
		{"times-out", models.OutcomeTimeout},
	}
	for _, tc := range cases {
		res, err := exec.Run(context.Background(), "", tc.strategy, "")
		if err != nil {
			t.Fatalf("Run(%s) error = %v", tc.strategy, err)
		}
		if res.Event.Kind != tc.want {
			t.Errorf("Run(%s) kind = %s, want %s", tc.strategy, res.Event.Kind, tc.want)
		}
	}

	if len(capture.events) != len(cases) {
		t.Errorf("dispatched %d events, want %d", len(capture.events), len(cases))
	}
}

func TestRun_ExpiredContextClassifiesTimeout(t *testing.T) {
	exec, _ := newTestExecutor(t)
	exec.Register("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	res, err := exec.Run(ctx, "", "slow", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Event.Kind != models.OutcomeTimeout {
		t.Errorf("kind = %s, want %s", res.Event.Kind, models.OutcomeTimeout)
	}
}

func TestRun_UnknownStrategy(t *testing.T) {
	exec, _ := newTestExecutor(t)

	if _, err := exec.Run(context.Background(), "", "never-registered", ""); err == nil {
		t.Fatal("Run() with unknown strategy: error = nil, want error")
	}
}

func TestRun_GeneratesTaskID(t *testing.T) {
	exec, _ := newTestExecutor(t)
	exec.Register("ok", func(ctx context.Context) (bool, error) { return true, nil })

	res, err := exec.Run(context.Background(), "", "ok", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Event.TaskID == "" {
		t.Error("Event.TaskID is empty, want generated id")
	}
}

// ─── Panic Containment ───────────────────────────────────────

func TestRun_HandlerPanicBecomesFailureOutcome(t *testing.T) {
	exec, capture := newTestExecutor(t)
	exec.Register("explodes", func(ctx context.Context) (bool, error) {
		panic("handler bug")
	})

	res, err := exec.Run(context.Background(), "task-1", "explodes", "")
	if err != nil {
		t.Fatalf("Run() error = %v, want panic contained", err)
	}
	if res.Event.Kind != models.OutcomeFailure {
		t.Errorf("kind = %s, want %s", res.Event.Kind, models.OutcomeFailure)
	}
	if res.Event.ErrorMessage == "" {
		t.Error("ErrorMessage is empty, want panic detail")
	}
	if len(capture.events) != 1 {
		t.Errorf("dispatched %d events after panic, want 1", len(capture.events))
	}
}

// ─── Prediction Capture ──────────────────────────────────────

func TestRun_CapturesPredictionBeforeHandler(t *testing.T) {
	capture := &captureConsumer{}
	d := dispatch.NewDispatcher(capture)
	predictor := &fixedPredictor{score: 0.8}
	tracker := prediction.NewTracker(predictor, nil, 0, 0)
	exec := executor.NewExecutor(d, tracker, 0)

	// The handler moves the predictor's score; the event must still
	// carry the value captured before the handler ran.
	exec.Register("research", func(ctx context.Context) (bool, error) {
		predictor.score = 0.1
		return false, errors.New("missed")
	})

	res, err := exec.Run(context.Background(), "task-1", "research", "deep dive")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Event.PredictionBefore == nil || *res.Event.PredictionBefore != 0.8 {
		t.Fatalf("PredictionBefore = %v, want 0.8 captured pre-run", res.Event.PredictionBefore)
	}
	if res.Event.PredictionID == "" {
		t.Error("PredictionID is empty, want tracked id")
	}
	if !res.Verified {
		t.Error("Result.Verified = false, want true")
	}
	if predictor.calls != 1 {
		t.Errorf("predictor invoked %d times, want exactly 1", predictor.calls)
	}
}

func TestRun_NilTrackerSkipsPrediction(t *testing.T) {
	exec, capture := newTestExecutor(t)
	exec.Register("ok", func(ctx context.Context) (bool, error) { return true, nil })

	res, err := exec.Run(context.Background(), "", "ok", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Event.PredictionBefore != nil || res.Event.PredictionID != "" || res.Verified {
		t.Errorf("event carries prediction fields without a tracker: %+v", res.Event)
	}
	if len(capture.events) != 1 {
		t.Errorf("dispatched %d events, want 1", len(capture.events))
	}
}

// ─── WithTracking ────────────────────────────────────────────

func TestWithTracking_WrapsArbitraryHandler(t *testing.T) {
	exec, capture := newTestExecutor(t)

	calls := 0
	wrapped := exec.WithTracking("summarize", func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})

	ok, err := wrapped(context.Background())
	if err != nil {
		t.Fatalf("wrapped handler error = %v", err)
	}
	if !ok {
		t.Error("wrapped handler ok = false, want true")
	}
	if calls != 1 {
		t.Errorf("inner handler invoked %d times, want 1", calls)
	}
	if len(capture.events) != 1 || capture.events[0].Strategy != "summarize" {
		t.Fatalf("dispatched events = %+v, want one summarize event", capture.events)
	}
}

func TestWithTracking_SurfacesHandlerError(t *testing.T) {
	exec, _ := newTestExecutor(t)

	wrapped := exec.WithTracking("flaky", func(ctx context.Context) (bool, error) {
		return false, errors.New("downstream unavailable")
	})

	ok, err := wrapped(context.Background())
	if ok {
		t.Error("wrapped handler ok = true, want false")
	}
	if err == nil || err.Error() != "downstream unavailable" {
		t.Errorf("wrapped handler error = %v, want downstream unavailable", err)
	}
}
