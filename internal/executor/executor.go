// Package executor runs strategy handlers under outcome tracking.
//
// The flow for one tracked task:
//
//	capture prediction (before the handler runs) → execute handler →
//	classify outcome → build immutable OutcomeEvent carrying the
//	pre-captured prediction → dispatch to the learning consumers.
//
// Handlers opt into tracking through an explicit wrapper rather than a
// signature-matching decorator: WithTracking adapts any handler of the
// uniform StrategyFunc shape, so a handler's own parameters are bound
// by closure before it ever meets the tracking machinery.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/internal/dispatch"
	"github.com/hindsightlab/hindsight/learning-plane/internal/prediction"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// StrategyFunc is the uniform handler shape. It reports whether the
// task fully achieved its goal; a false with nil error is a partial
// result.
type StrategyFunc func(ctx context.Context) (bool, error)

// Result is what a tracked run returns to its caller.
type Result struct {
	Event     *models.OutcomeEvent `json:"event"`
	Consumers map[string]bool      `json:"consumers"`
	Verified  bool                 `json:"verified"`
}

// Executor runs registered strategy handlers and feeds their outcomes
// into the dispatcher. All collaborators arrive through the
// constructor; there is no process-wide instance accessor.
type Executor struct {
	dispatcher *dispatch.Dispatcher
	tracker    *prediction.Tracker // nil disables prediction capture

	mu         sync.RWMutex
	strategies map[string]StrategyFunc

	predictTimeout time.Duration
}

// NewExecutor creates an executor. tracker may be nil when no predictor
// collaborator is wired; outcomes still dispatch, just without
// prediction capture.
func NewExecutor(d *dispatch.Dispatcher, tracker *prediction.Tracker, predictTimeout time.Duration) *Executor {
	if predictTimeout <= 0 {
		predictTimeout = prediction.DefaultTimeout
	}
	return &Executor{
		dispatcher:     d,
		tracker:        tracker,
		strategies:     make(map[string]StrategyFunc),
		predictTimeout: predictTimeout,
	}
}

// Register installs a handler for a strategy label, replacing any
// previous handler.
func (e *Executor) Register(strategy string, fn StrategyFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[strategy] = fn
}

// Strategies returns the registered strategy labels.
func (e *Executor) Strategies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	return names
}

// Run executes a registered strategy under tracking. taskID may be
// empty, in which case one is generated.
func (e *Executor) Run(ctx context.Context, taskID, strategy, description string) (*Result, error) {
	e.mu.RLock()
	fn, ok := e.strategies[strategy]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("executor: unknown strategy %q", strategy)
	}
	if taskID == "" {
		taskID = uuid.New().String()
	}
	return e.execute(ctx, taskID, strategy, description, fn)
}

// WithTracking wraps an arbitrary handler so that invoking it runs the
// full predict → execute → dispatch cycle. The wrapped function reports
// the handler's own result; tracking failures are logged, never
// surfaced to the handler's caller.
func (e *Executor) WithTracking(strategy string, fn StrategyFunc) StrategyFunc {
	return func(ctx context.Context) (bool, error) {
		res, err := e.execute(ctx, uuid.New().String(), strategy, "", fn)
		if err != nil {
			return false, err
		}
		ev := res.Event
		return ev.Kind == models.OutcomeSuccess, handlerError(ev)
	}
}

func handlerError(ev *models.OutcomeEvent) error {
	if ev.ErrorMessage == "" {
		return nil
	}
	return errors.New(ev.ErrorMessage)
}

// execute is the tracked run: prediction strictly before the handler,
// verification and dispatch strictly after.
func (e *Executor) execute(ctx context.Context, taskID, strategy, description string, fn StrategyFunc) (*Result, error) {
	var (
		predictionID     string
		predictionBefore *float64
	)
	if e.tracker != nil {
		id, score, err := e.tracker.PredictAndTrack(ctx, strategy, description, e.predictTimeout)
		if err != nil {
			// A missing prediction is a lost signal, not a reason to
			// block the task.
			log.Warn().Str("strategy", strategy).Err(err).Msg("Prediction capture failed")
		} else {
			predictionID = id
			predictionBefore = &score
		}
	}

	start := time.Now()
	ok, runErr := e.runHandler(ctx, fn)
	elapsed := time.Since(start)

	event := &models.OutcomeEvent{
		TaskID:           taskID,
		Kind:             classify(ctx, ok, runErr),
		Strategy:         strategy,
		Description:      description,
		ExecutionTimeMs:  elapsed.Milliseconds(),
		PredictionBefore: predictionBefore,
		PredictionID:     predictionID,
		CreatedAt:        time.Now().UTC(),
	}
	if runErr != nil {
		event.ErrorMessage = runErr.Error()
	}

	consumers, err := e.dispatcher.Dispatch(event)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	log.Debug().
		Str("task_id", taskID).
		Str("strategy", strategy).
		Str("kind", string(event.Kind)).
		Int64("ms", event.ExecutionTimeMs).
		Msg("Outcome dispatched")

	return &Result{
		Event:     event,
		Consumers: consumers,
		Verified:  predictionID != "",
	}, nil
}

// runHandler invokes the handler with panic containment, so a broken
// strategy still produces a failure outcome instead of killing the
// scheduler goroutine it runs on.
func (e *Executor) runHandler(ctx context.Context, fn StrategyFunc) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// classify maps a handler result onto the closed outcome enum.
func classify(ctx context.Context, ok bool, err error) models.OutcomeKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.OutcomeTimeout
	case err != nil:
		return models.OutcomeFailure
	case ok:
		return models.OutcomeSuccess
	default:
		return models.OutcomePartial
	}
}
