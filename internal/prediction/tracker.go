// Package prediction implements the before/after prediction tracker.
//
// The whole point of this package is a timing discipline: the predicted
// value consumed by Verify is the one captured at PredictAndTrack time,
// before the action ran. Re-querying the predictor after execution is
// never correct — by then its internal state has absorbed the very
// outcome it would be asked to forecast. Verification is also
// immediate: a high-error sample is forwarded to the error sink inside
// the Verify call, because batching verification lets newer predictions
// for the same action overwrite the context the batch would need.
package prediction

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

const (
	// DefaultErrorThreshold is the |predicted-actual| error above which
	// a verified prediction feeds the error sink.
	DefaultErrorThreshold = 0.3

	// DefaultTimeout expires pending predictions that were never verified.
	DefaultTimeout = 5 * time.Minute
)

// Predictor is the external capability that scores how likely an action
// is to succeed in a situation. Implemented by collaborators outside
// this core (LLM-backed in production, stubs in tests).
type Predictor interface {
	Score(ctx context.Context, situation, action string) (float64, error)
}

// ErrorSink receives high-error samples the moment they are verified.
type ErrorSink interface {
	RecordError(category string, direction models.ErrorDirection, magnitude float64)
}

// pending is one in-flight prediction awaiting verification.
type pending struct {
	action    string
	context   string
	predicted float64
	createdAt time.Time
	timeout   time.Duration
}

func (p *pending) expired(now time.Time) bool {
	return now.Sub(p.createdAt) > p.timeout
}

// Tracker holds pending predictions keyed by id and verifies them
// against actual outcomes.
type Tracker struct {
	mu             sync.Mutex
	predictor      Predictor
	sink           ErrorSink
	entries        map[string]*pending
	errorThreshold float64
	defaultTimeout time.Duration
}

// NewTracker creates a prediction tracker. The sink may be nil, in
// which case high-error samples are dropped.
func NewTracker(predictor Predictor, sink ErrorSink, errorThreshold float64, defaultTimeout time.Duration) *Tracker {
	if errorThreshold <= 0 {
		errorThreshold = DefaultErrorThreshold
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Tracker{
		predictor:      predictor,
		sink:           sink,
		entries:        make(map[string]*pending),
		errorThreshold: errorThreshold,
		defaultTimeout: defaultTimeout,
	}
}

// PredictAndTrack obtains a prediction for the action and stores it
// under a fresh id. The predictor is called exactly once, here, before
// the action runs. Does not block on verification.
func (t *Tracker) PredictAndTrack(ctx context.Context, action, situation string, timeout time.Duration) (string, float64, error) {
	if t.predictor == nil {
		return "", 0, fmt.Errorf("prediction: no predictor configured")
	}
	score, err := t.predictor.Score(ctx, situation, action)
	if err != nil {
		return "", 0, fmt.Errorf("prediction: score %q: %w", action, err)
	}
	if score < 0 || score > 1 {
		return "", 0, fmt.Errorf("prediction: predictor returned %v, want [0,1]", score)
	}
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	id := uuid.New().String()
	t.mu.Lock()
	t.entries[id] = &pending{
		action:    action,
		context:   situation,
		predicted: score,
		createdAt: time.Now().UTC(),
		timeout:   timeout,
	}
	t.mu.Unlock()

	return id, score, nil
}

// Verify checks a pending prediction against the actual outcome.
// Unknown or expired ids return nil: a stale prediction is an absent
// signal, not an error, and must not pollute current error statistics.
// When the computed error exceeds the threshold the sample is forwarded
// to the error sink before Verify returns.
func (t *Tracker) Verify(predictionID string, actualSuccess bool) *models.VerifiedPrediction {
	now := time.Now().UTC()

	t.mu.Lock()
	entry, ok := t.entries[predictionID]
	if ok {
		delete(t.entries, predictionID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if entry.expired(now) {
		log.Debug().
			Str("prediction_id", predictionID).
			Str("action", entry.action).
			Msg("Pending prediction expired before verification")
		return nil
	}

	actual := 0.0
	if actualSuccess {
		actual = 1.0
	}

	verified := &models.VerifiedPrediction{
		PredictionID:  predictionID,
		Action:        entry.action,
		Context:       entry.context,
		Predicted:     entry.predicted,
		ActualSuccess: actualSuccess,
		Error:         math.Abs(entry.predicted - actual),
		PredictedAt:   entry.createdAt,
		VerifiedAt:    now,
	}

	if verified.Error > t.errorThreshold && t.sink != nil {
		t.sink.RecordError(entry.action, verified.Direction(), verified.Error)
	}

	return verified
}

// PendingCount returns the number of in-flight predictions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep drops expired pending entries and returns how many were removed.
// Expired predictions are never retried.
func (t *Tracker) Sweep() int {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	var removed int
	for id, entry := range t.entries {
		if entry.expired(now) {
			delete(t.entries, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired predictions")
	}
	return removed
}

// SweepLoop runs Sweep on the given interval until ctx is cancelled.
func (t *Tracker) SweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Reset drops all pending predictions.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*pending)
}
