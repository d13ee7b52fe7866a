// Package routing implements the per-strategy preference learner.
//
// Each strategy label accumulates a success/failure tally and a learned
// score that moves by exponential moving average toward the strategy's
// empirical success rate. The EMA target is the rate to date, not the
// raw boolean outcome: chasing the boolean would let a single failure
// drag a long-successful strategy toward zero regardless of history.
// The score only ever feeds routing as a bounded, dampened nudge on an
// externally computed confidence, never as the sole signal.
package routing

import (
	"sort"
	"sync"
	"time"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

const (
	// DefaultLearningRate is the EMA step toward the observed rate.
	DefaultLearningRate = 0.1

	// DefaultDampening scales a boost before it touches a confidence.
	DefaultDampening = 0.3

	// initialScore is the neutral starting score for a new strategy.
	initialScore = 0.5
)

// Learner owns the per-strategy adjustment table.
type Learner struct {
	mu           sync.RWMutex
	adjustments  map[string]*models.RoutingAdjustment
	learningRate float64
	dampening    float64
}

// NewLearner creates a preference learner. Non-positive rate or
// dampening fall back to the package defaults.
func NewLearner(learningRate, dampening float64) *Learner {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	if dampening <= 0 {
		dampening = DefaultDampening
	}
	return &Learner{
		adjustments:  make(map[string]*models.RoutingAdjustment),
		learningRate: learningRate,
		dampening:    dampening,
	}
}

// Update folds one outcome into the strategy's adjustment:
// bump the tally, recompute the empirical rate, then pull the score a
// learning-rate-sized step toward that rate and clamp to [0,1].
func (l *Learner) Update(strategy string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	adj, ok := l.adjustments[strategy]
	if !ok {
		adj = &models.RoutingAdjustment{
			Strategy: strategy,
			Score:    initialScore,
		}
		l.adjustments[strategy] = adj
	}

	if success {
		adj.Successes++
	} else {
		adj.Failures++
	}

	observed := adj.ObservedRate()
	adj.Score += l.learningRate * (observed - adj.Score)
	adj.Score = clamp01(adj.Score)
	adj.UpdatedAt = time.Now().UTC()
}

// Boost returns score-0.5 for a known strategy, 0 otherwise.
// Output is always in [-0.5, 0.5].
func (l *Learner) Boost(strategy string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	adj, ok := l.adjustments[strategy]
	if !ok {
		return 0
	}
	return adj.Boost()
}

// ApplyBoost nudges an externally computed confidence by the dampened
// learned boost, clamped back into [0,1].
func (l *Learner) ApplyBoost(confidence float64, strategy string) float64 {
	return clamp01(confidence + l.Boost(strategy)*l.dampening)
}

// Adjustments returns a copy of the adjustment table, sorted by
// strategy name for stable API output.
func (l *Learner) Adjustments() []models.RoutingAdjustment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.RoutingAdjustment, 0, len(l.adjustments))
	for _, adj := range l.adjustments {
		out = append(out, *adj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

// Get returns a copy of one strategy's adjustment, or false if the
// strategy has never been updated.
func (l *Learner) Get(strategy string) (models.RoutingAdjustment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	adj, ok := l.adjustments[strategy]
	if !ok {
		return models.RoutingAdjustment{}, false
	}
	return *adj, true
}

// Len returns the number of strategies with learned adjustments.
func (l *Learner) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.adjustments)
}

// Export returns the adjustment table for persistence.
func (l *Learner) Export() []models.RoutingAdjustment {
	return l.Adjustments()
}

// Restore reloads persisted adjustments, replacing the current table.
func (l *Learner) Restore(adjustments []models.RoutingAdjustment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.adjustments = make(map[string]*models.RoutingAdjustment, len(adjustments))
	for i := range adjustments {
		adj := adjustments[i]
		adj.Score = clamp01(adj.Score)
		l.adjustments[adj.Strategy] = &adj
	}
}

// Reset clears all learned adjustments.
func (l *Learner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.adjustments = make(map[string]*models.RoutingAdjustment)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
