// Package goals implements emergent goal discovery.
//
// Recurring prediction-error patterns materialize into improvement
// goals. Each category⋅direction bucket accumulates high-error samples
// in a bounded history; when enough samples land inside the trailing
// time window, a goal is spawned for that bucket. From then on the goal
// tracks its own real-world effectiveness from every outcome in its
// category, whether or not a given sample crossed the error threshold.
//
// Goals never age out. A dormant bucket keeps its goal so a
// dormant-then-recurring problem does not have to re-accumulate from
// zero; only capacity pressure removes goals, pruning the lowest-scored
// fifth of the table.
package goals

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

const (
	// DefaultErrorThreshold is the minimum sample magnitude that counts
	// toward pattern detection.
	DefaultErrorThreshold = 0.3

	// DefaultPatternThreshold is how many in-window samples a bucket
	// needs before a goal is spawned.
	DefaultPatternThreshold = 5

	// DefaultTimeWindow is the trailing window samples must fall in.
	DefaultTimeWindow = time.Hour

	// DefaultMaxGoals caps the goal table.
	DefaultMaxGoals = 50

	// DefaultHistorySize bounds the global error-sample ring.
	DefaultHistorySize = 1000

	// pruneFraction is the share of the table removed under capacity
	// pressure, always at least one goal.
	pruneFraction = 0.2
)

// Options configures a Discoverer. Zero values fall back to defaults.
type Options struct {
	ErrorThreshold   float64
	PatternThreshold int
	TimeWindow       time.Duration
	MaxGoals         int
	HistorySize      int
}

// Discoverer owns the goal table and the error-sample history.
type Discoverer struct {
	mu sync.Mutex

	opts Options

	// history is the global bounded ring of high-error samples,
	// oldest first.
	history []models.PredictionErrorSample

	// goals is keyed by trigger key (category:direction).
	goals map[string]*models.EmergentGoal

	totalSpawned int64
	totalPruned  int64
}

// NewDiscoverer creates a goal discoverer.
func NewDiscoverer(opts Options) *Discoverer {
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = DefaultErrorThreshold
	}
	if opts.PatternThreshold <= 0 {
		opts.PatternThreshold = DefaultPatternThreshold
	}
	if opts.TimeWindow <= 0 {
		opts.TimeWindow = DefaultTimeWindow
	}
	if opts.MaxGoals <= 0 {
		opts.MaxGoals = DefaultMaxGoals
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	return &Discoverer{
		opts:  opts,
		goals: make(map[string]*models.EmergentGoal),
	}
}

// ProcessSample folds one prediction-error observation into the
// discoverer. wasSuccess, when known, updates the effectiveness
// counters of an existing goal for the bucket regardless of magnitude.
// Returns true if a goal was spawned or an existing goal updated.
func (d *Discoverer) ProcessSample(category string, direction models.ErrorDirection, magnitude float64, wasSuccess *bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := models.TriggerKeyFor(category, direction)
	now := time.Now().UTC()
	var updated bool

	// Existing goals track their own effectiveness from every outcome
	// in their category, not just the errors that spawned them.
	if goal, ok := d.goals[key]; ok && wasSuccess != nil {
		goal.ActivationCount++
		if *wasSuccess {
			goal.SuccessCount++
		} else {
			goal.FailureCount++
		}
		updated = true
	}

	if magnitude <= d.opts.ErrorThreshold {
		return updated
	}

	d.history = append(d.history, models.PredictionErrorSample{
		Category:  category,
		Direction: direction,
		Magnitude: magnitude,
		Timestamp: now,
	})
	if len(d.history) > d.opts.HistorySize {
		d.history = d.history[len(d.history)-d.opts.HistorySize:]
	}

	if _, ok := d.goals[key]; ok {
		// Bucket already has a goal; the error count keeps climbing but
		// never spawns a duplicate.
		return updated
	}

	inWindow := d.countInWindowLocked(key, now)
	if inWindow < d.opts.PatternThreshold {
		return updated
	}

	if len(d.goals) >= d.opts.MaxGoals {
		d.pruneLocked()
	}

	goal := &models.EmergentGoal{
		ID:              uuid.New().String(),
		Description:     fmt.Sprintf("Improve %s-prediction accuracy in %s", direction, category),
		TriggerKey:      key,
		Category:        category,
		Direction:       direction,
		DiscoveredAt:    now,
		ActivationCount: int64(inWindow),
	}
	d.goals[key] = goal
	d.totalSpawned++

	log.Info().
		Str("trigger_key", key).
		Int("samples_in_window", inWindow).
		Msg("Emergent goal discovered")

	return true
}

// ProcessOutcome updates the effectiveness counters of every goal in
// the category, regardless of error magnitude or direction. Called once
// per dispatched outcome; returns true if any goal was updated.
func (d *Discoverer) ProcessOutcome(category string, success bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	var updated bool
	for _, g := range d.goals {
		if g.Category != category {
			continue
		}
		g.ActivationCount++
		if success {
			g.SuccessCount++
		} else {
			g.FailureCount++
		}
		updated = true
	}
	return updated
}

// RecordError feeds a high-error sample with no outcome attached.
// This is the immediate path from prediction verification
// (prediction.ErrorSink); outcome bookkeeping arrives separately via
// the dispatcher.
func (d *Discoverer) RecordError(category string, direction models.ErrorDirection, magnitude float64) {
	d.ProcessSample(category, direction, magnitude, nil)
}

// countInWindowLocked counts history samples for key inside the
// trailing time window.
func (d *Discoverer) countInWindowLocked(key string, now time.Time) int {
	cutoff := now.Add(-d.opts.TimeWindow)
	var n int
	for _, s := range d.history {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if models.TriggerKeyFor(s.Category, s.Direction) == key {
			n++
		}
	}
	return n
}

// pruneLocked removes the bottom fifth of goals (at least one) by
// activation × (success rate + 0.1), ascending.
func (d *Discoverer) pruneLocked() {
	if len(d.goals) == 0 {
		return
	}

	ranked := make([]*models.EmergentGoal, 0, len(d.goals))
	for _, g := range d.goals {
		ranked = append(ranked, g)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := ranked[i].PruneScore(), ranked[j].PruneScore()
		if si != sj {
			return si < sj
		}
		return ranked[i].DiscoveredAt.Before(ranked[j].DiscoveredAt)
	})

	toRemove := int(float64(len(ranked)) * pruneFraction)
	if toRemove < 1 {
		toRemove = 1
	}

	for _, g := range ranked[:toRemove] {
		delete(d.goals, g.TriggerKey)
		d.totalPruned++
		log.Debug().
			Str("trigger_key", g.TriggerKey).
			Float64("score", g.PruneScore()).
			Msg("Goal pruned under capacity pressure")
	}
}

// Goal returns a copy of the goal for a trigger key, if one exists.
func (d *Discoverer) Goal(triggerKey string) (models.EmergentGoal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.goals[triggerKey]
	if !ok {
		return models.EmergentGoal{}, false
	}
	return *g, true
}

// ActiveGoals returns copies of all goals, newest first.
func (d *Discoverer) ActiveGoals() []models.EmergentGoal {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.EmergentGoal, 0, len(d.goals))
	for _, g := range d.goals {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
	})
	return out
}

// Stats returns goal-table counters for health reporting.
func (d *Discoverer) Stats() models.GoalStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make(map[string]struct{})
	for _, s := range d.history {
		keys[models.TriggerKeyFor(s.Category, s.Direction)] = struct{}{}
	}
	return models.GoalStats{
		ActiveGoals:  len(d.goals),
		TrackedKeys:  len(keys),
		TotalPruned:  d.totalPruned,
		TotalSpawned: d.totalSpawned,
	}
}

// Export returns all goals for persistence.
func (d *Discoverer) Export() []models.EmergentGoal {
	return d.ActiveGoals()
}

// Restore reloads persisted goals, replacing the current table.
// Error history is not restored; pattern detection starts fresh.
func (d *Discoverer) Restore(goalList []models.EmergentGoal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.goals = make(map[string]*models.EmergentGoal, len(goalList))
	for i := range goalList {
		g := goalList[i]
		if g.TriggerKey == "" {
			g.TriggerKey = models.TriggerKeyFor(g.Category, g.Direction)
		}
		d.goals[g.TriggerKey] = &g
	}
}

// Reset clears all goals, history, and counters.
func (d *Discoverer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = nil
	d.goals = make(map[string]*models.EmergentGoal)
	d.totalSpawned = 0
	d.totalPruned = 0
}
