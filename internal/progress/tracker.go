// Package progress implements the rolling success-rate tracker.
//
// Two counters matter here and they are deliberately separate: the
// fixed-size rolling window of recent outcomes, and a monotonically
// increasing total of everything ever recorded. Snapshot cadence keys
// off the monotonic total, so snapshots keep firing at a predictable
// rhythm long after the window has filled and started evicting.
package progress

import (
	"sync"
	"time"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

const (
	// DefaultWindowSize is the number of recent outcomes the rolling
	// success rate is computed over.
	DefaultWindowSize = 100

	// DefaultSnapshotInterval takes a snapshot every Nth recorded outcome.
	DefaultSnapshotInterval = 10

	// DefaultMaxSnapshots bounds the retained snapshot history.
	DefaultMaxSnapshots = 500

	// velocitySpan is how many trailing snapshots the velocity slope spans.
	velocitySpan = 5
)

// Tracker records task outcomes into a rolling window and takes
// periodic progress snapshots.
type Tracker struct {
	mu sync.RWMutex

	window     []bool
	windowSize int

	totalRecorded    int64
	snapshotInterval int64

	snapshots    []models.ProgressSnapshot
	maxSnapshots int
}

// NewTracker creates a progress tracker. Zero or negative arguments
// fall back to the package defaults.
func NewTracker(windowSize int, snapshotInterval int64, maxSnapshots int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if snapshotInterval <= 0 {
		snapshotInterval = DefaultSnapshotInterval
	}
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Tracker{
		window:           make([]bool, 0, windowSize),
		windowSize:       windowSize,
		snapshotInterval: snapshotInterval,
		maxSnapshots:     maxSnapshots,
	}
}

// Record appends one outcome to the window, evicting the oldest entry
// on overflow, and snapshots every snapshotInterval-th recorded outcome.
func (t *Tracker) Record(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = append(t.window, success)
	if len(t.window) > t.windowSize {
		t.window = t.window[len(t.window)-t.windowSize:]
	}
	t.totalRecorded++

	if t.totalRecorded%t.snapshotInterval == 0 {
		t.snapshots = append(t.snapshots, models.ProgressSnapshot{
			Timestamp:     time.Now().UTC(),
			SuccessRate:   t.successRateLocked(),
			TotalAttempts: t.totalRecorded,
		})
		if len(t.snapshots) > t.maxSnapshots {
			t.snapshots = t.snapshots[len(t.snapshots)-t.maxSnapshots:]
		}
	}
}

// SuccessRate returns the mean of the rolling window, 0 when empty.
func (t *Tracker) SuccessRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.successRateLocked()
}

func (t *Tracker) successRateLocked() float64 {
	if len(t.window) == 0 {
		return 0
	}
	var successes int
	for _, ok := range t.window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(t.window))
}

// Velocity estimates the success-rate trend: the difference between the
// newest and oldest of the last few snapshots divided by the span.
// Returns 0 with fewer than 2 snapshots.
func (t *Tracker) Velocity() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.velocityLocked()
}

func (t *Tracker) velocityLocked() float64 {
	n := len(t.snapshots)
	if n < 2 {
		return 0
	}
	span := velocitySpan
	if n < span {
		span = n
	}
	recent := t.snapshots[n-span:]
	return (recent[len(recent)-1].SuccessRate - recent[0].SuccessRate) / float64(span)
}

// TotalRecorded returns the monotonic total of outcomes ever recorded.
func (t *Tracker) TotalRecorded() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalRecorded
}

// Stats returns the full progress read surface.
func (t *Tracker) Stats() models.ProgressStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snaps := make([]models.ProgressSnapshot, len(t.snapshots))
	copy(snaps, t.snapshots)
	return models.ProgressStats{
		SuccessRate:   t.successRateLocked(),
		Velocity:      t.velocityLocked(),
		TotalRecorded: t.totalRecorded,
		WindowSize:    t.windowSize,
		Snapshots:     snaps,
	}
}

// Export returns the snapshot history for persistence.
func (t *Tracker) Export() []models.ProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snaps := make([]models.ProgressSnapshot, len(t.snapshots))
	copy(snaps, t.snapshots)
	return snaps
}

// Restore reloads persisted snapshot history and resumes the monotonic
// total from the newest snapshot so TotalAttempts stays monotonic across
// restarts. The rolling window is not restored: a cold start has no
// recent outcomes to mean over.
func (t *Tracker) Restore(snaps []models.ProgressSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshots = make([]models.ProgressSnapshot, len(snaps))
	copy(t.snapshots, snaps)
	if len(t.snapshots) > t.maxSnapshots {
		t.snapshots = t.snapshots[len(t.snapshots)-t.maxSnapshots:]
	}
	if n := len(snaps); n > 0 {
		t.totalRecorded = snaps[n-1].TotalAttempts
	}
}

// Reset clears the window, counters, and snapshot history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = t.window[:0]
	t.totalRecorded = 0
	t.snapshots = nil
}
