package routing_test

import (
	"math"
	"testing"

	"github.com/hindsightlab/hindsight/learning-plane/internal/routing"
)

func newTestLearner(t *testing.T) *routing.Learner {
	t.Helper()
	return routing.NewLearner(0.1, 0.3)
}

// ─── EMA Convergence ─────────────────────────────────────────

func TestUpdate_ConvergesToOneOnRepeatedSuccess(t *testing.T) {
	l := newTestLearner(t)

	for i := 0; i < 200; i++ {
		l.Update("fast-path", true)
	}

	adj, ok := l.Get("fast-path")
	if !ok {
		t.Fatal("Get() after updates returned ok=false")
	}
	if adj.Score < 0.99 {
		t.Errorf("Score after 200 successes = %v, want > 0.99", adj.Score)
	}
	if adj.Successes != 200 || adj.Failures != 0 {
		t.Errorf("Tally = %d/%d, want 200/0", adj.Successes, adj.Failures)
	}
}

func TestUpdate_ConvergesToZeroOnRepeatedFailure(t *testing.T) {
	l := newTestLearner(t)

	for i := 0; i < 200; i++ {
		l.Update("flaky-path", false)
	}

	adj, _ := l.Get("flaky-path")
	if adj.Score > 0.01 {
		t.Errorf("Score after 200 failures = %v, want < 0.01", adj.Score)
	}
}

func TestUpdate_FailureEMAStepIsExact(t *testing.T) {
	l := newTestLearner(t)

	// With only failures the observed rate is always 0, so each update
	// multiplies the score by (1 - learning rate).
	for i := 0; i < 5; i++ {
		l.Update("research", false)
	}

	adj, _ := l.Get("research")
	want := 0.5 * math.Pow(0.9, 5)
	if math.Abs(adj.Score-want) > 1e-9 {
		t.Errorf("Score after 5 failures = %v, want %v", adj.Score, want)
	}
}

func TestUpdate_AlternatingConvergesToEmpiricalRate(t *testing.T) {
	l := newTestLearner(t)

	for i := 0; i < 100; i++ {
		l.Update("even-split", i%2 == 0)
	}

	adj, _ := l.Get("even-split")
	if math.Abs(adj.Score-0.5) > 0.1 {
		t.Errorf("Score after alternating outcomes = %v, want near 0.5", adj.Score)
	}
	if adj.Score < 0 || adj.Score > 1 {
		t.Errorf("Score = %v, out of [0,1]", adj.Score)
	}
}

func TestUpdate_FailureDoesNotErasePriorSuccesses(t *testing.T) {
	l := newTestLearner(t)

	// 20 successes, then 1 failure. The EMA chases the empirical rate
	// (20/21 ≈ 0.95), so a single failure must not crater the score —
	// the historical bug this guards against chased the raw boolean.
	for i := 0; i < 20; i++ {
		l.Update("reliable", true)
	}
	before, _ := l.Get("reliable")

	l.Update("reliable", false)
	after, _ := l.Get("reliable")

	if after.Score < before.Score-0.05 {
		t.Errorf("One failure moved score %v -> %v, drop too large", before.Score, after.Score)
	}
	if after.Score < 0.5 {
		t.Errorf("Score = %v after 20/21 successes, want > 0.5", after.Score)
	}
}

// ─── Boost ───────────────────────────────────────────────────

func TestBoost_UnknownStrategyIsZero(t *testing.T) {
	l := newTestLearner(t)

	if got := l.Boost("never-seen"); got != 0 {
		t.Errorf("Boost(unknown) = %v, want 0", got)
	}
}

func TestBoost_AlwaysInRange(t *testing.T) {
	l := newTestLearner(t)

	sequences := map[string][]bool{
		"all-success": {true, true, true, true, true, true, true, true},
		"all-failure": {false, false, false, false, false, false},
		"mixed":       {true, false, true, true, false, true, false},
	}
	for strategy, seq := range sequences {
		for _, ok := range seq {
			l.Update(strategy, ok)
			boost := l.Boost(strategy)
			if boost < -0.5 || boost > 0.5 {
				t.Fatalf("Boost(%q) = %v, out of [-0.5, 0.5]", strategy, boost)
			}
		}
	}
}

func TestApplyBoost_ClampsAndDampens(t *testing.T) {
	l := newTestLearner(t)

	for i := 0; i < 100; i++ {
		l.Update("strong", true)
	}

	// Boost near +0.5, dampened by 0.3 → nudge of about +0.15.
	got := l.ApplyBoost(0.5, "strong")
	if got < 0.6 || got > 0.65 {
		t.Errorf("ApplyBoost(0.5) = %v, want ~0.65", got)
	}

	// Clamped at the top.
	if got := l.ApplyBoost(0.95, "strong"); got > 1 {
		t.Errorf("ApplyBoost(0.95) = %v, want <= 1", got)
	}

	// Unknown strategy leaves confidence untouched.
	if got := l.ApplyBoost(0.7, "unknown"); got != 0.7 {
		t.Errorf("ApplyBoost with unknown strategy = %v, want 0.7", got)
	}
}

// ─── Table Management ────────────────────────────────────────

func TestAdjustments_SortedCopy(t *testing.T) {
	l := newTestLearner(t)
	l.Update("zeta", true)
	l.Update("alpha", false)

	adjs := l.Adjustments()
	if len(adjs) != 2 {
		t.Fatalf("Adjustments() returned %d entries, want 2", len(adjs))
	}
	if adjs[0].Strategy != "alpha" || adjs[1].Strategy != "zeta" {
		t.Errorf("Adjustments() order = %q, %q, want alpha, zeta", adjs[0].Strategy, adjs[1].Strategy)
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	l := newTestLearner(t)
	l.Update("carry", true)
	l.Update("carry", true)

	exported := l.Export()

	l2 := newTestLearner(t)
	l2.Restore(exported)

	got, ok := l2.Get("carry")
	if !ok {
		t.Fatal("Get() after Restore returned ok=false")
	}
	want, _ := l.Get("carry")
	if got.Score != want.Score || got.Successes != want.Successes {
		t.Errorf("Restored adjustment = %+v, want %+v", got, want)
	}
}

func TestReset_ClearsTable(t *testing.T) {
	l := newTestLearner(t)
	l.Update("gone", true)

	l.Reset()

	if l.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", l.Len())
	}
	if got := l.Boost("gone"); got != 0 {
		t.Errorf("Boost() after Reset = %v, want 0", got)
	}
}
