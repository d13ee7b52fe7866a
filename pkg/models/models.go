// Package models defines the shared data types for the Hindsight learning plane.
// Every learning component and the HTTP API exchange these types; learning
// state that components own exclusively (adjustment tables, goal tables,
// rolling windows) also serializes through them for snapshot persistence.
package models

import (
	"fmt"
	"time"
)

// ── Outcome Events ───────────────────────────────────────────

// OutcomeKind classifies the terminal result of one executed task.
// The learning core deliberately narrows the surrounding agent's open
// vocabulary down to this closed enum.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomePartial OutcomeKind = "partial"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// ParseOutcomeKind validates a raw string against the closed enum.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	switch OutcomeKind(s) {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure, OutcomeTimeout:
		return OutcomeKind(s), nil
	}
	return "", fmt.Errorf("unknown outcome kind %q", s)
}

// Succeeded reports whether the outcome counts as a success for
// routing and progress purposes. Partial and timeout outcomes did not
// achieve the predicted result, so both count as failures here; the
// audit log keeps them distinguishable.
func (k OutcomeKind) Succeeded() bool {
	return k == OutcomeSuccess
}

// OutcomeEvent is the immutable record of one completed unit of work.
// It is created exactly once by the task executor, shared by reference
// across all dispatch consumers for the duration of one dispatch call,
// and never mutated afterward.
type OutcomeEvent struct {
	TaskID          string      `json:"task_id"`
	Kind            OutcomeKind `json:"kind"`
	Strategy        string      `json:"strategy"`
	Description     string      `json:"description,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`

	// QueryUsed and RetrievedIDs pass through unchanged to retrieval
	// feedback consumers; this core never interprets node ids.
	QueryUsed    string   `json:"query_used,omitempty"`
	RetrievedIDs []string `json:"retrieved_ids,omitempty"`

	// PredictionBefore is the predictor's confidence captured strictly
	// before the strategy ran. Nil when no prediction was taken.
	PredictionBefore *float64 `json:"prediction_before,omitempty"`

	// PredictionID keys the pending prediction to verify during
	// dispatch, when the prediction was taken through the tracker.
	PredictionID string `json:"prediction_id,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate rejects malformed events at the dispatcher boundary.
func (e *OutcomeEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("outcome event is nil")
	}
	if e.TaskID == "" {
		return fmt.Errorf("outcome event: task_id is required")
	}
	if e.Strategy == "" {
		return fmt.Errorf("outcome event: strategy is required")
	}
	if _, err := ParseOutcomeKind(string(e.Kind)); err != nil {
		return fmt.Errorf("outcome event: %w", err)
	}
	if e.ExecutionTimeMs < 0 {
		return fmt.Errorf("outcome event: execution_time_ms must be >= 0, got %d", e.ExecutionTimeMs)
	}
	if e.PredictionBefore != nil && (*e.PredictionBefore < 0 || *e.PredictionBefore > 1) {
		return fmt.Errorf("outcome event: prediction_before must be in [0,1], got %v", *e.PredictionBefore)
	}
	return nil
}

// ── Routing Adjustments ──────────────────────────────────────

// RoutingAdjustment is the per-strategy learned preference. Owned
// exclusively by the routing preference learner; Score moves only via
// its EMA update rule and stays in [0,1].
type RoutingAdjustment struct {
	Strategy  string    `json:"strategy"`
	Successes int64     `json:"successes"`
	Failures  int64     `json:"failures"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Boost is the bounded routing nudge derived from the learned score.
// For any reachable score it lands in [-0.5, 0.5].
func (a *RoutingAdjustment) Boost() float64 {
	return a.Score - 0.5
}

// ObservedRate is the empirical success rate to date, the EMA target.
func (a *RoutingAdjustment) ObservedRate() float64 {
	total := a.Successes + a.Failures
	if total == 0 {
		return 0
	}
	return float64(a.Successes) / float64(total)
}

// ── Prediction Tracking ──────────────────────────────────────

// ErrorDirection records which side of the actual outcome a prediction fell on.
type ErrorDirection string

const (
	DirectionOver  ErrorDirection = "over"  // predicted > actual
	DirectionUnder ErrorDirection = "under" // predicted <= actual
)

// PredictionErrorSample is one observed forecast miss, forwarded to the
// goal discoverer when its magnitude crosses the error threshold.
type PredictionErrorSample struct {
	Category  string         `json:"category"`
	Direction ErrorDirection `json:"direction"`
	Magnitude float64        `json:"magnitude"`
	Timestamp time.Time      `json:"timestamp"`
}

// VerifiedPrediction is the result of checking a pending prediction
// against the actual outcome.
type VerifiedPrediction struct {
	PredictionID  string    `json:"prediction_id"`
	Action        string    `json:"action"`
	Context       string    `json:"context,omitempty"`
	Predicted     float64   `json:"predicted"`
	ActualSuccess bool      `json:"actual_success"`
	Error         float64   `json:"error"`
	PredictedAt   time.Time `json:"predicted_at"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// Direction classifies the miss: over when the predictor was more
// confident than reality warranted.
func (v *VerifiedPrediction) Direction() ErrorDirection {
	actual := 0.0
	if v.ActualSuccess {
		actual = 1.0
	}
	if v.Predicted > actual {
		return DirectionOver
	}
	return DirectionUnder
}

// ── Emergent Goals ───────────────────────────────────────────

// EmergentGoal is an improvement target materialized from a recurring
// pattern of prediction error, not authored by a human or model.
// Counters carry forward for the goal's whole lifetime; goals are only
// ever removed by capacity pruning, never by age.
type EmergentGoal struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	TriggerKey   string         `json:"trigger_key"`
	Category     string         `json:"category"`
	Direction    ErrorDirection `json:"direction"`
	DiscoveredAt time.Time      `json:"discovered_at"`

	ActivationCount int64 `json:"activation_count"`
	SuccessCount    int64 `json:"success_count"`
	FailureCount    int64 `json:"failure_count"`
}

// SuccessRate is the goal's observed real-world effectiveness.
func (g *EmergentGoal) SuccessRate() float64 {
	total := g.SuccessCount + g.FailureCount
	if total == 0 {
		return 0
	}
	return float64(g.SuccessCount) / float64(total)
}

// PruneScore ranks goals for capacity eviction: high-activation,
// high-success goals survive. The +0.1 floor keeps goals with no
// observed successes yet from being deleted before they are exercised.
func (g *EmergentGoal) PruneScore() float64 {
	return float64(g.ActivationCount) * (g.SuccessRate() + 0.1)
}

// TriggerKeyFor builds the canonical category⋅direction bucket key.
func TriggerKeyFor(category string, direction ErrorDirection) string {
	return category + ":" + string(direction)
}

// ── Progress Tracking ────────────────────────────────────────

// ProgressSnapshot is one periodic sample of the rolling success rate.
// Taken every snapshot-interval-th recorded outcome, keyed to the
// monotonic total rather than window fullness.
type ProgressSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	SuccessRate   float64   `json:"success_rate"`
	TotalAttempts int64     `json:"total_attempts"`
}

// ProgressStats is the progress tracker's read surface.
type ProgressStats struct {
	SuccessRate   float64            `json:"success_rate"`
	Velocity      float64            `json:"velocity"`
	TotalRecorded int64              `json:"total_recorded"`
	WindowSize    int                `json:"window_size"`
	Snapshots     []ProgressSnapshot `json:"snapshots"`
}

// ── Audit Log ────────────────────────────────────────────────

// AuditRecord is one bookkeeping entry in the bounded audit ring.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	EventKind string    `json:"event_kind"`
	Details   string    `json:"details,omitempty"`
}

// AuditStats summarizes the audit log for health reporting.
type AuditStats struct {
	TotalRecorded int64            `json:"total_recorded"`
	CurrentSize   int              `json:"current_size"`
	ByKind        map[string]int64 `json:"by_kind"`
}

// ── Persistence ──────────────────────────────────────────────

// LearningState is the JSON-serializable shape of everything worth
// keeping across restarts. Pending predictions and rolling windows are
// deliberately absent: both describe in-flight work that is stale the
// moment the process stops.
type LearningState struct {
	Routing   []RoutingAdjustment `json:"routing"`
	Goals     []EmergentGoal      `json:"goals"`
	Snapshots []ProgressSnapshot  `json:"snapshots"`
	SavedAt   time.Time           `json:"saved_at"`
}

// ── Health / Introspection ───────────────────────────────────

// DispatchStats counts dispatcher fan-out activity.
type DispatchStats struct {
	TotalDispatched int64 `json:"total_dispatched"`
	FullySucceeded  int64 `json:"fully_succeeded"`
	ConsumerErrors  int64 `json:"consumer_errors"`
	Rejected        int64 `json:"rejected"`
}

// GoalStats counts the goal discoverer's table state.
type GoalStats struct {
	ActiveGoals  int   `json:"active_goals"`
	TrackedKeys  int   `json:"tracked_keys"`
	TotalPruned  int64 `json:"total_pruned"`
	TotalSpawned int64 `json:"total_spawned"`
}

// HealthReport aggregates the read-only introspection surface backing
// the /health endpoint. All fields are counters or small maps.
type HealthReport struct {
	Status      string        `json:"status"`
	Service     string        `json:"service"`
	Version     string        `json:"version"`
	Strategies  int           `json:"strategies"`
	Goals       GoalStats     `json:"goals"`
	Dispatch    DispatchStats `json:"dispatch"`
	Progress    ProgressStats `json:"progress"`
	Audit       AuditStats    `json:"audit"`
	Predictions int           `json:"pending_predictions"`
	GeneratedAt time.Time     `json:"generated_at"`
}
