package dispatch

import (
	"math"

	"github.com/hindsightlab/hindsight/learning-plane/internal/audit"
	"github.com/hindsightlab/hindsight/learning-plane/internal/goals"
	"github.com/hindsightlab/hindsight/learning-plane/internal/prediction"
	"github.com/hindsightlab/hindsight/learning-plane/internal/progress"
	"github.com/hindsightlab/hindsight/learning-plane/internal/retrieval"
	"github.com/hindsightlab/hindsight/learning-plane/internal/routing"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// Consumer names, stable keys in the Dispatch result map.
const (
	ConsumerAudit      = "audit_log"
	ConsumerProgress   = "progress_tracker"
	ConsumerRouting    = "routing_learner"
	ConsumerPrediction = "prediction_verify"
	ConsumerGoals      = "goal_discovery"
	ConsumerRetrieval  = "retrieval_feedback"
)

// AuditConsumer records every dispatched event in the audit log.
func AuditConsumer(l *audit.Log) Consumer {
	return ConsumerFunc{
		ConsumerName: ConsumerAudit,
		Fn: func(event *models.OutcomeEvent) error {
			l.Record(string(event.Kind), event.Strategy+": "+event.TaskID)
			return nil
		},
	}
}

// ProgressConsumer feeds the rolling success-rate window.
func ProgressConsumer(t *progress.Tracker) Consumer {
	return ConsumerFunc{
		ConsumerName: ConsumerProgress,
		Fn: func(event *models.OutcomeEvent) error {
			t.Record(event.Kind.Succeeded())
			return nil
		},
	}
}

// RoutingConsumer feeds the per-strategy preference learner.
func RoutingConsumer(l *routing.Learner) Consumer {
	return ConsumerFunc{
		ConsumerName: ConsumerRouting,
		Fn: func(event *models.OutcomeEvent) error {
			l.Update(event.Strategy, event.Kind.Succeeded())
			return nil
		},
	}
}

// PredictionConsumer verifies the event's pending prediction, if it
// carries one. The tracker forwards high-error samples to its sink
// inside Verify; an unknown or expired id is an absent signal, not an
// error.
func PredictionConsumer(t *prediction.Tracker) Consumer {
	return ConsumerFunc{
		ConsumerName: ConsumerPrediction,
		Fn: func(event *models.OutcomeEvent) error {
			if event.PredictionID == "" {
				return nil
			}
			t.Verify(event.PredictionID, event.Kind.Succeeded())
			return nil
		},
	}
}

// GoalsConsumer keeps goal effectiveness counters current on every
// outcome and, for events whose prediction was captured outside the
// tracker, feeds the raw error sample into pattern detection. Events
// carrying a PredictionID are sampled by the verify path instead, so
// the same miss is never counted twice.
func GoalsConsumer(d *goals.Discoverer) Consumer {
	return ConsumerFunc{
		ConsumerName: ConsumerGoals,
		Fn: func(event *models.OutcomeEvent) error {
			succeeded := event.Kind.Succeeded()
			d.ProcessOutcome(event.Strategy, succeeded)

			if event.PredictionBefore == nil || event.PredictionID != "" {
				return nil
			}

			actual := 0.0
			if succeeded {
				actual = 1.0
			}
			predicted := *event.PredictionBefore
			direction := models.DirectionUnder
			if predicted > actual {
				direction = models.DirectionOver
			}
			d.ProcessSample(event.Strategy, direction, math.Abs(predicted-actual), nil)
			return nil
		},
	}
}

// RetrievalConsumer forwards each retrieved node id to the feedback
// sink, marking it helpful only when the task fully succeeded.
func RetrievalConsumer(f retrieval.Feedback) Consumer {
	return ConsumerFunc{
		ConsumerName: ConsumerRetrieval,
		Fn: func(event *models.OutcomeEvent) error {
			if len(event.RetrievedIDs) == 0 {
				return nil
			}
			helpful := event.Kind.Succeeded()
			for _, id := range event.RetrievedIDs {
				f.RecordHit(event.QueryUsed, id, helpful)
			}
			return nil
		},
	}
}
