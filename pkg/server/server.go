// Package server provides the public entry point for initializing the
// Hindsight learning plane.
//
// Everything is wired here, explicitly: the dispatcher and its
// consumers, the prediction tracker and its error sink, the executor,
// the HTTP surface. Collaborators that live outside the learning core
// (the predictor, the retrieval feedback sink) arrive through Deps so
// an embedding agent can substitute its own.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8090", srv.Handler)
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/internal/api"
	"github.com/hindsightlab/hindsight/learning-plane/internal/api/handlers"
	"github.com/hindsightlab/hindsight/learning-plane/internal/audit"
	"github.com/hindsightlab/hindsight/learning-plane/internal/config"
	"github.com/hindsightlab/hindsight/learning-plane/internal/dispatch"
	"github.com/hindsightlab/hindsight/learning-plane/internal/executor"
	"github.com/hindsightlab/hindsight/learning-plane/internal/goals"
	"github.com/hindsightlab/hindsight/learning-plane/internal/prediction"
	"github.com/hindsightlab/hindsight/learning-plane/internal/progress"
	"github.com/hindsightlab/hindsight/learning-plane/internal/retrieval"
	"github.com/hindsightlab/hindsight/learning-plane/internal/routing"
	"github.com/hindsightlab/hindsight/learning-plane/internal/store"
	"github.com/hindsightlab/hindsight/learning-plane/internal/telemetry"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// Deps are the external collaborators the learning core depends on.
// Zero-value fields get working defaults: a score-table predictor and
// a logging no-op retrieval sink.
type Deps struct {
	Predictor prediction.Predictor
	Retrieval retrieval.Feedback
}

// Server holds the initialized learning plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Port is the port the server should listen on.
	Port int

	// Core components, exposed for embedding and tests.
	Dispatcher *dispatch.Dispatcher
	Routing    *routing.Learner
	Prediction *prediction.Tracker
	Goals      *goals.Discoverer
	Progress   *progress.Tracker
	Audit      *audit.Log
	Executor   *executor.Executor
	State      *store.StateStore

	// ShutdownFunc should be called on graceful shutdown: it flushes
	// the state snapshot, stops background loops, and shuts telemetry.
	ShutdownFunc func(context.Context) error

	cancelLoops context.CancelFunc
}

// New initializes the learning plane from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the learning plane with explicit
// configuration and default collaborators.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	return NewWithDeps(ctx, cfg, Deps{})
}

// NewWithDeps initializes the learning plane with explicit
// configuration and collaborators.
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	// Learning components, leaves first.
	auditLog := audit.NewLog(cfg.Audit.MaxEvents)
	progressTracker := progress.NewTracker(cfg.Progress.WindowSize, cfg.Progress.SnapshotInterval, cfg.Progress.MaxSnapshots)
	learner := routing.NewLearner(cfg.Learning.Rate, cfg.Learning.Dampening)
	discoverer := goals.NewDiscoverer(goals.Options{
		ErrorThreshold:   cfg.Goals.ErrorThreshold,
		PatternThreshold: cfg.Goals.PatternThreshold,
		TimeWindow:       cfg.Goals.TimeWindow,
		MaxGoals:         cfg.Goals.MaxGoals,
		HistorySize:      cfg.Goals.HistorySize,
	})

	predictor := deps.Predictor
	if predictor == nil {
		predictor = &scorePredictor{learner: learner}
	}
	feedback := deps.Retrieval
	if feedback == nil {
		feedback = retrieval.NewNopFeedback()
	}

	// High-error verified predictions feed goal discovery immediately.
	tracker := prediction.NewTracker(predictor, discoverer, cfg.Prediction.ErrorThreshold, cfg.Prediction.DefaultTimeout)

	dispatcher := dispatch.NewDispatcher(
		dispatch.AuditConsumer(auditLog),
		dispatch.ProgressConsumer(progressTracker),
		dispatch.RoutingConsumer(learner),
		dispatch.PredictionConsumer(tracker),
		dispatch.GoalsConsumer(discoverer),
		dispatch.RetrievalConsumer(feedback),
	)

	exec := executor.NewExecutor(dispatcher, tracker, cfg.Prediction.DefaultTimeout)

	// Persistence: components export copies; they keep ownership.
	state := store.NewStateStore(cfg.DataDir, &stateSource{
		routing:  learner,
		goals:    discoverer,
		progress: progressTracker,
	})

	h := &handlers.Handlers{
		Version:    cfg.Version,
		Dispatcher: dispatcher,
		Routing:    learner,
		Prediction: tracker,
		Goals:      discoverer,
		Progress:   progressTracker,
		Audit:      auditLog,
		Executor:   exec,
		State:      state,
	}
	router := api.NewRouter(cfg, h)

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	go tracker.SweepLoop(loopCtx, cfg.Prediction.SweepInterval)

	log.Info().
		Int("consumers", len(dispatcher.Consumers())).
		Msg("Learning plane initialized")

	srv := &Server{
		Handler:     router,
		Port:        cfg.Port,
		Dispatcher:  dispatcher,
		Routing:     learner,
		Prediction:  tracker,
		Goals:       discoverer,
		Progress:    progressTracker,
		Audit:       auditLog,
		Executor:    exec,
		State:       state,
		cancelLoops: cancelLoops,
	}
	srv.ShutdownFunc = func(ctx context.Context) error {
		cancelLoops()
		state.Close()
		return shutdownTelemetry(ctx)
	}
	return srv, nil
}

// ── Default collaborators ────────────────────────────────────

// scorePredictor is the default predictor: it forecasts success from
// the learner's own score table, falling back to 0.5 for strategies it
// has never seen. Its answers shift as outcomes are absorbed, which is
// exactly why predictions are captured before the action runs.
type scorePredictor struct {
	learner *routing.Learner
}

func (p *scorePredictor) Score(ctx context.Context, situation, action string) (float64, error) {
	if adj, ok := p.learner.Get(action); ok {
		return adj.Score, nil
	}
	return 0.5, nil
}

// stateSource bridges the persistence store to the owning components.
type stateSource struct {
	routing  *routing.Learner
	goals    *goals.Discoverer
	progress *progress.Tracker
}

func (s *stateSource) ExportState() *models.LearningState {
	return &models.LearningState{
		Routing:   s.routing.Export(),
		Goals:     s.goals.Export(),
		Snapshots: s.progress.Export(),
		SavedAt:   time.Now().UTC(),
	}
}

func (s *stateSource) RestoreState(state *models.LearningState) {
	s.routing.Restore(state.Routing)
	s.goals.Restore(state.Goals)
	s.progress.Restore(state.Snapshots)
}
