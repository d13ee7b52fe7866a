// Package handlers implements the HTTP handlers for the Hindsight
// learning plane: outcome ingestion, the prediction before/verify pair,
// and the read-only introspection surface over all learning state.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/internal/audit"
	"github.com/hindsightlab/hindsight/learning-plane/internal/dispatch"
	"github.com/hindsightlab/hindsight/learning-plane/internal/executor"
	"github.com/hindsightlab/hindsight/learning-plane/internal/goals"
	"github.com/hindsightlab/hindsight/learning-plane/internal/prediction"
	"github.com/hindsightlab/hindsight/learning-plane/internal/progress"
	"github.com/hindsightlab/hindsight/learning-plane/internal/routing"
	"github.com/hindsightlab/hindsight/learning-plane/internal/store"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// Handlers holds all handler dependencies. Everything arrives through
// New; there is no global accessor.
type Handlers struct {
	Version    string
	Dispatcher *dispatch.Dispatcher
	Routing    *routing.Learner
	Prediction *prediction.Tracker
	Goals      *goals.Discoverer
	Progress   *progress.Tracker
	Audit      *audit.Log
	Executor   *executor.Executor
	State      *store.StateStore // may be nil when persistence is disabled
}

// ══════════════════════════════════════════════════════════════
// ── Outcome Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// DispatchOutcome ingests one completed-task outcome and fans it out to
// every learning consumer. Malformed events are rejected here; nothing
// downstream is invoked.
func (h *Handlers) DispatchOutcome(w http.ResponseWriter, r *http.Request) {
	var event models.OutcomeEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	consumers, err := h.Dispatcher.Dispatch(&event)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.requestSave()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":   event.TaskID,
		"kind":      event.Kind,
		"consumers": consumers,
	})
}

// RunTask executes a registered strategy handler under full tracking.
func (h *Handlers) RunTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID      string `json:"task_id"`
		Strategy    string `json:"strategy"`
		Description string `json:"description"`
		TimeoutMs   int64  `json:"timeout_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Strategy == "" {
		respondError(w, http.StatusBadRequest, "strategy is required")
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := h.Executor.Run(ctx, req.TaskID, req.Strategy, req.Description)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.requestSave()
	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Routing Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListRoutingAdjustments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Routing.Adjustments())
}

func (h *Handlers) GetRoutingBoost(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")
	adj, known := h.Routing.Get(strategy)

	resp := map[string]interface{}{
		"strategy": strategy,
		"boost":    h.Routing.Boost(strategy),
		"known":    known,
	}
	if known {
		resp["score"] = adj.Score
		resp["successes"] = adj.Successes
		resp["failures"] = adj.Failures
	}
	respondJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════
// ── Prediction Handlers ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// CreatePrediction captures a prediction before the caller runs its
// action. The returned id must come back through VerifyPrediction once
// the action has a real outcome.
func (h *Handlers) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action    string `json:"action"`
		Context   string `json:"context"`
		TimeoutMs int64  `json:"timeout_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}

	id, predicted, err := h.Prediction.PredictAndTrack(r.Context(), req.Action, req.Context, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"prediction_id": id,
		"predicted":     predicted,
	})
}

// VerifyPrediction checks a pending prediction against the actual
// outcome. An unknown or expired id is an absent signal, not an error:
// the response reports verified=false with status 200.
func (h *Handlers) VerifyPrediction(w http.ResponseWriter, r *http.Request) {
	predictionID := chi.URLParam(r, "predictionId")

	var req struct {
		ActualSuccess bool `json:"actual_success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	verified := h.Prediction.Verify(predictionID, req.ActualSuccess)
	if verified == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"prediction_id": predictionID,
			"verified":      false,
		})
		return
	}
	h.requestSave()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"prediction_id": predictionID,
		"verified":      true,
		"result":        verified,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Introspection Handlers ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListGoals(w http.ResponseWriter, r *http.Request) {
	goalList := h.Goals.ActiveGoals()
	if goalList == nil {
		goalList = []models.EmergentGoal{}
	}
	respondJSON(w, http.StatusOK, goalList)
}

func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Progress.Stats())
}

func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  h.Audit.Stats(),
		"recent": h.Audit.Recent(limit),
	})
}

// Health aggregates the read-only introspection surface. All fields
// are counters or small maps.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.Progress.Stats()
	stats.Snapshots = nil // counters only on the health surface

	respondJSON(w, http.StatusOK, models.HealthReport{
		Status:      "healthy",
		Service:     "hindsight-learning-plane",
		Version:     h.Version,
		Strategies:  h.Routing.Len(),
		Goals:       h.Goals.Stats(),
		Dispatch:    h.Dispatcher.Stats(),
		Progress:    stats,
		Audit:       h.Audit.Stats(),
		Predictions: h.Prediction.PendingCount(),
		GeneratedAt: time.Now().UTC(),
	})
}

// Reset cold-starts every stateful component. Intended for operators
// and test isolation.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	h.Routing.Reset()
	h.Prediction.Reset()
	h.Goals.Reset()
	h.Progress.Reset()
	h.Audit.Reset()
	h.Dispatcher.Reset()
	h.requestSave()

	log.Info().Msg("Learning state reset")
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handlers) requestSave() {
	if h.State != nil {
		h.State.RequestSave()
	}
}

// ── Respond Helpers ──────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
