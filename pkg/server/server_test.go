package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hindsightlab/hindsight/learning-plane/internal/config"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/server"
)

// fixedPredictor always returns the same confidence.
type fixedPredictor struct {
	score float64
}

func (p *fixedPredictor) Score(ctx context.Context, situation, action string) (float64, error) {
	return p.score, nil
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	cfg := config.Load()
	cfg.DataDir = ""
	cfg.Telemetry.Enabled = false

	srv, err := server.NewWithDeps(context.Background(), cfg, server.Deps{
		Predictor: &fixedPredictor{score: 0.9},
	})
	if err != nil {
		t.Fatalf("NewWithDeps() error = %v", err)
	}
	t.Cleanup(func() {
		if err := srv.ShutdownFunc(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// ─── End-to-End Learning Loop ────────────────────────────────

func TestRepeatedMisses_SpawnGoalAndShiftRouting(t *testing.T) {
	srv := newTestServer(t)

	// Six overconfident research failures: predicted 0.8, delivered 0.
	for i := 0; i < 6; i++ {
		rec := doJSON(t, srv.Handler, http.MethodPost, "/api/v1/outcomes", map[string]interface{}{
			"task_id":           fmt.Sprintf("task-%d", i),
			"kind":              "failure",
			"strategy":          "research",
			"prediction_before": 0.8,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("POST /outcomes #%d status = %d, body %s", i, rec.Code, rec.Body.String())
		}
	}

	// The overconfidence pattern crossed the threshold: a goal exists.
	rec := doJSON(t, srv.Handler, http.MethodGet, "/api/v1/goals", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /goals status = %d", rec.Code)
	}
	var goalList []models.EmergentGoal
	decode(t, rec, &goalList)
	if len(goalList) != 1 {
		t.Fatalf("active goals = %d, want 1", len(goalList))
	}
	goal := goalList[0]
	if goal.TriggerKey != "research:over" {
		t.Errorf("goal TriggerKey = %q, want research:over", goal.TriggerKey)
	}
	if goal.ActivationCount < 5 {
		t.Errorf("goal ActivationCount = %d, want >= 5", goal.ActivationCount)
	}

	// Routing drifted away from the failing strategy: six EMA steps
	// toward a zero success rate from the neutral 0.5.
	rec = doJSON(t, srv.Handler, http.MethodGet, "/api/v1/routing/research/boost", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /routing/research/boost status = %d", rec.Code)
	}
	var boost struct {
		Known     bool    `json:"known"`
		Score     float64 `json:"score"`
		Boost     float64 `json:"boost"`
		Failures  int64   `json:"failures"`
		Successes int64   `json:"successes"`
	}
	decode(t, rec, &boost)
	if !boost.Known {
		t.Fatal("routing entry for research not known after six outcomes")
	}
	wantScore := 0.5 * math.Pow(0.9, 6)
	if math.Abs(boost.Score-wantScore) > 1e-9 {
		t.Errorf("score = %v, want %v", boost.Score, wantScore)
	}
	if boost.Boost >= 0 {
		t.Errorf("boost = %v, want negative for a failing strategy", boost.Boost)
	}
	if boost.Failures != 6 || boost.Successes != 0 {
		t.Errorf("tallies = %d/%d, want 0 successes / 6 failures", boost.Successes, boost.Failures)
	}
}

// ─── Prediction Endpoints ────────────────────────────────────

func TestPredictionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler, http.MethodPost, "/api/v1/predictions", map[string]interface{}{
		"action":  "summarize",
		"context": "weekly digest",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /predictions status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		PredictionID string  `json:"prediction_id"`
		Predicted    float64 `json:"predicted"`
	}
	decode(t, rec, &created)
	if created.PredictionID == "" {
		t.Fatal("prediction_id is empty")
	}
	if created.Predicted != 0.9 {
		t.Errorf("predicted = %v, want 0.9", created.Predicted)
	}

	rec = doJSON(t, srv.Handler, http.MethodPost, "/api/v1/predictions/"+created.PredictionID+"/verify",
		map[string]interface{}{"actual_success": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /verify status = %d", rec.Code)
	}
	var verified struct {
		Verified bool                       `json:"verified"`
		Result   *models.VerifiedPrediction `json:"result"`
	}
	decode(t, rec, &verified)
	if !verified.Verified || verified.Result == nil {
		t.Fatalf("verify response = %+v, want verified with result", verified)
	}
	if math.Abs(verified.Result.Error-0.1) > 1e-9 {
		t.Errorf("prediction error = %v, want 0.1", verified.Result.Error)
	}

	// Replaying the same id finds nothing: single-use entries.
	rec = doJSON(t, srv.Handler, http.MethodPost, "/api/v1/predictions/"+created.PredictionID+"/verify",
		map[string]interface{}{"actual_success": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay /verify status = %d, want 200", rec.Code)
	}
	decode(t, rec, &verified)
	if verified.Verified {
		t.Error("replayed verify reported verified = true, want false")
	}
}

// ─── Boundary / Introspection ────────────────────────────────

func TestDispatchOutcome_RejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler, http.MethodPost, "/api/v1/outcomes", map[string]interface{}{
		"task_id":  "task-1",
		"kind":     "exploded",
		"strategy": "research",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /outcomes with unknown kind status = %d, want 400", rec.Code)
	}
}

func TestHealthSurface(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler, http.MethodPost, "/api/v1/outcomes", map[string]interface{}{
		"task_id": "task-1", "kind": "success", "strategy": "research",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /outcomes status = %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d", rec.Code)
	}
	var report models.HealthReport
	decode(t, rec, &report)
	if report.Status != "healthy" {
		t.Errorf("status = %q, want healthy", report.Status)
	}
	if report.Dispatch.TotalDispatched != 1 {
		t.Errorf("TotalDispatched = %d, want 1", report.Dispatch.TotalDispatched)
	}
	if report.Progress.TotalRecorded != 1 {
		t.Errorf("Progress.TotalRecorded = %d, want 1", report.Progress.TotalRecorded)
	}
}

func TestReset_ColdStartsComponents(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 3; i++ {
		doJSON(t, srv.Handler, http.MethodPost, "/api/v1/outcomes", map[string]interface{}{
			"task_id": fmt.Sprintf("task-%d", i), "kind": "success", "strategy": "research",
		})
	}

	rec := doJSON(t, srv.Handler, http.MethodPost, "/api/v1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /reset status = %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler, http.MethodGet, "/api/v1/routing", nil)
	var adjustments []models.RoutingAdjustment
	decode(t, rec, &adjustments)
	if len(adjustments) != 0 {
		t.Errorf("routing adjustments after reset = %d, want 0", len(adjustments))
	}
}
