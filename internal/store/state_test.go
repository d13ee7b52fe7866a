package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hindsightlab/hindsight/learning-plane/internal/store"
	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// memorySource backs the store with an in-memory state for tests.
type memorySource struct {
	state    models.LearningState
	restored *models.LearningState
}

func (m *memorySource) ExportState() *models.LearningState {
	out := m.state
	return &out
}

func (m *memorySource) RestoreState(state *models.LearningState) {
	m.restored = state
}

func sampleState() models.LearningState {
	return models.LearningState{
		Routing: []models.RoutingAdjustment{
			{Strategy: "research", Score: 0.72, Successes: 9, Failures: 2},
		},
		Goals: []models.EmergentGoal{
			{ID: "g-1", TriggerKey: "research:over", ActivationCount: 5},
		},
		Snapshots: []models.ProgressSnapshot{
			{SuccessRate: 0.8, TotalAttempts: 10},
		},
	}
}

func TestStateStore_RoundTripAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	src := &memorySource{state: sampleState()}
	st := store.NewStateStore(dir, src)
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "learning_state.json")); err != nil {
		t.Fatalf("snapshot file missing after Close: %v", err)
	}

	// Second boot against the same dir restores into its source.
	src2 := &memorySource{}
	st2 := store.NewStateStore(dir, src2)
	defer st2.Close()

	if src2.restored == nil {
		t.Fatal("RestoreState was not called on second boot")
	}
	got := src2.restored
	if len(got.Routing) != 1 || got.Routing[0].Strategy != "research" || got.Routing[0].Score != 0.72 {
		t.Errorf("restored routing = %+v, want research score 0.72", got.Routing)
	}
	if len(got.Goals) != 1 || got.Goals[0].TriggerKey != "research:over" {
		t.Errorf("restored goals = %+v, want research:over", got.Goals)
	}
	if len(got.Snapshots) != 1 || got.Snapshots[0].TotalAttempts != 10 {
		t.Errorf("restored snapshots = %+v, want TotalAttempts 10", got.Snapshots)
	}
	if got.SavedAt.IsZero() {
		t.Error("restored SavedAt is zero, want stamped on save")
	}
}

func TestStateStore_EmptyDirDisablesPersistence(t *testing.T) {
	src := &memorySource{state: sampleState()}
	st := store.NewStateStore("", src)

	// Must be inert: no file writes, no goroutine waiting on Close.
	st.RequestSave()
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestStateStore_FreshDirStartsEmpty(t *testing.T) {
	src := &memorySource{}
	st := store.NewStateStore(t.TempDir(), src)
	defer st.Close()

	if src.restored != nil {
		t.Errorf("RestoreState called with no snapshot on disk: %+v", src.restored)
	}
}

func TestStateStore_CorruptSnapshotStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learning_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("seed corrupt snapshot: %v", err)
	}

	src := &memorySource{}
	st := store.NewStateStore(dir, src)
	defer st.Close()

	if src.restored != nil {
		t.Errorf("RestoreState called with corrupt snapshot: %+v", src.restored)
	}
}
