// Package store persists learned state across restarts.
//
// Learning components keep exclusive ownership of their in-memory
// state; this store only moves their exported copies to and from a JSON
// snapshot file. Saves are debounced in a background goroutine so hot
// dispatch paths never wait on disk.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// saveDebounce coalesces rapid save requests into one disk flush.
const saveDebounce = 500 * time.Millisecond

// Source exports and restores the learning state on behalf of the
// owning components. Implemented by the server composition root.
type Source interface {
	ExportState() *models.LearningState
	RestoreState(state *models.LearningState)
}

// StateStore snapshots learning state to a JSON file in dataDir.
// An empty dataDir disables persistence entirely.
type StateStore struct {
	source       Source
	snapshotPath string // empty = no persistence

	saveMu sync.Mutex    // guards file writes
	saveCh chan struct{} // debounce channel
	doneCh chan struct{} // signals the save goroutine to stop
	once   sync.Once
}

// NewStateStore creates the store, loads any existing snapshot into the
// source, and starts the debounced save goroutine.
func NewStateStore(dataDir string, source Source) *StateStore {
	s := &StateStore{
		source: source,
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			s.snapshotPath = filepath.Join(dataDir, "learning_state.json")
		}
	}

	if s.snapshotPath != "" {
		s.load()
		go s.saveLoop()
	}

	log.Info().Str("snapshot", s.snapshotPath).Msg("Learning state store configured")
	return s
}

// RequestSave signals the background goroutine to persist state.
// Non-blocking: rapid requests coalesce into one write.
func (s *StateStore) RequestSave() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// Close flushes a final snapshot and stops the save goroutine.
func (s *StateStore) Close() error {
	s.once.Do(func() { close(s.doneCh) })
	if s.snapshotPath != "" {
		s.save()
	}
	return nil
}

func (s *StateStore) saveLoop() {
	for {
		select {
		case <-s.doneCh:
			return
		case <-s.saveCh:
			time.Sleep(saveDebounce)
			s.save()
		}
	}
}

// save persists the exported state, writing to a temp file then
// renaming for atomicity.
func (s *StateStore) save() {
	state := s.source.ExportState()
	state.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal learning state")
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write state tmp")
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", s.snapshotPath).Msg("Failed to rename state snapshot")
		return
	}

	log.Debug().Str("path", s.snapshotPath).Msg("Learning state saved")
}

// load reads the snapshot from disk on startup.
func (s *StateStore) load() {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", s.snapshotPath).Msg("No state snapshot found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", s.snapshotPath).Msg("Failed to read state snapshot")
		return
	}

	var state models.LearningState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Error().Err(err).Str("path", s.snapshotPath).Msg("Failed to parse state snapshot, starting fresh")
		return
	}

	s.source.RestoreState(&state)
	log.Info().
		Int("strategies", len(state.Routing)).
		Int("goals", len(state.Goals)).
		Int("snapshots", len(state.Snapshots)).
		Time("saved_at", state.SavedAt).
		Msg("Learning state restored")
}
