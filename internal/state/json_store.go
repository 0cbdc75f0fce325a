package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/task"
)

const stateFileName = "state.json"

// JSONStore persists the task state as one JSON document in the state
// directory. Writes go through a temporary file and a rename.
type JSONStore struct {
	dataDir   string
	mu        sync.Mutex
	lastSaved *time.Time
}

// NewJSONStore creates the data directory if needed.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryPersistence, "failed to create state directory").
			WithContext("path", dataDir).
			Fatal().
			Build()
	}
	return &JSONStore{dataDir: dataDir}, nil
}

// Path returns the location of the state file.
func (js *JSONStore) Path() string {
	return filepath.Join(js.dataDir, stateFileName)
}

// LastSaved returns the time of the last successful save, or nil.
func (js *JSONStore) LastSaved() *time.Time {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.lastSaved == nil {
		return nil
	}
	t := *js.lastSaved
	return &t
}

// Load reads the persisted state. A missing file yields a fresh state.
func (js *JSONStore) Load() (*task.State, error) {
	js.mu.Lock()
	defer js.mu.Unlock()

	data, err := os.ReadFile(js.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return task.NewState(), nil
		}
		return nil, errors.WrapError(err, errors.CategoryPersistence, "failed to read state file").
			WithContext("path", js.Path()).
			Fatal().
			Build()
	}

	st := &task.State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errors.WrapError(err, errors.CategoryPersistence, "failed to decode state file").
			WithContext("path", js.Path()).
			Fatal().
			Build()
	}
	if err := st.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryPersistence, "state file is inconsistent").
			WithContext("path", js.Path()).
			Fatal().
			Build()
	}
	return st, nil
}

// Save writes st atomically.
func (js *JSONStore) Save(st *task.State) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.CategoryPersistence, "failed to encode state").Build()
	}

	statePath := js.Path()
	tempPath := statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryPersistence, fmt.Sprintf("failed to write %s", tempPath)).
			WithRetry(errors.RetryBackoff).
			Build()
	}
	if err := os.Rename(tempPath, statePath); err != nil {
		return errors.WrapError(err, errors.CategoryPersistence, "failed to replace state file").
			WithContext("path", statePath).
			WithRetry(errors.RetryBackoff).
			Build()
	}

	now := time.Now()
	js.lastSaved = &now
	return nil
}
