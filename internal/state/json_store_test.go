package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/task"
)

func TestJSONStore_LoadMissingFile(t *testing.T) {
	js, err := NewJSONStore(filepath.Join(t.TempDir(), "nested"))
	require.NoError(t, err)

	st, err := js.Load()
	require.NoError(t, err)
	assert.Equal(t, task.NewState(), st)
	assert.Nil(t, js.LastSaved())
}

func TestJSONStore_RoundTrip(t *testing.T) {
	js, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)}
	s, _ := newTestStore(t, Options{Persister: js, Now: clock.Now})
	require.NoError(t, s.SetParallel(task.DefaultGroup, 2))
	require.NoError(t, s.AddGroup("io", 1))

	label := "nightly"
	addTask(t, s, "a")
	_, err = s.Add(AddRequest{Command: "b", Path: "/var", Label: &label, Priority: 4, Group: "io", Dependencies: []int{0}})
	require.NoError(t, err)
	at := clock.now.Add(time.Hour)
	_, err = s.Add(AddRequest{Command: "c", Path: "/tmp", EnqueueAt: &at})
	require.NoError(t, err)
	addTask(t, s, "d")
	_, err = s.RequestEdit(3)
	require.NoError(t, err)
	_, err = s.Dispatch(0)
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Second)
	s.Finish(0, task.Failed(2))

	loaded, err := js.Load()
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), loaded)
	assert.NotNil(t, js.LastSaved())
}

func TestJSONStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJSONStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o600))

	_, err = js.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryPersistence))
}

func TestJSONStore_RejectsInconsistentState(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJSONStore(dir)
	require.NoError(t, err)
	doc := `{"tasks":{},"groups":{},"next_id":0}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte(doc), 0o600))

	_, err = js.Load()
	require.Error(t, err)
}
