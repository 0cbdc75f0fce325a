package daemon

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/metrics"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

type finishRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	finished map[string]int
	runtimes []time.Duration
}

func (r *finishRecorder) IncTaskFinished(group, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[string]int{}
	}
	r.finished[group+"/"+result]++
}

func (r *finishRecorder) ObserveTaskRuntime(_ string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes = append(r.runtimes, d)
}

func TestEventEmitter_RecordsAndProjects(t *testing.T) {
	store, err := eventstore.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	projection := eventstore.NewTaskHistoryProjection(store, 10)
	recorder := &finishRecorder{}
	emitter := NewEventEmitter(store, projection, recorder)

	now := time.Now().UTC()
	result := task.Failed(2)
	emitter.TaskEvent(state.Event{Type: state.EventTaskAdded, TaskID: 1, Group: "default", Status: task.KindQueued, Command: "make", Time: now})
	emitter.TaskEvent(state.Event{Type: state.EventTaskStarted, TaskID: 1, Group: "default", Status: task.KindRunning, Time: now.Add(time.Second)})
	emitter.TaskEvent(state.Event{
		Type:    state.EventTaskFinished,
		TaskID:  1,
		Group:   "default",
		Status:  task.KindDone,
		Result:  &result,
		Runtime: 3 * time.Second,
		Time:    now.Add(4 * time.Second),
	})

	events, err := store.GetByTaskID(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, string(state.EventTaskFinished), events[2].Type())

	history, ok := projection.GetTask(1)
	require.True(t, ok)
	assert.Equal(t, "make", history.Command)
	assert.Equal(t, 1, history.Starts)
	require.NotNil(t, history.Result)
	assert.Equal(t, task.ResultFailed, history.Result.Kind)
	assert.Equal(t, 3*time.Second, history.Runtime)

	assert.Equal(t, 1, recorder.finished["default/"+string(task.ResultFailed)])
	assert.Equal(t, []time.Duration{3 * time.Second}, recorder.runtimes)

	rebuilt := eventstore.NewTaskHistoryProjection(store, 10)
	require.NoError(t, rebuilt.Rebuild(t.Context()))
	again, ok := rebuilt.GetTask(1)
	require.True(t, ok)
	assert.Equal(t, history.Starts, again.Starts)
	assert.Equal(t, history.Status, again.Status)
}

func TestEventEmitter_MetricsOnly(t *testing.T) {
	recorder := &finishRecorder{}
	emitter := NewEventEmitter(nil, nil, recorder)

	result := task.Succeeded()
	emitter.TaskEvent(state.Event{Type: state.EventTaskFinished, TaskID: 4, Group: "net", Result: &result})

	assert.Equal(t, 1, recorder.finished["net/"+string(task.ResultSuccess)])
	assert.Empty(t, recorder.runtimes)
}
