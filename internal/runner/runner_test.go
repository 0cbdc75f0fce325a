//go:build unix

package runner

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

type exits struct {
	mu      sync.Mutex
	results map[int]task.Result
}

func (e *exits) record(id int, r task.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[id] = r
}

func (e *exits) get(id int) (task.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.results[id]
	return r, ok
}

func newTestRunner(t *testing.T) (*Runner, *exits) {
	t.Helper()
	ex := &exits{results: make(map[int]task.Result)}
	r := New(Options{Shell: "/bin/sh", LogDir: filepath.Join(t.TempDir(), "logs"), OnExit: ex.record})
	t.Cleanup(func() { _ = r.Shutdown(5 * time.Second) })
	return r, ex
}

func waitResult(t *testing.T, ex *exits, id int) task.Result {
	t.Helper()
	var result task.Result
	require.Eventually(t, func() bool {
		r, ok := ex.get(id)
		result = r
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	return result
}

func shellTask(id int, command, path string) *task.Task {
	return &task.Task{ID: id, Command: command, Path: path, Group: task.DefaultGroup}
}

func TestSpawn_Success(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(1, "echo hello; echo oops >&2", t.TempDir())))
	assert.Equal(t, task.Succeeded(), waitResult(t, ex, 1))

	out, truncated, err := r.ReadLog(1, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "oops")
}

func TestSpawn_ExitCode(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(2, "exit 3", t.TempDir())))
	assert.Equal(t, task.Failed(3), waitResult(t, ex, 2))
}

func TestSpawn_Environment(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(5, `echo "$SHQ_TASK_ID:$SHQ_GROUP"`, t.TempDir())))
	waitResult(t, ex, 5)

	out, _, err := r.ReadLog(5, 0)
	require.NoError(t, err)
	assert.Equal(t, "5:default\n", out)
}

func TestSpawn_MissingDirectory(t *testing.T) {
	r, _ := newTestRunner(t)
	err := r.Spawn(shellTask(3, "true", filepath.Join(t.TempDir(), "missing")))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySpawn))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	err = r.Spawn(shellTask(3, "true", file))
	assert.True(t, errors.HasCategory(err, errors.CategorySpawn))
	assert.Empty(t, r.Running())
}

func TestSpawn_MissingShell(t *testing.T) {
	ex := &exits{results: make(map[int]task.Result)}
	r := New(Options{Shell: "/nonexistent/shell", LogDir: t.TempDir(), OnExit: ex.record})
	err := r.Spawn(shellTask(4, "true", t.TempDir()))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySpawn))
}

func TestKill(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(6, "sleep 30", t.TempDir())))

	require.NoError(t, r.Kill(6))
	assert.Equal(t, task.Killed(), waitResult(t, ex, 6))
	assert.ErrorIs(t, r.Kill(6), state.ErrProcessGone)
}

func TestKill_Suspended(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(7, "sleep 30", t.TempDir())))

	require.NoError(t, r.Suspend(7))
	require.NoError(t, r.Kill(7))
	assert.Equal(t, task.Killed(), waitResult(t, ex, 7))
}

func TestSuspendResume(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(8, "sleep 0.3", t.TempDir())))

	require.NoError(t, r.Suspend(8))
	time.Sleep(500 * time.Millisecond)
	_, finished := ex.get(8)
	assert.False(t, finished, "suspended process must not finish")

	require.NoError(t, r.Resume(8))
	assert.Equal(t, task.Succeeded(), waitResult(t, ex, 8))
}

func TestSignaled(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(9, "kill -KILL $$", t.TempDir())))
	assert.Equal(t, task.Signaled("SIGKILL"), waitResult(t, ex, 9))
}

func TestReadLog_Truncated(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(10, "printf 'abcdefghij'", t.TempDir())))
	waitResult(t, ex, 10)

	out, truncated, err := r.ReadLog(10, 4)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "ghij", out)

	_, _, err = r.ReadLog(99, 0)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestTaskEvent_RemovesLog(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(11, "true", t.TempDir())))
	waitResult(t, ex, 11)
	require.FileExists(t, r.LogPath(11))

	r.TaskEvent(state.Event{Type: state.EventTaskRemoved, TaskID: 11})
	assert.NoFileExists(t, r.LogPath(11))
}

func tempOutputs(t *testing.T, r *Runner) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(r.logDir, "*.log.tmp"))
	require.NoError(t, err)
	return matches
}

func TestPrepare_SpawnUsesPreparedOutput(t *testing.T) {
	r, ex := newTestRunner(t)
	tk := shellTask(14, "echo prepared", t.TempDir())
	require.NoError(t, r.Prepare(tk))
	require.Len(t, tempOutputs(t, r), 1)
	assert.NoFileExists(t, r.LogPath(14))

	require.NoError(t, r.Spawn(tk))
	waitResult(t, ex, 14)
	assert.Empty(t, tempOutputs(t, r))

	out, _, err := r.ReadLog(14, 0)
	require.NoError(t, err)
	assert.Equal(t, "prepared\n", out)
	info, err := os.Stat(r.LogPath(14))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	r.Discard(14)
	assert.FileExists(t, r.LogPath(14), "discard after spawn leaves the log alone")
}

func TestPrepare_Discard(t *testing.T) {
	r, _ := newTestRunner(t)
	tk := shellTask(15, "true", t.TempDir())
	require.NoError(t, r.Prepare(tk))
	require.NoError(t, r.Prepare(tk))
	require.Len(t, tempOutputs(t, r), 1, "a second prepare replaces the first")

	r.Discard(15)
	assert.Empty(t, tempOutputs(t, r))
	_, _, err := r.ReadLog(15, 0)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestPrepare_MissingDirectory(t *testing.T) {
	r, _ := newTestRunner(t)
	err := r.Prepare(shellTask(16, "true", "/definitely/not/here"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySpawn))
	assert.NoDirExists(t, r.logDir)
}

func TestShutdown_KillsChildren(t *testing.T) {
	r, ex := newTestRunner(t)
	require.NoError(t, r.Spawn(shellTask(12, "sleep 30", t.TempDir())))
	require.NoError(t, r.Spawn(shellTask(13, "sleep 30", t.TempDir())))

	require.NoError(t, r.Shutdown(5*time.Second))
	for _, id := range []int{12, 13} {
		res, ok := ex.get(id)
		require.True(t, ok)
		assert.Equal(t, task.ResultKilled, res.Kind)
	}
	assert.Empty(t, r.Running())
}

func TestStoreIntegration(t *testing.T) {
	store := state.NewStore(task.NewState(), state.Options{})
	r := New(Options{LogDir: t.TempDir(), OnExit: store.Finish})
	store.SetProcessControl(r)
	t.Cleanup(func() { _ = r.Shutdown(5 * time.Second) })

	id, err := store.Add(state.AddRequest{Command: "exit 4", Path: t.TempDir()})
	require.NoError(t, err)
	started, err := store.Dispatch(id)
	require.NoError(t, err)
	require.True(t, started)

	require.Eventually(t, func() bool {
		tk, err := store.Task(id)
		return err == nil && tk.IsDone()
	}, 5*time.Second, 10*time.Millisecond)
	tk, err := store.Task(id)
	require.NoError(t, err)
	done := tk.Status.(task.Done)
	assert.Equal(t, task.Failed(4), done.Result)

	bad, err := store.Add(state.AddRequest{Command: "true", Path: "/definitely/not/here"})
	require.NoError(t, err)
	started, err = store.Dispatch(bad)
	require.NoError(t, err)
	assert.False(t, started)
	tk, err = store.Task(bad)
	require.NoError(t, err)
	done = tk.Status.(task.Done)
	assert.Equal(t, task.ResultErrored, done.Result.Kind)
	assert.True(t, strings.Contains(done.Result.Reason, "/definitely/not/here"))
	assert.Empty(t, tempOutputs(t, r))
}
