package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/client"
	"git.home.luguber.info/inful/shq/internal/config"
	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/protocol"
	"git.home.luguber.info/inful/shq/internal/task"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	stateDir := t.TempDir()
	socket := filepath.Join(socketDir(t), "shq.sock")
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
daemon:
  socket_path: %s
  state_dir: %s
  scheduler_interval: 50ms
groups:
  net:
    parallel: 2
`, socket, stateDir)))
	require.NoError(t, err)
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg, "", new(slog.LevelVar))
	require.NoError(t, err)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { stopDaemon(t, d) })
	return d
}

func stopDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func taskStatus(t *testing.T, c *client.Client, id int) task.Status {
	t.Helper()
	resp, err := c.Send(t.Context(), protocol.Status{})
	require.NoError(t, err)
	tk, ok := resp.(protocol.StatusResult).State.Tasks[id]
	if !ok {
		return nil
	}
	return tk.Status
}

func TestDaemon_RunsTasksEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	d := startDaemon(t, cfg)
	assert.Equal(t, StatusRunning, d.Status())

	c := client.New(cfg.Daemon.SocketPath)
	workDir := t.TempDir()
	resp, err := c.Send(t.Context(), protocol.Add{Command: "echo hello", Path: workDir, Group: "net"})
	require.NoError(t, err)
	id := resp.(protocol.AddResult).TaskID

	require.Eventually(t, func() bool {
		st := taskStatus(t, c, id)
		return st != nil && st.Kind() == task.KindDone
	}, 10*time.Second, 50*time.Millisecond)

	done := taskStatus(t, c, id).(task.Done)
	assert.Equal(t, task.ResultSuccess, done.Result.Kind)

	resp, err = c.Send(t.Context(), protocol.Log{TaskID: id})
	require.NoError(t, err)
	assert.Contains(t, resp.(protocol.LogResult).Output, "hello")

	var history []*eventstore.TaskHistory
	require.Eventually(t, func() bool {
		history, err = c.History(t.Context())
		return err == nil && len(history) == 1 && history[0].Result != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, history[0].Starts)
	assert.Equal(t, task.ResultSuccess, history[0].Result.Kind)

	resp, err = c.Send(t.Context(), protocol.Status{})
	require.NoError(t, err)
	groups := resp.(protocol.StatusResult).State.Groups
	require.Contains(t, groups, "net")
	assert.Equal(t, 2, groups["net"].ParallelLimit)
}

func TestDaemon_StatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(cfg, "", nil)
	require.NoError(t, err)
	require.NoError(t, first.Start(t.Context()))

	c := client.New(cfg.Daemon.SocketPath)
	resp, err := c.Send(t.Context(), protocol.Add{Command: "true", Path: "/", Stashed: true})
	require.NoError(t, err)
	id := resp.(protocol.AddResult).TaskID
	stopDaemon(t, first)

	_, err = os.Stat(first.StateFile())
	require.NoError(t, err)
	_, err = os.Stat(cfg.Daemon.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket must be removed on stop")

	startDaemon(t, cfg)
	st := taskStatus(t, c, id)
	require.NotNil(t, st)
	assert.Equal(t, task.KindStashed, st.Kind())
}

func TestDaemon_ShutdownRequest(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "", nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	c := client.New(cfg.Daemon.SocketPath)
	require.Eventually(t, func() bool {
		status, err := c.Health(t.Context())
		return err == nil && status == string(StatusRunning)
	}, 5*time.Second, 20*time.Millisecond)

	_, err = c.Send(t.Context(), protocol.Shutdown{})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after shutdown request")
	}
	assert.Equal(t, StatusStopped, d.Status())
}

func TestDaemon_StartTwiceFails(t *testing.T) {
	d := startDaemon(t, testConfig(t))
	require.Error(t, d.Start(t.Context()))
}

func TestDaemon_NilConfig(t *testing.T) {
	_, err := New(nil, "", nil)
	require.Error(t, err)
}
