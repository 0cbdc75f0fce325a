package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/client"
	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/protocol"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// socketDir returns a short directory; unix socket paths are length limited.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "shq")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startTestServer(t *testing.T, opts HTTPServerOptions) (*HTTPServer, *state.Store) {
	t.Helper()
	store := state.NewStore(nil, state.Options{})
	if opts.SocketPath == "" {
		opts.SocketPath = filepath.Join(socketDir(t), "shq.sock")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = NewDispatcher(store, nil, nil, nil)
	}
	srv := NewHTTPServer(opts)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, store
}

func rawClient(socketPath string) *http.Client {
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}}
}

func TestHTTPServer_StatusRoundTrip(t *testing.T) {
	srv, store := startTestServer(t, HTTPServerOptions{})
	_, err := store.Add(state.AddRequest{Command: "echo hi", Path: "/tmp"})
	require.NoError(t, err)

	c := client.New(srv.socketPath)
	resp, err := c.Send(t.Context(), protocol.Status{})
	require.NoError(t, err)

	status, ok := resp.(protocol.StatusResult)
	require.True(t, ok)
	require.Len(t, status.State.Tasks, 1)
	assert.Equal(t, "echo hi", status.State.Tasks[0].Command)
	assert.Equal(t, task.KindQueued, status.State.Tasks[0].Status.Kind())
}

func TestHTTPServer_SocketPermissions(t *testing.T) {
	srv, _ := startTestServer(t, HTTPServerOptions{})

	info, err := os.Stat(srv.socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestHTTPServer_RejectionIsFailureEnvelope(t *testing.T) {
	srv, _ := startTestServer(t, HTTPServerOptions{})

	c := client.New(srv.socketPath)
	_, err := c.Send(t.Context(), protocol.Remove{Selection: task.InGroup("missing")})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestHTTPServer_DecodeError(t *testing.T) {
	srv, _ := startTestServer(t, HTTPServerOptions{})

	hc := rawClient(srv.socketPath)
	resp, err := hc.Post("http://shq"+protocol.MessagePath, "application/json", bytes.NewBufferString(`{"type":"bogus"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded, err := protocol.DecodeResponse(body)
	require.NoError(t, err)
	failure, ok := decoded.(protocol.Failure)
	require.True(t, ok)
	assert.Equal(t, string(errors.CategoryProtocol), failure.Code)
}

func TestHTTPServer_Secret(t *testing.T) {
	srv, _ := startTestServer(t, HTTPServerOptions{Secret: "s3cret"})

	_, err := client.New(srv.socketPath).Send(t.Context(), protocol.Status{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))

	_, err = client.New(srv.socketPath, client.WithSecret("wrong")).Send(t.Context(), protocol.Status{})
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))

	_, err = client.New(srv.socketPath, client.WithSecret("s3cret")).Send(t.Context(), protocol.Status{})
	assert.NoError(t, err)
}

func TestHTTPServer_Health(t *testing.T) {
	var status atomic.Value
	status.Store(StatusRunning)
	srv, _ := startTestServer(t, HTTPServerOptions{Status: func() Status { return status.Load().(Status) }})
	c := client.New(srv.socketPath)

	got, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "running", got)

	status.Store(StatusStopping)
	resp, err := rawClient(srv.socketPath).Get("http://shq" + protocol.HealthPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "stopping", body["status"])
}

func TestHTTPServer_History(t *testing.T) {
	projection := eventstore.NewTaskHistoryProjection(nil, 10)
	srv, store := startTestServer(t, HTTPServerOptions{History: projection})
	store.Subscribe(NewEventEmitter(nil, projection, nil))

	id, err := store.Add(state.AddRequest{Command: "make", Path: "/src"})
	require.NoError(t, err)

	history, err := client.New(srv.socketPath).History(t.Context())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].TaskID)
	assert.Equal(t, "make", history[0].Command)
}

func TestHTTPServer_HistoryDisabled(t *testing.T) {
	srv, _ := startTestServer(t, HTTPServerOptions{})

	_, err := client.New(srv.socketPath).History(t.Context())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestHTTPServer_StaleSocketReplaced(t *testing.T) {
	path := filepath.Join(socketDir(t), "shq.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv, _ := startTestServer(t, HTTPServerOptions{SocketPath: path})
	_, err := client.New(srv.socketPath).Send(t.Context(), protocol.Status{})
	assert.NoError(t, err)
}

func TestHTTPServer_LiveSocketRefused(t *testing.T) {
	first, _ := startTestServer(t, HTTPServerOptions{})

	second := NewHTTPServer(HTTPServerOptions{
		SocketPath: first.socketPath,
		Dispatcher: NewDispatcher(state.NewStore(nil, state.Options{}), nil, nil, nil),
	})
	err := second.Start()
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryDaemon))
}

func TestHTTPServer_StopRemovesSocket(t *testing.T) {
	srv, _ := startTestServer(t, HTTPServerOptions{})
	require.NoError(t, srv.Stop(t.Context()))

	_, err := os.Stat(srv.socketPath)
	assert.True(t, os.IsNotExist(err))
}
