package client

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/protocol"
)

// serveSocket runs handler on a fresh unix socket and returns its path.
func serveSocket(t *testing.T, handler http.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "shq")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return path
}

func writeResponse(t *testing.T, w http.ResponseWriter, status int, resp protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func TestSend_Success(t *testing.T) {
	var gotSecret string
	var gotType string
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+protocol.MessagePath, func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(protocol.SecretHeader)
		body, _ := io.ReadAll(r.Body)
		req, err := protocol.DecodeRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotType = string(req.RequestType())
		writeResponse(t, w, http.StatusOK, protocol.AddResult{TaskID: 7})
	})
	c := New(serveSocket(t, mux), WithSecret("hunter2"))

	resp, err := c.Send(t.Context(), protocol.Add{Command: "ls", Path: "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, protocol.AddResult{TaskID: 7}, resp)
	assert.Equal(t, "hunter2", gotSecret)
	assert.Equal(t, string(protocol.TypeAdd), gotType)
}

func TestSend_FailureBecomesClassifiedError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+protocol.MessagePath, func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(t, w, http.StatusConflict, protocol.Failure{
			Code:    string(errors.CategoryAlreadyLocked),
			Message: "task 3 is already being edited",
			Details: map[string]any{"task_id": 3},
		})
	})
	c := New(serveSocket(t, mux))

	resp, err := c.Send(t.Context(), protocol.EditRequest{TaskID: 3})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.HasCategory(err, errors.CategoryAlreadyLocked))

	classified, ok := errors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, "task 3 is already being edited", classified.Message())
	id, ok := classified.Context().Get("task_id")
	require.True(t, ok)
	assert.InDelta(t, 3, id, 0)
}

func TestSend_DaemonNotRunning(t *testing.T) {
	dir, err := os.MkdirTemp("", "shq")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	c := New(filepath.Join(dir, "missing.sock"))
	_, err = c.Send(t.Context(), protocol.Status{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryDaemon))
	classified, _ := errors.AsClassified(err)
	assert.Equal(t, "daemon is not running", classified.Message())
}

func TestHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.HistoryPath, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"task_id": 2, "group": "default", "command": "make", "status": "Done", "starts": 1},
		})
	})
	c := New(serveSocket(t, mux))

	history, err := c.History(t.Context())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].TaskID)
	assert.Equal(t, "make", history[0].Command)
	assert.Equal(t, 1, history[0].Starts)
}

func TestHistory_ErrorPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.HistoryPath, func(w http.ResponseWriter, r *http.Request) {
		errors.NewHTTPErrorAdapter(nil).WriteErrorResponse(w, r, errors.NotFound("task history is disabled").Build())
	})
	c := New(serveSocket(t, mux))

	_, err := c.History(t.Context())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})
	c := New(serveSocket(t, mux))

	status, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "running", status)
}
