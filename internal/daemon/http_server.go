package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/metrics"
	"git.home.luguber.info/inful/shq/internal/protocol"
)

const maxMessageBytes = 4 << 20

// HTTPServer serves the protocol over a unix domain socket.
type HTTPServer struct {
	socketPath   string
	secret       string
	dispatcher   *Dispatcher
	history      *eventstore.TaskHistoryProjection
	recorder     metrics.Recorder
	status       func() Status
	errorAdapter *errors.HTTPErrorAdapter
	server       *http.Server
	listener     net.Listener
}

// HTTPServerOptions configures an HTTPServer.
type HTTPServerOptions struct {
	SocketPath string
	Secret     string
	Dispatcher *Dispatcher
	// History is optional; without it the history endpoint answers 404.
	History  *eventstore.TaskHistoryProjection
	Recorder metrics.Recorder
	Status   func() Status
}

func NewHTTPServer(opts HTTPServerOptions) *HTTPServer {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Status == nil {
		opts.Status = func() Status { return StatusRunning }
	}
	s := &HTTPServer{
		socketPath:   opts.SocketPath,
		secret:       opts.Secret,
		dispatcher:   opts.Dispatcher,
		history:      opts.History,
		recorder:     opts.Recorder,
		status:       opts.Status,
		errorAdapter: errors.NewHTTPErrorAdapter(slog.Default()),
	}
	s.server = &http.Server{
		Handler:           LoggingMiddleware(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+protocol.MessagePath, s.handleMessage)
	mux.HandleFunc("GET "+protocol.HistoryPath, s.handleHistory)
	mux.HandleFunc("GET "+protocol.HealthPath, s.handleHealth)
	return mux
}

// Start binds the socket and serves in the background. A stale socket file
// left by a crashed daemon is replaced; a live one is an error.
func (s *HTTPServer) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to create socket directory").
			WithContext("path", s.socketPath).
			Build()
	}
	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to listen on socket").
			WithContext("path", s.socketPath).
			Build()
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		return errors.WrapError(err, errors.CategoryDaemon, "failed to restrict socket permissions").Build()
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("Socket server failed", logfields.Error(err))
		}
	}()
	slog.Info("Listening for clients", "socket", s.socketPath)
	return nil
}

// Stop closes the listener and waits for in-flight requests, bounded by ctx.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		slog.Warn("Failed to remove socket", "socket", s.socketPath, logfields.Error(rmErr))
	}
	if err != nil {
		return fmt.Errorf("socket server shutdown: %w", err)
	}
	return nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		_ = conn.Close()
		return errors.DaemonError("another daemon is already listening").
			WithContext("path", path).
			Build()
	}
	if err := os.Remove(path); err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to remove stale socket").Build()
	}
	slog.Warn("Removed stale socket", "socket", path)
	return nil
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	got := r.Header.Get(protocol.SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		err := errors.AuthError("missing or invalid secret").Build()
		s.writeEnvelope(w, r, s.errorAdapter.StatusCodeFor(err), protocol.FailureFrom(err))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		err = errors.WrapError(err, errors.CategoryProtocol, "failed to read request body").Build()
		s.writeEnvelope(w, r, http.StatusBadRequest, protocol.FailureFrom(err))
		return
	}

	req, err := protocol.DecodeRequest(body)
	if err != nil {
		s.recorder.IncRequest("unknown", metrics.OutcomeDecodeError)
		slog.WarnContext(r.Context(), "Rejected undecodable request",
			logfields.RequestID(RequestIDFrom(r.Context())),
			logfields.Error(err))
		s.writeEnvelope(w, r, http.StatusBadRequest, protocol.FailureFrom(err))
		return
	}

	resp, err := s.dispatcher.Handle(r.Context(), req)
	s.writeEnvelope(w, r, s.errorAdapter.StatusCodeFor(err), resp)
}

func (s *HTTPServer) writeEnvelope(w http.ResponseWriter, r *http.Request, status int, resp protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.errorAdapter.WriteErrorResponse(w, r, errors.AuthError("missing or invalid secret").Build())
		return
	}
	if s.history == nil {
		s.errorAdapter.WriteErrorResponse(w, r, errors.NotFound("task history is disabled").Build())
		return
	}
	writeJSON(w, http.StatusOK, s.history.GetHistory())
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.status()
	code := http.StatusOK
	if status != StatusRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", logfields.Error(err))
	}
}
