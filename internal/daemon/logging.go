package daemon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shq/internal/config"
	"git.home.luguber.info/inful/shq/internal/logfields"
)

// NewLogger builds the daemon logger. The level is read from level on every
// record so the config watcher can change it at runtime.
func NewLogger(w io.Writer, cfg config.LoggingConfig, level *slog.LevelVar) *slog.Logger {
	level.Set(cfg.Level.SlogLevel())
	opts := &slog.HandlerOptions{Level: level}
	if config.NormalizeLogFormat(string(cfg.Format)) == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type requestIDKey struct{}

// RequestIDFrom returns the request id stored by the logging middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// logResponseWriter wraps http.ResponseWriter to capture status code and size for logging
type logResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *logResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *logResponseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// LoggingMiddleware tags every request with a request id and logs its completion.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.NewString()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

		rw := &logResponseWriter{ResponseWriter: w, status: http.StatusOK}
		rw.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(rw, r)

		logLevel := slog.LevelDebug
		if rw.status >= 400 {
			logLevel = slog.LevelWarn
		}
		if rw.status >= 500 {
			logLevel = slog.LevelError
		}
		slog.LogAttrs(r.Context(), logLevel, "Request completed",
			logfields.RequestID(requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Int("response_size", rw.size),
			logfields.Duration(time.Since(start)))
	})
}
