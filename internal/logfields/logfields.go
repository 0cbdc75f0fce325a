package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTaskID      = "task_id"
	KeyTaskIDs     = "task_ids"
	KeyGroup       = "group"
	KeyStatus      = "status"
	KeyCommand     = "command"
	KeyPath        = "path"
	KeyPriority    = "priority"
	KeyPID         = "pid"
	KeyExitCode    = "exit_code"
	KeyResult      = "result"
	KeyDurationMS  = "duration_ms"
	KeyRequestType = "request_type"
	KeyRequestID   = "request_id"
	KeyJobID       = "job_id"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func TaskID(id int) slog.Attr            { return slog.Int(KeyTaskID, id) }
func TaskIDs(ids []int) slog.Attr        { return slog.Any(KeyTaskIDs, ids) }
func Group(name string) slog.Attr        { return slog.String(KeyGroup, name) }
func Status(s string) slog.Attr          { return slog.String(KeyStatus, s) }
func Command(c string) slog.Attr         { return slog.String(KeyCommand, c) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func Priority(p int) slog.Attr           { return slog.Int(KeyPriority, p) }
func PID(pid int) slog.Attr              { return slog.Int(KeyPID, pid) }
func ExitCode(code int) slog.Attr        { return slog.Int(KeyExitCode, code) }
func Result(kind string) slog.Attr       { return slog.String(KeyResult, kind) }
func RequestType(t string) slog.Attr     { return slog.String(KeyRequestType, t) }
func RequestID(id string) slog.Attr      { return slog.String(KeyRequestID, id) }
func JobID(id string) slog.Attr          { return slog.String(KeyJobID, id) }
func Duration(d time.Duration) slog.Attr { return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
