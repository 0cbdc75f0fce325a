package metrics

import "time"

// OutcomeLabel enumerates protocol request outcomes for counters.
type OutcomeLabel string

const (
	OutcomeSuccess     OutcomeLabel = "success"
	OutcomeFailure     OutcomeLabel = "failure"
	OutcomeDecodeError OutcomeLabel = "decode_error"
)

// Recorder defines observability hooks for the queue. Implementations may
// forward to Prometheus or any other backend.
type Recorder interface {
	// IncDispatch counts a task handed to the process runner.
	IncDispatch(group string)
	// IncTaskFinished counts a task reaching Done, by result kind.
	IncTaskFinished(group, result string)
	ObserveTaskRuntime(group string, d time.Duration)
	IncRequest(requestType string, outcome OutcomeLabel)
	ObserveRequestDuration(requestType string, d time.Duration)
	// SetTasksByStatus publishes the current number of tasks per status.
	SetTasksByStatus(counts map[string]int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncDispatch(string)                           {}
func (NoopRecorder) IncTaskFinished(string, string)               {}
func (NoopRecorder) ObserveTaskRuntime(string, time.Duration)     {}
func (NoopRecorder) IncRequest(string, OutcomeLabel)              {}
func (NoopRecorder) ObserveRequestDuration(string, time.Duration) {}
func (NoopRecorder) SetTasksByStatus(map[string]int)              {}
