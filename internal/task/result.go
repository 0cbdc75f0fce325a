package task

import "fmt"

// ResultKind classifies how a task finished.
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultFailed   ResultKind = "failed"
	ResultSignaled ResultKind = "signaled"
	ResultKilled   ResultKind = "killed"
	ResultErrored  ResultKind = "errored"
)

// Result is the outcome recorded in a Done status.
type Result struct {
	Kind     ResultKind `json:"kind"`
	ExitCode int        `json:"exit_code,omitempty"`
	Signal   string     `json:"signal,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Success reports whether the task exited with code 0.
func (r Result) Success() bool { return r.Kind == ResultSuccess }

func (r Result) String() string {
	switch r.Kind {
	case ResultFailed:
		return fmt.Sprintf("failed (exit code %d)", r.ExitCode)
	case ResultSignaled:
		return fmt.Sprintf("signaled (%s)", r.Signal)
	case ResultErrored:
		return fmt.Sprintf("errored: %s", r.Reason)
	default:
		return string(r.Kind)
	}
}

func Succeeded() Result            { return Result{Kind: ResultSuccess} }
func Failed(code int) Result       { return Result{Kind: ResultFailed, ExitCode: code} }
func Signaled(sig string) Result   { return Result{Kind: ResultSignaled, Signal: sig} }
func Killed() Result               { return Result{Kind: ResultKilled} }
func Errored(reason string) Result { return Result{Kind: ResultErrored, Reason: reason} }
