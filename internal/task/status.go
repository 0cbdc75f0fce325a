package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusKind names a task state.
type StatusKind string

const (
	KindStashed StatusKind = "Stashed"
	KindQueued  StatusKind = "Queued"
	KindLocked  StatusKind = "Locked"
	KindPaused  StatusKind = "Paused"
	KindRunning StatusKind = "Running"
	KindDone    StatusKind = "Done"
)

// Status is the state of a task. The set of implementations is closed:
// Stashed, Queued, Locked, Paused, Running and Done.
type Status interface {
	Kind() StatusKind
	status()
}

// Stashed tasks are not eligible for scheduling. A non-nil EnqueueAt makes the
// task move to Queued once that time has passed.
type Stashed struct {
	EnqueueAt *time.Time
}

// Queued tasks wait for dependencies and group capacity.
type Queued struct {
	EnqueuedAt time.Time
}

// Locked tasks are held by a client for editing. Previous is never Locked,
// Running or Done.
type Locked struct {
	Previous Status
}

// Paused covers two cases. A held task (Start == nil) never started and
// resumes to Queued. A suspended task (Start != nil) has a stopped process
// and resumes to Running.
type Paused struct {
	EnqueuedAt time.Time
	Start      *time.Time
}

// Running tasks have a live process.
type Running struct {
	EnqueuedAt time.Time
	Start      time.Time
}

// Done is terminal. Start is nil when the task never got a process.
type Done struct {
	EnqueuedAt *time.Time
	Start      *time.Time
	End        time.Time
	Result     Result
}

func (Stashed) Kind() StatusKind { return KindStashed }
func (Queued) Kind() StatusKind  { return KindQueued }
func (Locked) Kind() StatusKind  { return KindLocked }
func (Paused) Kind() StatusKind  { return KindPaused }
func (Running) Kind() StatusKind { return KindRunning }
func (Done) Kind() StatusKind    { return KindDone }

func (Stashed) status() {}
func (Queued) status()  {}
func (Locked) status()  {}
func (Paused) status()  {}
func (Running) status() {}
func (Done) status()    {}

// Suspended reports whether the paused task has a stopped process.
func (p Paused) Suspended() bool { return p.Start != nil }

// Lockable reports whether a task in status s may be locked for editing.
func Lockable(s Status) bool {
	switch v := s.(type) {
	case Queued, Stashed:
		return true
	case Paused:
		return !v.Suspended()
	default:
		return false
	}
}

// HasProcess reports whether a task in status s owns an OS process.
func HasProcess(s Status) bool {
	switch v := s.(type) {
	case Running:
		return true
	case Paused:
		return v.Suspended()
	default:
		return false
	}
}

// enqueuedAt returns the time the task last entered the queue, if known.
func enqueuedAt(s Status) *time.Time {
	switch v := s.(type) {
	case Queued:
		return &v.EnqueuedAt
	case Paused:
		return &v.EnqueuedAt
	case Running:
		return &v.EnqueuedAt
	case Locked:
		return enqueuedAt(v.Previous)
	case Done:
		return v.EnqueuedAt
	default:
		return nil
	}
}

// EnqueuedAt returns the time the task last entered the queue, if known.
func EnqueuedAt(s Status) *time.Time {
	if t := enqueuedAt(s); t != nil {
		c := *t
		return &c
	}
	return nil
}

type statusWire struct {
	Kind       StatusKind      `json:"kind"`
	EnqueueAt  *time.Time      `json:"enqueue_at,omitempty"`
	EnqueuedAt *time.Time      `json:"enqueued_at,omitempty"`
	Start      *time.Time      `json:"start,omitempty"`
	End        *time.Time      `json:"end,omitempty"`
	Result     *Result         `json:"result,omitempty"`
	Previous   json.RawMessage `json:"previous,omitempty"`
}

// MarshalStatus encodes s as a JSON object tagged with its kind.
func MarshalStatus(s Status) ([]byte, error) {
	var w statusWire
	switch v := s.(type) {
	case Stashed:
		w = statusWire{Kind: KindStashed, EnqueueAt: v.EnqueueAt}
	case Queued:
		w = statusWire{Kind: KindQueued, EnqueuedAt: &v.EnqueuedAt}
	case Locked:
		prev, err := MarshalStatus(v.Previous)
		if err != nil {
			return nil, err
		}
		w = statusWire{Kind: KindLocked, Previous: prev}
	case Paused:
		w = statusWire{Kind: KindPaused, EnqueuedAt: &v.EnqueuedAt, Start: v.Start}
	case Running:
		w = statusWire{Kind: KindRunning, EnqueuedAt: &v.EnqueuedAt, Start: &v.Start}
	case Done:
		w = statusWire{Kind: KindDone, EnqueuedAt: v.EnqueuedAt, Start: v.Start, End: &v.End, Result: &v.Result}
	case nil:
		return nil, fmt.Errorf("task status is nil")
	default:
		return nil, fmt.Errorf("unknown task status %T", s)
	}
	return json.Marshal(w)
}

// UnmarshalStatus decodes a status produced by MarshalStatus.
func UnmarshalStatus(data []byte) (Status, error) {
	var w statusWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode task status: %w", err)
	}
	switch w.Kind {
	case KindStashed:
		return Stashed{EnqueueAt: w.EnqueueAt}, nil
	case KindQueued:
		if w.EnqueuedAt == nil {
			return nil, fmt.Errorf("queued status without enqueued_at")
		}
		return Queued{EnqueuedAt: *w.EnqueuedAt}, nil
	case KindLocked:
		if len(w.Previous) == 0 {
			return nil, fmt.Errorf("locked status without previous status")
		}
		prev, err := UnmarshalStatus(w.Previous)
		if err != nil {
			return nil, err
		}
		if !Lockable(prev) {
			return nil, fmt.Errorf("locked status cannot remember %s", prev.Kind())
		}
		return Locked{Previous: prev}, nil
	case KindPaused:
		if w.EnqueuedAt == nil {
			return nil, fmt.Errorf("paused status without enqueued_at")
		}
		return Paused{EnqueuedAt: *w.EnqueuedAt, Start: w.Start}, nil
	case KindRunning:
		if w.EnqueuedAt == nil || w.Start == nil {
			return nil, fmt.Errorf("running status without enqueued_at/start")
		}
		return Running{EnqueuedAt: *w.EnqueuedAt, Start: *w.Start}, nil
	case KindDone:
		if w.End == nil || w.Result == nil {
			return nil, fmt.Errorf("done status without end/result")
		}
		return Done{EnqueuedAt: w.EnqueuedAt, Start: w.Start, End: *w.End, Result: *w.Result}, nil
	default:
		return nil, fmt.Errorf("unknown task status kind %q", w.Kind)
	}
}
