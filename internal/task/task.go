// Package task defines the queue's data model: tasks, their status state
// machine, groups and the aggregate state snapshot.
package task

import (
	"encoding/json"
	"slices"
	"time"
)

// DefaultGroup is the group tasks land in when none is given. It always exists.
const DefaultGroup = "default"

// Task is one queued shell command.
type Task struct {
	ID           int       `json:"id"`
	Command      string    `json:"command"`
	Path         string    `json:"path"`
	Label        *string   `json:"label"`
	Priority     int       `json:"priority"`
	Group        string    `json:"group"`
	Dependencies []int     `json:"dependencies"`
	Status       Status    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type taskAlias Task

type taskWire struct {
	*taskAlias
	Status json.RawMessage `json:"status"`
}

// MarshalJSON encodes the task with its tagged status.
func (t *Task) MarshalJSON() ([]byte, error) {
	st, err := MarshalStatus(t.Status)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taskWire{taskAlias: (*taskAlias)(t), Status: st})
}

// UnmarshalJSON decodes a task encoded by MarshalJSON.
func (t *Task) UnmarshalJSON(data []byte) error {
	w := taskWire{taskAlias: (*taskAlias)(t)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	st, err := UnmarshalStatus(w.Status)
	if err != nil {
		return err
	}
	t.Status = st
	return nil
}

// Clone returns a deep copy. Status values are immutable and shared.
func (t *Task) Clone() *Task {
	c := *t
	if t.Label != nil {
		l := *t.Label
		c.Label = &l
	}
	c.Dependencies = slices.Clone(t.Dependencies)
	return &c
}

// IsDone reports whether the task reached a terminal state.
func (t *Task) IsDone() bool {
	_, ok := t.Status.(Done)
	return ok
}

// Succeeded reports whether the task finished with exit code 0.
func (t *Task) Succeeded() bool {
	d, ok := t.Status.(Done)
	return ok && d.Result.Success()
}
