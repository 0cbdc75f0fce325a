package state

import (
	"fmt"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/task"
)

// Editable is the snapshot of the editable fields handed out when a task is
// locked.
type Editable struct {
	TaskID   int     `json:"task_id"`
	Command  string  `json:"command"`
	Path     string  `json:"path"`
	Label    *string `json:"label"`
	Priority int     `json:"priority"`
}

// Edit carries the fields a client changes. Nil fields are left untouched.
// DeleteLabel clears the label and wins over Label.
type Edit struct {
	TaskID      int
	Command     *string
	Path        *string
	Label       *string
	DeleteLabel bool
	Priority    *int
}

// RequestEdit locks a queued, stashed or held task so that nothing starts it
// while a client edits it.
func (s *Store) RequestEdit(id int) (Editable, error) {
	var out Editable
	err := s.mutate(func(st *task.State) error {
		t, ok := st.Tasks[id]
		if !ok {
			return errTaskNotFound(id)
		}
		if _, locked := t.Status.(task.Locked); locked {
			return errors.AlreadyLocked(fmt.Sprintf("task %d is already being edited", id)).
				WithContext("task_id", id).
				Build()
		}
		if !task.Lockable(t.Status) {
			return errTransition(id, t.Status, "edit")
		}
		t.Status = task.Locked{Previous: t.Status}
		s.record(EventTaskLocked, t)

		out = Editable{TaskID: id, Command: t.Command, Path: t.Path, Priority: t.Priority}
		if t.Label != nil {
			l := *t.Label
			out.Label = &l
		}
		slog.Debug("Task locked for editing", logfields.TaskID(id))
		return nil
	})
	return out, err
}

// CommitEdit applies the edit to a locked task and queues it. On a validation
// error the task stays locked.
func (s *Store) CommitEdit(e Edit) error {
	return s.mutate(func(st *task.State) error {
		t, ok := st.Tasks[e.TaskID]
		if !ok {
			return errTaskNotFound(e.TaskID)
		}
		if _, locked := t.Status.(task.Locked); !locked {
			return errors.InvalidTransition(fmt.Sprintf("task %d is not locked for editing", e.TaskID)).
				WithContext("task_id", e.TaskID).
				WithContext("status", string(t.Status.Kind())).
				Build()
		}
		if e.Command != nil && strings.TrimSpace(*e.Command) == "" {
			return errors.ValidationError("command must not be empty").Build()
		}
		if e.Path != nil && *e.Path == "" {
			return errors.ValidationError("path must not be empty").Build()
		}

		if e.Command != nil {
			t.Command = *e.Command
		}
		if e.Path != nil {
			t.Path = *e.Path
		}
		switch {
		case e.DeleteLabel:
			t.Label = nil
		case e.Label != nil:
			l := *e.Label
			t.Label = &l
		}
		if e.Priority != nil {
			t.Priority = *e.Priority
		}
		t.Status = task.Queued{EnqueuedAt: s.now()}
		s.record(EventTaskEdited, t)
		slog.Info("Task edited", logfields.TaskID(t.ID), logfields.Command(t.Command))
		return nil
	})
}

// RestoreEdit releases the lock and puts the task back into the status it had
// before RequestEdit.
func (s *Store) RestoreEdit(id int) error {
	return s.mutate(func(st *task.State) error {
		t, ok := st.Tasks[id]
		if !ok {
			return errTaskNotFound(id)
		}
		locked, ok := t.Status.(task.Locked)
		if !ok {
			return errors.InvalidTransition(fmt.Sprintf("task %d is not locked for editing", id)).
				WithContext("task_id", id).
				Build()
		}
		t.Status = locked.Previous
		s.record(EventTaskEditRestored, t)
		slog.Debug("Task edit abandoned", logfields.TaskID(id))
		return nil
	})
}
