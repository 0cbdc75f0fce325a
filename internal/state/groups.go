package state

import (
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/task"
)

// AddGroup creates a running group.
func (s *Store) AddGroup(name string, parallel int) error {
	return s.mutate(func(st *task.State) error {
		if name == "" {
			return errors.ValidationError("group name must not be empty").Build()
		}
		if parallel < 1 {
			return errors.ValidationError(fmt.Sprintf("parallel limit must be at least 1, got %d", parallel)).Build()
		}
		if _, ok := st.Groups[name]; ok {
			return errors.AlreadyExists(fmt.Sprintf("group %q already exists", name)).
				WithContext("group", name).
				Build()
		}
		st.Groups[name] = &task.Group{Status: task.GroupRunning, ParallelLimit: parallel}
		s.recordGroup(name)
		slog.Info("Group added", logfields.Group(name), slog.Int("parallel", parallel))
		return nil
	})
}

// RemoveGroup deletes an empty group. The default group cannot be removed.
func (s *Store) RemoveGroup(name string) error {
	return s.mutate(func(st *task.State) error {
		if name == task.DefaultGroup {
			return errors.ValidationError("the default group cannot be removed").Build()
		}
		if _, ok := st.Groups[name]; !ok {
			return errGroupNotFound(name)
		}
		if ids := st.TaskIDsInGroup(name); len(ids) > 0 {
			return errors.InvalidTransition(fmt.Sprintf("group %q still has %d tasks", name, len(ids))).
				WithContext("group", name).
				Build()
		}
		delete(st.Groups, name)
		s.recordGroup(name)
		slog.Info("Group removed", logfields.Group(name))
		return nil
	})
}

// SetParallel changes a group's parallel limit. Running tasks above a lowered
// limit keep running.
func (s *Store) SetParallel(name string, parallel int) error {
	return s.mutate(func(st *task.State) error {
		if parallel < 1 {
			return errors.ValidationError(fmt.Sprintf("parallel limit must be at least 1, got %d", parallel)).Build()
		}
		g, ok := st.Groups[name]
		if !ok {
			return errGroupNotFound(name)
		}
		if g.ParallelLimit == parallel {
			return nil
		}
		g.ParallelLimit = parallel
		s.recordGroup(name)
		slog.Info("Group parallel limit changed", logfields.Group(name), slog.Int("parallel", parallel))
		return nil
	})
}

// EnsureGroup creates the group or updates its limit. It is used to apply
// groups declared in the configuration file.
func (s *Store) EnsureGroup(name string, parallel int) error {
	s.mu.Lock()
	_, exists := s.state.Groups[name]
	s.mu.Unlock()
	if !exists {
		err := s.AddGroup(name, parallel)
		if errors.HasCategory(err, errors.CategoryAlreadyExists) {
			return s.SetParallel(name, parallel)
		}
		return err
	}
	return s.SetParallel(name, parallel)
}

func (s *Store) setGroupStatusLocked(st *task.State, name string, status task.GroupStatus) {
	g, ok := st.Groups[name]
	if !ok || g.Status == status {
		return
	}
	g.Status = status
	s.recordGroup(name)
	slog.Info("Group status changed", logfields.Group(name), logfields.Status(string(status)))
}
