package state

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/task"
)

// AddRequest describes a new task.
type AddRequest struct {
	Command      string
	Path         string
	Label        *string
	Priority     int
	Group        string
	Dependencies []int
	// Stashed creates the task in Stashed status. EnqueueAt implies Stashed.
	Stashed   bool
	EnqueueAt *time.Time
}

// Add creates a task and returns its id.
func (s *Store) Add(req AddRequest) (int, error) {
	var id int
	err := s.mutate(func(st *task.State) error {
		if strings.TrimSpace(req.Command) == "" {
			return errors.ValidationError("command must not be empty").Build()
		}
		if req.Path == "" {
			return errors.ValidationError("path must not be empty").Build()
		}
		group := req.Group
		if group == "" {
			group = task.DefaultGroup
		}
		if _, ok := st.Groups[group]; !ok {
			return errGroupNotFound(group)
		}
		var deps []int
		if len(req.Dependencies) > 0 {
			deps = slices.Clone(req.Dependencies)
			slices.Sort(deps)
			deps = slices.Compact(deps)
			for _, dep := range deps {
				if _, ok := st.Tasks[dep]; !ok {
					return errTaskNotFound(dep)
				}
			}
		}

		now := s.now()
		var status task.Status = task.Queued{EnqueuedAt: now}
		if req.Stashed || req.EnqueueAt != nil {
			status = task.Stashed{EnqueueAt: cloneTime(req.EnqueueAt)}
		}
		var label *string
		if req.Label != nil {
			l := *req.Label
			label = &l
		}

		id = st.NextID
		st.NextID++
		t := &task.Task{
			ID:           id,
			Command:      req.Command,
			Path:         req.Path,
			Label:        label,
			Priority:     req.Priority,
			Group:        group,
			Dependencies: deps,
			Status:       status,
			CreatedAt:    now,
		}
		st.Tasks[id] = t
		s.record(EventTaskAdded, t)
		slog.Info("Task added",
			logfields.TaskID(id),
			logfields.Group(group),
			logfields.Status(string(status.Kind())),
			logfields.Command(req.Command))
		return nil
	})
	return id, err
}

// Dispatch starts a queued task if it is still eligible: Queued, its group is
// running with free capacity, all dependencies succeeded and the store is not
// halted. It reports whether a process was started. A spawn failure finishes
// the task as errored. A halted store returns its fatal persistence error.
//
// When the process control is a SpawnPreparer its file system work runs
// before the lock is taken; eligibility is decided again under the lock.
func (s *Store) Dispatch(id int) (bool, error) {
	if prep, ok := s.preparer(); ok {
		if t, queued := s.queuedTask(id); queued {
			if err := prep.Prepare(t); err != nil {
				slog.Debug("Spawn preparation failed", logfields.TaskID(id), logfields.Error(err))
			}
			defer prep.Discard(id)
		}
	}

	var started bool
	err := s.mutate(func(st *task.State) error {
		t, ok := st.Tasks[id]
		if !ok {
			return nil
		}
		var err error
		started, err = s.dispatchLocked(st, t, false)
		if err != nil {
			if classified, ok := errors.AsClassified(err); ok && classified.IsFatal() {
				return err
			}
			slog.Debug("Dispatch skipped", logfields.TaskID(id), logfields.Error(err))
		}
		return nil
	})
	return started, err
}

func (s *Store) preparer() (SpawnPreparer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prep, ok := s.procs.(SpawnPreparer)
	return prep, ok
}

// queuedTask returns a copy of the task when it is currently Queued.
func (s *Store) queuedTask(id int) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Tasks[id]
	if !ok {
		return nil, false
	}
	if _, queued := t.Status.(task.Queued); !queued {
		return nil, false
	}
	return t.Clone(), true
}

// dispatchLocked starts t. Forced dispatch ignores group pause and capacity
// but never dependencies. The returned error explains why nothing started.
func (s *Store) dispatchLocked(st *task.State, t *task.Task, force bool) (bool, error) {
	if s.halted != nil {
		return false, errors.PersistenceError("dispatch halted: state could not be persisted").
			WithCause(s.halted).
			Build()
	}
	queued, ok := t.Status.(task.Queued)
	if !ok {
		return false, errTransition(t.ID, t.Status, "start")
	}
	group := st.Groups[t.Group]
	if !force {
		if group.Status != task.GroupRunning {
			return false, errors.InvalidTransition(fmt.Sprintf("group %q is paused", t.Group)).Build()
		}
		if st.RunningCount(t.Group) >= group.ParallelLimit {
			return false, errors.InvalidTransition(fmt.Sprintf("group %q is full", t.Group)).Build()
		}
	}
	if !st.DependenciesMet(t) {
		return false, errors.InvalidTransition(fmt.Sprintf("task %d has unfinished or failed dependencies", t.ID)).
			WithContext("task_id", t.ID).
			Build()
	}

	if err := s.procs.Spawn(t); err != nil {
		enq := queued.EnqueuedAt
		t.Status = task.Done{EnqueuedAt: &enq, End: s.now(), Result: task.Errored(errorReason(err))}
		s.record(EventTaskFinished, t)
		slog.Warn("Task could not be started",
			logfields.TaskID(t.ID),
			logfields.Command(t.Command),
			logfields.Path(t.Path),
			logfields.Error(err))
		return false, nil
	}
	t.Status = task.Running{EnqueuedAt: queued.EnqueuedAt, Start: s.now()}
	s.record(EventTaskStarted, t)
	slog.Info("Task started",
		logfields.TaskID(t.ID),
		logfields.Group(t.Group),
		logfields.Command(t.Command))
	return true, nil
}

// Finish records the exit of a task's process.
func (s *Store) Finish(id int, result task.Result) {
	_ = s.mutate(func(st *task.State) error {
		t, ok := st.Tasks[id]
		if !ok {
			slog.Warn("Finished process belongs to unknown task", logfields.TaskID(id))
			return nil
		}
		var enq, start time.Time
		switch cur := t.Status.(type) {
		case task.Running:
			enq, start = cur.EnqueuedAt, cur.Start
		case task.Paused:
			if !cur.Suspended() {
				return nil
			}
			enq, start = cur.EnqueuedAt, *cur.Start
		default:
			slog.Warn("Finished process for task without a process",
				logfields.TaskID(id),
				logfields.Status(string(t.Status.Kind())))
			return nil
		}

		t.Status = task.Done{EnqueuedAt: &enq, Start: &start, End: s.now(), Result: result}
		s.record(EventTaskFinished, t)
		slog.Info("Task finished",
			logfields.TaskID(id),
			logfields.Group(t.Group),
			logfields.Result(string(result.Kind)),
			logfields.ExitCode(result.ExitCode))

		if result.Success() {
			return nil
		}
		switch {
		case s.opts.PauseAllOnFailure:
			for _, name := range s.selectedGroups(task.All()) {
				s.setGroupStatusLocked(st, name, task.GroupPaused)
			}
		case s.opts.PauseGroupOnFailure:
			s.setGroupStatusLocked(st, t.Group, task.GroupPaused)
		}
		return nil
	})
}

// PromoteDue queues a stashed task whose delayed start has arrived.
func (s *Store) PromoteDue(id int) {
	_ = s.mutate(func(st *task.State) error {
		t, ok := st.Tasks[id]
		if !ok {
			return nil
		}
		stashed, ok := t.Status.(task.Stashed)
		if !ok || stashed.EnqueueAt == nil || s.now().Before(*stashed.EnqueueAt) {
			return nil
		}
		t.Status = task.Queued{EnqueuedAt: s.now()}
		s.record(EventTaskEnqueued, t)
		slog.Info("Delayed task enqueued", logfields.TaskID(id))
		return nil
	})
}

// Start resumes paused work. Group and all selections set the groups running
// and resume their suspended tasks. Held tasks go back to Queued. With force,
// queued tasks start immediately regardless of group pause and capacity.
// Locked tasks are always rejected.
func (s *Store) Start(sel task.Selection, force bool) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs
		for _, name := range s.selectedGroups(sel) {
			s.setGroupStatusLocked(st, name, task.GroupRunning)
		}
		for _, id := range ids {
			o, report := s.startLocked(st, id, force, explicit)
			if report {
				outcomes = append(outcomes, o)
			}
		}
		return nil
	})
	return outcomes, err
}

func (s *Store) startLocked(st *task.State, id int, force, explicit bool) (task.Outcome, bool) {
	t, ok := st.Tasks[id]
	if !ok {
		return reject(id, errTaskNotFound(id)), true
	}
	switch cur := t.Status.(type) {
	case task.Locked:
		return reject(id, errTransition(id, cur, "start")), true
	case task.Paused:
		if cur.Suspended() {
			if err := s.procs.Resume(id); err != nil {
				return reject(id, errors.WrapError(err, errors.CategoryDaemon, "resume process").Build()), true
			}
			t.Status = task.Running{EnqueuedAt: cur.EnqueuedAt, Start: *cur.Start}
			s.record(EventTaskResumed, t)
			return accept(id), true
		}
		t.Status = task.Queued{EnqueuedAt: cur.EnqueuedAt}
		s.record(EventTaskResumed, t)
		if force {
			if _, err := s.dispatchLocked(st, t, true); err != nil {
				return reject(id, err), true
			}
		}
		return accept(id), true
	case task.Queued:
		if !force {
			return accept(id), explicit
		}
		if _, err := s.dispatchLocked(st, t, true); err != nil {
			return reject(id, err), true
		}
		return accept(id), true
	default:
		return reject(id, errTransition(id, cur, "start")), explicit
	}
}

// Pause stops work. Group and all selections pause the groups; unless wait is
// set their running tasks are suspended too. Explicit task ids hold queued
// tasks and suspend running ones.
func (s *Store) Pause(sel task.Selection, wait bool) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs
		for _, name := range s.selectedGroups(sel) {
			s.setGroupStatusLocked(st, name, task.GroupPaused)
		}
		for _, id := range ids {
			t, ok := st.Tasks[id]
			if !ok {
				outcomes = append(outcomes, reject(id, errTaskNotFound(id)))
				continue
			}
			switch cur := t.Status.(type) {
			case task.Running:
				if !explicit && wait {
					continue
				}
				if err := s.procs.Suspend(id); err != nil {
					outcomes = append(outcomes, reject(id, errors.WrapError(err, errors.CategoryDaemon, "suspend process").Build()))
					continue
				}
				start := cur.Start
				t.Status = task.Paused{EnqueuedAt: cur.EnqueuedAt, Start: &start}
				s.record(EventTaskPaused, t)
				outcomes = append(outcomes, accept(id))
			case task.Queued:
				if !explicit {
					continue
				}
				t.Status = task.Paused{EnqueuedAt: cur.EnqueuedAt}
				s.record(EventTaskPaused, t)
				outcomes = append(outcomes, accept(id))
			default:
				if explicit {
					outcomes = append(outcomes, reject(id, errTransition(id, cur, "pause")))
				}
			}
		}
		return nil
	})
	return outcomes, err
}

// Kill terminates the processes of running or suspended tasks. The task
// becomes Done once the process has been reaped.
func (s *Store) Kill(sel task.Selection) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs
		for _, id := range ids {
			t, ok := st.Tasks[id]
			if !ok {
				outcomes = append(outcomes, reject(id, errTaskNotFound(id)))
				continue
			}
			if !task.HasProcess(t.Status) {
				if explicit {
					outcomes = append(outcomes, reject(id, errTransition(id, t.Status, "kill")))
				}
				continue
			}
			if err := s.procs.Kill(id); err != nil && !stderrors.Is(err, ErrProcessGone) {
				outcomes = append(outcomes, reject(id, errors.WrapError(err, errors.CategoryDaemon, "kill process").Build()))
				continue
			}
			slog.Info("Kill requested", logfields.TaskID(id))
			outcomes = append(outcomes, accept(id))
		}
		return nil
	})
	return outcomes, err
}

// Remove deletes tasks that own no process, are not locked and have no
// unfinished dependants outside the removed set.
func (s *Store) Remove(sel task.Selection) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs

		removable := make(map[int]bool, len(ids))
		rejected := make(map[int]error)
		for _, id := range ids {
			t, ok := st.Tasks[id]
			switch {
			case !ok:
				rejected[id] = errTaskNotFound(id)
			case task.HasProcess(t.Status):
				rejected[id] = errTransition(id, t.Status, "remove")
			case t.Status.Kind() == task.KindLocked:
				rejected[id] = errTransition(id, t.Status, "remove")
			default:
				removable[id] = true
			}
		}
		for changed := true; changed; {
			changed = false
			for id := range removable {
				for _, dep := range st.Dependants(id) {
					if !removable[dep] {
						rejected[id] = errors.InvalidTransition(fmt.Sprintf("cannot remove task %d: task %d depends on it", id, dep)).
							WithContext("task_id", id).
							Build()
						delete(removable, id)
						changed = true
						break
					}
				}
			}
		}

		for _, id := range ids {
			if err, ok := rejected[id]; ok {
				if explicit {
					outcomes = append(outcomes, reject(id, err))
				}
				continue
			}
			t := st.Tasks[id]
			delete(st.Tasks, id)
			s.record(EventTaskRemoved, t)
			outcomes = append(outcomes, accept(id))
		}
		if len(removable) > 0 {
			slog.Info("Tasks removed", logfields.TaskIDs(slices.Sorted(maps.Keys(removable))))
		}
		return nil
	})
	return outcomes, err
}

// Stash moves queued or held tasks out of scheduling. A non-nil at arms a
// delayed start.
func (s *Store) Stash(sel task.Selection, at *time.Time) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs
		for _, id := range ids {
			t, ok := st.Tasks[id]
			if !ok {
				outcomes = append(outcomes, reject(id, errTaskNotFound(id)))
				continue
			}
			_, queued := t.Status.(task.Queued)
			p, paused := t.Status.(task.Paused)
			if !queued && !(paused && !p.Suspended()) {
				if explicit {
					outcomes = append(outcomes, reject(id, errTransition(id, t.Status, "stash")))
				}
				continue
			}
			t.Status = task.Stashed{EnqueueAt: cloneTime(at)}
			s.record(EventTaskStashed, t)
			outcomes = append(outcomes, accept(id))
		}
		return nil
	})
	return outcomes, err
}

// Enqueue queues stashed tasks. A future at re-arms the delayed start instead.
func (s *Store) Enqueue(sel task.Selection, at *time.Time) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs
		now := s.now()
		for _, id := range ids {
			t, ok := st.Tasks[id]
			if !ok {
				outcomes = append(outcomes, reject(id, errTaskNotFound(id)))
				continue
			}
			if _, ok := t.Status.(task.Stashed); !ok {
				if explicit {
					outcomes = append(outcomes, reject(id, errTransition(id, t.Status, "enqueue")))
				}
				continue
			}
			if at != nil && at.After(now) {
				t.Status = task.Stashed{EnqueueAt: cloneTime(at)}
				s.record(EventTaskStashed, t)
			} else {
				t.Status = task.Queued{EnqueuedAt: now}
				s.record(EventTaskEnqueued, t)
			}
			outcomes = append(outcomes, accept(id))
		}
		return nil
	})
	return outcomes, err
}

// Restart creates a fresh copy of each finished task. Dependencies that no
// longer exist are dropped from the copy.
func (s *Store) Restart(sel task.Selection, stashed bool) ([]task.Outcome, error) {
	var outcomes []task.Outcome
	err := s.mutate(func(st *task.State) error {
		ids, err := s.resolve(sel)
		if err != nil {
			return err
		}
		explicit := sel.Kind == task.SelectTaskIDs
		now := s.now()
		for _, id := range ids {
			old, ok := st.Tasks[id]
			if !ok {
				outcomes = append(outcomes, reject(id, errTaskNotFound(id)))
				continue
			}
			if !old.IsDone() {
				if explicit {
					outcomes = append(outcomes, reject(id, errTransition(id, old.Status, "restart")))
				}
				continue
			}
			if _, ok := st.Groups[old.Group]; !ok {
				outcomes = append(outcomes, reject(id, errGroupNotFound(old.Group)))
				continue
			}
			t := old.Clone()
			t.ID = st.NextID
			st.NextID++
			t.CreatedAt = now
			t.Dependencies = slices.DeleteFunc(t.Dependencies, func(dep int) bool {
				_, exists := st.Tasks[dep]
				return !exists
			})
			if len(t.Dependencies) == 0 {
				t.Dependencies = nil
			}
			if stashed {
				t.Status = task.Stashed{}
			} else {
				t.Status = task.Queued{EnqueuedAt: now}
			}
			st.Tasks[t.ID] = t
			s.record(EventTaskAdded, t)
			newID := t.ID
			outcomes = append(outcomes, task.Outcome{TaskID: id, Accepted: true, NewTaskID: &newID})
		}
		return nil
	})
	return outcomes, err
}

// Clean removes finished tasks, optionally only successful ones or only those
// of one group. Tasks with unfinished dependants are kept.
func (s *Store) Clean(successfulOnly bool, group string) ([]int, error) {
	var removed []int
	err := s.mutate(func(st *task.State) error {
		if group != "" {
			if _, ok := st.Groups[group]; !ok {
				return errGroupNotFound(group)
			}
		}
		for _, id := range st.SortedIDs() {
			t := st.Tasks[id]
			if !t.IsDone() || (group != "" && t.Group != group) {
				continue
			}
			if successfulOnly && !t.Succeeded() {
				continue
			}
			if len(st.Dependants(id)) > 0 {
				continue
			}
			delete(st.Tasks, id)
			s.record(EventTaskRemoved, t)
			removed = append(removed, id)
		}
		return nil
	})
	return removed, err
}
