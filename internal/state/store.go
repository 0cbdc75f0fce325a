package state

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/task"
)

// ErrProcessGone is returned by ProcessControl when the task's process has
// already exited. The store treats it as a lost race, not a failure.
var ErrProcessGone = stderrors.New("process already exited")

// ProcessControl is the store's view of the process runner. It is called
// with the store lock held and must not call back into the Store.
type ProcessControl interface {
	// Spawn starts the task's process. An error means nothing was started.
	Spawn(t *task.Task) error
	// Kill terminates the task's process.
	Kill(id int) error
	Suspend(id int) error
	Resume(id int) error
}

// SpawnPreparer is implemented by process controls that can do the file
// system work of a spawn before the store lock is taken. Prepare may fail;
// Spawn then reports the same problem. Discard releases whatever Prepare set
// up when Spawn did not consume it.
type SpawnPreparer interface {
	Prepare(t *task.Task) error
	Discard(id int)
}

// Persister saves the whole state after each committed mutation.
type Persister interface {
	Save(st *task.State) error
}

// Options configures a Store.
type Options struct {
	Persister Persister
	// Now defaults to time.Now in UTC.
	Now func() time.Time
	// PauseGroupOnFailure pauses a task's group when it finishes unsuccessfully.
	PauseGroupOnFailure bool
	// PauseAllOnFailure pauses every group when any task finishes unsuccessfully.
	PauseAllOnFailure bool
}

// Store is the single owner of the task state.
type Store struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	state     *task.State
	procs     ProcessControl
	opts      Options
	now       func() time.Time
	halted    error
	pending   []Event
	observers []Observer
	changed   chan struct{}
}

// NewStore takes ownership of st. Tasks whose processes cannot have survived
// a daemon restart are repaired first, see Recover.
func NewStore(st *task.State, opts Options) *Store {
	if st == nil {
		st = task.NewState()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Store{
		state:   st,
		procs:   noProcesses{},
		opts:    opts,
		now:     now,
		changed: make(chan struct{}, 1),
	}
	if repaired := Recover(st, now()); len(repaired) > 0 {
		slog.Warn("Recovered tasks interrupted by daemon restart", logfields.TaskIDs(repaired))
	}
	return s
}

// SetProcessControl installs the process runner.
func (s *Store) SetProcessControl(pc ProcessControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs = pc
}

// Subscribe registers an observer for committed events.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Changes yields a value whenever a mutation committed. Bursts coalesce.
func (s *Store) Changes() <-chan struct{} { return s.changed }

// Halted returns the last persistence error, or nil when the state on disk
// is current. A halted store does not dispatch.
func (s *Store) Halted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *task.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Task returns a copy of one task.
func (s *Store) Task(id int) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Tasks[id]
	if !ok {
		return nil, errTaskNotFound(id)
	}
	return t.Clone(), nil
}

// DelayedStarts returns the stashed tasks that carry a start time.
func (s *Store) DelayedStarts() map[int]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]time.Time)
	for id, t := range s.state.Tasks {
		if st, ok := t.Status.(task.Stashed); ok && st.EnqueueAt != nil {
			out[id] = *st.EnqueueAt
		}
	}
	return out
}

// Flush persists the current state regardless of pending changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// mutate runs fn under the store lock. When fn recorded events the state is
// persisted and the events are delivered in commit order after the lock is
// released.
func (s *Store) mutate(fn func(st *task.State) error) error {
	s.mu.Lock()
	err := fn(s.state)
	events := s.pending
	s.pending = nil
	if len(events) > 0 {
		if serr := s.saveLocked(); serr != nil {
			slog.Error("Persisting state failed, dispatch halted", logfields.Error(serr))
		}
	}
	observers := slices.Clone(s.observers)
	s.deliverMu.Lock()
	s.mu.Unlock()

	for _, ev := range events {
		for _, o := range observers {
			o.TaskEvent(ev)
		}
	}
	s.deliverMu.Unlock()

	if len(events) > 0 {
		s.signal()
	}
	return err
}

func (s *Store) saveLocked() error {
	if s.opts.Persister == nil {
		return nil
	}
	if err := s.opts.Persister.Save(s.state); err != nil {
		s.halted = err
		return err
	}
	s.halted = nil
	return nil
}

func (s *Store) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// resolve expands a selection into task ids in ascending order.
func (s *Store) resolve(sel task.Selection) ([]int, error) {
	switch sel.Kind {
	case task.SelectAll:
		return s.state.SortedIDs(), nil
	case task.SelectGroup:
		if _, ok := s.state.Groups[sel.Group]; !ok {
			return nil, errGroupNotFound(sel.Group)
		}
		return s.state.TaskIDsInGroup(sel.Group), nil
	case task.SelectTaskIDs:
		ids := slices.Clone(sel.TaskIDs)
		slices.Sort(ids)
		return slices.Compact(ids), nil
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown selection kind %q", sel.Kind)).Build()
	}
}

// selectedGroups returns the groups a group-level selection addresses.
func (s *Store) selectedGroups(sel task.Selection) []string {
	switch sel.Kind {
	case task.SelectAll:
		names := make([]string, 0, len(s.state.Groups))
		for name := range s.state.Groups {
			names = append(names, name)
		}
		slices.Sort(names)
		return names
	case task.SelectGroup:
		return []string{sel.Group}
	default:
		return nil
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func accept(id int) task.Outcome {
	return task.Outcome{TaskID: id, Accepted: true}
}

func reject(id int, err error) task.Outcome {
	return task.Outcome{TaskID: id, Code: string(errors.GetCategory(err)), Reason: errorReason(err)}
}

// errorReason renders err for users without the category prefix.
func errorReason(err error) string {
	c, ok := errors.AsClassified(err)
	if !ok {
		return err.Error()
	}
	if c.Cause() != nil {
		return c.Message() + ": " + c.Cause().Error()
	}
	return c.Message()
}

func errTaskNotFound(id int) error {
	return errors.NotFound(fmt.Sprintf("task %d does not exist", id)).
		WithContext("task_id", id).
		Build()
}

func errGroupNotFound(name string) error {
	return errors.NotFound(fmt.Sprintf("group %q does not exist", name)).
		WithContext("group", name).
		Build()
}

func errTransition(id int, st task.Status, action string) error {
	return errors.InvalidTransition(fmt.Sprintf("cannot %s task %d: task is %s", action, id, describe(st))).
		WithContext("task_id", id).
		WithContext("status", string(st.Kind())).
		Build()
}

func describe(st task.Status) string {
	switch v := st.(type) {
	case task.Locked:
		return "locked for editing"
	case task.Paused:
		if v.Suspended() {
			return "paused (process suspended)"
		}
		return "paused"
	case task.Done:
		return "done: " + v.Result.String()
	default:
		return strings.ToLower(string(st.Kind()))
	}
}

type noProcesses struct{}

func (noProcesses) Spawn(*task.Task) error {
	return errors.SpawnError("no process runner configured").Build()
}
func (noProcesses) Kill(int) error    { return nil }
func (noProcesses) Suspend(int) error { return nil }
func (noProcesses) Resume(int) error  { return nil }
