package state

import (
	"time"

	"git.home.luguber.info/inful/shq/internal/task"
)

// EventType names a state change.
type EventType string

const (
	EventTaskAdded        EventType = "TaskAdded"
	EventTaskLocked       EventType = "TaskLocked"
	EventTaskEdited       EventType = "TaskEdited"
	EventTaskEditRestored EventType = "TaskEditRestored"
	EventTaskStarted      EventType = "TaskStarted"
	EventTaskFinished     EventType = "TaskFinished"
	EventTaskPaused       EventType = "TaskPaused"
	EventTaskResumed      EventType = "TaskResumed"
	EventTaskStashed      EventType = "TaskStashed"
	EventTaskEnqueued     EventType = "TaskEnqueued"
	EventTaskRemoved      EventType = "TaskRemoved"
	EventGroupChanged     EventType = "GroupChanged"
)

// Event describes one committed change. Group events carry TaskID -1.
type Event struct {
	Type    EventType
	TaskID  int
	Group   string
	Status  task.StatusKind
	Command string
	// EnqueueAt is set when the task is stashed with a delayed start.
	EnqueueAt *time.Time
	Result    *task.Result
	// Runtime is the process lifetime for finished tasks that ran.
	Runtime time.Duration
	Time    time.Time
}

// Observer receives events after the mutation that produced them committed.
// Implementations must not call back into the Store synchronously.
type Observer interface {
	TaskEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) TaskEvent(e Event) { f(e) }

func (s *Store) record(typ EventType, t *task.Task) {
	ev := Event{
		Type:    typ,
		TaskID:  t.ID,
		Group:   t.Group,
		Status:  t.Status.Kind(),
		Command: t.Command,
		Time:    s.now(),
	}
	switch st := t.Status.(type) {
	case task.Stashed:
		if st.EnqueueAt != nil {
			at := *st.EnqueueAt
			ev.EnqueueAt = &at
		}
	case task.Done:
		r := st.Result
		ev.Result = &r
		if st.Start != nil {
			ev.Runtime = st.End.Sub(*st.Start)
		}
	}
	s.pending = append(s.pending, ev)
}

func (s *Store) recordGroup(name string) {
	s.pending = append(s.pending, Event{
		Type:   EventGroupChanged,
		TaskID: -1,
		Group:  name,
		Time:   s.now(),
	})
}
