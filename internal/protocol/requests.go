package protocol

import (
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/task"
)

// Type names a message kind on the wire.
type Type string

const (
	TypeAdd         Type = "add"
	TypeEditRequest Type = "edit_request"
	TypeEdit        Type = "edit"
	TypeEditRestore Type = "edit_restore"
	TypeStart       Type = "start"
	TypePause       Type = "pause"
	TypeKill        Type = "kill"
	TypeRemove      Type = "remove"
	TypeStash       Type = "stash"
	TypeEnqueue     Type = "enqueue"
	TypeRestart     Type = "restart"
	TypeClean       Type = "clean"
	TypeStatus      Type = "status"
	TypeGroupAdd    Type = "group_add"
	TypeGroupRemove Type = "group_remove"
	TypeParallel    Type = "parallel"
	TypeLog         Type = "log"
	TypeShutdown    Type = "shutdown"
)

// Request is a client message. The set of implementations is closed.
type Request interface {
	RequestType() Type
	request()
}

// Add creates a task.
type Add struct {
	Command      string     `json:"command"`
	Path         string     `json:"path"`
	Label        *string    `json:"label,omitempty"`
	Priority     int        `json:"priority,omitempty"`
	Dependencies []int      `json:"dependencies,omitempty"`
	Group        string     `json:"group,omitempty"`
	Stashed      bool       `json:"stashed,omitempty"`
	EnqueueAt    *time.Time `json:"enqueue_at,omitempty"`
}

// EditRequest locks a task for editing.
type EditRequest struct {
	TaskID int `json:"task_id"`
}

// Edit commits changes to a locked task. Nil fields stay unchanged.
type Edit struct {
	TaskID      int     `json:"task_id"`
	Command     *string `json:"command,omitempty"`
	Path        *string `json:"path,omitempty"`
	Label       *string `json:"label,omitempty"`
	DeleteLabel bool    `json:"delete_label,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
}

// EditRestore abandons an edit.
type EditRestore struct {
	TaskID int `json:"task_id"`
}

// Start resumes groups or tasks; Force dispatches queued tasks immediately.
type Start struct {
	Selection task.Selection `json:"selection"`
	Force     bool           `json:"force,omitempty"`
}

// Pause pauses groups or tasks; Wait lets running tasks of paused groups finish.
type Pause struct {
	Selection task.Selection `json:"selection"`
	Wait      bool           `json:"wait,omitempty"`
}

type Kill struct {
	Selection task.Selection `json:"selection"`
}

type Remove struct {
	Selection task.Selection `json:"selection"`
}

type Stash struct {
	Selection task.Selection `json:"selection"`
	EnqueueAt *time.Time     `json:"enqueue_at,omitempty"`
}

type Enqueue struct {
	Selection task.Selection `json:"selection"`
	EnqueueAt *time.Time     `json:"enqueue_at,omitempty"`
}

// Restart re-queues copies of finished tasks.
type Restart struct {
	Selection task.Selection `json:"selection"`
	Stashed   bool           `json:"stashed,omitempty"`
}

// Clean removes finished tasks.
type Clean struct {
	SuccessfulOnly bool   `json:"successful_only,omitempty"`
	Group          string `json:"group,omitempty"`
}

// Status requests the full state snapshot.
type Status struct{}

type GroupAdd struct {
	Name     string `json:"name"`
	Parallel int    `json:"parallel,omitempty"`
}

type GroupRemove struct {
	Name string `json:"name"`
}

// Parallel sets a group's parallel limit.
type Parallel struct {
	Group    string `json:"group,omitempty"`
	Parallel int    `json:"parallel"`
}

// Log requests the tail of a task's output. A zero Limit uses the daemon default.
type Log struct {
	TaskID int   `json:"task_id"`
	Limit  int64 `json:"limit,omitempty"`
}

// Shutdown asks the daemon to stop.
type Shutdown struct{}

func (Add) RequestType() Type         { return TypeAdd }
func (EditRequest) RequestType() Type { return TypeEditRequest }
func (Edit) RequestType() Type        { return TypeEdit }
func (EditRestore) RequestType() Type { return TypeEditRestore }
func (Start) RequestType() Type       { return TypeStart }
func (Pause) RequestType() Type       { return TypePause }
func (Kill) RequestType() Type        { return TypeKill }
func (Remove) RequestType() Type      { return TypeRemove }
func (Stash) RequestType() Type       { return TypeStash }
func (Enqueue) RequestType() Type     { return TypeEnqueue }
func (Restart) RequestType() Type     { return TypeRestart }
func (Clean) RequestType() Type       { return TypeClean }
func (Status) RequestType() Type      { return TypeStatus }
func (GroupAdd) RequestType() Type    { return TypeGroupAdd }
func (GroupRemove) RequestType() Type { return TypeGroupRemove }
func (Parallel) RequestType() Type    { return TypeParallel }
func (Log) RequestType() Type         { return TypeLog }
func (Shutdown) RequestType() Type    { return TypeShutdown }

func (Add) request()         {}
func (EditRequest) request() {}
func (Edit) request()        {}
func (EditRestore) request() {}
func (Start) request()       {}
func (Pause) request()       {}
func (Kill) request()        {}
func (Remove) request()      {}
func (Stash) request()       {}
func (Enqueue) request()     {}
func (Restart) request()     {}
func (Clean) request()       {}
func (Status) request()      {}
func (GroupAdd) request()    {}
func (GroupRemove) request() {}
func (Parallel) request()    {}
func (Log) request()         {}
func (Shutdown) request()    {}

var requestDecoders = map[Type]func([]byte) (Request, error){
	TypeAdd:         decodeRequest[Add],
	TypeEditRequest: decodeRequest[EditRequest],
	TypeEdit:        decodeRequest[Edit],
	TypeEditRestore: decodeRequest[EditRestore],
	TypeStart:       decodeRequest[Start],
	TypePause:       decodeRequest[Pause],
	TypeKill:        decodeRequest[Kill],
	TypeRemove:      decodeRequest[Remove],
	TypeStash:       decodeRequest[Stash],
	TypeEnqueue:     decodeRequest[Enqueue],
	TypeRestart:     decodeRequest[Restart],
	TypeClean:       decodeRequest[Clean],
	TypeStatus:      decodeRequest[Status],
	TypeGroupAdd:    decodeRequest[GroupAdd],
	TypeGroupRemove: decodeRequest[GroupRemove],
	TypeParallel:    decodeRequest[Parallel],
	TypeLog:         decodeRequest[Log],
	TypeShutdown:    decodeRequest[Shutdown],
}

// selectionOf returns the selection carried by a request, if any.
func selectionOf(r Request) (task.Selection, bool) {
	switch m := r.(type) {
	case Start:
		return m.Selection, true
	case Pause:
		return m.Selection, true
	case Kill:
		return m.Selection, true
	case Remove:
		return m.Selection, true
	case Stash:
		return m.Selection, true
	case Enqueue:
		return m.Selection, true
	case Restart:
		return m.Selection, true
	default:
		return task.Selection{}, false
	}
}

func validateRequest(r Request) error {
	if sel, ok := selectionOf(r); ok && sel.Kind == "" {
		return errors.ProtocolError(string(r.RequestType()) + " requires a selection").Build()
	}
	return nil
}
