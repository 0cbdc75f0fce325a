package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/metrics"
	"git.home.luguber.info/inful/shq/internal/protocol"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// LogReader returns the tail of a task's captured output.
type LogReader interface {
	ReadLog(id int, limit int64) (string, bool, error)
}

// Dispatcher applies decoded requests to the store and produces exactly one
// response per request.
type Dispatcher struct {
	store    *state.Store
	logs     LogReader
	recorder metrics.Recorder
	shutdown func()
}

// NewDispatcher wires a dispatcher. shutdown is called for shutdown
// requests and must not block.
func NewDispatcher(store *state.Store, logs LogReader, recorder metrics.Recorder, shutdown func()) *Dispatcher {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Dispatcher{store: store, logs: logs, recorder: recorder, shutdown: shutdown}
}

// Handle answers one request. When the request was rejected the returned
// error is the classified cause and the response is the matching Failure.
func (d *Dispatcher) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	start := time.Now()
	typ := string(req.RequestType())

	resp, err := d.handle(req)

	d.recorder.ObserveRequestDuration(typ, time.Since(start))
	if err != nil {
		d.recorder.IncRequest(typ, metrics.OutcomeFailure)
		slog.DebugContext(ctx, "Request rejected",
			logfields.RequestType(typ),
			logfields.RequestID(RequestIDFrom(ctx)),
			logfields.Error(err))
		return protocol.FailureFrom(err), err
	}
	d.recorder.IncRequest(typ, metrics.OutcomeSuccess)
	return resp, nil
}

func (d *Dispatcher) handle(req protocol.Request) (protocol.Response, error) {
	switch m := req.(type) {
	case protocol.Add:
		id, err := d.store.Add(state.AddRequest{
			Command:      m.Command,
			Path:         m.Path,
			Label:        m.Label,
			Priority:     m.Priority,
			Group:        m.Group,
			Dependencies: m.Dependencies,
			Stashed:      m.Stashed,
			EnqueueAt:    m.EnqueueAt,
		})
		if err != nil {
			return nil, err
		}
		return protocol.AddResult{TaskID: id}, nil

	case protocol.EditRequest:
		e, err := d.store.RequestEdit(m.TaskID)
		if err != nil {
			return nil, err
		}
		return protocol.EditResult{TaskID: e.TaskID, Command: e.Command, Path: e.Path, Label: e.Label, Priority: e.Priority}, nil

	case protocol.Edit:
		err := d.store.CommitEdit(state.Edit{
			TaskID:      m.TaskID,
			Command:     m.Command,
			Path:        m.Path,
			Label:       m.Label,
			DeleteLabel: m.DeleteLabel,
			Priority:    m.Priority,
		})
		if err != nil {
			return nil, err
		}
		return protocol.Success{Text: fmt.Sprintf("Task %d edited", m.TaskID)}, nil

	case protocol.EditRestore:
		if err := d.store.RestoreEdit(m.TaskID); err != nil {
			return nil, err
		}
		return protocol.Success{Text: fmt.Sprintf("Edit of task %d abandoned", m.TaskID)}, nil

	case protocol.Start:
		return batch(d.store.Start(m.Selection, m.Force))
	case protocol.Pause:
		return batch(d.store.Pause(m.Selection, m.Wait))
	case protocol.Kill:
		return batch(d.store.Kill(m.Selection))
	case protocol.Remove:
		return batch(d.store.Remove(m.Selection))
	case protocol.Stash:
		return batch(d.store.Stash(m.Selection, m.EnqueueAt))
	case protocol.Enqueue:
		return batch(d.store.Enqueue(m.Selection, m.EnqueueAt))
	case protocol.Restart:
		return batch(d.store.Restart(m.Selection, m.Stashed))

	case protocol.Clean:
		removed, err := d.store.Clean(m.SuccessfulOnly, m.Group)
		if err != nil {
			return nil, err
		}
		outcomes := make([]task.Outcome, 0, len(removed))
		for _, id := range removed {
			outcomes = append(outcomes, task.Outcome{TaskID: id, Accepted: true})
		}
		return protocol.Batch{Outcomes: outcomes}, nil

	case protocol.Status:
		return protocol.StatusResult{State: d.store.Snapshot()}, nil

	case protocol.GroupAdd:
		parallel := m.Parallel
		if parallel == 0 {
			parallel = 1
		}
		if err := d.store.AddGroup(m.Name, parallel); err != nil {
			return nil, err
		}
		return protocol.Success{Text: fmt.Sprintf("Group %q added", m.Name)}, nil

	case protocol.GroupRemove:
		if err := d.store.RemoveGroup(m.Name); err != nil {
			return nil, err
		}
		return protocol.Success{Text: fmt.Sprintf("Group %q removed", m.Name)}, nil

	case protocol.Parallel:
		group := m.Group
		if group == "" {
			group = task.DefaultGroup
		}
		if err := d.store.SetParallel(group, m.Parallel); err != nil {
			return nil, err
		}
		return protocol.Success{Text: fmt.Sprintf("Group %q runs %d tasks in parallel", group, m.Parallel)}, nil

	case protocol.Log:
		if _, err := d.store.Task(m.TaskID); err != nil {
			return nil, err
		}
		if d.logs == nil {
			return nil, errors.NotFound(fmt.Sprintf("task %d has no output", m.TaskID)).Build()
		}
		out, truncated, err := d.logs.ReadLog(m.TaskID, m.Limit)
		if err != nil {
			return nil, err
		}
		return protocol.LogResult{TaskID: m.TaskID, Output: out, Truncated: truncated}, nil

	case protocol.Shutdown:
		d.shutdown()
		return protocol.Success{Text: "Daemon is shutting down"}, nil

	default:
		return nil, errors.ProtocolError(fmt.Sprintf("unsupported request type %q", req.RequestType())).Build()
	}
}

func batch(outcomes []task.Outcome, err error) (protocol.Response, error) {
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []task.Outcome{}
	}
	return protocol.Batch{Outcomes: outcomes}, nil
}
