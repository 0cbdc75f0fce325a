package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// TaskPayload is the JSON body stored for every task lifecycle event.
type TaskPayload struct {
	Group     string       `json:"group"`
	Status    string       `json:"status,omitempty"`
	Command   string       `json:"command,omitempty"`
	EnqueueAt *time.Time   `json:"enqueue_at,omitempty"`
	Result    *task.Result `json:"result,omitempty"`
	RuntimeMS int64        `json:"runtime_ms,omitempty"`
}

// TaskEvent is a stored state.Event.
type TaskEvent struct {
	BaseEvent
	TaskPayload
}

// NewTaskEvent converts a committed store event into a storable event.
func NewTaskEvent(ev state.Event) (*TaskEvent, error) {
	p := TaskPayload{
		Group:     ev.Group,
		Status:    string(ev.Status),
		Command:   ev.Command,
		EnqueueAt: ev.EnqueueAt,
		Result:    ev.Result,
		RuntimeMS: ev.Runtime.Milliseconds(),
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMarshalPayloadFailed, ev.Type, err)
	}
	return &TaskEvent{
		BaseEvent: BaseEvent{
			EventTaskID:    ev.TaskID,
			EventType:      string(ev.Type),
			EventTimestamp: ev.Time,
			EventPayload:   payload,
		},
		TaskPayload: p,
	}, nil
}

// DecodePayload parses the payload of a stored event.
func DecodePayload(e Event) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(e.Payload(), &p); err != nil {
		return TaskPayload{}, fmt.Errorf("decode %s payload: %w", e.Type(), err)
	}
	return p, nil
}
