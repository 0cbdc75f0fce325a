package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/metrics"
	"git.home.luguber.info/inful/shq/internal/state"
)

const appendTimeout = 5 * time.Second

// EventEmitter records committed store events in the event store, keeps the
// history projection current and feeds the task metrics. Store and
// projection are optional.
type EventEmitter struct {
	store      eventstore.Store
	projection *eventstore.TaskHistoryProjection
	recorder   metrics.Recorder
}

// NewEventEmitter creates a new EventEmitter with the given store and projection.
func NewEventEmitter(store eventstore.Store, projection *eventstore.TaskHistoryProjection, recorder metrics.Recorder) *EventEmitter {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &EventEmitter{store: store, projection: projection, recorder: recorder}
}

// TaskEvent implements state.Observer.
func (e *EventEmitter) TaskEvent(ev state.Event) {
	if ev.Type == state.EventTaskFinished && ev.Result != nil {
		e.recorder.IncTaskFinished(ev.Group, string(ev.Result.Kind))
		if ev.Runtime > 0 {
			e.recorder.ObserveTaskRuntime(ev.Group, ev.Runtime)
		}
	}

	if e.store == nil && e.projection == nil {
		return
	}
	event, err := eventstore.NewTaskEvent(ev)
	if err != nil {
		slog.Error("Failed to build task event", logfields.TaskID(ev.TaskID), logfields.Error(err))
		return
	}
	if err := e.EmitEvent(context.Background(), event); err != nil {
		slog.Warn("Failed to record task event",
			slog.String("event", string(ev.Type)),
			logfields.TaskID(ev.TaskID),
			logfields.Error(err))
	}
}

// EmitEvent persists an event to the event store and updates the projection.
func (e *EventEmitter) EmitEvent(ctx context.Context, event eventstore.Event) error {
	if e.projection != nil {
		e.projection.Apply(event)
	}
	if e.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	return e.store.Append(ctx, event)
}
