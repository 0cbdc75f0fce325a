// Package eventstore records task lifecycle events in SQLite and folds them
// into per-task history summaries.
package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// TaskHistory is a read model summarizing one task's lifecycle.
type TaskHistory struct {
	TaskID     int           `json:"task_id"`
	Group      string        `json:"group"`
	Command    string        `json:"command"`
	Status     string        `json:"status"`
	AddedAt    time.Time     `json:"added_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Runtime    time.Duration `json:"runtime,omitempty"`
	Result     *task.Result  `json:"result,omitempty"`
	Starts     int           `json:"starts"`
	Edits      int           `json:"edits"`
	Removed    bool          `json:"removed"`
}

// TaskHistoryProjection maintains an in-memory view of task history,
// reconstructed from events stored in the event store.
type TaskHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	tasks    map[int]*TaskHistory
	maxSize  int
	lastSync time.Time
}

// NewTaskHistoryProjection creates a projection backed by store. At most
// maxSize removed tasks are retained; live tasks are always kept.
func NewTaskHistoryProjection(store Store, maxSize int) *TaskHistoryProjection {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &TaskHistoryProjection{
		store:   store,
		tasks:   make(map[int]*TaskHistory),
		maxSize: maxSize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
func (p *TaskHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks = make(map[int]*TaskHistory)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.pruneLocked()
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *TaskHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
	if event.Type() == string(state.EventTaskRemoved) {
		p.pruneLocked()
	}
}

func (p *TaskHistoryProjection) applyEventLocked(event Event) {
	id := event.TaskID()
	if id < 0 {
		return
	}
	payload, err := DecodePayload(event)
	if err != nil {
		return
	}

	h, ok := p.tasks[id]
	if !ok {
		h = &TaskHistory{TaskID: id, AddedAt: event.Timestamp()}
		p.tasks[id] = h
	}
	if payload.Group != "" {
		h.Group = payload.Group
	}
	if payload.Command != "" {
		h.Command = payload.Command
	}
	if payload.Status != "" {
		h.Status = payload.Status
	}

	at := event.Timestamp()
	switch state.EventType(event.Type()) {
	case state.EventTaskAdded:
		h.AddedAt = at
	case state.EventTaskStarted:
		h.StartedAt = &at
		h.FinishedAt = nil
		h.Result = nil
		h.Starts++
	case state.EventTaskFinished:
		h.FinishedAt = &at
		h.Result = payload.Result
		h.Runtime = time.Duration(payload.RuntimeMS) * time.Millisecond
	case state.EventTaskEdited:
		h.Edits++
	case state.EventTaskRemoved:
		h.Removed = true
	}
}

// pruneLocked drops the oldest removed tasks beyond maxSize.
func (p *TaskHistoryProjection) pruneLocked() {
	var removed []*TaskHistory
	for _, h := range p.tasks {
		if h.Removed {
			removed = append(removed, h)
		}
	}
	if len(removed) <= p.maxSize {
		return
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].TaskID < removed[j].TaskID })
	for _, h := range removed[:len(removed)-p.maxSize] {
		delete(p.tasks, h.TaskID)
	}
}

// GetTask returns a copy of the summary for a task.
func (p *TaskHistoryProjection) GetTask(id int) (*TaskHistory, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h, ok := p.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *h
	return &cp, true
}

// GetHistory returns copies of all summaries, newest task first.
func (p *TaskHistoryProjection) GetHistory() []*TaskHistory {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*TaskHistory, 0, len(p.tasks))
	for _, h := range p.tasks {
		cp := *h
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TaskID > result[j].TaskID })
	return result
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *TaskHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
