package scheduler

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// Timers arms one gocron one-time job per stashed task with a delayed start.
// When a job fires it calls promote with the task id.
type Timers struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[int]timer
	promote   func(id int)
	now       func() time.Time
}

type timer struct {
	job uuid.UUID
	at  time.Time
}

// NewTimers creates the timer set. promote is called from gocron's executor.
func NewTimers(promote func(id int)) (*Timers, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Timers{scheduler: s, jobs: make(map[int]timer), promote: promote, now: time.Now}, nil
}

// Start begins executing armed jobs.
func (t *Timers) Start() {
	slog.Info("Starting delayed start timers")
	t.scheduler.Start()
}

// Stop shuts the underlying scheduler down.
func (t *Timers) Stop() error {
	slog.Info("Stopping delayed start timers")
	return t.scheduler.Shutdown()
}

// Restore arms a timer for every entry, typically state.Store.DelayedStarts
// after a daemon restart.
func (t *Timers) Restore(starts map[int]time.Time) {
	for id, at := range starts {
		if err := t.Arm(id, at); err != nil {
			slog.Error("Failed to re-arm delayed start", logfields.TaskID(id), logfields.Error(err))
		}
	}
}

// Arm schedules promote(id) at at, replacing an earlier timer for the task.
// A time in the past fires immediately.
func (t *Timers) Arm(id int, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.jobs[id]; ok {
		if cur.at.Equal(at) {
			return nil
		}
		t.removeLocked(id)
	}

	start := gocron.OneTimeJobStartImmediately()
	if at.After(t.now()) {
		start = gocron.OneTimeJobStartDateTime(at)
	}
	job, err := t.newJob(id, at, start)
	if stderrors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		// at passed between the check above and gocron's own.
		job, err = t.newJob(id, at, gocron.OneTimeJobStartImmediately())
	}
	if err != nil {
		return fmt.Errorf("failed to create delayed start job: %w", err)
	}
	t.jobs[id] = timer{job: job.ID(), at: at}
	slog.Debug("Delayed start armed",
		logfields.TaskID(id),
		logfields.JobID(job.ID().String()),
		slog.Time("at", at))
	return nil
}

func (t *Timers) newJob(id int, at time.Time, start gocron.OneTimeJobStartAtOption) (gocron.Job, error) {
	return t.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(t.fire, id, at),
		gocron.WithName(fmt.Sprintf("delayed-start-%d", id)),
	)
}

// Disarm cancels the timer for a task, if any.
func (t *Timers) Disarm(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

// Armed returns the scheduled start of every armed task.
func (t *Timers) Armed() map[int]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]time.Time, len(t.jobs))
	for id, tm := range t.jobs {
		out[id] = tm.at
	}
	return out
}

// TaskEvent keeps the timers in line with the store: a task stashed with a
// start time is armed, any other change to the task disarms it.
func (t *Timers) TaskEvent(e state.Event) {
	if e.TaskID < 0 {
		return
	}
	if e.Status == task.KindStashed && e.EnqueueAt != nil {
		if err := t.Arm(e.TaskID, *e.EnqueueAt); err != nil {
			slog.Error("Failed to arm delayed start", logfields.TaskID(e.TaskID), logfields.Error(err))
		}
		return
	}
	// Locking disarms too; restoring the edit re-arms from the event.
	t.Disarm(e.TaskID)
}

func (t *Timers) removeLocked(id int) {
	cur, ok := t.jobs[id]
	if !ok {
		return
	}
	delete(t.jobs, id)
	if err := t.scheduler.RemoveJob(cur.job); err != nil {
		slog.Debug("Delayed start job already gone", logfields.TaskID(id), logfields.Error(err))
	}
}

func (t *Timers) fire(id int, at time.Time) {
	t.mu.Lock()
	if cur, ok := t.jobs[id]; ok && cur.at.Equal(at) {
		delete(t.jobs, id)
	}
	t.mu.Unlock()
	slog.Info("Delayed start reached", logfields.TaskID(id))
	t.promote(id)
}
