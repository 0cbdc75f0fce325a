package scheduler

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/metrics"
	"git.home.luguber.info/inful/shq/internal/task"
)

// DefaultInterval is the tick between passes when no change arrives.
const DefaultInterval = 500 * time.Millisecond

// Store is the part of state.Store the scheduler drives.
type Store interface {
	Snapshot() *task.State
	Dispatch(id int) (bool, error)
	Changes() <-chan struct{}
}

// Scheduler runs dispatch passes over the store.
type Scheduler struct {
	store    Store
	interval time.Duration
	recorder metrics.Recorder
}

// New creates a scheduler. A non-positive interval selects DefaultInterval.
func New(store Store, interval time.Duration, recorder metrics.Recorder) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Scheduler{store: store, interval: interval, recorder: recorder}
}

// Run executes passes until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("Starting scheduler", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Pass()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-s.store.Changes():
		case <-ticker.C:
		}
		s.Pass()
	}
}

// Pass dispatches every current candidate and returns how many started.
func (s *Scheduler) Pass() int {
	snap := s.store.Snapshot()
	counts := make(map[string]int, 6)
	for kind, n := range snap.CountByStatus() {
		counts[string(kind)] = n
	}
	s.recorder.SetTasksByStatus(counts)

	started := 0
	for _, id := range SelectCandidates(snap) {
		ok, err := s.store.Dispatch(id)
		if err != nil {
			slog.Error("Dispatch failed", logfields.TaskID(id), logfields.Error(err))
			if classified, isClassified := errors.AsClassified(err); isClassified && classified.IsFatal() {
				break
			}
			continue
		}
		if ok {
			started++
			s.recorder.IncDispatch(snap.Tasks[id].Group)
		}
	}
	if started > 0 {
		slog.Debug("Scheduler pass dispatched tasks", slog.Int("started", started))
	}
	return started
}
