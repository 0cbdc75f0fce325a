package scheduler

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// checkingProcs verifies, under the store lock, that only queued tasks are
// spawned. Spawned ids are handed to a finisher outside the lock.
type checkingProcs struct {
	mu         sync.Mutex
	violations []string
	spawned    chan int
}

func (p *checkingProcs) Spawn(t *task.Task) error {
	if _, ok := t.Status.(task.Queued); !ok {
		p.violate(fmt.Sprintf("task %d spawned in status %s", t.ID, t.Status.Kind()))
	}
	select {
	case p.spawned <- t.ID:
	default:
		p.violate("spawn channel full")
	}
	return nil
}
func (p *checkingProcs) Kill(int) error    { return nil }
func (p *checkingProcs) Suspend(int) error { return nil }
func (p *checkingProcs) Resume(int) error  { return nil }

func (p *checkingProcs) violate(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations = append(p.violations, msg)
}

// transitionLog replays committed events in delivery order and checks that a
// task only starts from Queued and never changes after removal. It also
// tracks the peak number of running tasks.
type transitionLog struct {
	mu         sync.Mutex
	last       map[int]task.StatusKind
	removed    map[int]bool
	running    int
	maxRunning int
	started    int
	violations []string
}

func newTransitionLog() *transitionLog {
	return &transitionLog{last: make(map[int]task.StatusKind), removed: make(map[int]bool)}
}

func (l *transitionLog) TaskEvent(e state.Event) {
	if e.TaskID < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.removed[e.TaskID] {
		l.violations = append(l.violations, fmt.Sprintf("%s on removed task %d", e.Type, e.TaskID))
	}
	prev, seen := l.last[e.TaskID]
	switch e.Type {
	case state.EventTaskStarted:
		l.started++
		if !seen || prev != task.KindQueued {
			l.violations = append(l.violations, fmt.Sprintf("task %d started from %s", e.TaskID, prev))
		}
	case state.EventTaskRemoved:
		l.removed[e.TaskID] = true
	}
	if prev == task.KindRunning && e.Status != task.KindRunning {
		l.running--
	}
	if prev != task.KindRunning && e.Status == task.KindRunning {
		l.running++
		l.maxRunning = max(l.maxRunning, l.running)
	}
	l.last[e.TaskID] = e.Status
}

func TestConcurrentClientsAndPasses(t *testing.T) {
	const (
		limit   = 3
		tasks   = 30
		clients = 4
		rounds  = 60
	)
	s := state.NewStore(task.NewState(), state.Options{})
	procs := &checkingProcs{spawned: make(chan int, tasks*2)}
	s.SetProcessControl(procs)
	transitions := newTransitionLog()
	s.Subscribe(transitions)
	require.NoError(t, s.SetParallel(task.DefaultGroup, limit))

	for range tasks {
		_, err := s.Add(state.AddRequest{Command: "true", Path: "/tmp"})
		require.NoError(t, err)
	}
	sched := New(s, time.Hour, nil)
	require.Positive(t, sched.Pass())

	stop := make(chan struct{})
	var background sync.WaitGroup
	background.Add(3)
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sched.Pass()
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			case id := <-procs.spawned:
				time.Sleep(time.Millisecond)
				s.Finish(id, task.Succeeded())
			}
		}
	}()
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Snapshot()
			assert.NoError(t, snap.Validate())
			assert.LessOrEqual(t, snap.RunningCount(task.DefaultGroup), limit)
			time.Sleep(50 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(clients)
	for c := range clients {
		go func() {
			defer wg.Done()
			for round := range rounds {
				id := rand.IntN(tasks)
				switch (c + round) % 3 {
				case 0:
					ed, err := s.RequestEdit(id)
					if err != nil {
						continue
					}
					time.Sleep(100 * time.Microsecond)
					if round%2 == 0 {
						priority := ed.Priority + 1
						assert.NoError(t, s.CommitEdit(state.Edit{TaskID: id, Priority: &priority}))
					} else {
						assert.NoError(t, s.RestoreEdit(id))
					}
				case 1:
					_, _ = s.Start(task.TaskIDs(id), false)
				case 2:
					_, _ = s.Remove(task.TaskIDs(id))
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	background.Wait()

	procs.mu.Lock()
	assert.Empty(t, procs.violations)
	procs.mu.Unlock()

	transitions.mu.Lock()
	defer transitions.mu.Unlock()
	assert.Empty(t, transitions.violations)
	assert.Positive(t, transitions.started)
	assert.LessOrEqual(t, transitions.maxRunning, limit)
	assert.LessOrEqual(t, s.Snapshot().RunningCount(task.DefaultGroup), limit)
}

type failingPersister struct{}

func (failingPersister) Save(*task.State) error {
	return errors.PersistenceError("disk full").Build()
}

type countingStore struct {
	*state.Store
	mu         sync.Mutex
	dispatches int
}

func (c *countingStore) Dispatch(id int) (bool, error) {
	c.mu.Lock()
	c.dispatches++
	c.mu.Unlock()
	return c.Store.Dispatch(id)
}

func TestPass_StopsOnFatalDispatchError(t *testing.T) {
	s := state.NewStore(task.NewState(), state.Options{Persister: failingPersister{}})
	procs := &countingProcs{}
	s.SetProcessControl(procs)
	require.NoError(t, s.SetParallel(task.DefaultGroup, 3))
	for range 3 {
		_, err := s.Add(state.AddRequest{Command: "true", Path: "/tmp"})
		require.NoError(t, err)
	}
	require.Error(t, s.Halted())

	store := &countingStore{Store: s}
	assert.Equal(t, 0, New(store, time.Hour, nil).Pass())
	assert.Equal(t, 1, store.dispatches)
	assert.Empty(t, procs.Spawned())
}
