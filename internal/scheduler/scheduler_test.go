package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

type countingProcs struct {
	mu      sync.Mutex
	spawned []int
}

func (c *countingProcs) Spawn(t *task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawned = append(c.spawned, t.ID)
	return nil
}
func (c *countingProcs) Kill(int) error    { return nil }
func (c *countingProcs) Suspend(int) error { return nil }
func (c *countingProcs) Resume(int) error  { return nil }

func (c *countingProcs) Spawned() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.spawned...)
}

func newStore(t *testing.T) (*state.Store, *countingProcs) {
	t.Helper()
	s := state.NewStore(task.NewState(), state.Options{})
	procs := &countingProcs{}
	s.SetProcessControl(procs)
	return s, procs
}

func runningCount(s *state.Store, group string) int {
	return s.Snapshot().RunningCount(group)
}

func TestPass_NeverExceedsParallelLimit(t *testing.T) {
	s, procs := newStore(t)
	require.NoError(t, s.SetParallel(task.DefaultGroup, 2))
	for range 5 {
		_, err := s.Add(state.AddRequest{Command: "true", Path: "/tmp"})
		require.NoError(t, err)
	}

	sched := New(s, time.Hour, nil)
	assert.Equal(t, 2, sched.Pass())
	assert.Equal(t, 0, sched.Pass())
	assert.Equal(t, 2, runningCount(s, task.DefaultGroup))

	s.Finish(0, task.Succeeded())
	assert.Equal(t, 1, sched.Pass())
	assert.Equal(t, 2, runningCount(s, task.DefaultGroup))
	assert.Equal(t, []int{0, 1, 2}, procs.Spawned())
}

func TestPass_DispatchOrderIsDeterministic(t *testing.T) {
	s, procs := newStore(t)
	for _, p := range []int{0, 3, 0, 3} {
		_, err := s.Add(state.AddRequest{Command: "true", Path: "/tmp", Priority: p})
		require.NoError(t, err)
	}
	sched := New(s, time.Hour, nil)
	for id := range 4 {
		sched.Pass()
		s.Finish(procs.Spawned()[id], task.Succeeded())
	}
	assert.Equal(t, []int{1, 3, 0, 2}, procs.Spawned())
}

func TestPass_FailedDependencyBlocksForever(t *testing.T) {
	s, procs := newStore(t)
	_, err := s.Add(state.AddRequest{Command: "false", Path: "/tmp"})
	require.NoError(t, err)
	_, err = s.Add(state.AddRequest{Command: "true", Path: "/tmp", Dependencies: []int{0}})
	require.NoError(t, err)

	sched := New(s, time.Hour, nil)
	sched.Pass()
	s.Finish(0, task.Failed(1))
	for range 3 {
		assert.Equal(t, 0, sched.Pass())
	}
	assert.Equal(t, []int{0}, procs.Spawned())
	tk, err := s.Task(1)
	require.NoError(t, err)
	assert.Equal(t, task.KindQueued, tk.Status.Kind())
}

func TestRun_ReactsToChanges(t *testing.T) {
	s, procs := newStore(t)
	sched := New(s, time.Hour, nil)

	go sched.Run(t.Context())

	_, err := s.Add(state.AddRequest{Command: "true", Path: "/tmp"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(procs.Spawned()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _ := newStore(t)
	sched := New(s, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
