package scheduler

import (
	"cmp"
	"maps"
	"slices"

	"git.home.luguber.info/inful/shq/internal/task"
)

// SelectCandidates returns the ids of the tasks that should be dispatched now.
// For every running group with free capacity it collects queued tasks whose
// dependencies all succeeded, orders them by priority (highest first) and id,
// and takes as many as the group has free slots. Groups are visited in name
// order so the result is deterministic.
func SelectCandidates(st *task.State) []int {
	var out []int
	for _, name := range slices.Sorted(maps.Keys(st.Groups)) {
		g := st.Groups[name]
		if g.Status != task.GroupRunning {
			continue
		}
		free := g.ParallelLimit - st.RunningCount(name)
		if free <= 0 {
			continue
		}

		var ready []*task.Task
		for _, t := range st.Tasks {
			if t.Group != name {
				continue
			}
			if _, ok := t.Status.(task.Queued); !ok {
				continue
			}
			if !st.DependenciesMet(t) {
				continue
			}
			ready = append(ready, t)
		}
		slices.SortFunc(ready, func(a, b *task.Task) int {
			if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for _, t := range ready[:min(free, len(ready))] {
			out = append(out, t.ID)
		}
	}
	return out
}
