package task

import (
	"fmt"
	"maps"
	"slices"
)

// GroupStatus controls whether a group dispatches tasks.
type GroupStatus string

const (
	GroupRunning GroupStatus = "Running"
	GroupPaused  GroupStatus = "Paused"
)

// Group is a named lane with its own parallelism limit.
type Group struct {
	Status        GroupStatus `json:"status"`
	ParallelLimit int         `json:"parallel_limit"`
}

// State is the aggregate of all tasks and groups.
type State struct {
	Tasks  map[int]*Task     `json:"tasks"`
	Groups map[string]*Group `json:"groups"`
	// NextID only grows, so ids are never reused.
	NextID int `json:"next_id"`
}

// NewState returns an empty state holding only the default group.
func NewState() *State {
	return &State{
		Tasks: make(map[int]*Task),
		Groups: map[string]*Group{
			DefaultGroup: {Status: GroupRunning, ParallelLimit: 1},
		},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Tasks:  make(map[int]*Task, len(s.Tasks)),
		Groups: make(map[string]*Group, len(s.Groups)),
		NextID: s.NextID,
	}
	for id, t := range s.Tasks {
		c.Tasks[id] = t.Clone()
	}
	for name, g := range s.Groups {
		gc := *g
		c.Groups[name] = &gc
	}
	return c
}

// SortedIDs returns all task ids in ascending order.
func (s *State) SortedIDs() []int {
	return slices.Sorted(maps.Keys(s.Tasks))
}

// TaskIDsInGroup returns the ids of a group's tasks in ascending order.
func (s *State) TaskIDsInGroup(group string) []int {
	var ids []int
	for id, t := range s.Tasks {
		if t.Group == group {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// RunningCount counts the tasks of a group that own a process. A suspended
// task keeps its slot so resuming it never overcommits the group.
func (s *State) RunningCount(group string) int {
	n := 0
	for _, t := range s.Tasks {
		if t.Group == group && HasProcess(t.Status) {
			n++
		}
	}
	return n
}

// DependenciesMet reports whether every dependency of t finished successfully.
// A dependency that no longer exists is never met.
func (s *State) DependenciesMet(t *Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := s.Tasks[dep]
		if !ok || !d.Succeeded() {
			return false
		}
	}
	return true
}

// Dependants returns the ids of unfinished tasks that depend on id.
func (s *State) Dependants(id int) []int {
	var ids []int
	for tid, t := range s.Tasks {
		if t.IsDone() {
			continue
		}
		if slices.Contains(t.Dependencies, id) {
			ids = append(ids, tid)
		}
	}
	slices.Sort(ids)
	return ids
}

// CountByStatus tallies tasks per status kind.
func (s *State) CountByStatus() map[StatusKind]int {
	counts := make(map[StatusKind]int, 6)
	for _, t := range s.Tasks {
		counts[t.Status.Kind()]++
	}
	return counts
}

// Validate checks the structural invariants of a loaded state.
func (s *State) Validate() error {
	if s.Tasks == nil || s.Groups == nil {
		return fmt.Errorf("state is missing tasks or groups")
	}
	if _, ok := s.Groups[DefaultGroup]; !ok {
		return fmt.Errorf("state is missing the %q group", DefaultGroup)
	}
	for name, g := range s.Groups {
		if g.ParallelLimit < 1 {
			return fmt.Errorf("group %q has parallel limit %d", name, g.ParallelLimit)
		}
	}
	for id, t := range s.Tasks {
		if t.ID != id {
			return fmt.Errorf("task keyed %d carries id %d", id, t.ID)
		}
		if id >= s.NextID {
			return fmt.Errorf("task %d is not below next id %d", id, s.NextID)
		}
		if _, ok := s.Groups[t.Group]; !ok {
			return fmt.Errorf("task %d references unknown group %q", id, t.Group)
		}
		if t.Status == nil {
			return fmt.Errorf("task %d has no status", id)
		}
	}
	return nil
}
