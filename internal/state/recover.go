package state

import (
	"time"

	"git.home.luguber.info/inful/shq/internal/task"
)

// Recover repairs a state loaded at daemon start. Processes never survive a
// restart, so running and suspended tasks become errored. Edit locks belong
// to clients of the previous daemon and are released. It returns the ids it
// changed.
func Recover(st *task.State, now time.Time) []int {
	var repaired []int
	for _, id := range st.SortedIDs() {
		t := st.Tasks[id]
		switch cur := t.Status.(type) {
		case task.Running:
			enq, start := cur.EnqueuedAt, cur.Start
			t.Status = task.Done{EnqueuedAt: &enq, Start: &start, End: now, Result: task.Errored(interruptedReason)}
		case task.Paused:
			if !cur.Suspended() {
				continue
			}
			enq := cur.EnqueuedAt
			t.Status = task.Done{EnqueuedAt: &enq, Start: cur.Start, End: now, Result: task.Errored(interruptedReason)}
		case task.Locked:
			t.Status = cur.Previous
		default:
			continue
		}
		repaired = append(repaired, id)
	}
	return repaired
}

const interruptedReason = "daemon restarted while task was running"
