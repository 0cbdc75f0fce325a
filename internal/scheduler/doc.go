// Package scheduler decides which queued tasks run next and hands them to the
// store for dispatch.
//
// SelectCandidates is a pure function over a state snapshot. The Scheduler
// runs it whenever the store reports a committed change and on a fixed tick,
// then dispatches each candidate through state.Store.Dispatch, which
// re-checks eligibility under the store lock. Timers promotes stashed tasks
// with a delayed start using one-time gocron jobs.
package scheduler
