// Package state owns the authoritative task table.
//
// A Store holds the single mutable task.State behind a mutex. Every mutation
// is one Store method: it validates the request against the status state
// machine, applies the change, persists the new state and then notifies
// observers and the scheduler. Rejected requests never modify the state.
//
// Key components:
//   - Store: task and group transitions, dispatch and completion
//   - Edit lock: RequestEdit / CommitEdit / RestoreEdit
//   - JSONStore: file persistence of the whole state
//   - Recover: repairs a loaded state whose processes did not survive a restart
package state
