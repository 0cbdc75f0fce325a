// Package errors provides the classified error primitives used across shq.
//
// Errors carry a category (not_found, invalid_transition, already_locked, ...),
// a severity and a retry strategy. The daemon turns them into structured
// failure responses; the client maps them to exit codes.
//
// Example usage:
//
//	err := errors.NotFound("task not found").
//		WithContext("task_id", id).
//		Build()
package errors
