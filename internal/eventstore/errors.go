package eventstore

import (
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
)

func storeError(message string) *errors.ErrorBuilder {
	return errors.NewError(errors.CategoryEventStore, message).Retryable()
}

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = storeError("could not open event store database").Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = storeError("failed to initialize event store schema").Build()

	ErrEventAppendFailed = storeError("failed to append event to store").Build()
	ErrEventQueryFailed  = storeError("failed to query events from store").Build()
	ErrEventScanFailed   = storeError("failed to scan event rows").Build()

	// ErrMarshalPayloadFailed indicates JSON marshaling of event payload failed.
	ErrMarshalPayloadFailed = storeError("failed to marshal event payload").Build()
)
