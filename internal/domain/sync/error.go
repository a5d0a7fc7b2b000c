package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchNotFound is returned when a ledger row does not exist or
	// belongs to another clinic.
	ErrBatchNotFound = errors.New("sync batch not found")

	// ErrNotFound is the shared not-found sentinel entity handlers return
	// from Get so the dispatcher can tell a missing target from a handler
	// fault.
	ErrNotFound = errors.New("record not found")

	// ErrMappingExists is returned by the mapping store when a key is
	// already bound to a different server id. Unreachable through the
	// dispatcher, which checks the mapping before creating.
	ErrMappingExists = errors.New("mapping already exists with a different server id")
)

// ValidationError rejects a malformed batch before any persistence.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid sync batch: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Conflict reasons reported back to the client. Conflicts are outcomes,
// not errors: they never abort the batch.
const (
	ReasonImmutable      = "entity type is append-only; records cannot be updated, only created"
	ReasonStaleWrite     = "server has a newer version (last-write-wins)"
	ReasonTargetNotFound = "no server record found for the given local id"
)
