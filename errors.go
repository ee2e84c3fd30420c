package entities

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

// ExceptionType is a stable, wire-compatible enumeration of the
// failure categories a scheduler can report back to a caller, a closed
// enumeration rather than a free-form string, with any free-form
// detail kept only in the diagnostic ExceptionDetails payload.
type ExceptionType string

const (
	// ExceptionOperationFailed: the user handler returned an error.
	ExceptionOperationFailed ExceptionType = "OPERATION_FAILED"
	// ExceptionUnknownOperation: no handler registered for the name.
	ExceptionUnknownOperation ExceptionType = "UNKNOWN_OPERATION"
	// ExceptionNotExisting: an operation observed a non-existing entity
	// for an op that requires prior construction.
	ExceptionNotExisting ExceptionType = "ENTITY_NOT_EXISTING"
	// ExceptionSerializationFailed: input/result (de)serialization failed.
	ExceptionSerializationFailed ExceptionType = "SERIALIZATION_FAILED"
	// ExceptionProtocolViolation: a malformed/illegal message (bad lock
	// position, duplicate lockSet entries, reserved-operation misuse).
	ExceptionProtocolViolation ExceptionType = "PROTOCOL_VIOLATION"
)

// Error taxonomy. Each constructor wraps the go-errors
// category/text-code convention used across the codebase.
var (
	ErrStateVersionConflict = apperrors.New("scheduler state version conflict", apperrors.CategoryConflict).
					WithTextCode("ENTITY_STATE_VERSION_CONFLICT")

	ErrRuntime = apperrors.New("durable runtime error", apperrors.CategoryExternal).
			WithTextCode("ENTITY_RUNTIME_ERROR")

	ErrFatalStartup = apperrors.New("fatal scheduler startup condition", apperrors.CategoryConflict).
				WithTextCode("ENTITY_FATAL_STARTUP")
)

// NewOperationError builds the go-errors value for a user operation
// failure: captured per-request into a ResponseMessage, it does not
// stop the batch or kill the entity.
func NewOperationError(operation string, cause error) *apperrors.Error {
	return apperrors.Wrap(cause, apperrors.CategoryHandler,
		fmt.Sprintf("operation %q failed", operation)).
		WithTextCode("ENTITY_OPERATION_FAILED").
		WithMetadata(map[string]any{"operation": operation})
}

// NewProtocolViolation builds the go-errors value for a dropped,
// invariant-violating message: logged and dropped, the scheduler must
// not crash.
func NewProtocolViolation(reason string, metadata map[string]any) *apperrors.Error {
	err := apperrors.New(reason, apperrors.CategoryBadInput).
		WithTextCode("ENTITY_PROTOCOL_VIOLATION")
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// NewSerializationError builds the go-errors value for a failed
// (de)serialization of inbound input or outbound result.
func NewSerializationError(stage string, cause error) *apperrors.Error {
	return apperrors.Wrap(cause, apperrors.CategoryBadInput,
		fmt.Sprintf("%s serialization failed", stage)).
		WithTextCode("ENTITY_SERIALIZATION_FAILED")
}
