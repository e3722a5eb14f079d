package models

import (
	"context"
	"errors"
	"fmt"

	dErrors "entitystore/pkg/domain-errors"
)

// Error kinds surfaced by the entity service. Constructors below wrap them in
// coded domain errors so callers can match with errors.Is and transports can
// map with dErrors.CodeOf.
var (
	ErrInvalidIdentity        = errors.New("invalid identity")
	ErrInvalidAttributes      = errors.New("invalid attributes")
	ErrIdentityMismatch       = errors.New("identity mismatch")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrEntityNotFound         = errors.New("entity not found")
	ErrEntityDeleted          = errors.New("entity deleted")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrSchemaUnavailable      = errors.New("schema unavailable")
	ErrPrecondition           = errors.New("precondition failed")
)

func InvalidIdentity(format string, args ...any) error {
	return dErrors.Wrap(ErrInvalidIdentity, dErrors.CodeInvalidInput, fmt.Sprintf(format, args...))
}

func InvalidAttributes(cause error) error {
	return dErrors.Wrap(errors.Join(ErrInvalidAttributes, cause), dErrors.CodeValidation, cause.Error())
}

func IdentityMismatch(format string, args ...any) error {
	return dErrors.Wrap(ErrIdentityMismatch, dErrors.CodeInvariantViolation, fmt.Sprintf(format, args...))
}

func ConcurrentModification(attempts int) error {
	return dErrors.Wrap(ErrConcurrentModification, dErrors.CodeConflict,
		fmt.Sprintf("entity modified concurrently, gave up after %d attempts", attempts))
}

func EntityNotFound(entityID string) error {
	return dErrors.Wrap(ErrEntityNotFound, dErrors.CodeNotFound, "entity "+entityID+" not found")
}

func EntityDeleted(entityID string) error {
	return dErrors.Wrap(ErrEntityDeleted, dErrors.CodeConflict, "entity "+entityID+" was deleted concurrently")
}

func Precondition(msg string) error {
	return dErrors.Wrap(ErrPrecondition, dErrors.CodePrecondition, msg)
}

// StorageUnavailable wraps a store transport failure. Timeouts keep their own
// code so callers can tell them apart.
func StorageUnavailable(cause error) error {
	code := dErrors.CodeUnavailable
	if errors.Is(cause, context.DeadlineExceeded) {
		code = dErrors.CodeTimeout
	}
	return dErrors.Wrap(errors.Join(ErrStorageUnavailable, cause), code, "entity storage unavailable")
}

func SchemaUnavailable(entityType string, cause error) error {
	return dErrors.Wrap(errors.Join(ErrSchemaUnavailable, cause), dErrors.CodeUnavailable,
		"schema for entity type "+entityType+" unavailable")
}
