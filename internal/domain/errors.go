package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates that a non-terminal rollout already exists
	// for the service.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates that a caller-provided value violates a
	// precondition. Rejected before any state mutation.
	ErrValidation = errors.New("invalid argument")

	// ErrInvalidState indicates that an operator action is illegal in
	// the rollout's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrRollbackFailed indicates that retries were exhausted while
	// reverting traffic. The rollout is left in RollbackFailed and
	// requires manual intervention.
	ErrRollbackFailed = errors.New("rollback failed")
)
