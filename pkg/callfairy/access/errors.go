package access

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a referenced user, organisation, agent or
	// permission does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAssigned is returned when a user is already the active agent of
	// a different organisation.
	ErrAlreadyAssigned = errors.New("already assigned")
	// ErrInvalidState is returned when an operation does not apply to the
	// current state of its target.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized is returned when the caller is known but not allowed.
	ErrUnauthorized = errors.New("unauthorized")
)

// notFound wraps gorm's record-not-found as ErrNotFound and passes other errors through.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func denied(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}
