package types

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError indicates a pool or job does not exist for the calling team.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError indicates the request clashes with current state, such as a
// second active autogen job for a pool.
type ConflictError struct {
	Resource string
	ID       uuid.UUID
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Message)
}
