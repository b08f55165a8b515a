package trail

import "fmt"

// StateError is returned on invalid lifecycle transitions, e.g. pausing when
// no session exists.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("trail: %s: %s", e.Op, e.Reason)
}

// AuthError is returned when an operation requires an authenticated user and
// none is present.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("trail: not authenticated: %s", e.Reason)
}

// NotFoundError is returned when an operation targets an unknown capture item.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("trail: %s not found: %s", e.Kind, e.ID)
}
