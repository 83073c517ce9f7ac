package user

import "errors"

// Domain errors for the user package. Check with errors.Is().
var (
	// ErrUserNotFound is returned when no user matches the lookup.
	// Credential lookups do not distinguish unknown email from wrong
	// password; both return this error.
	ErrUserNotFound = errors.New("user: not found")

	// ErrEmailTaken is returned by sign-up when the email already exists.
	ErrEmailTaken = errors.New("user: email already registered")

	// ErrInvalidUser is returned when required fields are missing.
	ErrInvalidUser = errors.New("user: invalid")
)
