package account

import "errors"

var (
	// ErrNotFound is returned when an operation requires an account that
	// does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateUsername is returned when a commit conflicted on the
	// account key itself.
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrDuplicateEmail is returned when a commit conflicted on the email
	// uniqueness claim.
	ErrDuplicateEmail = errors.New("email already taken")
)
