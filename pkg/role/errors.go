package role

import "errors"

var (
	// ErrEmptyRoleName is returned when a role name is empty.
	ErrEmptyRoleName = errors.New("role name cannot be empty")

	// ErrRoleNotFound is returned when an operation requires a role that
	// does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a role whose key is already
	// taken.
	ErrRoleExists = errors.New("role already exists")

	// ErrRolePopulated is returned when deletion was asked to fail on a
	// role that still has members.
	ErrRolePopulated = errors.New("role contains members and cannot be deleted")
)
