package account

import (
	"errors"
	"fmt"

	"github.com/tendant/simple-membership/pkg/docstore"
)

// interpretConflict classifies a failed commit by the offending document key:
// the account key means the username was claimed first, the email constraint
// key means the email was. Anything else is passed through wrapped. Pass an
// empty key to exclude a classification.
func interpretConflict(err error, accountKey, emailConstraintKey string) error {
	var conflict *docstore.ConcurrencyError
	if !errors.As(err, &conflict) {
		return err
	}

	switch {
	case accountKey != "" && conflict.Key == accountKey:
		return ErrDuplicateUsername
	case emailConstraintKey != "" && conflict.Key == emailConstraintKey:
		return ErrDuplicateEmail
	}
	return fmt.Errorf("unexpected commit conflict: %w", err)
}
