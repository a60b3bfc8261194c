// Package errs holds the sentinel errors shared by the bot's components.
//
// Call sites wrap them with goerr so that values travel with the error:
//
//	return goerr.Wrap(errs.ErrNotFound, "subscriber not found", goerr.V("ref", ref))
//
// and callers classify with errors.Is.
package errs

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrValidation marks bad command syntax or arguments. User-correctable.
	ErrValidation = goerr.New("validation failed")
	// ErrAuthorization marks a role that is insufficient for the operation.
	ErrAuthorization = goerr.New("not authorized")
	// ErrConflict marks duplicates and self-targeting operations.
	ErrConflict = goerr.New("conflict")
	// ErrNotFound marks an unresolved contact, poll or report target.
	ErrNotFound = goerr.New("not found")
	// ErrIndex marks an out-of-range poll option.
	ErrIndex = goerr.New("index out of range")
	// ErrExternalService marks a translation or delivery failure.
	ErrExternalService = goerr.New("external service failed")
	// ErrPersistence marks unreadable or unwritable durable state.
	ErrPersistence = goerr.New("persistence failed")
)

// Kind returns the first sentinel err matches, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation,
		ErrAuthorization,
		ErrConflict,
		ErrNotFound,
		ErrIndex,
		ErrExternalService,
		ErrPersistence,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Values flattens the goerr values attached anywhere in err's chain.
func Values(err error) map[string]any {
	var ge *goerr.Error
	if !errors.As(err, &ge) {
		return nil
	}
	return ge.Values()
}
