package audit

import "errors"

// ErrNotFound is returned when a stored run does not exist.
var ErrNotFound = errors.New("audit run not found")

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
