package catalog

import "errors"

// Error taxonomy. Every error returned by a catalog operation wraps exactly one of these,
// so callers classify with errors.Is.
var (
	// ErrNotFound is returned when a referenced namespace, job, dataset, tag or run must
	// already exist and does not.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when creating a run with an explicit id that already exists.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed input. It is raised before any transaction begins.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence wraps transaction failures. The transaction is always rolled back in full.
	ErrPersistence = errors.New("persistence failure")

	// ErrListener wraps a listener failure. It is logged by the dispatcher and never returned
	// to the caller that triggered the notification.
	ErrListener = errors.New("listener failure")
)
