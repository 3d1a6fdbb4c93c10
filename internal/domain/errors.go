package domain

import "errors"

// Sentinel errors shared by every layer of the engine. Callers classify
// failures with errors.Is; the wrapped message carries the detail.
var (
	// ErrInvalidInput indicates a caller contract violation such as an
	// out-of-range probability or a malformed fingerprint. Nothing is
	// persisted when it is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied indicates the acting principal lacks the
	// capability tier an operation requires.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition indicates a case status change that the
	// lifecycle forbids, including any attempt to modify a terminal case.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound indicates the referenced case does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRepositoryUnavailable indicates a storage failure or timeout.
	// Operations failing with it are safe to retry.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
