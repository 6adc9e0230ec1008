package models

import "errors"

// Failure classes shared by the gate, upload sessions and the playback engine.
// Callers wrap them with context and test with errors.Is.
var (
	// ErrBusy indicates contention on the storage gate.
	ErrBusy = errors.New("busy")

	// ErrConflict indicates a session of the same kind is already active.
	ErrConflict = errors.New("conflict")

	// ErrSourceUnavailable indicates the requested playback file cannot be read.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrIOFailure indicates an underlying storage or audio operation failed.
	ErrIOFailure = errors.New("io failure")

	// ErrInvalidTransition indicates the operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidInput indicates a malformed or unsafe request, such as a bad filename.
	ErrInvalidInput = errors.New("invalid input")
)
