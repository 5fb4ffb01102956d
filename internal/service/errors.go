package service

import "errors"

var (
	ErrPermissionDenied       = errors.New("permission to record audio denied")
	ErrOutputPrepareFailed    = errors.New("failed to prepare output file")
	ErrRecorderStartFailed    = errors.New("recorder failed to start")
	ErrNoActiveSession        = errors.New("no active recording session")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrRecordingSaveFailed    = errors.New("failed to save recording")

	// ErrServiceStopped is returned by calls made after Run has returned
	ErrServiceStopped = errors.New("recorder service stopped")
)
