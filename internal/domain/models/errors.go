package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAlert      = errors.New("invalid alert")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")
	ErrNotTriggerable    = errors.New("alert cannot be triggered now")
	// ErrStale is returned when a patch lost against a newer write.
	ErrStale = errors.New("stale update")
)
