package alarms

import "errors"

var (
	// ErrNotFound indicates a missing alarm record.
	ErrNotFound = errors.New("alarm: not found")
	// ErrAlreadyAcknowledged indicates a repeated acknowledgment.
	ErrAlreadyAcknowledged = errors.New("alarm: already acknowledged")
)
