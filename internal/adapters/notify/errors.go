package notify

import "errors"

// Sentinel kinds for dispatch errors.
var (
	ErrConfig      = errors.New("notifier misconfigured")
	ErrUnavailable = errors.New("notifier unavailable")
)
