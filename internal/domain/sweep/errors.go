package sweep

import "errors"

// Sentinel kinds for sweep errors.
var (
	ErrSweepInProgress = errors.New("overdue sweep already running")
	ErrSelectOverdue   = errors.New("select overdue payments")
	ErrInterrupted     = errors.New("overdue sweep interrupted")
)
