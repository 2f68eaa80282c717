package worker

import "errors"

// ErrShutdownTimeout is returned when workers outlive the shutdown deadline.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
