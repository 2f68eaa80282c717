package scoring

import "errors"

// ErrReadEvents wraps failures of the underlying EventReader.
var ErrReadEvents = errors.New("read trust events")
