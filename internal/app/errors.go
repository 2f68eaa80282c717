package service

import (
	"errors"

	"github.com/okian/gigtrust/internal/domain/model"
)

// Sentinel kinds returned by the service.
var (
	ErrInvalidInput = model.ErrInvalidInput
	ErrNotFound     = model.ErrNotFound
	// ErrBackpressure means the event was stored but its rescore was not
	// queued; the next rescore of the user picks it up.
	ErrBackpressure = errors.New("rescore queue full")
)
