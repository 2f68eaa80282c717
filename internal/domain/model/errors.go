package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds shared across layers.
var (
	// ErrInvalidInput marks a validation failure; nothing was mutated.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a missing profile or payment.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRole is the validation error for roles other than worker and client.
	ErrInvalidRole = fmt.Errorf("%w: role must be worker or client", ErrInvalidInput)
)
