package repository

import (
	"errors"
	"fmt"

	"github.com/okian/gigtrust/internal/domain/model"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = model.ErrNotFound
	ErrInvalidRole   = model.ErrInvalidRole
	ErrNotPending    = errors.New("payment is not pending")
	ErrDuplicate     = errors.New("duplicate key")
	ErrInvalidLimit  = fmt.Errorf("%w: limit must be positive", model.ErrInvalidInput)
	ErrUnknownDriver = errors.New("unknown database driver")
)
