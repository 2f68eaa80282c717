package model

import (
	"fmt"
	"time"

	"github.com/okian/gigtrust/internal/domain/status"
)

// Role selects which profile table a user's trust state lives in.
type Role string

// Marketplace roles that carry a trust profile.
const (
	RoleWorker Role = "worker"
	RoleClient Role = "client"
)

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w, got %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is worker or client.
func (r Role) Valid() bool {
	return r == RoleWorker || r == RoleClient
}

// Profile is the role-specific record caching the last computed trust state.
type Profile struct {
	UserID      string
	Role        Role
	TrustScore  int
	TrustStatus status.Status
	TrustHold   bool
	UpdatedAt   time.Time
}

// RescoreJob asks the worker pool to recompute one user's profile.
type RescoreJob struct {
	UserID     string
	Role       Role
	Reason     string
	EnqueuedAt time.Time
}

// Key identifies the profile a job targets; jobs with equal keys coalesce.
func (j RescoreJob) Key() string {
	return string(j.Role) + ":" + j.UserID
}
