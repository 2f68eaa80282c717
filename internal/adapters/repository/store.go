// Package repository persists trust events, profiles, payments and
// overdue penalties behind small query interfaces.
package repository

import (
	"context"
	"time"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
)

// EventStore is the append-only trust event table.
type EventStore interface {
	// Insert stores e, assigning an ID when empty, and returns the stored event.
	Insert(ctx context.Context, e model.TrustEvent) (model.TrustEvent, error)
	// EventsSince returns userID's events created strictly after since.
	EventsSince(ctx context.Context, userID string, since time.Time) ([]model.TrustEvent, error)
	// ListEvents returns up to limit of userID's events, newest first.
	ListEvents(ctx context.Context, userID string, limit int) ([]model.TrustEvent, error)
}

// ProfileStore reads and writes the trust columns of worker_profiles and
// client_profiles. The table is chosen by role.
type ProfileStore interface {
	// GetProfile returns ErrNotFound if the profile does not exist.
	GetProfile(ctx context.Context, userID string, role model.Role) (model.Profile, error)
	// UpdateTrust writes score and status in one statement and returns the
	// number of affected rows; 0 means the profile does not exist.
	UpdateTrust(ctx context.Context, userID string, role model.Role, score int, st status.Status) (int64, error)
	// SetHold sets or clears the hard hold and returns affected rows.
	SetHold(ctx context.Context, userID string, role model.Role, hold bool) (int64, error)
	// CreateProfile inserts a profile. Production paths never call it.
	CreateProfile(ctx context.Context, p model.Profile) error
}

// PaymentStore is the view of payments the sweep and settlement need.
type PaymentStore interface {
	// Overdue returns up to limit pending payments created strictly before
	// createdBefore that carry no overdue penalty, oldest first.
	Overdue(ctx context.Context, createdBefore time.Time, limit int) ([]model.Payment, error)
	GetPayment(ctx context.Context, id string) (model.Payment, error)
	CreatePayment(ctx context.Context, p model.Payment) error
	// Settle moves a pending payment to st. Returns ErrNotPending if the
	// payment was already settled.
	Settle(ctx context.Context, id string, st model.PaymentStatus, at time.Time) (model.Payment, error)
	// HasPenalizedPending reports whether clientID still has a penalized
	// payment in pending state.
	HasPenalizedPending(ctx context.Context, clientID string) (bool, error)
}

// PenaltyStore applies an overdue penalty exactly once per payment.
type PenaltyStore interface {
	// ClaimOverdue atomically records the penalty marker, inserts e and sets
	// the client's hold. Returns false without side effects when the payment
	// was already penalized or is no longer pending.
	ClaimOverdue(ctx context.Context, p model.Payment, e model.TrustEvent) (bool, error)
	// ReleaseHold clears clientID's hold unless a penalized payment of that
	// client is still pending, checked and written atomically with respect
	// to ClaimOverdue. Reports whether a set hold was cleared.
	ReleaseHold(ctx context.Context, clientID string) (bool, error)
}

// Stats summarizes table sizes for /stats.
type Stats struct {
	Events          int64 `json:"events"`
	WorkerProfiles  int64 `json:"worker_profiles"`
	ClientProfiles  int64 `json:"client_profiles"`
	PendingPayments int64 `json:"pending_payments"`
	Penalties       int64 `json:"overdue_penalties"`
	HeldClients     int64 `json:"held_clients"`
}

// Store is the full persistence surface of the service.
type Store interface {
	EventStore
	ProfileStore
	PaymentStore
	PenaltyStore

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
