// Package profile writes derived trust state onto worker and client profiles.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/pkg/logger"
	"github.com/okian/gigtrust/pkg/metrics"
)

// Store is the slice of repository.ProfileStore the updater needs.
type Store interface {
	GetProfile(ctx context.Context, userID string, role model.Role) (model.Profile, error)
	UpdateTrust(ctx context.Context, userID string, role model.Role, score int, st status.Status) (int64, error)
}

// Outcome describes one profile write.
type Outcome struct {
	Affected int64
	Score    int
	Hold     bool
	Previous status.Status // empty when the profile does not exist
	Current  status.Status
}

// Changed reports whether the write moved the profile to a new status.
func (o Outcome) Changed() bool {
	return o.Affected > 0 && o.Previous != o.Current
}

// Escalated reports whether the write moved the profile into a gated status
// from a non-gated one.
func (o Outcome) Escalated() bool {
	return o.Changed() && o.Current.Gated() && !o.Previous.Gated()
}

// Option applies a configuration option to the Updater.
type Option func(*Updater)

// WithLogger sets the updater's logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// Updater persists score and status for either role through one code path.
type Updater struct {
	store  Store
	logger logger.Logger
}

// NewUpdater creates an Updater over store.
func NewUpdater(store Store, opts ...Option) *Updater {
	u := &Updater{store: store, logger: logger.Get().Named("profile")}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Apply derives the status for value and writes both onto the profile of
// role. The stored hold flag is honored; hold forces the hold layer even if
// the stored flag is clear. A missing profile is not an error: Affected is 0.
func (u *Updater) Apply(ctx context.Context, userID string, role model.Role, value int, hold bool) (Outcome, error) {
	if !role.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", model.ErrInvalidRole, role)
	}

	prev, err := u.store.GetProfile(ctx, userID, role)
	switch {
	case errors.Is(err, model.ErrNotFound):
		out := Outcome{Score: value, Hold: hold, Current: status.Resolve(value, hold)}
		u.logger.Debug(ctx, "profile missing, nothing to update",
			logger.String("user_id", userID), logger.String("role", string(role)))
		metrics.RecordRescore(string(role), "missing_profile")
		return out, nil
	case err != nil:
		metrics.RecordRescore(string(role), "error")
		return Outcome{}, fmt.Errorf("read profile: %w", err)
	}

	hold = hold || prev.TrustHold
	out := Outcome{
		Score:    value,
		Hold:     hold,
		Previous: prev.TrustStatus,
		Current:  status.Resolve(value, hold),
	}

	out.Affected, err = u.store.UpdateTrust(ctx, userID, role, value, out.Current)
	if err != nil {
		metrics.RecordRescore(string(role), "error")
		return Outcome{}, fmt.Errorf("write profile: %w", err)
	}
	if out.Affected == 0 {
		u.logger.Debug(ctx, "profile vanished before update",
			logger.String("user_id", userID), logger.String("role", string(role)))
		metrics.RecordRescore(string(role), "missing_profile")
		return out, nil
	}

	metrics.RecordRescore(string(role), "updated")
	if out.Changed() {
		metrics.RecordStatusTransition(string(role), string(out.Previous), string(out.Current))
		u.logger.Info(ctx, "trust status changed",
			logger.String("user_id", userID),
			logger.String("role", string(role)),
			logger.String("from", string(out.Previous)),
			logger.String("to", string(out.Current)),
			logger.Int("score", value),
			logger.Bool("hold", hold),
		)
	}
	return out, nil
}
