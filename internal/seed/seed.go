// Package seed fills a store with demo profiles, payments and events, and
// replays generated events against a running server.
package seed

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/scoring"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
)

const (
	maxEventAge   = 10 * 24 * time.Hour
	maxPaymentAge = 48 * time.Hour
	minAmount     = 2000
	amountRange   = 30000
	percent       = 100
)

// Store is the write surface seeding needs.
type Store interface {
	CreateProfile(ctx context.Context, p model.Profile) error
	CreatePayment(ctx context.Context, p model.Payment) error
	Insert(ctx context.Context, e model.TrustEvent) (model.TrustEvent, error)
}

// Config sizes the generated data set.
type Config struct {
	Workers       int
	Clients       int
	Payments      int
	OverduePct    int // share of payments created more than a day ago
	EventsPerUser int
}

// Stats reports what Populate wrote.
type Stats struct {
	Workers  int
	Clients  int
	Payments int
	Overdue  int
	Events   int
}

// Populate writes cfg.Workers worker profiles, cfg.Clients client profiles,
// cfg.Payments pending payments and up to cfg.EventsPerUser events per user.
func Populate(ctx context.Context, store Store, cfg Config, c clock.Clock) (Stats, error) {
	if c == nil {
		c = clock.System{}
	}
	now := c.Now()
	log := logger.Get().Named("seed")
	var st Stats

	workers := make([]string, cfg.Workers)
	for i := range workers {
		workers[i] = "w-" + uuid.NewString()
		if err := store.CreateProfile(ctx, newProfile(workers[i], model.RoleWorker, now)); err != nil {
			return st, fmt.Errorf("create worker: %w", err)
		}
		st.Workers++
	}
	clients := make([]string, cfg.Clients)
	for i := range clients {
		clients[i] = "c-" + uuid.NewString()
		if err := store.CreateProfile(ctx, newProfile(clients[i], model.RoleClient, now)); err != nil {
			return st, fmt.Errorf("create client: %w", err)
		}
		st.Clients++
	}

	if len(clients) > 0 && len(workers) > 0 {
		for i := 0; i < cfg.Payments; i++ {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			p := model.Payment{
				ID:          "pay-" + uuid.NewString(),
				ClientID:    pick(clients),
				WorkerID:    pick(workers),
				ShiftID:     "shift-" + uuid.NewString(),
				AmountCents: int64(minAmount + randInt(amountRange)),
				Status:      model.PaymentPending,
			}
			if randInt(percent) < cfg.OverduePct {
				// Between 25h and 48h old.
				p.CreatedAt = now.Add(-25*time.Hour - randDuration(maxPaymentAge-25*time.Hour))
				st.Overdue++
			} else {
				p.CreatedAt = now.Add(-randDuration(23 * time.Hour))
			}
			if err := store.CreatePayment(ctx, p); err != nil {
				return st, fmt.Errorf("create payment: %w", err)
			}
			st.Payments++
		}
	}

	for _, userID := range append(append([]string{}, workers...), clients...) {
		n := 0
		if cfg.EventsPerUser > 0 {
			n = randInt(cfg.EventsPerUser + 1)
		}
		for j := 0; j < n; j++ {
			if _, err := store.Insert(ctx, RandomEvent(userID, now)); err != nil {
				return st, fmt.Errorf("insert event: %w", err)
			}
			st.Events++
		}
	}

	log.Info(ctx, "seeded store",
		logger.Int("workers", st.Workers),
		logger.Int("clients", st.Clients),
		logger.Int("payments", st.Payments),
		logger.Int("overdue", st.Overdue),
		logger.Int("events", st.Events),
	)
	return st, nil
}

// RandomEvent returns an event of a random non-sweep type for userID,
// created up to ten days before now.
func RandomEvent(userID string, now time.Time) model.TrustEvent {
	types := model.EventTypes()
	var et model.EventType
	for et == "" || et == model.EventPaymentOverdue {
		et = types[randInt(len(types))]
	}
	impact, _ := defaultImpacts.For(et)
	return model.TrustEvent{
		UserID:    userID,
		EventType: et,
		Impact:    impact,
		CreatedAt: now.Add(-randDuration(maxEventAge)),
	}
}

var defaultImpacts = scoring.NewImpacts(scoring.DefaultImpacts())

func newProfile(userID string, role model.Role, now time.Time) model.Profile {
	return model.Profile{
		UserID:      userID,
		Role:        role,
		TrustScore:  100,
		TrustStatus: status.OK,
		UpdatedAt:   now,
	}
}

// randInt returns a uniform int in [0, n) using crypto/rand.
func randInt(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func randDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}
	return time.Duration(v.Int64())
}

func pick(ids []string) string { return ids[randInt(len(ids))] }
