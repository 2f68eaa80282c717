package sweep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/profile"
	"github.com/okian/gigtrust/internal/domain/scoring"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/internal/domain/sweep"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var now = time.Date(2025, 4, 2, 3, 0, 0, 0, time.UTC)

// pipeline wires the scorer and updater the way the service does.
type pipeline struct {
	scorer  *scoring.Scorer
	updater *profile.Updater
}

func (p pipeline) Rescore(ctx context.Context, userID string, role model.Role) (profile.Outcome, error) {
	res, err := p.scorer.Score(ctx, userID)
	if err != nil {
		return profile.Outcome{}, err
	}
	return p.updater.Apply(ctx, userID, role, res.Value, false)
}

type flakyClaimer struct {
	sweep.Claimer
	failFor string
}

func (f flakyClaimer) ClaimOverdue(ctx context.Context, p model.Payment, e model.TrustEvent) (bool, error) {
	if p.ID == f.failFor {
		return false, errors.New("deadlock detected")
	}
	return f.Claimer.ClaimOverdue(ctx, p, e)
}

type blockingPayments struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingPayments) Overdue(context.Context, time.Time, int) ([]model.Payment, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

type brokenPayments struct{}

func (brokenPayments) Overdue(context.Context, time.Time, int) ([]model.Payment, error) {
	return nil, errors.New("relation payments does not exist")
}

func TestSweeper_Run(t *testing.T) {
	Convey("Given a client at 100 and a fixed clock", t, func() {
		ctx := context.Background()
		clk := clock.NewFixed(now)
		store := repository.NewMemoryStore(repository.WithClock(clk))
		So(store.CreateProfile(ctx, model.Profile{UserID: "c-1", Role: model.RoleClient, TrustScore: 100}), ShouldBeNil)

		rescorer := pipeline{
			scorer:  scoring.NewScorer(store, scoring.WithClock(clk)),
			updater: profile.NewUpdater(store),
		}
		outbox := notify.NewMemory()
		newSweeper := func(claimer sweep.Claimer, opts ...sweep.Option) *sweep.Sweeper {
			return sweep.NewSweeper(store, claimer, rescorer, outbox, append([]sweep.Option{sweep.WithClock(clk)}, opts...)...)
		}
		s := newSweeper(store)

		Convey("When a pending payment is 25 hours old", func() {
			So(store.CreatePayment(ctx, model.Payment{
				ID: "p-1", ClientID: "c-1", ShiftID: "s-1", AmountCents: 12000, CreatedAt: now.Add(-25 * time.Hour),
			}), ShouldBeNil)
			report, err := s.Run(ctx)

			Convey("Then one penalty is applied and the client is restricted", func() {
				So(err, ShouldBeNil)
				So(report.OverdueFound, ShouldEqual, 1)
				So(report.Penalized, ShouldEqual, 1)
				So(report.NewlyRestricted, ShouldEqual, 1)

				events, _ := store.ListEvents(ctx, "c-1", 10)
				So(len(events), ShouldEqual, 1)
				So(events[0].EventType, ShouldEqual, model.EventPaymentOverdue)
				So(events[0].Impact, ShouldEqual, -30)
				So(events[0].PaymentID, ShouldEqual, "p-1")
				So(events[0].ShiftID, ShouldEqual, "s-1")

				p, _ := store.GetProfile(ctx, "c-1", model.RoleClient)
				So(p.TrustScore, ShouldEqual, 70)
				So(p.TrustHold, ShouldBeTrue)
				So(p.TrustStatus, ShouldEqual, status.Restricted)

				sent := outbox.Sent()
				So(len(sent), ShouldEqual, 1)
				So(sent[0].Type, ShouldEqual, model.NotifyPaymentOverdue)
				So(sent[0].UserID, ShouldEqual, "c-1")
				So(sent[0].ShiftID, ShouldEqual, "s-1")
			})

			Convey("And the sweep runs again", func() {
				second, err := s.Run(ctx)

				Convey("Then nothing is repeated", func() {
					So(err, ShouldBeNil)
					So(second.OverdueFound, ShouldEqual, 0)
					So(second.Penalized, ShouldEqual, 0)
					events, _ := store.ListEvents(ctx, "c-1", 10)
					So(len(events), ShouldEqual, 1)
					So(len(outbox.Sent()), ShouldEqual, 1)
				})
			})
		})

		Convey("When a pending payment is 1 hour old", func() {
			So(store.CreatePayment(ctx, model.Payment{ID: "p-1", ClientID: "c-1", CreatedAt: now.Add(-time.Hour)}), ShouldBeNil)
			report, err := s.Run(ctx)

			Convey("Then it is not selected", func() {
				So(err, ShouldBeNil)
				So(report.OverdueFound, ShouldEqual, 0)
				events, _ := store.ListEvents(ctx, "c-1", 10)
				So(events, ShouldBeEmpty)
				So(outbox.Sent(), ShouldBeEmpty)
			})
		})

		Convey("When a pending payment is exactly 24 hours old", func() {
			So(store.CreatePayment(ctx, model.Payment{ID: "p-1", ClientID: "c-1", CreatedAt: now.Add(-24 * time.Hour)}), ShouldBeNil)
			report, err := s.Run(ctx)

			Convey("Then the strict boundary excludes it", func() {
				So(err, ShouldBeNil)
				So(report.OverdueFound, ShouldEqual, 0)
			})
		})

		Convey("When a 25 hour old payment was already paid", func() {
			So(store.CreatePayment(ctx, model.Payment{
				ID: "p-1", ClientID: "c-1", Status: model.PaymentPaid, CreatedAt: now.Add(-25 * time.Hour),
			}), ShouldBeNil)
			report, err := s.Run(ctx)

			Convey("Then it is ignored", func() {
				So(err, ShouldBeNil)
				So(report.OverdueFound, ShouldEqual, 0)
			})
		})

		Convey("When the notification channel fails", func() {
			outbox.Err = errors.New("push gateway timeout")
			So(store.CreatePayment(ctx, model.Payment{ID: "p-1", ClientID: "c-1", CreatedAt: now.Add(-30 * time.Hour)}), ShouldBeNil)
			report, err := s.Run(ctx)

			Convey("Then the penalty still stands", func() {
				So(err, ShouldBeNil)
				So(report.Penalized, ShouldEqual, 1)
				So(report.NotifyFailed, ShouldEqual, 1)
				p, _ := store.GetProfile(ctx, "c-1", model.RoleClient)
				So(p.TrustStatus, ShouldEqual, status.Restricted)
			})
		})

		Convey("When one claim fails with a store error", func() {
			So(store.CreateProfile(ctx, model.Profile{UserID: "c-2", Role: model.RoleClient, TrustScore: 100}), ShouldBeNil)
			So(store.CreatePayment(ctx, model.Payment{ID: "p-bad", ClientID: "c-1", CreatedAt: now.Add(-40 * time.Hour)}), ShouldBeNil)
			So(store.CreatePayment(ctx, model.Payment{ID: "p-good", ClientID: "c-2", CreatedAt: now.Add(-30 * time.Hour)}), ShouldBeNil)
			report, err := newSweeper(flakyClaimer{Claimer: store, failFor: "p-bad"}).Run(ctx)

			Convey("Then the run continues with the next payment", func() {
				So(err, ShouldBeNil)
				So(report.OverdueFound, ShouldEqual, 2)
				So(report.Failed, ShouldEqual, 1)
				So(report.Penalized, ShouldEqual, 1)

				bad, _ := store.ListEvents(ctx, "c-1", 10)
				So(bad, ShouldBeEmpty)
				good, _ := store.ListEvents(ctx, "c-2", 10)
				So(len(good), ShouldEqual, 1)
			})
		})

		Convey("When the batch size is smaller than the backlog", func() {
			for _, id := range []string{"p-1", "p-2", "p-3"} {
				So(store.CreatePayment(ctx, model.Payment{ID: id, ClientID: "c-1", CreatedAt: now.Add(-48 * time.Hour)}), ShouldBeNil)
			}
			small := newSweeper(store, sweep.WithBatchSize(2))
			first, err := small.Run(ctx)
			So(err, ShouldBeNil)
			second, err := small.Run(ctx)
			So(err, ShouldBeNil)

			Convey("Then later runs pick up the rest and the score compounds", func() {
				So(first.Penalized, ShouldEqual, 2)
				So(second.Penalized, ShouldEqual, 1)
				p, _ := store.GetProfile(ctx, "c-1", model.RoleClient)
				So(p.TrustScore, ShouldEqual, 10)
				So(p.TrustStatus, ShouldEqual, status.Blocked)
				So(second.NewlyRestricted, ShouldEqual, 0)
			})
		})

		Convey("When the penalty is configured", func() {
			So(store.CreatePayment(ctx, model.Payment{ID: "p-1", ClientID: "c-1", CreatedAt: now.Add(-25 * time.Hour)}), ShouldBeNil)
			_, err := newSweeper(store, sweep.WithPenalty(-45)).Run(ctx)

			Convey("Then the event carries it", func() {
				So(err, ShouldBeNil)
				p, _ := store.GetProfile(ctx, "c-1", model.RoleClient)
				So(p.TrustScore, ShouldEqual, 55)
			})
		})

		Convey("When selection fails", func() {
			broken := sweep.NewSweeper(brokenPayments{}, store, rescorer, outbox, sweep.WithClock(clk))
			_, err := broken.Run(ctx)

			Convey("Then the run reports the failure", func() {
				So(errors.Is(err, sweep.ErrSelectOverdue), ShouldBeTrue)
			})
		})

		Convey("When a run is already in progress", func() {
			gate := blockingPayments{entered: make(chan struct{}), release: make(chan struct{})}
			busy := sweep.NewSweeper(gate, store, rescorer, outbox, sweep.WithClock(clk))
			done := make(chan error, 1)
			go func() {
				_, err := busy.Run(ctx)
				done <- err
			}()
			<-gate.entered
			_, err := busy.Run(ctx)
			close(gate.release)

			Convey("Then the second caller is turned away", func() {
				So(errors.Is(err, sweep.ErrSweepInProgress), ShouldBeTrue)
				So(<-done, ShouldBeNil)
			})
		})
	})
}
