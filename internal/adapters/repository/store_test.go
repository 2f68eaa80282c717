package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/gigtrust/internal/adapters/repository"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/pkg/clock"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

type factory func(c clock.Clock) repository.Store

func sqliteFactory(t *testing.T) factory {
	return func(c clock.Clock) repository.Store {
		ctx := context.Background()
		s, err := repository.Open(ctx, repository.DriverSQLite, ":memory:", repository.WithClock(c))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	}
}

func memoryFactory(c clock.Clock) repository.Store {
	return repository.NewMemoryStore(repository.WithClock(c))
}

func TestSQLStore(t *testing.T) {
	runStoreSuite(t, "SQLStore(sqlite3)", sqliteFactory(t))
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, "MemoryStore", memoryFactory)
}

func runStoreSuite(t *testing.T, name string, newStore factory) {
	Convey("Given a "+name, t, func() {
		ctx := context.Background()
		clk := clock.NewFixed(base)
		store := newStore(clk)
		Reset(func() { _ = store.Close() })

		Convey("When events are inserted", func() {
			first, err := store.Insert(ctx, model.TrustEvent{
				UserID: "w-1", EventType: model.EventNoShow, Impact: -25, CreatedAt: base.Add(-time.Hour),
			})
			So(err, ShouldBeNil)
			_, err = store.Insert(ctx, model.TrustEvent{
				UserID: "w-1", EventType: model.EventLateCancellation, Impact: -10, CreatedAt: base.Add(-8 * 24 * time.Hour),
			})
			So(err, ShouldBeNil)
			_, err = store.Insert(ctx, model.TrustEvent{
				UserID: "w-2", EventType: model.EventNoShow, Impact: -25, CreatedAt: base,
			})
			So(err, ShouldBeNil)

			Convey("Then an id is assigned", func() {
				So(first.ID, ShouldNotBeEmpty)
			})

			Convey("Then EventsSince filters by user and strict window start", func() {
				events, err := store.EventsSince(ctx, "w-1", base.Add(-7*24*time.Hour))
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 1)
				So(events[0].Impact, ShouldEqual, -25)
				So(events[0].CreatedAt.Equal(base.Add(-time.Hour)), ShouldBeTrue)

				edge, err := store.EventsSince(ctx, "w-1", base.Add(-time.Hour))
				So(err, ShouldBeNil)
				So(len(edge), ShouldEqual, 0)
			})

			Convey("Then ListEvents returns newest first up to limit", func() {
				events, err := store.ListEvents(ctx, "w-1", 10)
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 2)
				So(events[0].EventType, ShouldEqual, model.EventNoShow)

				one, err := store.ListEvents(ctx, "w-1", 1)
				So(err, ShouldBeNil)
				So(len(one), ShouldEqual, 1)

				_, err = store.ListEvents(ctx, "w-1", 0)
				So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
			})

			Convey("Then a duplicate id is rejected", func() {
				_, err := store.Insert(ctx, model.TrustEvent{
					ID: first.ID, UserID: "w-1", EventType: model.EventNoShow, CreatedAt: base,
				})
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
			})

			Convey("Then an unknown user has no events", func() {
				events, err := store.EventsSince(ctx, "ghost", base.Add(-time.Hour*24*7))
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})

		Convey("When profiles exist", func() {
			So(store.CreateProfile(ctx, model.Profile{UserID: "u-1", Role: model.RoleWorker, TrustScore: 100}), ShouldBeNil)
			So(store.CreateProfile(ctx, model.Profile{UserID: "u-1", Role: model.RoleClient, TrustScore: 100}), ShouldBeNil)

			Convey("Then the role selects the table", func() {
				affected, err := store.UpdateTrust(ctx, "u-1", model.RoleClient, 40, status.Restricted)
				So(err, ShouldBeNil)
				So(affected, ShouldEqual, 1)

				client, err := store.GetProfile(ctx, "u-1", model.RoleClient)
				So(err, ShouldBeNil)
				So(client.TrustScore, ShouldEqual, 40)
				So(client.TrustStatus, ShouldEqual, status.Restricted)

				worker, err := store.GetProfile(ctx, "u-1", model.RoleWorker)
				So(err, ShouldBeNil)
				So(worker.TrustScore, ShouldEqual, 100)
				So(worker.TrustStatus, ShouldEqual, status.OK)
			})

			Convey("Then writing the same values twice is idempotent", func() {
				_, err := store.UpdateTrust(ctx, "u-1", model.RoleWorker, 60, status.Warning)
				So(err, ShouldBeNil)
				before, _ := store.GetProfile(ctx, "u-1", model.RoleWorker)
				_, err = store.UpdateTrust(ctx, "u-1", model.RoleWorker, 60, status.Warning)
				So(err, ShouldBeNil)
				after, _ := store.GetProfile(ctx, "u-1", model.RoleWorker)
				So(after.TrustScore, ShouldEqual, before.TrustScore)
				So(after.TrustStatus, ShouldEqual, before.TrustStatus)
			})

			Convey("Then a missing profile is zero affected rows", func() {
				affected, err := store.UpdateTrust(ctx, "ghost", model.RoleWorker, 50, status.Warning)
				So(err, ShouldBeNil)
				So(affected, ShouldEqual, 0)

				_, err = store.GetProfile(ctx, "ghost", model.RoleWorker)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then an invalid role is a validation error", func() {
				_, err := store.UpdateTrust(ctx, "u-1", model.Role("admin"), 50, status.Warning)
				So(errors.Is(err, repository.ErrInvalidRole), ShouldBeTrue)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			})

			Convey("Then the hold can be set and cleared", func() {
				affected, err := store.SetHold(ctx, "u-1", model.RoleClient, true)
				So(err, ShouldBeNil)
				So(affected, ShouldEqual, 1)
				p, _ := store.GetProfile(ctx, "u-1", model.RoleClient)
				So(p.TrustHold, ShouldBeTrue)

				_, err = store.SetHold(ctx, "u-1", model.RoleClient, false)
				So(err, ShouldBeNil)
				p, _ = store.GetProfile(ctx, "u-1", model.RoleClient)
				So(p.TrustHold, ShouldBeFalse)
			})

			Convey("Then creating the same profile again is a duplicate", func() {
				err := store.CreateProfile(ctx, model.Profile{UserID: "u-1", Role: model.RoleWorker, TrustScore: 100})
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
			})
		})

		Convey("When payments of several ages exist", func() {
			So(store.CreateProfile(ctx, model.Profile{UserID: "c-1", Role: model.RoleClient, TrustScore: 100}), ShouldBeNil)
			payments := []model.Payment{
				{ID: "p-old", ClientID: "c-1", ShiftID: "s-1", AmountCents: 5000, CreatedAt: base.Add(-25 * time.Hour)},
				{ID: "p-edge", ClientID: "c-1", ShiftID: "s-2", AmountCents: 5000, CreatedAt: base.Add(-24 * time.Hour)},
				{ID: "p-new", ClientID: "c-1", ShiftID: "s-3", AmountCents: 5000, CreatedAt: base.Add(-time.Hour)},
				{ID: "p-paid", ClientID: "c-1", ShiftID: "s-4", Status: model.PaymentPaid, CreatedAt: base.Add(-48 * time.Hour)},
			}
			for _, p := range payments {
				So(store.CreatePayment(ctx, p), ShouldBeNil)
			}
			cutoff := base.Add(-24 * time.Hour)

			Convey("Then only strictly older pending payments are overdue", func() {
				overdue, err := store.Overdue(ctx, cutoff, 100)
				So(err, ShouldBeNil)
				So(len(overdue), ShouldEqual, 1)
				So(overdue[0].ID, ShouldEqual, "p-old")
				So(overdue[0].Status, ShouldEqual, model.PaymentPending)
			})

			Convey("Then claiming applies the penalty exactly once", func() {
				event := model.TrustEvent{
					UserID: "c-1", EventType: model.EventPaymentOverdue, Impact: -30,
					ShiftID: "s-1", PaymentID: "p-old", CreatedAt: base,
				}
				claimed, err := store.ClaimOverdue(ctx, payments[0], event)
				So(err, ShouldBeNil)
				So(claimed, ShouldBeTrue)

				again, err := store.ClaimOverdue(ctx, payments[0], event)
				So(err, ShouldBeNil)
				So(again, ShouldBeFalse)

				events, err := store.ListEvents(ctx, "c-1", 10)
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 1)
				So(events[0].PaymentID, ShouldEqual, "p-old")

				p, err := store.GetProfile(ctx, "c-1", model.RoleClient)
				So(err, ShouldBeNil)
				So(p.TrustHold, ShouldBeTrue)

				overdue, err := store.Overdue(ctx, cutoff, 100)
				So(err, ShouldBeNil)
				So(overdue, ShouldBeEmpty)

				held, err := store.HasPenalizedPending(ctx, "c-1")
				So(err, ShouldBeNil)
				So(held, ShouldBeTrue)

				Convey("And settling clears the penalized-pending state", func() {
					settled, err := store.Settle(ctx, "p-old", model.PaymentPaid, base)
					So(err, ShouldBeNil)
					So(settled.Status, ShouldEqual, model.PaymentPaid)

					held, err := store.HasPenalizedPending(ctx, "c-1")
					So(err, ShouldBeNil)
					So(held, ShouldBeFalse)

					released, err := store.ReleaseHold(ctx, "c-1")
					So(err, ShouldBeNil)
					So(released, ShouldBeTrue)

					p, err := store.GetProfile(ctx, "c-1", model.RoleClient)
					So(err, ShouldBeNil)
					So(p.TrustHold, ShouldBeFalse)

					again, err := store.ReleaseHold(ctx, "c-1")
					So(err, ShouldBeNil)
					So(again, ShouldBeFalse)
				})

				Convey("And the hold cannot be released while the payment is pending", func() {
					released, err := store.ReleaseHold(ctx, "c-1")
					So(err, ShouldBeNil)
					So(released, ShouldBeFalse)

					p, err := store.GetProfile(ctx, "c-1", model.RoleClient)
					So(err, ShouldBeNil)
					So(p.TrustHold, ShouldBeTrue)
				})

				Convey("And a second penalized payment keeps the hold after the first settles", func() {
					claimed, err := store.ClaimOverdue(ctx, payments[1], model.TrustEvent{
						UserID: "c-1", EventType: model.EventPaymentOverdue, Impact: -30,
						PaymentID: "p-edge", CreatedAt: base,
					})
					So(err, ShouldBeNil)
					So(claimed, ShouldBeTrue)

					_, err = store.Settle(ctx, "p-old", model.PaymentPaid, base)
					So(err, ShouldBeNil)
					released, err := store.ReleaseHold(ctx, "c-1")
					So(err, ShouldBeNil)
					So(released, ShouldBeFalse)

					_, err = store.Settle(ctx, "p-edge", model.PaymentRefunded, base)
					So(err, ShouldBeNil)
					released, err = store.ReleaseHold(ctx, "c-1")
					So(err, ShouldBeNil)
					So(released, ShouldBeTrue)
				})
			})

			Convey("Then a payment settled before the claim is not penalized", func() {
				_, err := store.Settle(ctx, "p-old", model.PaymentPaid, base)
				So(err, ShouldBeNil)

				claimed, err := store.ClaimOverdue(ctx, payments[0], model.TrustEvent{
					UserID: "c-1", EventType: model.EventPaymentOverdue, Impact: -30, CreatedAt: base,
				})
				So(err, ShouldBeNil)
				So(claimed, ShouldBeFalse)

				events, _ := store.ListEvents(ctx, "c-1", 10)
				So(events, ShouldBeEmpty)
			})

			Convey("Then the batch limit caps the selection", func() {
				for i := 0; i < 5; i++ {
					So(store.CreatePayment(ctx, model.Payment{
						ID: fmt.Sprintf("p-bulk-%d", i), ClientID: "c-1", CreatedAt: base.Add(-30 * time.Hour),
					}), ShouldBeNil)
				}
				overdue, err := store.Overdue(ctx, cutoff, 3)
				So(err, ShouldBeNil)
				So(len(overdue), ShouldEqual, 3)
				So(overdue[0].ID, ShouldEqual, "p-bulk-0")
			})

			Convey("Then settle enforces the pending state", func() {
				_, err := store.Settle(ctx, "p-paid", model.PaymentRefunded, base)
				So(errors.Is(err, repository.ErrNotPending), ShouldBeTrue)

				_, err = store.Settle(ctx, "p-missing", model.PaymentPaid, base)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then stats reflect the rows", func() {
				st, err := store.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.ClientProfiles, ShouldEqual, 1)
				So(st.PendingPayments, ShouldEqual, 3)
				So(st.Penalties, ShouldEqual, 0)
			})
		})
	})
}
