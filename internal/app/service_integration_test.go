package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	service "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/pkg/clock"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service over sqlite", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		clk := clock.NewFixed(t0)
		store, err := repository.Open(ctx, repository.DriverSQLite, ":memory:", repository.WithClock(clk))
		So(err, ShouldBeNil)
		defer store.Close()
		So(store.Migrate(ctx), ShouldBeNil)

		sent := notify.NewMemory()
		svc := service.New(
			service.WithStore(store),
			service.WithDispatcher(sent),
			service.WithClock(clk),
			service.WithWorkerCount(4),
			service.WithQueueSize(1000),
			service.WithDedupeSize(500),
			service.WithImpacts(map[string]int{"no_show": -25, "late_cancellation": -10}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		const workers = 20
		for i := 0; i < workers; i++ {
			So(store.CreateProfile(ctx, model.Profile{
				UserID: fmt.Sprintf("w-%d", i), Role: model.RoleWorker,
				TrustScore: 100, TrustStatus: status.OK,
			}), ShouldBeNil)
		}

		Convey("When many events arrive for many workers", func() {
			for round := 0; round < 3; round++ {
				for i := 0; i < workers; i++ {
					_, err := svc.RecordEvent(ctx, service.EventInput{
						UserID:    fmt.Sprintf("w-%d", i),
						Role:      model.RoleWorker,
						EventType: model.EventLateCancellation,
					})
					So(err, ShouldBeNil)
				}
			}

			Convey("Then every profile converges on the full event set", func() {
				deadline := time.Now().Add(10 * time.Second)
				converged := 0
				for time.Now().Before(deadline) {
					converged = 0
					for i := 0; i < workers; i++ {
						p, err := svc.Trust(ctx, fmt.Sprintf("w-%d", i), model.RoleWorker)
						if err == nil && p.TrustScore == 70 {
							converged++
						}
					}
					if converged == workers {
						break
					}
					time.Sleep(20 * time.Millisecond)
				}
				So(converged, ShouldEqual, workers)
			})
		})

		Convey("When a client's payment goes overdue and is later paid", func() {
			So(store.CreateProfile(ctx, model.Profile{
				UserID: "c-9", Role: model.RoleClient, TrustScore: 100, TrustStatus: status.OK,
			}), ShouldBeNil)
			So(store.CreatePayment(ctx, model.Payment{
				ID: "p-9", ClientID: "c-9", WorkerID: "w-0", ShiftID: "s-9",
				AmountCents: 5000, Status: model.PaymentPending, CreatedAt: t0.Add(-30 * time.Hour),
			}), ShouldBeNil)

			report, err := svc.Sweep(ctx)
			So(err, ShouldBeNil)

			Convey("Then the client is held and notified once", func() {
				So(report.Penalized, ShouldEqual, 1)
				p, err := svc.Trust(ctx, "c-9", model.RoleClient)
				So(err, ShouldBeNil)
				So(p.TrustScore, ShouldEqual, 70)
				So(p.TrustStatus, ShouldEqual, status.Restricted)
				So(sent.Sent(), ShouldHaveLength, 1)
			})

			Convey("And paying releases the hold", func() {
				res, err := svc.SettlePayment(ctx, "p-9", "paid")
				So(err, ShouldBeNil)
				So(res.HoldReleased, ShouldBeTrue)
				p, _ := svc.Trust(ctx, "c-9", model.RoleClient)
				So(p.TrustStatus, ShouldEqual, status.OK)
			})
		})
	})
}
