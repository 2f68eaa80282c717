package seed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/gigtrust/internal/adapters/http/api"
	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	service "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/seed"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var now = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func TestPopulate(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		clk := clock.NewFixed(now)
		store := repository.NewMemoryStore(repository.WithClock(clk))

		Convey("When seeding it", func() {
			st, err := seed.Populate(ctx, store, seed.Config{
				Workers: 8, Clients: 4, Payments: 20, OverduePct: 50, EventsPerUser: 3,
			}, clk)

			Convey("Then the requested rows exist", func() {
				So(err, ShouldBeNil)
				So(st.Workers, ShouldEqual, 8)
				So(st.Clients, ShouldEqual, 4)
				So(st.Payments, ShouldEqual, 20)

				counts, err := store.Stats(ctx)
				So(err, ShouldBeNil)
				So(counts.WorkerProfiles, ShouldEqual, int64(8))
				So(counts.ClientProfiles, ShouldEqual, int64(4))
				So(counts.PendingPayments, ShouldEqual, int64(20))
				So(counts.Events, ShouldEqual, int64(st.Events))
			})

			Convey("And exactly the overdue share is selectable by a sweep", func() {
				overdue, err := store.Overdue(ctx, now.Add(-24*time.Hour), 100)
				So(err, ShouldBeNil)
				So(len(overdue), ShouldEqual, st.Overdue)
			})
		})

		Convey("When there are no clients", func() {
			st, err := seed.Populate(ctx, store, seed.Config{Workers: 2, Payments: 5}, clk)

			Convey("Then no payments are created", func() {
				So(err, ShouldBeNil)
				So(st.Payments, ShouldEqual, 0)
			})
		})
	})
}

func TestRandomEvent(t *testing.T) {
	Convey("Given generated events", t, func() {
		Convey("Then none is a sweep penalty and all sit inside ten days", func() {
			for i := 0; i < 200; i++ {
				e := seed.RandomEvent("u-1", now)
				So(e.EventType, ShouldNotEqual, model.EventPaymentOverdue)
				So(e.EventType.Known(), ShouldBeTrue)
				So(e.CreatedAt.After(now), ShouldBeFalse)
				So(now.Sub(e.CreatedAt), ShouldBeLessThanOrEqualTo, 10*24*time.Hour)
			}
		})
	})
}

func TestSubmit(t *testing.T) {
	Convey("Given a running API", t, func() {
		ctx := context.Background()
		clk := clock.NewFixed(now)
		store := repository.NewMemoryStore(repository.WithClock(clk))
		svc := service.New(
			service.WithStore(store),
			service.WithDispatcher(notify.NewMemory()),
			service.WithClock(clk),
		)
		srv := httptest.NewServer(api.NewServer(svc, svc).Handler())
		defer srv.Close()

		Convey("When replaying generated events", func() {
			events := seed.GenerateRequests([]string{"w-1", "w-2"}, model.RoleWorker, 25, now)
			st, err := seed.Submit(ctx, seed.LoadConfig{BaseURL: srv.URL, Workers: 4, Timeout: 5 * time.Second}, events)

			Convey("Then every event is accepted", func() {
				So(err, ShouldBeNil)
				So(st.Submitted, ShouldEqual, int64(25))
				So(st.Accepted, ShouldEqual, int64(25))
				So(st.Failed, ShouldEqual, int64(0))

				counts, _ := store.Stats(ctx)
				So(counts.Events, ShouldEqual, int64(25))
			})
		})

		Convey("When the target is unhealthy", func() {
			down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer down.Close()

			_, err := seed.Submit(ctx, seed.LoadConfig{BaseURL: down.URL, Workers: 1, Timeout: time.Second}, nil)

			Convey("Then the replay does not start", func() {
				So(errors.Is(err, seed.ErrUnhealthy), ShouldBeTrue)
			})
		})
	})
}
