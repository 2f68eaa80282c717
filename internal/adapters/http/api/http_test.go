package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/gigtrust/internal/adapters/http/api"
	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	service "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/internal/domain/sweep"
	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	adminToken = "admin-token"
	cronSecret = "cron-secret"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// stubDeps lets tests force error paths the real service cannot reach.
type stubDeps struct {
	*service.Service
	recordErr error
	sweepErr  error
	pingErr   error
}

func (s stubDeps) RecordEvent(ctx context.Context, in service.EventInput) (service.Recorded, error) {
	if s.recordErr != nil {
		return service.Recorded{Event: model.TrustEvent{ID: "ev-1"}, Rescore: service.RescoreDeferred}, s.recordErr
	}
	return s.Service.RecordEvent(ctx, in)
}

func (s stubDeps) Sweep(ctx context.Context) (sweep.Report, error) {
	if s.sweepErr != nil {
		return sweep.Report{}, s.sweepErr
	}
	return s.Service.Sweep(ctx)
}

func (s stubDeps) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.Service.Ping(ctx)
}

var _ api.Dependencies = stubDeps{}

type harness struct {
	mux   http.Handler
	store *repository.MemoryStore
	sent  *notify.Memory
}

func newHarness(mutate func(*stubDeps)) harness {
	clk := clock.NewFixed(now)
	store := repository.NewMemoryStore(repository.WithClock(clk))
	sent := notify.NewMemory()
	svc := service.New(
		service.WithStore(store),
		service.WithDispatcher(sent),
		service.WithClock(clk),
		service.WithImpacts(map[string]int{"no_show": -25, "payment_overdue": -30}),
	)
	deps := stubDeps{Service: svc}
	if mutate != nil {
		mutate(&deps)
	}
	server := api.NewServer(deps, svc, api.WithAdminToken(adminToken), api.WithCronSecret(cronSecret))
	return harness{mux: server.Handler(), store: store, sent: sent}
}

func (h harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func (h harness) seedProfile(userID string, role model.Role) {
	So(h.store.CreateProfile(context.Background(), model.Profile{
		UserID: userID, Role: role, TrustScore: 100, TrustStatus: status.OK,
	}), ShouldBeNil)
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func TestEventsEndpoint(t *testing.T) {
	Convey("Given the API over a fresh service", t, func() {
		h := newHarness(nil)
		h.seedProfile("w-1", model.RoleWorker)

		Convey("When posting a valid event", func() {
			w := h.do(http.MethodPost, "/events", `{"user_id":"w-1","role":"worker","event_type":"no_show","shift_id":"s-1"}`)

			Convey("Then it is accepted and applied", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				body := decode[types.EventAccepted](w)
				So(body.Status, ShouldEqual, "accepted")
				So(body.EventID, ShouldNotBeEmpty)
				So(body.Rescore, ShouldEqual, service.RescoreApplied)

				got := h.do(http.MethodGet, "/trust/w-1?role=worker", "")
				So(got.Code, ShouldEqual, http.StatusOK)
				view := decode[types.TrustView](got)
				So(view.TrustScore, ShouldEqual, 75)
				So(view.Status, ShouldEqual, "ok")
			})
		})

		Convey("When posting malformed JSON", func() {
			w := h.do(http.MethodPost, "/events", `{"user_id":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When posting unknown fields", func() {
			w := h.do(http.MethodPost, "/events", `{"user_id":"w-1","role":"worker","event_type":"no_show","score":5}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When required fields are missing or invalid", func() {
			cases := []string{
				`{"role":"worker","event_type":"no_show"}`,
				`{"user_id":"w-1","role":"admin","event_type":"no_show"}`,
				`{"user_id":"w-1","role":"worker","event_type":"abducted"}`,
				`{"user_id":"w-1","role":"worker","event_type":"no_show","created_at":"2999-01-01T00:00:00Z"}`,
				`{"user_id":"w-1","role":"worker","event_type":"no_show","created_at":"2026-04-01T09:10:00Z"}`,
				`{"user_id":"w-1","role":"worker","event_type":"no_show","impact":101}`,
				`{"user_id":"w-1","role":"worker","event_type":"no_show","impact":5000000000}`,
			}

			Convey("Then every one is a bad request", func() {
				for _, body := range cases {
					So(h.do(http.MethodPost, "/events", body).Code, ShouldEqual, http.StatusBadRequest)
				}
			})
		})

		Convey("When using the wrong method", func() {
			Convey("Then the route is not found", func() {
				So(h.do(http.MethodGet, "/events", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a service whose rescore queue is full", t, func() {
		h := newHarness(func(d *stubDeps) {
			d.recordErr = service.ErrBackpressure
		})

		Convey("When posting an event", func() {
			w := h.do(http.MethodPost, "/events", `{"user_id":"w-1","role":"worker","event_type":"no_show"}`)

			Convey("Then it reports backpressure with the stored event id", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				body := decode[types.EventAccepted](w)
				So(body.EventID, ShouldEqual, "ev-1")
				So(body.Rescore, ShouldEqual, service.RescoreDeferred)
			})
		})
	})
}

func TestTrustEndpoints(t *testing.T) {
	Convey("Given a worker with a profile", t, func() {
		h := newHarness(nil)
		h.seedProfile("w-2", model.RoleWorker)

		Convey("When the role is missing", func() {
			Convey("Then the read is a bad request", func() {
				So(h.do(http.MethodGet, "/trust/w-2", "").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When reading an unknown user", func() {
			w := h.do(http.MethodGet, "/trust/nobody?role=worker", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode[types.ErrorResponse](w).Error, ShouldContainSubstring, "not found")
			})
		})

		Convey("When rescoring", func() {
			w := h.do(http.MethodPost, "/trust/w-2/rescore?role=worker", "")

			Convey("Then the result is reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				view := decode[types.RescoreView](w)
				So(view.TrustScore, ShouldEqual, 100)
				So(view.Status, ShouldEqual, "ok")
				So(view.Affected, ShouldEqual, int64(1))
			})
		})

		Convey("When the path has extra segments", func() {
			Convey("Then it is not found", func() {
				So(h.do(http.MethodGet, "/trust/w-2/extra/more?role=worker", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestAdminEndpoint(t *testing.T) {
	Convey("Given a worker with an event", t, func() {
		h := newHarness(nil)
		h.seedProfile("w-3", model.RoleWorker)
		So(h.do(http.MethodPost, "/events", `{"user_id":"w-3","role":"worker","event_type":"no_show"}`).Code,
			ShouldEqual, http.StatusAccepted)

		Convey("When the admin token is missing", func() {
			Convey("Then it is unauthorized", func() {
				So(h.do(http.MethodGet, "/admin/trust/w-3?role=worker", "").Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the admin token is wrong", func() {
			w := h.do(http.MethodGet, "/admin/trust/w-3?role=worker", "", "X-Admin-Token", "nope")

			Convey("Then it is unauthorized", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the admin token is correct", func() {
			w := h.do(http.MethodGet, "/admin/trust/w-3?role=worker&limit=10", "", "X-Admin-Token", adminToken)

			Convey("Then the audit view has the score and events", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				view := decode[types.AdminView](w)
				So(view.TrustScore, ShouldEqual, 75)
				So(view.Status, ShouldEqual, "ok")
				So(view.Hold, ShouldBeFalse)
				So(view.Events, ShouldHaveLength, 1)
				So(view.Events[0].EventType, ShouldEqual, "no_show")
				So(view.Events[0].InWindow, ShouldBeTrue)
			})
		})

		Convey("When the limit is invalid", func() {
			w := h.do(http.MethodGet, "/admin/trust/w-3?role=worker&limit=-1", "", "X-Admin-Token", adminToken)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestCronEndpoint(t *testing.T) {
	Convey("Given a client with an overdue payment", t, func() {
		h := newHarness(nil)
		h.seedProfile("c-1", model.RoleClient)
		So(h.store.CreatePayment(context.Background(), model.Payment{
			ID: "p-1", ClientID: "c-1", WorkerID: "w-1", ShiftID: "s-1",
			AmountCents: 9000, Status: model.PaymentPending, CreatedAt: now.Add(-25 * time.Hour),
		}), ShouldBeNil)

		Convey("When the secret is wrong", func() {
			w := h.do(http.MethodPost, "/cron/overdue-payments", "", "X-Cron-Secret", "guess")

			Convey("Then it is unauthorized and nothing changes", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(h.sent.Sent(), ShouldBeEmpty)
			})
		})

		Convey("When triggered with the secret", func() {
			w := h.do(http.MethodPost, "/cron/overdue-payments", "", "X-Cron-Secret", cronSecret)

			Convey("Then the report is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode[types.SweepResponse](w)
				So(body.Success, ShouldBeTrue)
				So(body.OverdueFound, ShouldEqual, 1)
				So(body.BlockedCount, ShouldEqual, 1)
			})

			Convey("And settling the payment releases the hold", func() {
				res := h.do(http.MethodPost, "/payments/p-1/settle", `{"status":"paid"}`)
				So(res.Code, ShouldEqual, http.StatusOK)
				body := decode[types.SettleResponse](res)
				So(body.Status, ShouldEqual, "paid")
				So(body.HoldReleased, ShouldBeTrue)

				again := h.do(http.MethodPost, "/payments/p-1/settle", `{"status":"paid"}`)
				So(again.Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When triggered with a bearer token", func() {
			w := h.do(http.MethodPost, "/cron/overdue-payments", "", "Authorization", "Bearer "+cronSecret)

			Convey("Then it is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When settling with a bad status", func() {
			w := h.do(http.MethodPost, "/payments/p-1/settle", `{"status":"pending"}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When settling an unknown payment", func() {
			w := h.do(http.MethodPost, "/payments/nope/settle", `{"status":"paid"}`)

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a sweep already in progress", t, func() {
		h := newHarness(func(d *stubDeps) { d.sweepErr = sweep.ErrSweepInProgress })

		Convey("When triggered", func() {
			w := h.do(http.MethodPost, "/cron/overdue-payments", "", "X-Cron-Secret", cronSecret)

			Convey("Then it conflicts", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode[types.SweepResponse](w).Success, ShouldBeFalse)
			})
		})
	})

	Convey("Given a failing sweep", t, func() {
		h := newHarness(func(d *stubDeps) { d.sweepErr = errors.New("db down") })

		Convey("When triggered", func() {
			w := h.do(http.MethodPost, "/cron/overdue-payments", "", "X-Cron-Secret", cronSecret)

			Convey("Then it is a server error", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given a healthy service", t, func() {
		h := newHarness(nil)

		Convey("Then health reports ok", func() {
			w := h.do(http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then stats are served as JSON", func() {
			w := h.do(http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			stats := decode[map[string]any](w)
			So(stats["started"], ShouldEqual, false)
		})

		Convey("Then metrics are served", func() {
			h.do(http.MethodGet, "/healthz", "")
			w := h.do(http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "gigtrust_trust_http_requests_total")
		})

		Convey("Then unknown routes are not found", func() {
			So(h.do(http.MethodGet, "/rankings", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a store that cannot be reached", t, func() {
		h := newHarness(func(d *stubDeps) { d.pingErr = errors.New("connection refused") })

		Convey("Then health is degraded", func() {
			w := h.do(http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, "degraded")
		})
	})
}
