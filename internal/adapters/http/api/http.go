// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/gigtrust/internal/adapters/repository"
	service "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/profile"
	"github.com/okian/gigtrust/internal/domain/sweep"
	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	maxBodyBytes      = 1 << 20
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	RecordEvent(ctx context.Context, in service.EventInput) (service.Recorded, error)
	Rescore(ctx context.Context, userID string, role model.Role) (profile.Outcome, error)
	Trust(ctx context.Context, userID string, role model.Role) (model.Profile, error)
	Audit(ctx context.Context, userID string, role model.Role, limit int) (service.Audit, error)
	Sweep(ctx context.Context) (sweep.Report, error)
	SettlePayment(ctx context.Context, paymentID, status string) (service.Settlement, error)
	Ping(ctx context.Context) error
}

// Option configures the Server.
type Option func(*Server)

// WithAdminToken sets the X-Admin-Token value the admin routes accept.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithCronSecret sets the X-Cron-Secret value the sweep trigger accepts.
func WithCronSecret(secret string) Option {
	return func(s *Server) { s.cronSecret = secret }
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	adminToken string
	cronSecret string
	logger     logger.Logger

	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	eventsHandler   *EventsHandler
	trustHandler    *TrustHandler
	adminHandler    *AdminHandler
	cronHandler     *CronHandler
	paymentsHandler *PaymentsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(statsProvider)
	s.eventsHandler = NewEventsHandler(deps, s.logger)
	s.trustHandler = NewTrustHandler(deps, s.logger)
	s.adminHandler = NewAdminHandler(deps, s.logger)
	s.cronHandler = NewCronHandler(deps, s.logger)
	s.paymentsHandler = NewPaymentsHandler(deps, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/trust/", MetricsMiddleware(s.trustHandler.HandleTrust, "trust"))
	mux.HandleFunc("/admin/trust/", MetricsMiddleware(
		requireSecret(s.adminHandler.HandleGetAudit, "X-Admin-Token", s.adminToken), "admin_trust"))
	mux.HandleFunc("/cron/overdue-payments", MetricsMiddleware(
		requireSecret(s.cronHandler.HandleSweep, "X-Cron-Secret", s.cronSecret), "cron_overdue"))
	mux.HandleFunc("/payments/", MetricsMiddleware(s.paymentsHandler.HandleSettle, "payments_settle"))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil && status < statusInternalError {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, repository.ErrNotPending), errors.Is(err, sweep.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status and logs server-side failures.
func fail(ctx context.Context, l logger.Logger, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= statusInternalError {
		l.Error(ctx, "request failed", logger.Error(err))
	}
	writeError(w, status, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathParts splits the path below prefix into its non-empty segments.
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// roleParam reads the required role query parameter.
func roleParam(r *http.Request) (model.Role, error) {
	return model.ParseRole(r.URL.Query().Get("role"))
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultAuditLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxAuditLimit {
		n = maxAuditLimit
	}
	return n, nil
}
