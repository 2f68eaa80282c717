// Package sweep applies overdue-payment consequences in scheduled batches.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/profile"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
	"github.com/okian/gigtrust/pkg/metrics"
)

// Defaults for a sweep run.
const (
	DefaultOverdueAfter = 24 * time.Hour
	DefaultPenalty      = -30
	DefaultBatchSize    = 500
	DefaultTimeout      = 2 * time.Minute
)

// Payments selects overdue candidates.
type Payments interface {
	Overdue(ctx context.Context, createdBefore time.Time, limit int) ([]model.Payment, error)
}

// Claimer applies the penalty marker, event and hold atomically.
type Claimer interface {
	ClaimOverdue(ctx context.Context, p model.Payment, e model.TrustEvent) (bool, error)
}

// Rescorer recomputes a profile through the scoring pipeline.
type Rescorer interface {
	Rescore(ctx context.Context, userID string, role model.Role) (profile.Outcome, error)
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Send(ctx context.Context, n model.Notification) error
}

// Report summarizes one run.
type Report struct {
	OverdueFound    int
	Penalized       int
	Skipped         int // already penalized by a concurrent run
	Failed          int // claim failures
	RescoreFailed   int
	NotifyFailed    int
	NewlyRestricted int
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Sweeper runs the overdue-payment sweep. Runs never overlap in-process.
type Sweeper struct {
	payments   Payments
	claimer    Claimer
	rescorer   Rescorer
	dispatcher Dispatcher

	overdueAfter time.Duration
	penalty      int
	batchSize    int
	timeout      time.Duration
	clock        clock.Clock
	newID        func() string
	logger       logger.Logger

	running sync.Mutex
}

// NewSweeper creates a Sweeper.
func NewSweeper(payments Payments, claimer Claimer, rescorer Rescorer, dispatcher Dispatcher, opts ...Option) *Sweeper {
	s := &Sweeper{
		payments:     payments,
		claimer:      claimer,
		rescorer:     rescorer,
		dispatcher:   dispatcher,
		overdueAfter: DefaultOverdueAfter,
		penalty:      DefaultPenalty,
		batchSize:    DefaultBatchSize,
		timeout:      DefaultTimeout,
		clock:        clock.System{},
		newID:        uuid.NewString,
		logger:       logger.Get().Named("sweep"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one sweep. It returns ErrSweepInProgress without doing any
// work when another run holds the lock. A store failure while selecting
// aborts the run; per-payment failures are counted and skipped.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		metrics.RecordSweepRun("busy")
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := Report{StartedAt: s.clock.Now()}
	cutoff := report.StartedAt.Add(-s.overdueAfter)

	overdue, err := s.payments.Overdue(ctx, cutoff, s.batchSize)
	if err != nil {
		report.FinishedAt = s.clock.Now()
		metrics.RecordSweepRun("failed")
		metrics.RecordErrorByComponent("sweep", "select")
		s.logger.Error(ctx, "overdue selection failed", logger.Error(err))
		return report, fmt.Errorf("%w: %w", ErrSelectOverdue, err)
	}
	report.OverdueFound = len(overdue)

	var runErr error
	for _, p := range overdue {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("%w after %d of %d payments: %w", ErrInterrupted,
				report.Penalized+report.Skipped+report.Failed, report.OverdueFound, err)
			break
		}
		s.apply(ctx, p, report.StartedAt, &report)
	}

	report.FinishedAt = s.clock.Now()
	s.finish(ctx, report, runErr)
	return report, runErr
}

// apply handles one overdue payment.
func (s *Sweeper) apply(ctx context.Context, p model.Payment, now time.Time, report *Report) {
	log := s.logger.With(
		logger.String("payment_id", p.ID),
		logger.String("client_id", p.ClientID),
	)

	event := model.TrustEvent{
		ID:        s.newID(),
		UserID:    p.ClientID,
		EventType: model.EventPaymentOverdue,
		Impact:    s.penalty,
		ShiftID:   p.ShiftID,
		PaymentID: p.ID,
		CreatedAt: now,
	}
	claimed, err := s.claimer.ClaimOverdue(ctx, p, event)
	if err != nil {
		report.Failed++
		metrics.RecordErrorByComponent("sweep", "claim")
		log.Error(ctx, "overdue claim failed", logger.Error(err))
		return
	}
	if !claimed {
		report.Skipped++
		log.Debug(ctx, "payment already penalized")
		return
	}
	report.Penalized++
	metrics.RecordEventRecorded(string(model.EventPaymentOverdue))

	outcome, err := s.rescorer.Rescore(ctx, p.ClientID, model.RoleClient)
	if err != nil {
		report.RescoreFailed++
		metrics.RecordErrorByComponent("sweep", "rescore")
		log.Error(ctx, "rescore after penalty failed", logger.Error(err))
	} else if outcome.Escalated() {
		report.NewlyRestricted++
	}

	notice := model.Notification{
		ID:        s.newID(),
		UserID:    p.ClientID,
		Type:      model.NotifyPaymentOverdue,
		ShiftID:   p.ShiftID,
		PaymentID: p.ID,
		Message:   fmt.Sprintf("Payment for shift %s is overdue. Posting new shifts is restricted until it is settled.", p.ShiftID),
		CreatedAt: now,
	}
	if err := s.dispatcher.Send(ctx, notice); err != nil {
		report.NotifyFailed++
		metrics.RecordNotificationFailure(string(notice.Type))
		log.Warn(ctx, "overdue notification failed", logger.Error(err))
		return
	}
	metrics.RecordNotificationSent(string(notice.Type))
}

func (s *Sweeper) finish(ctx context.Context, report Report, runErr error) {
	result := "success"
	if runErr != nil {
		result = "failed"
	}
	metrics.RecordSweepRun(result)
	metrics.RecordSweepReport(report.OverdueFound, report.Penalized, report.NewlyRestricted,
		report.Failed+report.RescoreFailed, float64(report.Duration().Microseconds())/1000, report.FinishedAt)

	fields := []logger.Field{
		logger.Int("overdue_found", report.OverdueFound),
		logger.Int("penalized", report.Penalized),
		logger.Int("skipped", report.Skipped),
		logger.Int("newly_restricted", report.NewlyRestricted),
		logger.Int("failed", report.Failed),
		logger.Int("rescore_failed", report.RescoreFailed),
		logger.Int("notify_failed", report.NotifyFailed),
		logger.Duration("duration", report.Duration()),
	}
	if runErr != nil {
		s.logger.Warn(ctx, "overdue sweep interrupted", append(fields, logger.Error(runErr))...)
		return
	}
	s.logger.Info(ctx, "overdue sweep finished", fields...)
}
