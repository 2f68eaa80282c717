package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/gigtrust/internal/adapters/mq/queue"
	workerpool "github.com/okian/gigtrust/internal/adapters/mq/worker"
	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	"github.com/okian/gigtrust/internal/domain/dedupe"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/profile"
	"github.com/okian/gigtrust/internal/domain/scoring"
	"github.com/okian/gigtrust/internal/domain/sweep"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
	"github.com/okian/gigtrust/pkg/metrics"
)

// Rescore states reported for a recorded event.
const (
	RescoreQueued    = "queued"
	RescoreCoalesced = "coalesced"
	RescoreApplied   = "applied"
	RescoreDeferred  = "deferred"
)

const rescoreStripes = 64

// MaxClockSkew is how far past the service clock an event's created_at may be.
const MaxClockSkew = 5 * time.Minute

// Service wires the trust engine: event intake, asynchronous rescoring,
// profile reads and the overdue-payment sweep.
type Service struct {
	mu sync.RWMutex

	// Components
	store      repository.Store
	dispatcher notify.Dispatcher
	clock      clock.Clock
	scorer     *scoring.Scorer
	impacts    scoring.Impacts
	updater    *profile.Updater
	sweeper    *sweep.Sweeper
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	workerPool *workerpool.Pool

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	window        time.Duration
	overdueAfter  time.Duration
	penalty       int
	batchSize     int
	sweepTimeout  time.Duration
	sweepInterval time.Duration
	impactTable   map[string]int
	newID         func() string

	// State
	started  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	logger   logger.Logger

	sweepMu   sync.Mutex
	lastSweep sweep.Report

	stripes [rescoreStripes]sync.Mutex
}

// EventInput is a trust event submitted by an upstream system.
type EventInput struct {
	UserID    string
	Role      model.Role
	EventType model.EventType
	// Impact overrides the configured impact for EventType when set.
	Impact    *int
	ShiftID   string
	PaymentID string
	// CreatedAt defaults to now.
	CreatedAt time.Time
}

// Recorded is the result of RecordEvent.
type Recorded struct {
	Event   model.TrustEvent
	Rescore string
}

// Audit is a profile with its recent events.
type Audit struct {
	Profile model.Profile
	Events  []model.TrustEvent
	Since   time.Time
}

// Settlement is the result of SettlePayment.
type Settlement struct {
	Payment      model.Payment
	HoldReleased bool
}

// New constructs a Service. Domain components are ready on return;
// Start launches the rescore workers and the sweep ticker.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    10000,
		dedupeSize:   100000,
		window:       scoring.DefaultWindow,
		impactTable:  scoring.DefaultImpacts(),
		overdueAfter: sweep.DefaultOverdueAfter,
		penalty:      sweep.DefaultPenalty,
		batchSize:    sweep.DefaultBatchSize,
		sweepTimeout: sweep.DefaultTimeout,
		clock:        clock.System{},
		newID:        uuid.NewString,
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("service")
	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithClock(s.clock))
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.NewLogDispatcher(nil)
	}

	s.impacts = scoring.NewImpacts(s.impactTable)
	s.scorer = scoring.NewScorer(s.store,
		scoring.WithWindow(s.window),
		scoring.WithClock(s.clock),
	)
	s.updater = profile.NewUpdater(s.store, profile.WithLogger(s.logger.Named("profile")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.sweeper = sweep.NewSweeper(s.store, s.store, quietRescorer{s}, s.dispatcher,
		sweep.WithOverdueAfter(s.overdueAfter),
		sweep.WithPenalty(s.penalty),
		sweep.WithBatchSize(s.batchSize),
		sweep.WithTimeout(s.sweepTimeout),
		sweep.WithClock(s.clock),
		sweep.WithIDGenerator(s.newID),
		sweep.WithLogger(s.logger.Named("sweep")),
	)

	return s
}

// Start launches the rescore worker pool and, when a sweep interval is
// configured, the sweep ticker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting trust service...")

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s,
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.workerPool.Start(ctx)

	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	if s.sweepInterval > 0 {
		go s.sweepLoop(ctx, s.sweepInterval)
	} else {
		close(s.loopDone)
	}

	s.started = true
	s.logger.Info(ctx, "trust service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("sweepInterval", s.sweepInterval),
	)
	return nil
}

// Stop drains the rescore queue and stops the sweep ticker. The store and
// dispatcher stay open; their owner closes them.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping trust service...")

	close(s.stopCh)
	<-s.loopDone

	var err error
	if s.workerPool != nil {
		err = s.workerPool.Shutdown(ctx)
	}

	s.started = false
	s.logger.Info(ctx, "trust service stopped",
		logger.Int64("processed", s.workerPool.Processed()),
		logger.Int64("failed", s.workerPool.Failed()),
	)
	return err
}

// sweepLoop runs the sweep every interval until Stop or ctx is done.
func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(s.loopDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, sweep.ErrSweepInProgress) {
				s.logger.Warn(ctx, "scheduled sweep failed", logger.Error(err))
			}
		}
	}
}

// RecordEvent stores a trust event and schedules a rescore of the user's
// profile for role. Rescores for the same profile that are already queued
// absorb the new event. When the queue is full the event stays stored and
// ErrBackpressure is returned alongside the result. Before Start the
// rescore runs inline.
func (s *Service) RecordEvent(ctx context.Context, in EventInput) (Recorded, error) {
	if !in.Role.Valid() {
		return Recorded{}, fmt.Errorf("%w: %q", model.ErrInvalidRole, in.Role)
	}
	if !in.EventType.Known() {
		return Recorded{}, fmt.Errorf("%w: unknown event type %q", model.ErrInvalidInput, in.EventType)
	}

	impact, ok := s.impacts.For(in.EventType)
	if in.Impact != nil {
		impact, ok = *in.Impact, true
	}
	if !ok {
		return Recorded{}, fmt.Errorf("%w: no impact configured for %q", model.ErrInvalidInput, in.EventType)
	}

	now := s.clock.Now()
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if createdAt.After(now.Add(MaxClockSkew)) {
		return Recorded{}, fmt.Errorf("%w: created_at %s is in the future", model.ErrInvalidInput, createdAt.Format(time.RFC3339))
	}

	event := model.TrustEvent{
		UserID:    in.UserID,
		EventType: in.EventType,
		Impact:    impact,
		ShiftID:   in.ShiftID,
		PaymentID: in.PaymentID,
		CreatedAt: createdAt.UTC(),
	}
	if err := event.Validate(); err != nil {
		return Recorded{}, err
	}

	stored, err := s.store.Insert(ctx, event)
	if err != nil {
		metrics.RecordErrorByComponent("service", "insert_event")
		return Recorded{}, fmt.Errorf("store event: %w", err)
	}
	metrics.RecordEventRecorded(string(stored.EventType))

	rec := Recorded{Event: stored}
	rec.Rescore, err = s.schedule(ctx, model.RescoreJob{
		UserID:     stored.UserID,
		Role:       in.Role,
		Reason:     string(stored.EventType),
		EnqueuedAt: now,
	})
	return rec, err
}

// schedule queues job unless an equivalent one is already pending.
func (s *Service) schedule(ctx context.Context, job model.RescoreJob) (string, error) {
	s.mu.RLock()
	q, started := s.eventQueue, s.started
	s.mu.RUnlock()

	if !started {
		if _, err := s.Rescore(ctx, job.UserID, job.Role); err != nil {
			return RescoreDeferred, err
		}
		return RescoreApplied, nil
	}

	key := job.Key()
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordRescoreCoalesced()
		return RescoreCoalesced, nil
	}
	if err := q.Enqueue(ctx, job); err != nil {
		s.deduper.Unrecord(ctx, key)
		s.logger.Warn(ctx, "rescore not queued",
			logger.String("user_id", job.UserID),
			logger.String("role", string(job.Role)),
			logger.Error(err),
		)
		return RescoreDeferred, fmt.Errorf("%w: %w", ErrBackpressure, err)
	}
	return RescoreQueued, nil
}

// Process runs a queued rescore. The pending marker is cleared before the
// events are read so that an event arriving mid-rescore queues a new job.
func (s *Service) Process(ctx context.Context, job model.RescoreJob) error {
	mu := s.lockFor(job.Key())
	mu.Lock()
	defer mu.Unlock()

	s.deduper.Unrecord(ctx, job.Key())
	out, err := s.score(ctx, job.UserID, job.Role)
	if err != nil {
		return err
	}
	s.notifyIfGated(ctx, job.UserID, job.Role, out)
	return nil
}

// Rescore recomputes the user's score over the window and writes it onto
// the profile of role. A change into a restricted or blocked status
// notifies the user.
func (s *Service) Rescore(ctx context.Context, userID string, role model.Role) (profile.Outcome, error) {
	out, err := s.rescore(ctx, userID, role)
	if err != nil {
		return out, err
	}
	s.notifyIfGated(ctx, userID, role, out)
	return out, nil
}

// rescore is Rescore without notifications.
func (s *Service) rescore(ctx context.Context, userID string, role model.Role) (profile.Outcome, error) {
	if !role.Valid() {
		return profile.Outcome{}, fmt.Errorf("%w: %q", model.ErrInvalidRole, role)
	}
	mu := s.lockFor(model.RescoreJob{UserID: userID, Role: role}.Key())
	mu.Lock()
	defer mu.Unlock()
	return s.score(ctx, userID, role)
}

// score reads, folds and writes. Callers hold the profile's stripe lock so
// that two rescores of one profile never write out of order.
func (s *Service) score(ctx context.Context, userID string, role model.Role) (profile.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRescoreLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	result, err := s.scorer.Score(ctx, userID)
	if err != nil {
		metrics.RecordRescore(string(role), "error")
		return profile.Outcome{}, err
	}
	return s.updater.Apply(ctx, userID, role, result.Value, false)
}

func (s *Service) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

func (s *Service) notifyIfGated(ctx context.Context, userID string, role model.Role, out profile.Outcome) {
	if out.Changed() && out.Current.Gated() {
		s.notifyStatus(ctx, userID, role, out)
	}
}

func (s *Service) notifyStatus(ctx context.Context, userID string, role model.Role, out profile.Outcome) {
	n := model.Notification{
		ID:        s.newID(),
		UserID:    userID,
		Type:      model.NotifyTrustStatusChanged,
		Message:   fmt.Sprintf("Your %s trust status changed from %s to %s.", role, out.Previous, out.Current),
		CreatedAt: s.clock.Now(),
	}
	if err := s.dispatcher.Send(ctx, n); err != nil {
		metrics.RecordNotificationFailure(string(n.Type))
		s.logger.Warn(ctx, "status notification failed",
			logger.String("user_id", userID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordNotificationSent(string(n.Type))
}

// quietRescorer lets the sweep rescore without a second notification; the
// sweep sends its own payment_overdue notice.
type quietRescorer struct{ s *Service }

func (q quietRescorer) Rescore(ctx context.Context, userID string, role model.Role) (profile.Outcome, error) {
	return q.s.rescore(ctx, userID, role)
}

// Trust returns the stored profile of userID for role.
func (s *Service) Trust(ctx context.Context, userID string, role model.Role) (model.Profile, error) {
	if !role.Valid() {
		return model.Profile{}, fmt.Errorf("%w: %q", model.ErrInvalidRole, role)
	}
	return s.store.GetProfile(ctx, userID, role)
}

// Audit returns the profile with up to limit of its most recent events.
func (s *Service) Audit(ctx context.Context, userID string, role model.Role, limit int) (Audit, error) {
	p, err := s.Trust(ctx, userID, role)
	if err != nil {
		return Audit{}, err
	}
	events, err := s.store.ListEvents(ctx, userID, limit)
	if err != nil {
		return Audit{}, fmt.Errorf("list events: %w", err)
	}
	return Audit{Profile: p, Events: events, Since: s.scorer.Since()}, nil
}

// Sweep runs the overdue-payment sweep once.
func (s *Service) Sweep(ctx context.Context) (sweep.Report, error) {
	report, err := s.sweeper.Run(ctx)
	if errors.Is(err, sweep.ErrSweepInProgress) {
		return report, err
	}
	s.sweepMu.Lock()
	s.lastSweep = report
	s.sweepMu.Unlock()
	return report, err
}

// SettlePayment moves a pending payment to a terminal status. When the
// client has no other penalized payment pending, its hold is lifted and
// the client profile is rescored.
func (s *Service) SettlePayment(ctx context.Context, paymentID, to string) (Settlement, error) {
	st, err := model.ParseSettlement(to)
	if err != nil {
		return Settlement{}, err
	}
	p, err := s.store.Settle(ctx, paymentID, st, s.clock.Now())
	if err != nil {
		return Settlement{}, err
	}
	res := Settlement{Payment: p}

	released, err := s.store.ReleaseHold(ctx, p.ClientID)
	if err != nil {
		return res, fmt.Errorf("release hold: %w", err)
	}
	if !released {
		return res, nil
	}
	res.HoldReleased = true
	metrics.RecordHoldReleased()
	s.logger.Info(ctx, "client hold released",
		logger.String("client_id", p.ClientID),
		logger.String("payment_id", p.ID),
	)

	if _, err := s.Rescore(ctx, p.ClientID, model.RoleClient); err != nil {
		return res, fmt.Errorf("rescore client: %w", err)
	}
	return res, nil
}

// Window is the scoring window.
func (s *Service) Window() time.Duration { return s.scorer.Window() }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.store.Stats(ctx)
	return err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"pendingJobs":   s.deduper.Size(),
		"scoreWindow":   s.window.String(),
		"overdueAfter":  s.overdueAfter.String(),
		"sweepInterval": s.sweepInterval.String(),
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["processed"] = s.workerPool.Processed()
		stats["failed"] = s.workerPool.Failed()
		metrics.UpdateQueueSize(queueLen)
	}

	if st, err := s.store.Stats(ctx); err == nil {
		stats["store"] = st
	} else {
		stats["storeError"] = err.Error()
	}

	s.sweepMu.Lock()
	last := s.lastSweep
	s.sweepMu.Unlock()
	if !last.StartedAt.IsZero() {
		stats["lastSweep"] = map[string]interface{}{
			"startedAt":       last.StartedAt,
			"durationMs":      last.Duration().Milliseconds(),
			"overdueFound":    last.OverdueFound,
			"penalized":       last.Penalized,
			"newlyRestricted": last.NewlyRestricted,
			"failed":          last.Failed,
		}
	}
	return stats
}

// Size returns the number of profiles with a rescore pending.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
