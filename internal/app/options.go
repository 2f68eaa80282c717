package service

import (
	"time"

	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The caller keeps ownership and
// closes it after Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDispatcher sets the notification channel.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// WithClock sets the time source for every component.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithWorkerCount sets the number of rescore workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the rescore queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the rescore coalescing cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithScoreWindow sets how far back events count.
func WithScoreWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithOverdueAfter sets the age past which a pending payment is overdue.
func WithOverdueAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.overdueAfter = d
		}
	}
}

// WithOverduePenalty sets the impact of a payment_overdue event.
func WithOverduePenalty(impact int) Option {
	return func(s *Service) {
		if impact < 0 {
			s.penalty = impact
		}
	}
}

// WithSweepBatchSize caps payments per sweep.
func WithSweepBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweepTimeout bounds a sweep run.
func WithSweepTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepTimeout = d
		}
	}
}

// WithSweepInterval runs the sweep on a ticker after Start. Zero leaves
// scheduling to an external caller.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.sweepInterval = d
		}
	}
}

// WithImpacts replaces the built-in impact table (scoring.DefaultImpacts).
func WithImpacts(impacts map[string]int) Option {
	return func(s *Service) {
		if impacts != nil {
			s.impactTable = impacts
		}
	}
}

// WithIDGenerator replaces uuid.NewString for notification ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
