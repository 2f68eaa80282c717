package sweep

import (
	"time"

	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
)

// Option applies a configuration option to the Sweeper.
type Option func(*Sweeper)

// WithOverdueAfter sets the age past which a pending payment is overdue.
func WithOverdueAfter(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.overdueAfter = d
		}
	}
}

// WithPenalty sets the impact of the payment_overdue event. Non-negative
// values are ignored.
func WithPenalty(impact int) Option {
	return func(s *Sweeper) {
		if impact < 0 {
			s.penalty = impact
		}
	}
}

// WithBatchSize caps the payments handled per run.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTimeout bounds a run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator replaces uuid.NewString for event and notification ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Sweeper) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets the sweeper's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}
