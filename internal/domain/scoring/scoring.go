// Package scoring folds recent trust events into a bounded trust score.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/pkg/clock"
)

// Score bounds and window defaults.
const (
	BaseScore     = 100
	MinScore      = 0
	MaxScore      = 100
	DefaultWindow = 7 * 24 * time.Hour
)

// EventReader returns the events of one user created strictly after since.
// Unknown users yield an empty slice, not an error.
type EventReader interface {
	EventsSince(ctx context.Context, userID string, since time.Time) ([]model.TrustEvent, error)
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWindow sets how far back events count.
func WithWindow(window time.Duration) Option {
	return func(s *Scorer) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock sets the time source used to compute the window start.
func WithClock(c clock.Clock) Option {
	return func(s *Scorer) {
		if c != nil {
			s.clock = c
		}
	}
}

// Result contains the computed score for a user.
type Result struct {
	UserID string
	Value  int
	Events int       // events folded
	Since  time.Time // exclusive window start
}

// Scorer reads a user's in-window events and folds them.
type Scorer struct {
	reader EventReader
	window time.Duration
	clock  clock.Clock
}

// NewScorer creates a Scorer over reader.
func NewScorer(reader EventReader, opts ...Option) *Scorer {
	s := &Scorer{
		reader: reader,
		window: DefaultWindow,
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the configured scoring window.
func (s *Scorer) Window() time.Duration { return s.window }

// Since returns the exclusive start of the window at the current time.
func (s *Scorer) Since() time.Time { return s.clock.Now().Add(-s.window) }

// Score computes the current trust score of userID.
func (s *Scorer) Score(ctx context.Context, userID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("context cancelled: %w", err)
	}
	since := s.Since()
	events, err := s.reader.EventsSince(ctx, userID, since)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrReadEvents, userID, err)
	}
	return Result{
		UserID: userID,
		Value:  Fold(events, since),
		Events: len(events),
		Since:  since,
	}, nil
}

// Fold returns clamp(MinScore, MaxScore, BaseScore + sum of impacts) over the
// events created strictly after since. Older events are ignored even if the
// reader returned them.
func Fold(events []model.TrustEvent, since time.Time) int {
	sum := int64(BaseScore)
	for _, e := range events {
		if !e.CreatedAt.After(since) {
			continue
		}
		sum = saturatingAdd(sum, int64(e.Impact))
	}
	return Clamp(sum)
}

// Clamp bounds v to [MinScore, MaxScore].
func Clamp(v int64) int {
	switch {
	case v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	default:
		return int(v)
	}
}

func saturatingAdd(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	default:
		return a + b
	}
}
