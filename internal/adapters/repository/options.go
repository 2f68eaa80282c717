package repository

import (
	"github.com/google/uuid"
	"github.com/okian/gigtrust/pkg/clock"
)

// settings are shared by the SQL and memory stores.
type settings struct {
	clock clock.Clock
	newID func() string
}

func defaultSettings() settings {
	return settings{
		clock: clock.System{},
		newID: uuid.NewString,
	}
}

// Option applies a configuration option to a store.
type Option func(*settings)

// WithClock sets the time source stamped into updated_at.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator replaces uuid.NewString for event ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) {
		if gen != nil {
			s.newID = gen
		}
	}
}
