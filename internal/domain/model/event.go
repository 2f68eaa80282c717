// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType is the category of a trust event.
type EventType string

// Known trust event types.
const (
	EventPaymentOverdue   EventType = "payment_overdue"
	EventDisputeLost      EventType = "dispute_lost"
	EventDisputeWon       EventType = "dispute_won"
	EventNoShow           EventType = "no_show"
	EventLateCancellation EventType = "late_cancellation"
	EventShiftCompletedOK EventType = "shift_completed_ok"
	EventPositiveReview   EventType = "positive_review"
	EventNegativeReview   EventType = "negative_review"
)

// EventTypes lists every known event type.
func EventTypes() []EventType {
	return []EventType{
		EventPaymentOverdue,
		EventDisputeLost,
		EventDisputeWon,
		EventNoShow,
		EventLateCancellation,
		EventShiftCompletedOK,
		EventPositiveReview,
		EventNegativeReview,
	}
}

// Known reports whether t is a recognised event type.
func (t EventType) Known() bool {
	for _, k := range EventTypes() {
		if k == t {
			return true
		}
	}
	return false
}

// MaxImpact bounds the magnitude of a single event's impact. A larger
// delta would saturate the score on its own.
const MaxImpact = 100

// TrustEvent is an immutable record of one behavior affecting a user's score.
type TrustEvent struct {
	ID        string    // assigned at insert time
	UserID    string    // subject of the event
	EventType EventType // category
	Impact    int       // signed delta applied to the base score
	ShiftID   string    // optional job correlation
	PaymentID string    // optional payment correlation
	CreatedAt time.Time
}

// Validate checks the fields every stored event must carry.
func (e TrustEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !e.EventType.Known() {
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidInput, e.EventType)
	}
	if e.Impact > MaxImpact || e.Impact < -MaxImpact {
		return fmt.Errorf("%w: impact %d outside [-%d, %d]", ErrInvalidInput, e.Impact, MaxImpact, MaxImpact)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidInput)
	}
	return nil
}
