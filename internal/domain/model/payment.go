package model

import (
	"fmt"
	"time"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

// Payment lifecycle states.
const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

// ParseSettlement validates s as a terminal payment status.
func ParseSettlement(s string) (PaymentStatus, error) {
	st := PaymentStatus(s)
	if !st.Terminal() {
		return "", fmt.Errorf("%w: settlement status must be paid, refunded or failed, got %q", ErrInvalidInput, s)
	}
	return st, nil
}

// Terminal reports whether st ends the payment lifecycle.
func (st PaymentStatus) Terminal() bool {
	return st == PaymentPaid || st == PaymentRefunded || st == PaymentFailed
}

// Payment is a client's obligation for one shift.
type Payment struct {
	ID          string
	ClientID    string
	WorkerID    string
	ShiftID     string
	AmountCents int64
	Status      PaymentStatus
	CreatedAt   time.Time
	SettledAt   time.Time // zero while pending
}

// OverduePenalty marks a payment as already penalized.
type OverduePenalty struct {
	PaymentID string
	ClientID  string
	EventID   string
	AppliedAt time.Time
}

// NotificationType is the kind of message dispatched to a user.
type NotificationType string

// Notification kinds.
const (
	NotifyPaymentOverdue     NotificationType = "payment_overdue"
	NotifyTrustStatusChanged NotificationType = "trust_status_changed"
)

// Notification is a message handed to the dispatch channel.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	ShiftID   string           `json:"shift_id,omitempty"`
	PaymentID string           `json:"payment_id,omitempty"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}
