// Package types contains the JSON shapes exchanged over the HTTP API.
package types

import "time"

// EventRequest is the body of POST /events.
type EventRequest struct {
	UserID    string     `json:"user_id"`
	Role      string     `json:"role"`
	EventType string     `json:"event_type"`
	Impact    *int       `json:"impact,omitempty"`
	ShiftID   string     `json:"shift_id,omitempty"`
	PaymentID string     `json:"payment_id,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// EventAccepted is returned once an event is stored.
type EventAccepted struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Rescore string `json:"rescore"`
}

// TrustView is the public read of a profile.
type TrustView struct {
	TrustScore int    `json:"trust_score"`
	Status     string `json:"status"`
}

// RescoreView reports a synchronous rescore.
type RescoreView struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	TrustScore     int    `json:"trust_score"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Hold           bool   `json:"hold"`
	Affected       int64  `json:"affected"`
}

// EventView is one audit-trail entry.
type EventView struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Impact    int       `json:"impact"`
	ShiftID   string    `json:"shift_id,omitempty"`
	PaymentID string    `json:"payment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	InWindow  bool      `json:"in_window"`
}

// AdminView is the admin audit read of a profile.
type AdminView struct {
	UserID     string      `json:"user_id"`
	Role       string      `json:"role"`
	TrustScore int         `json:"trust_score"`
	Status     string      `json:"status"`
	Hold       bool        `json:"hold"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Events     []EventView `json:"events"`
}

// SweepResponse is returned by the overdue-payment trigger.
type SweepResponse struct {
	Success      bool `json:"success"`
	OverdueFound int  `json:"overdueFound"`
	BlockedCount int  `json:"blockedCount"`
}

// SettleRequest is the body of POST /payments/{id}/settle.
type SettleRequest struct {
	Status string `json:"status"`
}

// SettleResponse reports a settlement.
type SettleResponse struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	HoldReleased bool   `json:"hold_released"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
