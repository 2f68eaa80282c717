// Package notify hands notifications to a delivery channel.
package notify

import (
	"context"
	"sync"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/pkg/logger"
)

// Dispatcher delivers notifications. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, n model.Notification) error
	Close() error
}

// LogDispatcher writes notifications to the structured log. It is the
// default when no broker is configured.
type LogDispatcher struct {
	logger logger.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(l logger.Logger) *LogDispatcher {
	if l == nil {
		l = logger.Get().Named("notify")
	}
	return &LogDispatcher{logger: l}
}

// Send logs n.
func (d *LogDispatcher) Send(ctx context.Context, n model.Notification) error {
	d.logger.Info(ctx, "notification",
		logger.String("id", n.ID),
		logger.String("user_id", n.UserID),
		logger.String("type", string(n.Type)),
		logger.String("shift_id", n.ShiftID),
		logger.String("payment_id", n.PaymentID),
		logger.String("message", n.Message),
	)
	return nil
}

// Close is a no-op.
func (d *LogDispatcher) Close() error { return nil }

// Memory collects notifications in memory; Err, when set, is returned
// from every Send instead.
type Memory struct {
	mu   sync.Mutex
	sent []model.Notification
	Err  error
}

// NewMemory creates an empty Memory dispatcher.
func NewMemory() *Memory { return &Memory{} }

// Send records n.
func (m *Memory) Send(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of what was delivered.
func (m *Memory) Sent() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Notification(nil), m.sent...)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
