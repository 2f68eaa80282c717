package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
)

type profileKey struct {
	role   model.Role
	userID string
}

// MemoryStore implements Store in process memory. It backs db_driver=memory
// and the service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]model.TrustEvent // by user, insertion order
	eventIDs  map[string]struct{}
	profiles  map[profileKey]model.Profile
	payments  map[string]model.Payment
	penalties map[string]model.OverduePenalty
	settings
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		events:    make(map[string][]model.TrustEvent),
		eventIDs:  make(map[string]struct{}),
		profiles:  make(map[profileKey]model.Profile),
		payments:  make(map[string]model.Payment),
		penalties: make(map[string]model.OverduePenalty),
		settings:  defaultSettings(),
	}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// insertLocked must be called with s.mu held for writing.
func (s *MemoryStore) insertLocked(e model.TrustEvent) (model.TrustEvent, error) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if _, dup := s.eventIDs[e.ID]; dup {
		return model.TrustEvent{}, fmt.Errorf("%w: event %s", ErrDuplicate, e.ID)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	s.eventIDs[e.ID] = struct{}{}
	s.events[e.UserID] = append(s.events[e.UserID], e)
	return e, nil
}

// Insert stores a trust event.
func (s *MemoryStore) Insert(_ context.Context, e model.TrustEvent) (model.TrustEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e)
}

// EventsSince returns events created strictly after since, oldest first.
func (s *MemoryStore) EventsSince(_ context.Context, userID string, since time.Time) ([]model.TrustEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TrustEvent
	for _, e := range s.events[userID] {
		if e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListEvents returns the newest limit events of userID.
func (s *MemoryStore) ListEvents(_ context.Context, userID string, limit int) ([]model.TrustEvent, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := append([]model.TrustEvent(nil), s.events[userID]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetProfile returns a profile or ErrNotFound.
func (s *MemoryStore) GetProfile(_ context.Context, userID string, role model.Role) (model.Profile, error) {
	if !role.Valid() {
		return model.Profile{}, ErrInvalidRole
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey{role, userID}]
	if !ok {
		return model.Profile{}, fmt.Errorf("%w: %s profile %s", ErrNotFound, role, userID)
	}
	return p, nil
}

// UpdateTrust writes score and status.
func (s *MemoryStore) UpdateTrust(_ context.Context, userID string, role model.Role, score int, st status.Status) (int64, error) {
	if !role.Valid() {
		return 0, ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{role, userID}
	p, ok := s.profiles[key]
	if !ok {
		return 0, nil
	}
	p.TrustScore = score
	p.TrustStatus = st
	p.UpdatedAt = s.clock.Now()
	s.profiles[key] = p
	return 1, nil
}

// SetHold sets or clears the hard hold.
func (s *MemoryStore) SetHold(_ context.Context, userID string, role model.Role, hold bool) (int64, error) {
	if !role.Valid() {
		return 0, ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHoldLocked(profileKey{role, userID}, hold), nil
}

func (s *MemoryStore) setHoldLocked(key profileKey, hold bool) int64 {
	p, ok := s.profiles[key]
	if !ok {
		return 0
	}
	p.TrustHold = hold
	p.UpdatedAt = s.clock.Now()
	s.profiles[key] = p
	return 1
}

// CreateProfile inserts a profile.
func (s *MemoryStore) CreateProfile(_ context.Context, p model.Profile) error {
	if !p.Role.Valid() {
		return ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{p.Role, p.UserID}
	if _, exists := s.profiles[key]; exists {
		return fmt.Errorf("%w: %s profile %s", ErrDuplicate, p.Role, p.UserID)
	}
	if p.TrustStatus == "" {
		p.TrustStatus = status.Classify(p.TrustScore)
	}
	p.UpdatedAt = s.clock.Now()
	s.profiles[key] = p
	return nil
}

// Overdue selects unpenalized pending payments created before createdBefore.
func (s *MemoryStore) Overdue(_ context.Context, createdBefore time.Time, limit int) ([]model.Payment, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	var out []model.Payment
	for _, p := range s.payments {
		if p.Status != model.PaymentPending || !p.CreatedAt.Before(createdBefore) {
			continue
		}
		if _, penalized := s.penalties[p.ID]; penalized {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPayment returns a payment or ErrNotFound.
func (s *MemoryStore) GetPayment(_ context.Context, id string) (model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return model.Payment{}, fmt.Errorf("%w: payment %s", ErrNotFound, id)
	}
	return p, nil
}

// CreatePayment inserts a payment.
func (s *MemoryStore) CreatePayment(_ context.Context, p model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return fmt.Errorf("%w: payment %s", ErrDuplicate, p.ID)
	}
	if p.Status == "" {
		p.Status = model.PaymentPending
	}
	p.CreatedAt = p.CreatedAt.UTC()
	s.payments[p.ID] = p
	return nil
}

// Settle moves a pending payment to a terminal status.
func (s *MemoryStore) Settle(_ context.Context, id string, st model.PaymentStatus, at time.Time) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return model.Payment{}, fmt.Errorf("%w: payment %s", ErrNotFound, id)
	}
	if p.Status != model.PaymentPending {
		return p, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}
	p.Status = st
	p.SettledAt = at.UTC()
	s.payments[id] = p
	return p, nil
}

// HasPenalizedPending reports whether clientID has a penalized payment still pending.
func (s *MemoryStore) HasPenalizedPending(_ context.Context, clientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.penalizedPendingLocked(clientID), nil
}

func (s *MemoryStore) penalizedPendingLocked(clientID string) bool {
	for id, pen := range s.penalties {
		if pen.ClientID != clientID {
			continue
		}
		if p, ok := s.payments[id]; ok && p.Status == model.PaymentPending {
			return true
		}
	}
	return false
}

// ReleaseHold clears the client's hold under the same lock ClaimOverdue takes.
func (s *MemoryStore) ReleaseHold(_ context.Context, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{model.RoleClient, clientID}
	p, ok := s.profiles[key]
	if !ok || !p.TrustHold || s.penalizedPendingLocked(clientID) {
		return false, nil
	}
	return s.setHoldLocked(key, false) == 1, nil
}

// ClaimOverdue applies the penalty marker, event and hold under one lock.
func (s *MemoryStore) ClaimOverdue(_ context.Context, p model.Payment, e model.TrustEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.penalties[p.ID]; exists {
		return false, nil
	}
	if cur, ok := s.payments[p.ID]; !ok || cur.Status != model.PaymentPending {
		return false, nil
	}
	stored, err := s.insertLocked(e)
	if err != nil {
		return false, err
	}
	s.penalties[p.ID] = model.OverduePenalty{
		PaymentID: p.ID,
		ClientID:  p.ClientID,
		EventID:   stored.ID,
		AppliedAt: s.clock.Now(),
	}
	s.setHoldLocked(profileKey{model.RoleClient, p.ClientID}, true)
	return true, nil
}

// Stats counts stored records.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Events: int64(len(s.eventIDs)), Penalties: int64(len(s.penalties))}
	for key, p := range s.profiles {
		if key.role == model.RoleWorker {
			st.WorkerProfiles++
			continue
		}
		st.ClientProfiles++
		if p.TrustHold {
			st.HeldClients++
		}
	}
	for _, p := range s.payments {
		if p.Status == model.PaymentPending {
			st.PendingPayments++
		}
	}
	return st, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
