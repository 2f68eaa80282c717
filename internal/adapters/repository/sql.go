package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/status"
	"github.com/okian/gigtrust/pkg/metrics"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on database/sql for sqlite3 and postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	settings
}

// Open connects to dsn with driver and returns a store. The schema is not
// created; call Migrate.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return NewSQLStore(db, driver, opts...), nil
}

// NewSQLStore wraps an existing handle.
func NewSQLStore(db *sql.DB, driver string, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, postgres: driver == DriverPostgres, settings: defaultSettings()}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// Migrate creates missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}

func profileTable(role model.Role) (string, error) {
	switch role {
	case model.RoleWorker:
		return "worker_profiles", nil
	case model.RoleClient:
		return "client_profiles", nil
	default:
		return "", ErrInvalidRole
	}
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isDuplicate recognises primary key violations from either driver.
func isDuplicate(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Events

const eventColumns = `id, user_id, event_type, impact, shift_id, payment_id, created_at`

const insertEventSQL = `INSERT INTO trust_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) insertEvent(ctx context.Context, x execer, e model.TrustEvent) (model.TrustEvent, error) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	_, err := x.ExecContext(ctx, s.rebind(insertEventSQL),
		e.ID, e.UserID, string(e.EventType), e.Impact, e.ShiftID, e.PaymentID, nanos(e.CreatedAt))
	if err != nil {
		if isDuplicate(err) {
			return model.TrustEvent{}, fmt.Errorf("%w: event %s", ErrDuplicate, e.ID)
		}
		return model.TrustEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// Insert stores a trust event.
func (s *SQLStore) Insert(ctx context.Context, e model.TrustEvent) (model.TrustEvent, error) {
	defer observe("insert_event", time.Now())
	return s.insertEvent(ctx, s.db, e)
}

// EventsSince returns events created strictly after since, oldest first.
func (s *SQLStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]model.TrustEvent, error) {
	defer observe("events_since", time.Now())
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+eventColumns+` FROM trust_events WHERE user_id = ? AND created_at > ? ORDER BY created_at, id`),
		userID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	return scanEvents(rows)
}

// ListEvents returns the newest limit events of userID.
func (s *SQLStore) ListEvents(ctx context.Context, userID string, limit int) ([]model.TrustEvent, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observe("list_events", time.Now())
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+eventColumns+` FROM trust_events WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]model.TrustEvent, error) {
	defer func() { _ = rows.Close() }()
	var out []model.TrustEvent
	for rows.Next() {
		var (
			e         model.TrustEvent
			eventType string
			created   int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &e.Impact, &e.ShiftID, &e.PaymentID, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = model.EventType(eventType)
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Profiles

// GetProfile returns a profile or ErrNotFound.
func (s *SQLStore) GetProfile(ctx context.Context, userID string, role model.Role) (model.Profile, error) {
	table, err := profileTable(role)
	if err != nil {
		return model.Profile{}, err
	}
	defer observe("get_profile", time.Now())

	var (
		p       = model.Profile{UserID: userID, Role: role}
		st      string
		hold    int
		updated int64
	)
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT trust_score, trust_status, trust_hold, updated_at FROM `+table+` WHERE user_id = ?`), userID).
		Scan(&p.TrustScore, &st, &hold, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, fmt.Errorf("%w: %s profile %s", ErrNotFound, role, userID)
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.TrustStatus = status.Status(st)
	p.TrustHold = hold != 0
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

// UpdateTrust writes score and status in one statement.
func (s *SQLStore) UpdateTrust(ctx context.Context, userID string, role model.Role, score int, st status.Status) (int64, error) {
	table, err := profileTable(role)
	if err != nil {
		return 0, err
	}
	defer observe("update_trust", time.Now())
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE `+table+` SET trust_score = ?, trust_status = ?, updated_at = ? WHERE user_id = ?`),
		score, string(st), s.clock.Now().UnixNano(), userID)
	if err != nil {
		return 0, fmt.Errorf("update trust: %w", err)
	}
	return res.RowsAffected()
}

// SetHold sets or clears the hard hold.
func (s *SQLStore) SetHold(ctx context.Context, userID string, role model.Role, hold bool) (int64, error) {
	table, err := profileTable(role)
	if err != nil {
		return 0, err
	}
	defer observe("set_hold", time.Now())
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE `+table+` SET trust_hold = ?, updated_at = ? WHERE user_id = ?`),
		boolInt(hold), s.clock.Now().UnixNano(), userID)
	if err != nil {
		return 0, fmt.Errorf("set hold: %w", err)
	}
	return res.RowsAffected()
}

// CreateProfile inserts a profile.
func (s *SQLStore) CreateProfile(ctx context.Context, p model.Profile) error {
	table, err := profileTable(p.Role)
	if err != nil {
		return err
	}
	if p.TrustStatus == "" {
		p.TrustStatus = status.Classify(p.TrustScore)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO `+table+` (user_id, trust_score, trust_status, trust_hold, updated_at) VALUES (?, ?, ?, ?, ?)`),
		p.UserID, p.TrustScore, string(p.TrustStatus), boolInt(p.TrustHold), s.clock.Now().UnixNano())
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s profile %s", ErrDuplicate, p.Role, p.UserID)
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// Payments

const paymentColumns = `id, client_id, worker_id, shift_id, amount_cents, status, created_at, settled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(r rowScanner) (model.Payment, error) {
	var (
		p                model.Payment
		st               string
		created, settled int64
	)
	if err := r.Scan(&p.ID, &p.ClientID, &p.WorkerID, &p.ShiftID, &p.AmountCents, &st, &created, &settled); err != nil {
		return model.Payment{}, err
	}
	p.Status = model.PaymentStatus(st)
	p.CreatedAt = fromNanos(created)
	p.SettledAt = fromNanos(settled)
	return p, nil
}

// Overdue selects unpenalized pending payments created before createdBefore.
func (s *SQLStore) Overdue(ctx context.Context, createdBefore time.Time, limit int) ([]model.Payment, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observe("overdue", time.Now())
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT p.id, p.client_id, p.worker_id, p.shift_id, p.amount_cents, p.status, p.created_at, p.settled_at
		FROM payments p
		WHERE p.status = 'pending'
		  AND p.created_at < ?
		  AND NOT EXISTS (SELECT 1 FROM overdue_penalties op WHERE op.payment_id = p.id)
		ORDER BY p.created_at, p.id
		LIMIT ?`), createdBefore.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("overdue payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

// GetPayment returns a payment or ErrNotFound.
func (s *SQLStore) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	defer observe("get_payment", time.Now())
	p, err := scanPayment(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, fmt.Errorf("%w: payment %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// CreatePayment inserts a payment.
func (s *SQLStore) CreatePayment(ctx context.Context, p model.Payment) error {
	if p.Status == "" {
		p.Status = model.PaymentPending
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.ClientID, p.WorkerID, p.ShiftID, p.AmountCents, string(p.Status), nanos(p.CreatedAt), nanos(p.SettledAt))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: payment %s", ErrDuplicate, p.ID)
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// Settle moves a pending payment to a terminal status.
func (s *SQLStore) Settle(ctx context.Context, id string, st model.PaymentStatus, at time.Time) (model.Payment, error) {
	defer observe("settle", time.Now())
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE payments SET status = ?, settled_at = ? WHERE id = ? AND status = 'pending'`),
		string(st), at.UnixNano(), id)
	if err != nil {
		return model.Payment{}, fmt.Errorf("settle payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Payment{}, fmt.Errorf("settle payment: %w", err)
	}
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return model.Payment{}, err
	}
	if affected == 0 {
		return p, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}
	return p, nil
}

// HasPenalizedPending reports whether clientID has a penalized payment still pending.
func (s *SQLStore) HasPenalizedPending(ctx context.Context, clientID string) (bool, error) {
	defer observe("has_penalized_pending", time.Now())
	var n int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM overdue_penalties op
		JOIN payments p ON p.id = op.payment_id
		WHERE op.client_id = ? AND p.status = 'pending'`), clientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("penalized pending: %w", err)
	}
	return n > 0, nil
}

// Penalties

// ClaimOverdue records the penalty marker, the trust event and the client
// hold in one transaction. The marker insert is conditional on the payment
// still being pending and is a no-op when a marker already exists.
func (s *SQLStore) ClaimOverdue(ctx context.Context, p model.Payment, e model.TrustEvent) (claimed bool, err error) {
	defer observe("claim_overdue", time.Now())
	if e.ID == "" {
		e.ID = s.newID()
	}
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if !claimed || err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO overdue_penalties (payment_id, client_id, event_id, applied_at)
		SELECT CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM payments WHERE id = ? AND status = 'pending')
		ON CONFLICT (payment_id) DO NOTHING`),
		p.ID, p.ClientID, e.ID, now.UnixNano(), p.ID)
	if err != nil {
		return false, fmt.Errorf("claim penalty: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim penalty: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err = s.insertEvent(ctx, tx, e); err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE client_profiles SET trust_hold = 1, updated_at = ? WHERE user_id = ?`),
		now.UnixNano(), p.ClientID); err != nil {
		return false, fmt.Errorf("set hold: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return true, nil
}

const releaseHoldSQL = `
	UPDATE client_profiles SET trust_hold = 0, updated_at = ?
	WHERE user_id = ? AND trust_hold = 1
	AND NOT EXISTS (
		SELECT 1 FROM overdue_penalties op
		JOIN payments p ON p.id = op.payment_id
		WHERE op.client_id = ? AND p.status = 'pending'
	)`

// ReleaseHold clears the client's hold in one conditional statement. On
// postgres the client row is locked first so a claim still in flight
// commits before the penalty check runs.
func (s *SQLStore) ReleaseHold(ctx context.Context, clientID string) (released bool, err error) {
	defer observe("release_hold", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin release: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.postgres {
		if _, err = tx.ExecContext(ctx, s.rebind(
			`SELECT 1 FROM client_profiles WHERE user_id = ? FOR UPDATE`), clientID); err != nil {
			return false, fmt.Errorf("lock client: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(releaseHoldSQL), s.clock.Now().UnixNano(), clientID, clientID)
	if err != nil {
		return false, fmt.Errorf("release hold: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release hold: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit release: %w", err)
	}
	return affected > 0, nil
}

// Stats counts rows for the stats endpoint.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		dest  *int64
		query string
	}{
		{&st.Events, `SELECT COUNT(*) FROM trust_events`},
		{&st.WorkerProfiles, `SELECT COUNT(*) FROM worker_profiles`},
		{&st.ClientProfiles, `SELECT COUNT(*) FROM client_profiles`},
		{&st.PendingPayments, `SELECT COUNT(*) FROM payments WHERE status = 'pending'`},
		{&st.Penalties, `SELECT COUNT(*) FROM overdue_penalties`},
		{&st.HeldClients, `SELECT COUNT(*) FROM client_profiles WHERE trust_hold = 1`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
