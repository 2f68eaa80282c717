package repository

// Timestamps are stored as unix nanoseconds in BIGINT columns so window and
// overdue comparisons are exact on both sqlite3 and postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trust_events (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		impact      INTEGER NOT NULL,
		shift_id    TEXT NOT NULL DEFAULT '',
		payment_id  TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trust_events_user_created ON trust_events(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS worker_profiles (
		user_id      TEXT PRIMARY KEY,
		trust_score  INTEGER NOT NULL DEFAULT 100,
		trust_status TEXT NOT NULL DEFAULT 'ok',
		trust_hold   INTEGER NOT NULL DEFAULT 0,
		updated_at   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS client_profiles (
		user_id      TEXT PRIMARY KEY,
		trust_score  INTEGER NOT NULL DEFAULT 100,
		trust_status TEXT NOT NULL DEFAULT 'ok',
		trust_hold   INTEGER NOT NULL DEFAULT 0,
		updated_at   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id           TEXT PRIMARY KEY,
		client_id    TEXT NOT NULL,
		worker_id    TEXT NOT NULL DEFAULT '',
		shift_id     TEXT NOT NULL DEFAULT '',
		amount_cents BIGINT NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		created_at   BIGINT NOT NULL,
		settled_at   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS overdue_penalties (
		payment_id TEXT PRIMARY KEY,
		client_id  TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_overdue_penalties_client ON overdue_penalties(client_id)`,
}
