package database

// Timestamps are stored as unix milliseconds so the same statements run on
// postgres and sqlite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id          TEXT PRIMARY KEY,
		first_name  TEXT NOT NULL,
		last_name   TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL,
		phone       TEXT NOT NULL DEFAULT '',
		company     TEXT NOT NULL DEFAULT '',
		title       TEXT NOT NULL DEFAULT '',
		owner_name  TEXT NOT NULL DEFAULT '',
		owner_email TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS email_templates (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		template_type TEXT NOT NULL DEFAULT 'any',
		subject       TEXT NOT NULL,
		html_body     TEXT NOT NULL DEFAULT '',
		text_body     TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		is_default    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS important_dates (
		id                TEXT PRIMARY KEY,
		contact_id        TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		occasion_type     TEXT NOT NULL,
		label             TEXT NOT NULL DEFAULT '',
		notes             TEXT NOT NULL DEFAULT '',
		day_month         TEXT NOT NULL,
		origin_year       INTEGER,
		send_time         TEXT NOT NULL DEFAULT '09:00',
		timezone          TEXT NOT NULL DEFAULT 'UTC',
		email_template_id TEXT NOT NULL,
		repeat_annually   BOOLEAN NOT NULL DEFAULT TRUE,
		opt_out           BOOLEAN NOT NULL DEFAULT FALSE,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		next_send_at      BIGINT,
		last_sent_at      BIGINT,
		lease_until       BIGINT NOT NULL DEFAULT 0,
		lease_token       TEXT NOT NULL DEFAULT '',
		created_at        BIGINT NOT NULL,
		updated_at        BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS important_dates_due_idx ON important_dates (is_active, next_send_at)`,
	`CREATE INDEX IF NOT EXISTS important_dates_contact_idx ON important_dates (contact_id)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id             TEXT PRIMARY KEY,
		contact_id     TEXT NOT NULL,
		date_id        TEXT NOT NULL,
		template_id    TEXT NOT NULL DEFAULT '',
		occurrence_key TEXT NOT NULL DEFAULT '',
		recipient      TEXT NOT NULL DEFAULT '',
		subject        TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		message_id     TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		manual         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_occurrence_idx ON deliveries (occurrence_key, status)`,
	`CREATE INDEX IF NOT EXISTS deliveries_date_idx ON deliveries (contact_id, date_id)`,
}
