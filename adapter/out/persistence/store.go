// Package persistence implements the outbound repository ports on a single
// SQLite store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Open connects to the SQLite database at path and runs migrations. WAL
// journaling is required: digest reads must not block classification
// writes. Pass ":memory:" for tests.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; serialize access on our side instead of
	// surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrations are forward-only; the current version lives in schema_meta.
var migrations = []string{
	// v1: initial schema.
	`
CREATE TABLE IF NOT EXISTS rules (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT NOT NULL,
	pattern_type  TEXT NOT NULL,
	pattern       TEXT NOT NULL,
	template      TEXT NOT NULL,
	template_type TEXT NOT NULL,
	confidence    REAL NOT NULL,
	use_count     INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	UNIQUE (user_id, pattern_type, pattern, template_type)
);
CREATE INDEX IF NOT EXISTS idx_rules_user_updated ON rules (user_id, updated_at);

CREATE TABLE IF NOT EXISTS pending_rules (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT NOT NULL,
	pattern_type  TEXT NOT NULL,
	pattern       TEXT NOT NULL,
	template      TEXT NOT NULL,
	blocked_by    INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_rules_user ON pending_rules (user_id, created_at);

CREATE TABLE IF NOT EXISTS corrections (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	from_addr  TEXT NOT NULL,
	subject    TEXT NOT NULL,
	original   TEXT NOT NULL,
	corrected  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_corrections_user_created ON corrections (user_id, created_at);

CREATE TABLE IF NOT EXISTS learned_patterns (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT NOT NULL,
	pattern_type  TEXT NOT NULL,
	pattern       TEXT NOT NULL,
	support_count INTEGER NOT NULL DEFAULT 0,
	template      TEXT NOT NULL,
	first_seen    TIMESTAMP NOT NULL,
	last_seen     TIMESTAMP NOT NULL,
	UNIQUE (user_id, pattern_type, pattern)
);
CREATE INDEX IF NOT EXISTS idx_learned_patterns_user_seen ON learned_patterns (user_id, last_seen);

CREATE TABLE IF NOT EXISTS feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	verdict    TEXT NOT NULL DEFAULT '',
	accepted   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_user_created ON feedback (user_id, created_at);

CREATE TABLE IF NOT EXISTS classifications (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        TEXT NOT NULL,
	message_id     TEXT NOT NULL,
	type           TEXT NOT NULL,
	type_conf      REAL NOT NULL,
	decider        TEXT NOT NULL,
	record         TEXT NOT NULL,
	model_version  TEXT NOT NULL DEFAULT '',
	prompt_version TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_classifications_user_created ON classifications (user_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
	session_id        TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	now_ts            TIMESTAMP NOT NULL,
	timezone          TEXT NOT NULL DEFAULT 'UTC',
	input_message_ids TEXT NOT NULL DEFAULT '[]',
	output_html_sha   TEXT NOT NULL DEFAULT '',
	stage_timings     TEXT NOT NULL DEFAULT '{}',
	decider_counts    TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions (user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status, updated_at);

CREATE TABLE IF NOT EXISTS cost_events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           TEXT NOT NULL DEFAULT '',
	operation         TEXT NOT NULL,
	model_version     TEXT NOT NULL,
	prompt_version    TEXT NOT NULL DEFAULT '',
	input_tokens_est  INTEGER NOT NULL DEFAULT 0,
	output_tokens_est INTEGER NOT NULL DEFAULT 0,
	cost_usd_est      REAL NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_events_created ON cost_events (created_at);
`,
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("schema_meta: %w", err)
	}

	var current int
	err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_meta`)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this binary (v%d)", current, schemaVersion)
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_meta (version) VALUES (?)`, v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
	}
	return nil
}

// Ping verifies the store is reachable, for /health and boot checks.
func Ping(ctx context.Context, db *sqlx.DB) error {
	return db.PingContext(ctx)
}
