package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TruthWatch/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 5
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 2
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresLedger is the PostgreSQL implementation of Ledger.
type PostgresLedger struct {
	db    *sql.DB
	table string
}

// Compile-time check that PostgresLedger implements Ledger.
var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger opens a PostgreSQL connection, verifies reachability and
// ensures the ledger table exists. An unreachable database is a fatal error;
// the advisory table probe is left to SelfTest.
func NewPostgresLedger(opts ...Option) (*PostgresLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresLedger: creating ledger", "dsn_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger DSN not set")
	}
	table, err := resolveTable(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	slog.Debug("PostgresLedger: ping successful")

	if _, err := db.Exec(fmt.Sprintf(postgresMigrations, table)); err != nil {
		// Migration failure is advisory: the table may already exist and
		// the role may simply lack DDL rights. SelfTest surfaces the rest.
		slog.Warn("PostgresLedger: could not apply migrations", "table", table, "error", err)
	}
	return &PostgresLedger{db: db, table: table}, nil
}

// IsRecorded reports whether a post id exists in the ledger.
func (l *PostgresLedger) IsRecorded(id string) (bool, error) {
	var got string
	err := l.db.QueryRow(fmt.Sprintf(`SELECT id FROM %s WHERE id = $1`, l.table), id).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed for %s: %w", id, err)
	}
	return true, nil
}

// Record upserts the post keyed by id. The stored row always reflects the
// latest write; duplicates overwrite, never error.
func (l *PostgresLedger) Record(post models.Post) (RecordOutcome, error) {
	media, err := mediaJSON(post)
	if err != nil {
		return RecordTransient, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, sent_at, username, display_name, media_attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			created_at = EXCLUDED.created_at,
			sent_at = EXCLUDED.sent_at,
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			media_attachments = EXCLUDED.media_attachments`, l.table)
	_, err = l.db.Exec(query,
		post.ID, post.Content, post.CreatedAt, time.Now().UTC(),
		post.Account.Username, nilIfEmpty(post.Account.DisplayName), media)
	if err != nil {
		outcome := classifyPostgresError(err)
		slog.Error("PostgresLedger.Record failed", "id", post.ID, "outcome", outcome.String(), "error", err)
		logOutcomeHint(outcome, l.table)
		return outcome, fmt.Errorf("ledger record failed for %s: %w", post.ID, err)
	}
	slog.Debug("PostgresLedger.Record succeeded", "id", post.ID)
	return RecordOK, nil
}

// SelfTest probes the ledger table with a cheap SELECT and logs a diagnostic
// hint distinguishing policy rejections from a missing table. Advisory only.
func (l *PostgresLedger) SelfTest() RecordOutcome {
	_, err := l.db.Exec(fmt.Sprintf(`SELECT id FROM %s LIMIT 1`, l.table))
	if err == nil {
		slog.Info("PostgresLedger: table probe succeeded", "table", l.table)
		return RecordOK
	}
	outcome := classifyPostgresError(err)
	logOutcomeHint(outcome, l.table)
	if outcome == RecordTransient {
		slog.Warn("PostgresLedger: could not probe ledger table, continuing", "table", l.table, "error", err)
	}
	return outcome
}

// Close closes the underlying connection pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

// classifyPostgresError maps lib/pq error codes onto the RecordOutcome
// taxonomy. Unknown errors are treated as transient.
func classifyPostgresError(err error) RecordOutcome {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return RecordTransient
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		return RecordAlreadyExists
	case "42501": // insufficient_privilege (includes RLS rejections)
		return RecordPermissionDenied
	case "42P01": // undefined_table
		return RecordMissingTable
	}
	switch pqErr.Code.Class() {
	case "28": // invalid_authorization_specification
		return RecordPermissionDenied
	case "08": // connection_exception
		return RecordTransient
	}
	return RecordTransient
}

// logOutcomeHint emits operator guidance for the failure classes that have a
// known fix, mirroring the startup diagnostics the ledger promises.
func logOutcomeHint(outcome RecordOutcome, table string) {
	switch outcome {
	case RecordPermissionDenied:
		slog.Error("ledger permission denied: check the database role grants and any row-level security policies on the ledger table", "table", table)
	case RecordMissingTable:
		slog.Error("ledger table does not exist: create it or point LEDGER_TABLE at an existing table", "table", table)
	}
}

// mediaJSON serializes the relayable attachments for the nullable
// media_attachments column. Returns nil when there are none.
func mediaJSON(post models.Post) (interface{}, error) {
	media := post.RelayableMedia()
	if len(media) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(media)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media attachments for %s: %w", post.ID, err)
	}
	return string(b), nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
