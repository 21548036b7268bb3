package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/TruthWatch/internal/models"
	"github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteLedger is the SQLite implementation of Ledger.
type SQLiteLedger struct {
	db    *sql.DB
	table string
}

// Compile-time check that SQLiteLedger implements Ledger.
var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (creating if necessary) a SQLite ledger at the DSN
// path and ensures the ledger table exists.
func NewSQLiteLedger(opts ...Option) (*SQLiteLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteLedger: creating ledger", "dsn_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger DSN not set")
	}
	table, err := resolveTable(cfg)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DSN); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(sqliteMigrations, table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteLedger: migrations applied", "table", table)
	return &SQLiteLedger{db: db, table: table}, nil
}

// IsRecorded reports whether a post id exists in the ledger.
func (l *SQLiteLedger) IsRecorded(id string) (bool, error) {
	var got string
	err := l.db.QueryRow(fmt.Sprintf(`SELECT id FROM %s WHERE id = ?`, l.table), id).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed for %s: %w", id, err)
	}
	return true, nil
}

// Record upserts the post keyed by id, overwriting any previous row.
func (l *SQLiteLedger) Record(post models.Post) (RecordOutcome, error) {
	media, err := mediaJSON(post)
	if err != nil {
		return RecordTransient, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, sent_at, username, display_name, media_attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			created_at = excluded.created_at,
			sent_at = excluded.sent_at,
			username = excluded.username,
			display_name = excluded.display_name,
			media_attachments = excluded.media_attachments`, l.table)
	_, err = l.db.Exec(query,
		post.ID, post.Content, post.CreatedAt, time.Now().UTC(),
		post.Account.Username, nilIfEmpty(post.Account.DisplayName), media)
	if err != nil {
		outcome := classifySQLiteError(err)
		slog.Error("SQLiteLedger.Record failed", "id", post.ID, "outcome", outcome.String(), "error", err)
		logOutcomeHint(outcome, l.table)
		return outcome, fmt.Errorf("ledger record failed for %s: %w", post.ID, err)
	}
	slog.Debug("SQLiteLedger.Record succeeded", "id", post.ID)
	return RecordOK, nil
}

// SelfTest probes the ledger table. Advisory only.
func (l *SQLiteLedger) SelfTest() RecordOutcome {
	_, err := l.db.Exec(fmt.Sprintf(`SELECT id FROM %s LIMIT 1`, l.table))
	if err == nil {
		slog.Info("SQLiteLedger: table probe succeeded", "table", l.table)
		return RecordOK
	}
	outcome := classifySQLiteError(err)
	logOutcomeHint(outcome, l.table)
	if outcome == RecordTransient {
		slog.Warn("SQLiteLedger: could not probe ledger table, continuing", "table", l.table, "error", err)
	}
	return outcome
}

// Close closes the SQLite database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// classifySQLiteError maps go-sqlite3 result codes onto the RecordOutcome
// taxonomy. SQLite reports a missing table under the generic SQLITE_ERROR
// code, so that case cannot be distinguished here and falls through to
// transient; the startup migration makes it unlikely in practice.
func classifySQLiteError(err error) RecordOutcome {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return RecordTransient
	}
	switch sqErr.Code {
	case sqlite3.ErrConstraint:
		return RecordAlreadyExists
	case sqlite3.ErrAuth, sqlite3.ErrPerm, sqlite3.ErrReadonly:
		return RecordPermissionDenied
	}
	return RecordTransient
}
