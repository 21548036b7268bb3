// Package store provides the durable post ledger for TruthWatch.
//
// The ledger is the source of truth for "already processed" posts across
// restarts. Two backends are supported: PostgreSQL for deployments and SQLite
// for small installs and tests. The package also provides the volatile
// in-process SeenCache used as the fast path in front of the ledger.
package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/TruthWatch/internal/models"
)

// DefaultTable is the ledger table name used when none is configured.
const DefaultTable = "posts"

// RecordOutcome classifies the result of a ledger write so callers can
// branch on kind instead of matching error strings.
type RecordOutcome int

const (
	// RecordOK means the post was inserted or overwritten successfully.
	RecordOK RecordOutcome = iota
	// RecordAlreadyExists means a row with this id already existed. With
	// upsert semantics this is still a success for the caller.
	RecordAlreadyExists
	// RecordPermissionDenied means the database rejected the write by
	// policy (e.g. row-level security or missing grants).
	RecordPermissionDenied
	// RecordMissingTable means the ledger table does not exist.
	RecordMissingTable
	// RecordTransient covers connectivity and other retryable failures.
	RecordTransient
)

func (o RecordOutcome) String() string {
	switch o {
	case RecordOK:
		return "ok"
	case RecordAlreadyExists:
		return "already_exists"
	case RecordPermissionDenied:
		return "permission_denied"
	case RecordMissingTable:
		return "missing_table"
	case RecordTransient:
		return "transient"
	default:
		return fmt.Sprintf("RecordOutcome(%d)", int(o))
	}
}

// Ledger is the durable record of processed posts.
type Ledger interface {
	// IsRecorded reports whether a post with this identifier has been
	// recorded. It returns an error only for transport problems; callers
	// should then fall back to the volatile SeenCache.
	IsRecorded(id string) (bool, error)

	// Record upserts the post keyed by its identifier. A second write for
	// the same identifier overwrites the stored content and is not an
	// error. The returned outcome classifies any failure.
	Record(post models.Post) (RecordOutcome, error)

	// SelfTest verifies the ledger table is reachable. It is advisory:
	// implementations log a diagnostic hint and return the classified
	// outcome, but callers may continue on failure.
	SelfTest() RecordOutcome

	// Close releases the underlying database connection.
	Close() error
}

// Opts holds configuration for ledger constructors.
type Opts struct {
	DSN   string
	Table string
}

// Option configures a ledger backend.
type Option func(*Opts)

// WithDSN sets the database connection string (Postgres URL or SQLite path).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithTable sets the ledger table name. Defaults to DefaultTable.
func WithTable(table string) Option {
	return func(o *Opts) { o.Table = table }
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// resolveTable validates the configured table name as a bare SQL identifier.
// The name is interpolated into query text, so anything else is rejected.
func resolveTable(o Opts) (string, error) {
	table := o.Table
	if table == "" {
		table = DefaultTable
	}
	if !identPattern.MatchString(table) {
		return "", fmt.Errorf("invalid ledger table name %q", table)
	}
	return table, nil
}

// IsPostgresDSN reports whether the DSN looks like a PostgreSQL connection
// string rather than a SQLite file path.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// NewLedger builds the appropriate backend for the DSN shape.
func NewLedger(opts ...Option) (Ledger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if IsPostgresDSN(cfg.DSN) {
		return NewPostgresLedger(opts...)
	}
	return NewSQLiteLedger(opts...)
}
