// Package store persists listings, sync runs, discovery candidates and the
// category taxonomy in a relational database. SQLite (modernc) and Postgres
// (pgx) share one implementation; only DDL, placeholders, locking and error
// classification differ per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore implements every persistence interface in the model package.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open connects to the database, applies the schema and returns the store.
func Open(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// One connection serializes writers, which is what makes the
			// run-exclusion check and insert atomic on SQLite.
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", dialect, err)
	}

	// Verify the connection is alive.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s db: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	return dsn + sep + pragmas
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id       INTEGER PRIMARY KEY,
		name     TEXT NOT NULL,
		slug     TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		title               TEXT NOT NULL,
		company             TEXT NOT NULL,
		description_raw     TEXT NOT NULL DEFAULT '',
		description_summary TEXT NOT NULL DEFAULT '',
		description_full    TEXT NOT NULL DEFAULT '',
		is_cleansed         BOOLEAN NOT NULL DEFAULT 0,
		pay_range           TEXT NOT NULL DEFAULT '',
		posted_at           INTEGER,
		source_url          TEXT NOT NULL UNIQUE,
		source_name         TEXT NOT NULL,
		board               TEXT NOT NULL DEFAULT '',
		category_id         INTEGER NOT NULL,
		remote_type         TEXT NOT NULL,
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_source_board ON listings (source_name, board)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id                TEXT PRIMARY KEY,
		sync_type         TEXT NOT NULL,
		source            TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		started_at        INTEGER NOT NULL,
		completed_at      INTEGER,
		jobs_added        INTEGER NOT NULL DEFAULT 0,
		jobs_updated      INTEGER NOT NULL DEFAULT 0,
		jobs_deleted      INTEGER NOT NULL DEFAULT 0,
		jobs_skipped      INTEGER NOT NULL DEFAULT 0,
		companies_added   INTEGER NOT NULL DEFAULT 0,
		companies_deleted INTEGER NOT NULL DEFAULT 0,
		total_units       INTEGER NOT NULL DEFAULT 0,
		processed_units   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs (status, started_at)`,
	`CREATE TABLE IF NOT EXISTS sync_run_logs (
		run_id  TEXT NOT NULL REFERENCES sync_runs (id) ON DELETE CASCADE,
		seq     INTEGER NOT NULL,
		at      INTEGER NOT NULL,
		level   TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS candidate_companies (
		source                TEXT NOT NULL,
		slug                  TEXT NOT NULL,
		name                  TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL,
		suggested_category_id INTEGER NOT NULL DEFAULT 0,
		remote_jobs           INTEGER NOT NULL DEFAULT 0,
		probed_at             INTEGER,
		created_at            INTEGER NOT NULL,
		updated_at            INTEGER NOT NULL,
		PRIMARY KEY (source, slug)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id       BIGINT PRIMARY KEY,
		name     TEXT NOT NULL,
		slug     TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id                  BIGSERIAL PRIMARY KEY,
		title               TEXT NOT NULL,
		company             TEXT NOT NULL,
		description_raw     TEXT NOT NULL DEFAULT '',
		description_summary TEXT NOT NULL DEFAULT '',
		description_full    TEXT NOT NULL DEFAULT '',
		is_cleansed         BOOLEAN NOT NULL DEFAULT FALSE,
		pay_range           TEXT NOT NULL DEFAULT '',
		posted_at           BIGINT,
		source_url          TEXT NOT NULL UNIQUE,
		source_name         TEXT NOT NULL,
		board               TEXT NOT NULL DEFAULT '',
		category_id         BIGINT NOT NULL,
		remote_type         TEXT NOT NULL,
		created_at          BIGINT NOT NULL,
		updated_at          BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_source_board ON listings (source_name, board)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id                TEXT PRIMARY KEY,
		sync_type         TEXT NOT NULL,
		source            TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		started_at        BIGINT NOT NULL,
		completed_at      BIGINT,
		jobs_added        INTEGER NOT NULL DEFAULT 0,
		jobs_updated      INTEGER NOT NULL DEFAULT 0,
		jobs_deleted      INTEGER NOT NULL DEFAULT 0,
		jobs_skipped      INTEGER NOT NULL DEFAULT 0,
		companies_added   INTEGER NOT NULL DEFAULT 0,
		companies_deleted INTEGER NOT NULL DEFAULT 0,
		total_units       INTEGER NOT NULL DEFAULT 0,
		processed_units   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs (status, started_at)`,
	`CREATE TABLE IF NOT EXISTS sync_run_logs (
		run_id  TEXT NOT NULL REFERENCES sync_runs (id) ON DELETE CASCADE,
		seq     INTEGER NOT NULL,
		at      BIGINT NOT NULL,
		level   TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS candidate_companies (
		source                TEXT NOT NULL,
		slug                  TEXT NOT NULL,
		name                  TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL,
		suggested_category_id BIGINT NOT NULL DEFAULT 0,
		remote_jobs           INTEGER NOT NULL DEFAULT 0,
		probed_at             BIGINT,
		created_at            BIGINT NOT NULL,
		updated_at            BIGINT NOT NULL,
		PRIMARY KEY (source, slug)
	)`,
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders to $n for Postgres. Queries in this package
// never contain a literal question mark.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// withTx runs fn in a transaction, committing on nil and rolling back
// otherwise.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lock takes a transaction-scoped mutex on key. SQLite needs none: its single
// connection already serializes transactions.
func (s *SQLStore) lock(ctx context.Context, tx *sql.Tx, key string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// isUniqueViolation reports whether err is a unique or primary key conflict
// in either dialect.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
