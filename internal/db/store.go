package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures a SQLStore.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore is the sqlx-backed implementation of Store. The same queries run
// on SQLite and PostgreSQL; placeholders are rebound per driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return Open(context.Background(), Options{Driver: DriverSQLite, DSN: path})
}

// NewPostgresStore connects to PostgreSQL and runs all pending migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	return Open(ctx, Options{Driver: DriverPostgres, DSN: dsn, MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute})
}

// Open connects with the given options and migrates the schema.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	switch opts.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		// A single connection serialises writers and keeps ":memory:"
		// databases from being split across pooled connections.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`, `PRAGMA foreign_keys=ON`} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	s := &SQLStore{db: db, driver: opts.Driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at BIGINT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, toMillis(time.Now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Driver returns the driver name the store was opened with.
func (s *SQLStore) Driver() string { return s.driver }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Helpers ─────────────────────────────────────────────────────────────────

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) map[string]any {
	if s == "" || s == "{}" || s == "null" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
}
