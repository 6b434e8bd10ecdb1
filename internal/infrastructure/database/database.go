package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	// pingTimeout bounds the connectivity check in Open.
	pingTimeout = 5 * time.Second
)

// pool holds the sql.DB pool limits for one dialect.
type pool struct {
	maxOpen, maxIdle int
	lifetime         time.Duration
	idleTime         time.Duration
}

// SQLite allows a single writer, so its pool is one connection.
var pools = map[Dialect]pool{
	DialectSQLite:   {maxOpen: 1, maxIdle: 1, lifetime: time.Hour, idleTime: 30 * time.Minute},
	DialectPostgres: {maxOpen: 10, maxIdle: 2, lifetime: time.Hour, idleTime: 30 * time.Minute},
}

// Config mirrors the database section of config.yaml.
type Config struct {
	Driver      string // "sqlite" (default) or "postgres"
	Path        string // SQLite file; its directory is created
	DSN         string // PostgreSQL connection string
	WALMode     bool
	BusyTimeout int // seconds
}

// DB is a sql.DB that knows its dialect. Its Exec/Query methods accept ?
// placeholders and rebind them; statements run on a *sql.Tx from BeginTx
// must go through Rebind by hand.
type DB struct {
	*sql.DB
	path    string
	dialect Dialect
}

// Open connects to the configured store and pings it.
//
// SQLite gets its directory created, the busy timeout, foreign keys and,
// with WALMode, WAL journaling. PostgreSQL goes through pgx.
//
// Parameters:
//   - cfg: Database section of the config
//
// Returns:
//   - *DB: Connected handle
//   - error: ErrUnsupportedDriver, ErrMissingDSN, or the open/ping failure
func Open(cfg Config) (*DB, error) {
	var (
		d      Dialect
		source string
	)
	switch Dialect(cfg.Driver) {
	case "", DialectSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		d, source = DialectSQLite, sqliteSource(cfg)
	case DialectPostgres:
		if cfg.DSN == "" {
			return nil, ErrMissingDSN
		}
		d, source = DialectPostgres, cfg.DSN
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	sqlDB, err := sql.Open(d.DriverName(), source)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	p := pools[d]
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxLifetime(p.lifetime)
	sqlDB.SetConnMaxIdleTime(p.idleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	db := &DB{DB: sqlDB, dialect: d}
	if d == DialectSQLite {
		db.path = cfg.Path
		os.Chmod(cfg.Path, fileMode) //nolint:errcheck // The file appears on first write
	}
	return db, nil
}

// sqliteSource builds a go-sqlite3 DSN; see its README for the parameters.
func sqliteSource(cfg Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Close releases the pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path is the SQLite file, or "" for PostgreSQL.
func (db *DB) Path() string { return db.path }

// Dialect reports the SQL flavour of the connection.
func (db *DB) Dialect() Dialect { return db.dialect }

// Rebind applies the package Rebind for db's dialect.
func (db *DB) Rebind(query string) string { return Rebind(db.dialect, query) }

// TimeArg applies the package TimeArg for db's dialect.
func (db *DB) TimeArg(t time.Time) any { return TimeArg(db.dialect, t) }

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats returns pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext rebinds query and runs it.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - query: SQL with ? placeholders
//   - args: Placeholder values
//
// Returns:
//   - sql.Result: RowsAffected, and LastInsertId on SQLite
//   - error: Wrapped driver error
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := db.DB.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return res, nil
}

// QueryContext rebinds query and runs it.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Rebind(query), args...)
}

// QueryRowContext rebinds query and runs it for at most one row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

// BeginTx starts a transaction. Statements on the *sql.Tx are not rebound:
//
//	tx, err := db.BeginTx(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback() //nolint:errcheck // No-op after Commit
//	if _, err := tx.ExecContext(ctx, db.Rebind(query), args...); err != nil {
//	    return err
//	}
//	return tx.Commit()
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
