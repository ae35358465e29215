// Package database owns the SQL boundary: connection handling, per-call
// sessions, and the dialects that translate catalog, profiling, procedure,
// bulk-load, and index DDL requests into driver-specific statements.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// Config holds connection settings.
type Config struct {
	// Driver is the database/sql driver name: mysql or sqlite3
	Driver string

	// DSN is the driver-specific data source name
	DSN string

	// Schema is the database (schema) name used by storage metadata queries
	Schema string

	// ProceduresDir holds NAME.sql files emulating stored procedures (sqlite3 only)
	ProceduresDir string

	// ConnectTimeout bounds the initial ping (default: 10 seconds)
	ConnectTimeout time.Duration
}

// DB is a handle to the benchmarked database. Sessions are never reused:
// idle connections are not kept, so every Session is a fresh connection.
type DB struct {
	db      *sql.DB
	dialect Dialect
	schema  string
	logger  *slog.Logger
}

// Open connects to the database described by cfg and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, err := dialectFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, ierrors.NewConnectivityError("open database", err)
	}
	db.SetMaxIdleConns(0)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, ierrors.NewConnectivityError("ping database", err)
	}

	return &DB{
		db:      db,
		dialect: dialect,
		schema:  cfg.Schema,
		logger:  slog.Default().With("component", "database", "driver", cfg.Driver),
	}, nil
}

// NewFromSQL wraps an already opened *sql.DB.
func NewFromSQL(db *sql.DB, dialect Dialect, schema string) *DB {
	db.SetMaxIdleConns(0)
	return &DB{
		db:      db,
		dialect: dialect,
		schema:  schema,
		logger:  slog.Default().With("component", "database", "driver", dialect.Name()),
	}
}

// Session opens a dedicated connection. The caller must Close it.
func (d *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, ierrors.NewConnectivityError("open session", err)
	}
	return &Session{conn: conn, dialect: d.dialect, schema: d.schema}, nil
}

// WithSession runs fn inside a fresh session and closes it afterwards.
func (d *DB) WithSession(ctx context.Context, fn func(*Session) error) error {
	s, err := d.Session(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			d.logger.Debug("session close failed", "error", cerr)
		}
	}()
	return fn(s)
}

// Dialect returns the dialect in use.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Schema returns the configured schema name.
func (d *DB) Schema() string {
	return d.schema
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func dialectFor(cfg Config) (Dialect, error) {
	switch cfg.Driver {
	case "mysql":
		return NewMySQL(), nil
	case "sqlite3":
		d := NewSQLite()
		if cfg.ProceduresDir != "" {
			if err := d.LoadProcedures(cfg.ProceduresDir); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("database: unsupported driver %q (must be mysql or sqlite3)", cfg.Driver)
	}
}

// classify wraps connection-level failures as connectivity errors and leaves
// statement errors untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.As(err, &netErr):
		return ierrors.NewConnectivityError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
