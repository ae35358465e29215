package database

import (
	"context"
	"errors"
	"strings"

	"github.com/arkilian/indexsearch/pkg/types"
)

// Index DDL outcomes a dialect reports instead of a generic failure.
var (
	ErrIndexExists  = errors.New("index already exists")
	ErrIndexMissing = errors.New("index does not exist")
)

// IndexEntry is one (index, column) pair from the live catalog.
type IndexEntry struct {
	Name   string
	Column string
}

// Dialect translates session requests into driver-specific SQL.
type Dialect interface {
	// Name returns the driver name.
	Name() string

	// IndexedColumns lists every (index, column) pair of table, primary key included.
	IndexedColumns(ctx context.Context, s *Session, table string) ([]IndexEntry, error)

	// TableColumns lists the columns of table in ordinal order.
	TableColumns(ctx context.Context, s *Session, table string) ([]string, error)

	// CreateIndex creates a single-column index. Returns ErrIndexExists
	// (wrapped) when an index with that name is already present.
	CreateIndex(ctx context.Context, s *Session, table, column, name string) error

	// DropIndex drops an index. Returns ErrIndexMissing (wrapped) when absent.
	DropIndex(ctx context.Context, s *Session, table, name string) error

	// EnableProfiling turns on statement timing for the session, keeping the
	// last historySize statements (0 keeps the driver default).
	EnableProfiling(ctx context.Context, s *Session, historySize int) error

	// Profiles returns the statement timings captured so far.
	Profiles(ctx context.Context, s *Session) (types.Profile, error)

	// Call invokes a stored procedure and drains its result sets.
	Call(ctx context.Context, s *Session, procedure string) error

	// BulkLoad loads a pipe-delimited, newline-terminated file into table.
	BulkLoad(ctx context.Context, s *Session, path, table string) error

	// Analyze recomputes table statistics.
	Analyze(ctx context.Context, s *Session, table string) error

	// StorageSize returns data and secondary index size in megabytes.
	StorageSize(ctx context.Context, s *Session) (dataMB, indexMB float64, err error)
}

func quoteMySQL(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// quoteMySQLString renders s as a single-quoted MySQL string literal.
func quoteMySQLString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func quoteSQLite(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
