package database

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/arkilian/indexsearch/pkg/types"
)

// Session is one dedicated connection. It is not safe for concurrent use;
// concurrent workers each open their own session.
type Session struct {
	conn    *sql.Conn
	dialect Dialect
	schema  string

	// client-side profiling state, used by dialects without server profiling
	profiling   bool
	historySize int
	samples     types.Profile
	nextQueryID int
}

// Conn exposes the raw connection.
func (s *Session) Conn() *sql.Conn {
	return s.conn
}

// Exec runs a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := s.conn.ExecContext(ctx, query, args...)
	return classify("exec", err)
}

// IndexedColumns lists (index, column) pairs of table.
func (s *Session) IndexedColumns(ctx context.Context, table string) ([]IndexEntry, error) {
	return s.dialect.IndexedColumns(ctx, s, table)
}

// TableColumns lists the columns of table.
func (s *Session) TableColumns(ctx context.Context, table string) ([]string, error) {
	return s.dialect.TableColumns(ctx, s, table)
}

// CreateIndex creates index name on table(column).
func (s *Session) CreateIndex(ctx context.Context, table, column, name string) error {
	return s.dialect.CreateIndex(ctx, s, table, column, name)
}

// DropIndex drops index name from table.
func (s *Session) DropIndex(ctx context.Context, table, name string) error {
	return s.dialect.DropIndex(ctx, s, table, name)
}

// EnableProfiling starts statement timing capture.
func (s *Session) EnableProfiling(ctx context.Context, historySize int) error {
	return s.dialect.EnableProfiling(ctx, s, historySize)
}

// Profiles returns captured statement timings.
func (s *Session) Profiles(ctx context.Context) (types.Profile, error) {
	return s.dialect.Profiles(ctx, s)
}

// Call invokes a stored procedure.
func (s *Session) Call(ctx context.Context, procedure string) error {
	return s.dialect.Call(ctx, s, procedure)
}

// BulkLoad loads a delimited file into table.
func (s *Session) BulkLoad(ctx context.Context, path, table string) error {
	return s.dialect.BulkLoad(ctx, s, path, table)
}

// Analyze recomputes statistics of table.
func (s *Session) Analyze(ctx context.Context, table string) error {
	return s.dialect.Analyze(ctx, s, table)
}

// StorageSize returns data and index size in megabytes.
func (s *Session) StorageSize(ctx context.Context) (float64, float64, error) {
	return s.dialect.StorageSize(ctx, s)
}

// Close returns the connection. With idle connections disabled this closes it.
func (s *Session) Close() error {
	return s.conn.Close()
}

// record appends a client-side timing when profiling is on, keeping at most
// historySize samples like a server-side profiling window.
func (s *Session) record(d time.Duration) {
	if !s.profiling {
		return
	}
	s.nextQueryID++
	s.samples = append(s.samples, types.ProfileSample{
		Label:    strconv.Itoa(s.nextQueryID),
		Duration: d.Seconds(),
	})
	if s.historySize > 0 && len(s.samples) > s.historySize {
		s.samples = s.samples[len(s.samples)-s.historySize:]
	}
}
