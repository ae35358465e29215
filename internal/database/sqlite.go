package database

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arkilian/indexsearch/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Dialect for SQLite. SQLite has neither stored procedures
// nor server-side profiling, so procedures are named statement lists and
// statement timings are captured on the client.
type SQLite struct {
	mu         sync.RWMutex
	procedures map[string][]string
}

// NewSQLite returns a SQLite dialect with no procedures registered.
func NewSQLite() *SQLite {
	return &SQLite{procedures: make(map[string][]string)}
}

// Name returns "sqlite3".
func (d *SQLite) Name() string {
	return "sqlite3"
}

// RegisterProcedure registers statements to run, in order, for CALL name.
func (d *SQLite) RegisterProcedure(name string, statements ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.procedures[strings.ToUpper(name)] = append([]string(nil), statements...)
}

// Procedure returns the statements registered for name.
func (d *SQLite) Procedure(name string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stmts, ok := d.procedures[strings.ToUpper(name)]
	return stmts, ok
}

// IndexedColumns lists index columns from PRAGMA index_list/index_info plus
// the primary key columns, reported under the name PRIMARY.
func (d *SQLite) IndexedColumns(ctx context.Context, s *Session, table string) ([]IndexEntry, error) {
	var entries []IndexEntry

	info, err := d.tableInfo(ctx, s, table)
	if err != nil {
		return nil, err
	}
	for _, c := range info {
		if c.pk > 0 {
			entries = append(entries, IndexEntry{Name: "PRIMARY", Column: c.name})
		}
	}

	rows, err := s.conn.QueryContext(ctx, "PRAGMA index_list("+quoteSQLite(table)+")")
	if err != nil {
		return nil, classify("index_list "+table, err)
	}
	var names []string
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("index_list %s: %w", table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify("index_list "+table, err)
	}
	rows.Close()

	for _, name := range names {
		cols, err := d.indexColumns(ctx, s, name)
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			entries = append(entries, IndexEntry{Name: name, Column: col})
		}
	}
	return entries, nil
}

func (d *SQLite) indexColumns(ctx context.Context, s *Session, index string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "PRAGMA index_info("+quoteSQLite(index)+")")
	if err != nil {
		return nil, classify("index_info "+index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("index_info %s: %w", index, err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

type sqliteColumn struct {
	name string
	pk   int
}

func (d *SQLite) tableInfo(ctx context.Context, s *Session, table string) ([]sqliteColumn, error) {
	rows, err := s.conn.QueryContext(ctx, "PRAGMA table_info("+quoteSQLite(table)+")")
	if err != nil {
		return nil, classify("table_info "+table, err)
	}
	defer rows.Close()

	var cols []sqliteColumn
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", table, err)
		}
		cols = append(cols, sqliteColumn{name: name, pk: pk})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("table_info "+table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table_info %s: no such table", table)
	}
	return cols, nil
}

// TableColumns lists columns from PRAGMA table_info.
func (d *SQLite) TableColumns(ctx context.Context, s *Session, table string) ([]string, error) {
	info, err := d.tableInfo(ctx, s, table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(info))
	for i, c := range info {
		cols[i] = c.name
	}
	return cols, nil
}

// CreateIndex issues CREATE INDEX; "already exists" maps to ErrIndexExists.
func (d *SQLite) CreateIndex(ctx context.Context, s *Session, table, column, name string) error {
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", quoteSQLite(name), quoteSQLite(table), quoteSQLite(column))
	_, err := s.conn.ExecContext(ctx, stmt)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("%w: %s on %s: %v", ErrIndexExists, name, table, err)
	}
	return classify(stmt, err)
}

// DropIndex issues DROP INDEX; "no such index" maps to ErrIndexMissing.
// SQLite index names are schema-wide, so table is not part of the statement.
func (d *SQLite) DropIndex(ctx context.Context, s *Session, table, name string) error {
	stmt := "DROP INDEX " + quoteSQLite(name)
	_, err := s.conn.ExecContext(ctx, stmt)
	if err != nil && strings.Contains(err.Error(), "no such index") {
		return fmt.Errorf("%w: %s on %s: %v", ErrIndexMissing, name, table, err)
	}
	return classify(stmt, err)
}

// EnableProfiling starts client-side timing on the session.
func (d *SQLite) EnableProfiling(ctx context.Context, s *Session, historySize int) error {
	s.profiling = true
	s.historySize = historySize
	return nil
}

// Profiles returns the client-side timings captured since profiling started.
func (d *SQLite) Profiles(ctx context.Context, s *Session) (types.Profile, error) {
	out := make(types.Profile, len(s.samples))
	copy(out, s.samples)
	return out, nil
}

// Call runs the statements registered for procedure, timing each one.
func (d *SQLite) Call(ctx context.Context, s *Session, procedure string) error {
	stmts, ok := d.Procedure(procedure)
	if !ok {
		return fmt.Errorf("call %s: procedure not registered", procedure)
	}
	for i, stmt := range stmts {
		start := time.Now()
		if err := execOrDrain(ctx, s.conn, stmt); err != nil {
			return classify(fmt.Sprintf("call %s statement %d", procedure, i+1), err)
		}
		s.record(time.Since(start))
	}
	return nil
}

// BulkLoad reads a pipe-delimited file and inserts every record into table
// inside one transaction. Trailing fields beyond the table width are ignored,
// missing ones are NULL.
func (d *SQLite) BulkLoad(ctx context.Context, s *Session, path, table string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	defer f.Close()

	cols, err := d.TableColumns(ctx, s, table)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("load "+path, err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteSQLite(table), placeholders))
	if err != nil {
		return classify("load "+path, err)
	}
	defer stmt.Close()

	r := csv.NewReader(f)
	r.Comma = '|'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	args := make([]interface{}, len(cols))
	loaded := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("load %s: record %d: %w", path, loaded+1, err)
		}
		for i := range args {
			if i < len(record) {
				args[i] = record[i]
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return classify(fmt.Sprintf("load %s: record %d", path, loaded+1), err)
		}
		loaded++
	}

	if err := tx.Commit(); err != nil {
		return classify("load "+path, err)
	}
	return nil
}

// Analyze runs ANALYZE on table.
func (d *SQLite) Analyze(ctx context.Context, s *Session, table string) error {
	_, err := s.conn.ExecContext(ctx, "ANALYZE "+quoteSQLite(table))
	return classify("analyze "+table, err)
}

// StorageSize sums table and index pages from the dbstat virtual table. When
// dbstat is not compiled in, the whole file counts as data and index size is 0.
func (d *SQLite) StorageSize(ctx context.Context, s *Session) (float64, float64, error) {
	const mb = 1024 * 1024
	var dataBytes, indexBytes int64

	err := s.conn.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN m.type = 'table' THEN d.pgsize END), 0),
		COALESCE(SUM(CASE WHEN m.type = 'index' AND m.name NOT LIKE 'sqlite_autoindex%' THEN d.pgsize END), 0)
		FROM dbstat d JOIN sqlite_master m ON m.name = d.name`).Scan(&dataBytes, &indexBytes)
	if err == nil {
		return float64(dataBytes) / mb, float64(indexBytes) / mb, nil
	}
	slog.Debug("dbstat unavailable, falling back to page count", "error", err)

	var pageCount, pageSize int64
	if err := s.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, 0, classify("page_count", err)
	}
	if err := s.conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, 0, classify("page_size", err)
	}
	return float64(pageCount*pageSize) / mb, 0, nil
}

// execOrDrain runs row-returning statements to completion and everything
// else through Exec.
func execOrDrain(ctx context.Context, conn *sql.Conn, stmt string) error {
	head := strings.ToUpper(strings.TrimSpace(stmt))
	if strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") || strings.HasPrefix(head, "VALUES") {
		rows, err := conn.QueryContext(ctx, stmt)
		if err != nil {
			return err
		}
		defer rows.Close()
		return drain(rows)
	}
	_, err := conn.ExecContext(ctx, stmt)
	return err
}
