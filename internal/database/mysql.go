package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/arkilian/indexsearch/pkg/types"
	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers for index DDL conflicts.
const (
	mysqlErrDupKeyName         = 1061
	mysqlErrCantDropFieldOrKey = 1091
)

// MySQL implements Dialect with server-side profiling, stored procedures,
// and LOAD DATA LOCAL INFILE.
type MySQL struct{}

// NewMySQL returns the MySQL dialect.
func NewMySQL() *MySQL {
	return &MySQL{}
}

// Name returns "mysql".
func (m *MySQL) Name() string {
	return "mysql"
}

// IndexedColumns runs SHOW INDEXES and returns (Key_name, Column_name) pairs.
func (m *MySQL) IndexedColumns(ctx context.Context, s *Session, table string) ([]IndexEntry, error) {
	rows, err := queryStrings(ctx, s, "SHOW INDEXES FROM "+quoteMySQL(table))
	if err != nil {
		return nil, classify("show indexes from "+table, err)
	}
	entries := make([]IndexEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("show indexes from %s: unexpected row width %d", table, len(row))
		}
		entries = append(entries, IndexEntry{Name: row[2], Column: row[4]})
	}
	return entries, nil
}

// TableColumns runs SHOW COLUMNS and returns the Field column.
func (m *MySQL) TableColumns(ctx context.Context, s *Session, table string) ([]string, error) {
	rows, err := queryStrings(ctx, s, "SHOW COLUMNS FROM "+quoteMySQL(table))
	if err != nil {
		return nil, classify("show columns from "+table, err)
	}
	cols := make([]string, 0, len(rows))
	for _, row := range rows {
		cols = append(cols, row[0])
	}
	return cols, nil
}

// CreateIndex issues CREATE INDEX; error 1061 maps to ErrIndexExists.
func (m *MySQL) CreateIndex(ctx context.Context, s *Session, table, column, name string) error {
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", quoteMySQL(name), quoteMySQL(table), quoteMySQL(column))
	_, err := s.conn.ExecContext(ctx, stmt)
	if mysqlErrNumber(err) == mysqlErrDupKeyName {
		return fmt.Errorf("%w: %s on %s: %v", ErrIndexExists, name, table, err)
	}
	return classify(stmt, err)
}

// DropIndex issues DROP INDEX; error 1091 maps to ErrIndexMissing.
func (m *MySQL) DropIndex(ctx context.Context, s *Session, table, name string) error {
	stmt := fmt.Sprintf("DROP INDEX %s ON %s", quoteMySQL(name), quoteMySQL(table))
	_, err := s.conn.ExecContext(ctx, stmt)
	if mysqlErrNumber(err) == mysqlErrCantDropFieldOrKey {
		return fmt.Errorf("%w: %s on %s: %v", ErrIndexMissing, name, table, err)
	}
	return classify(stmt, err)
}

// EnableProfiling sets the profiling history size and turns profiling on.
func (m *MySQL) EnableProfiling(ctx context.Context, s *Session, historySize int) error {
	if historySize > 0 {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("SET PROFILING_HISTORY_SIZE = %d", historySize)); err != nil {
			return classify("set profiling_history_size", err)
		}
	}
	_, err := s.conn.ExecContext(ctx, "SET PROFILING = 1")
	return classify("set profiling", err)
}

// Profiles runs SHOW PROFILES and returns (Query_ID, Duration) pairs.
func (m *MySQL) Profiles(ctx context.Context, s *Session) (types.Profile, error) {
	rows, err := s.conn.QueryContext(ctx, "SHOW PROFILES")
	if err != nil {
		return nil, classify("show profiles", err)
	}
	defer rows.Close()

	var profile types.Profile
	for rows.Next() {
		var (
			id       int64
			duration float64
			query    sql.NullString
		)
		if err := rows.Scan(&id, &duration, &query); err != nil {
			return nil, fmt.Errorf("show profiles: %w", err)
		}
		profile = append(profile, types.ProfileSample{Label: strconv.FormatInt(id, 10), Duration: duration})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("show profiles", err)
	}
	return profile, nil
}

// Call runs CALL procedure() and drains every result set it produces.
func (m *MySQL) Call(ctx context.Context, s *Session, procedure string) error {
	rows, err := s.conn.QueryContext(ctx, "CALL "+quoteMySQL(procedure)+"()")
	if err != nil {
		return classify("call "+procedure, err)
	}
	defer rows.Close()
	if err := drain(rows); err != nil {
		return classify("call "+procedure, err)
	}
	return nil
}

// BulkLoad registers path with the driver and runs LOAD DATA LOCAL INFILE.
func (m *MySQL) BulkLoad(ctx context.Context, s *Session, path, table string) error {
	mysql.RegisterLocalFile(path)
	defer mysql.DeregisterLocalFile(path)

	stmt := fmt.Sprintf("LOAD DATA LOCAL INFILE %s INTO TABLE %s FIELDS TERMINATED BY '|' LINES TERMINATED BY '\\n'",
		quoteMySQLString(path), quoteMySQL(table))
	_, err := s.conn.ExecContext(ctx, stmt)
	return classify("load "+path, err)
}

// Analyze runs ANALYZE TABLE and discards its status rows.
func (m *MySQL) Analyze(ctx context.Context, s *Session, table string) error {
	rows, err := s.conn.QueryContext(ctx, "ANALYZE TABLE "+quoteMySQL(table))
	if err != nil {
		return classify("analyze "+table, err)
	}
	defer rows.Close()
	return classify("analyze "+table, drain(rows))
}

// StorageSize sums non-primary index pages from innodb_index_stats and data
// length from information_schema.
func (m *MySQL) StorageSize(ctx context.Context, s *Session) (float64, float64, error) {
	var indexMB, dataMB float64

	err := s.conn.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(ROUND(stat_value*@@innodb_page_size/1024/1024, 2)), 0) "+
			"FROM mysql.innodb_index_stats WHERE stat_name = 'size' AND index_name != 'PRIMARY' AND database_name = ?",
		s.schema).Scan(&indexMB)
	if err != nil {
		return 0, 0, classify("index size", err)
	}

	err = s.conn.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(DATA_LENGTH), 0)/1024/1024 FROM information_schema.tables WHERE table_schema = ?",
		s.schema).Scan(&dataMB)
	if err != nil {
		return 0, 0, classify("data size", err)
	}

	return dataMB, indexMB, nil
}

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// queryStrings returns every row of a query as strings, whatever its width.
func queryStrings(ctx context.Context, s *Session, query string) ([][]string, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]string
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = v.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// drain consumes every row of every result set.
func drain(rows *sql.Rows) error {
	for {
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if !rows.NextResultSet() {
			return rows.Err()
		}
	}
}
