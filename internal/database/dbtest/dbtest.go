// Package dbtest builds small TPC-H shaped SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/internal/database"
)

// QueryCount is the number of statements in the QUERY_STREAM procedure.
const QueryCount = 22

var schema = []string{
	`CREATE TABLE region (r_regionkey INTEGER PRIMARY KEY, r_name TEXT, r_comment TEXT)`,
	`CREATE TABLE nation (n_nationkey INTEGER PRIMARY KEY, n_name TEXT, n_regionkey INTEGER, n_comment TEXT)`,
	`CREATE TABLE part (p_partkey INTEGER PRIMARY KEY, p_name TEXT, p_mfgr TEXT, p_brand TEXT, p_type TEXT,
		p_size INTEGER, p_container TEXT, p_retailprice REAL, p_comment TEXT)`,
	`CREATE TABLE supplier (s_suppkey INTEGER PRIMARY KEY, s_name TEXT, s_address TEXT, s_nationkey INTEGER,
		s_phone TEXT, s_acctbal REAL, s_comment TEXT)`,
	`CREATE TABLE partsupp (ps_partkey INTEGER, ps_suppkey INTEGER, ps_availqty INTEGER, ps_supplycost REAL,
		ps_comment TEXT, PRIMARY KEY (ps_partkey, ps_suppkey))`,
	`CREATE TABLE customer (c_custkey INTEGER PRIMARY KEY, c_name TEXT, c_address TEXT, c_nationkey INTEGER,
		c_phone TEXT, c_acctbal REAL, c_mktsegment TEXT, c_comment TEXT)`,
	`CREATE TABLE orders (o_orderkey INTEGER PRIMARY KEY, o_custkey INTEGER, o_orderstatus TEXT, o_totalprice REAL,
		o_orderdate TEXT, o_orderpriority TEXT, o_clerk TEXT, o_shippriority INTEGER, o_comment TEXT)`,
	`CREATE TABLE lineitem (l_orderkey INTEGER, l_partkey INTEGER, l_suppkey INTEGER, l_linenumber INTEGER,
		l_quantity REAL, l_extendedprice REAL, l_discount REAL, l_tax REAL, l_returnflag TEXT, l_linestatus TEXT,
		l_shipdate TEXT, l_commitdate TEXT, l_receiptdate TEXT, l_shipinstruct TEXT, l_shipmode TEXT, l_comment TEXT,
		PRIMARY KEY (l_orderkey, l_linenumber))`,
	`CREATE TABLE orders_temp (o_orderkey INTEGER, o_custkey INTEGER, o_orderstatus TEXT, o_totalprice REAL,
		o_orderdate TEXT, o_orderpriority TEXT, o_clerk TEXT, o_shippriority INTEGER, o_comment TEXT)`,
	`CREATE TABLE lineitem_temp (l_orderkey INTEGER, l_partkey INTEGER, l_suppkey INTEGER, l_linenumber INTEGER,
		l_quantity REAL, l_extendedprice REAL, l_discount REAL, l_tax REAL, l_returnflag TEXT, l_linestatus TEXT,
		l_shipdate TEXT, l_commitdate TEXT, l_receiptdate TEXT, l_shipinstruct TEXT, l_shipmode TEXT, l_comment TEXT)`,
	`CREATE TABLE rfdelete (rf_orderkey INTEGER)`,
}

var seed = []string{
	`INSERT INTO region VALUES (0, 'AFRICA', 'lar deposits'), (1, 'AMERICA', 'hs use ironic')`,
	`INSERT INTO nation VALUES (0, 'ALGERIA', 0, 'haggle'), (1, 'ARGENTINA', 1, 'al foxes')`,
	`INSERT INTO part VALUES (1, 'goldenrod lavender', 'Manufacturer#1', 'Brand#13', 'PROMO BURNISHED COPPER', 7, 'JUMBO PKG', 901.0, 'ly. slyly ironi')`,
	`INSERT INTO supplier VALUES (1, 'Supplier#000000001', 'N kD4on9OM', 0, '27-918-335-1736', 5755.94, 'requests haggle')`,
	`INSERT INTO partsupp VALUES (1, 1, 3325, 771.64, 'final theodolites')`,
	`INSERT INTO customer VALUES (1, 'Customer#000000001', 'IVhzIApeRb', 1, '25-989-741-2988', 711.56, 'BUILDING', 'regular foxes')`,
	`INSERT INTO orders VALUES (1, 1, 'O', 173665.47, '1996-01-02', '5-LOW', 'Clerk#000000951', 0, 'nstructions sleep')`,
	`INSERT INTO lineitem VALUES (1, 1, 1, 1, 17, 21168.23, 0.04, 0.02, 'N', 'O', '1996-03-13', '1996-02-12',
		'1996-03-22', 'DELIVER IN PERSON', 'TRUCK', 'egular courts')`,
}

var queries = []string{
	`SELECT l_returnflag, l_linestatus, SUM(l_quantity), AVG(l_extendedprice) FROM lineitem GROUP BY l_returnflag, l_linestatus`,
	`SELECT s_acctbal, s_name, n_name, p_partkey, p_mfgr FROM part, supplier, partsupp, nation
		WHERE p_partkey = ps_partkey AND s_suppkey = ps_suppkey AND s_nationkey = n_nationkey ORDER BY s_acctbal DESC`,
	`SELECT l_orderkey, SUM(l_extendedprice * (1 - l_discount)) AS revenue, o_orderdate, o_shippriority
		FROM customer, orders, lineitem WHERE c_custkey = o_custkey AND l_orderkey = o_orderkey GROUP BY l_orderkey`,
	`SELECT o_orderpriority, COUNT(*) FROM orders GROUP BY o_orderpriority ORDER BY o_orderpriority`,
	`SELECT c_name, c_address, c_comment FROM customer WHERE c_acctbal > 0`,
	`SELECT SUM(l_extendedprice * l_discount) FROM lineitem WHERE l_tax < 0.08`,
}

// Create writes a TPC-H shaped database file under t.TempDir(), seeds a few
// rows and returns its path.
func Create(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tpch.db")

	raw, err := sql.Open("sqlite3", DSN(path))
	require.NoError(t, err)
	for _, stmt := range append(append([]string{}, schema...), seed...) {
		_, err := raw.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, raw.Close())
	return path
}

// Open opens a database made by Create and registers the QUERY_STREAM,
// INSERT_REFRESH_FUNCTION and DELETE_REFRESH_FUNCTION procedures.
func Open(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{
		Driver: "sqlite3",
		DSN:    DSN(Create(t)),
		Schema: "main",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	RegisterProcedures(db.Dialect().(*database.SQLite))
	return db
}

// DSN returns a sqlite3 DSN for path tuned for concurrent sessions.
func DSN(path string) string {
	return "file:" + path + "?_busy_timeout=10000&_journal_mode=WAL"
}

func procedures() map[string][]string {
	stream := make([]string, QueryCount)
	for i := range stream {
		stream[i] = queries[i%len(queries)]
	}
	return map[string][]string{
		"QUERY_STREAM": stream,
		"INSERT_REFRESH_FUNCTION": {
			`INSERT INTO orders SELECT * FROM orders_temp`,
			`INSERT INTO lineitem SELECT * FROM lineitem_temp`,
			`DELETE FROM orders_temp`,
			`DELETE FROM lineitem_temp`,
		},
		"DELETE_REFRESH_FUNCTION": {
			`DELETE FROM lineitem WHERE l_orderkey IN (SELECT rf_orderkey FROM rfdelete)`,
			`DELETE FROM orders WHERE o_orderkey IN (SELECT rf_orderkey FROM rfdelete)`,
			`DELETE FROM rfdelete`,
		},
	}
}

// RegisterProcedures registers the three benchmark procedures on d.
func RegisterProcedures(d *database.SQLite) {
	for name, stmts := range procedures() {
		d.RegisterProcedure(name, stmts...)
	}
}

// WriteProcedures writes the three benchmark procedures as NAME.sql scripts
// into dir, for loading through database.Config.ProceduresDir.
func WriteProcedures(t testing.TB, dir string) {
	t.Helper()
	for name, stmts := range procedures() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "-- %s\n", name)
		for _, stmt := range stmts {
			sb.WriteString(stmt)
			sb.WriteString(";\n")
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".sql"), []byte(sb.String()), 0o644))
	}
}

// WriteRefreshFiles writes orders.tbl.u<seq>, lineitem.tbl.u<seq> and
// delete.<seq> into dir. Each set inserts rows orders and deletes the same
// order keys again, so sets can be consumed in any order.
func WriteRefreshFiles(t testing.TB, dir string, seq, rows int) {
	t.Helper()
	var orders, lineitems, deletes strings.Builder
	for i := 0; i < rows; i++ {
		key := 1_000_000*seq + i
		fmt.Fprintf(&orders, "%d|1|O|%d.50|1997-05-01|1-URGENT|Clerk#000000042|0|fresh order %d|\n", key, 100+i, i)
		fmt.Fprintf(&lineitems, "%d|1|1|1|3|%d.00|0.05|0.01|N|O|1997-05-10|1997-05-20|1997-05-30|NONE|MAIL|refresh line|\n", key, 50+i)
		fmt.Fprintf(&deletes, "%d|\n", key)
	}
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write(fmt.Sprintf("orders.tbl.u%d", seq), orders.String())
	write(fmt.Sprintf("lineitem.tbl.u%d", seq), lineitems.String())
	write(fmt.Sprintf("delete.%d", seq), deletes.String())
}

// Count returns the number of rows in table.
func Count(t testing.TB, db *database.DB, table string) int {
	t.Helper()
	var n int
	err := db.WithSession(context.Background(), func(s *database.Session) error {
		return s.Conn().QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n)
	})
	require.NoError(t, err)
	return n
}
