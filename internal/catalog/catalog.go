// Package catalog defines the tunable column registry and the typed index state
// built on top of it. The catalog's canonical order (tables sorted by name,
// columns in declaration order) fixes the meaning of every vector position.
package catalog

import (
	"fmt"
	"sort"
)

// Column identifies a column of a table.
type Column struct {
	Table string
	Name  string
}

// String returns "table.column".
func (c Column) String() string {
	return c.Table + "." + c.Name
}

// Catalog is the immutable registry of tunable (table, column) pairs.
type Catalog struct {
	tables map[string][]string
	keys   map[string][]string
	order  []Column
	pos    map[Column]int
}

// New builds a catalog from tunable columns per table and the key (primary
// and foreign) columns per table. Key columns may not be tunable.
func New(tables map[string][]string, keys map[string][]string) (*Catalog, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("catalog: no tables")
	}

	c := &Catalog{
		tables: make(map[string][]string, len(tables)),
		keys:   make(map[string][]string, len(keys)),
		pos:    make(map[Column]int),
	}

	keySet := make(map[Column]bool)
	for table, cols := range keys {
		c.keys[table] = append([]string(nil), cols...)
		for _, col := range cols {
			keySet[Column{Table: table, Name: col}] = true
		}
	}

	names := make([]string, 0, len(tables))
	for table := range tables {
		names = append(names, table)
	}
	sort.Strings(names)

	for _, table := range names {
		cols := tables[table]
		if len(cols) == 0 {
			return nil, fmt.Errorf("catalog: table %s has no tunable columns", table)
		}
		c.tables[table] = append([]string(nil), cols...)
		for _, name := range cols {
			col := Column{Table: table, Name: name}
			if _, dup := c.pos[col]; dup {
				return nil, fmt.Errorf("catalog: duplicate column %s", col)
			}
			if keySet[col] {
				return nil, fmt.Errorf("catalog: key column %s cannot be tunable", col)
			}
			c.pos[col] = len(c.order)
			c.order = append(c.order, col)
		}
	}

	return c, nil
}

// MustNew is New that panics on error. Intended for static catalogs.
func MustNew(tables map[string][]string, keys map[string][]string) *Catalog {
	c, err := New(tables, keys)
	if err != nil {
		panic(err)
	}
	return c
}

// Size returns the number of tunable columns, which is the vector length.
func (c *Catalog) Size() int {
	return len(c.order)
}

// Columns returns the tunable columns in canonical order.
func (c *Catalog) Columns() []Column {
	out := make([]Column, len(c.order))
	copy(out, c.order)
	return out
}

// Tables returns the table names in canonical (lexicographic) order.
func (c *Catalog) Tables() []string {
	names := make([]string, 0, len(c.tables))
	for table := range c.tables {
		names = append(names, table)
	}
	sort.Strings(names)
	return names
}

// TableColumns returns the tunable columns of a table in declaration order.
func (c *Catalog) TableColumns(table string) []string {
	return append([]string(nil), c.tables[table]...)
}

// Position returns the vector position of a tunable column.
func (c *Catalog) Position(col Column) (int, bool) {
	p, ok := c.pos[col]
	return p, ok
}

// Contains reports whether col is tunable.
func (c *Catalog) Contains(col Column) bool {
	_, ok := c.pos[col]
	return ok
}

// Keys returns the key columns registered for a table.
func (c *Catalog) Keys(table string) []string {
	return append([]string(nil), c.keys[table]...)
}

// IsKey reports whether col is a primary or foreign key column.
func (c *Catalog) IsKey(col Column) bool {
	for _, k := range c.keys[col.Table] {
		if k == col.Name {
			return true
		}
	}
	return false
}
