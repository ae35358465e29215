package benchmark

import (
	"context"
	"fmt"

	"github.com/arkilian/indexsearch/internal/database"
)

// DatabaseSize measures storage by refreshing table statistics first.
type DatabaseSize struct {
	db     *database.DB
	tables []string
}

// NewDatabaseSize returns a probe that analyzes tables before measuring.
func NewDatabaseSize(db *database.DB, tables []string) *DatabaseSize {
	return &DatabaseSize{db: db, tables: tables}
}

// StorageSize analyzes every table, then returns data and index megabytes.
func (p *DatabaseSize) StorageSize(ctx context.Context) (dataMB, indexMB float64, err error) {
	err = p.db.WithSession(ctx, func(s *database.Session) error {
		for _, table := range p.tables {
			if err := s.Analyze(ctx, table); err != nil {
				return fmt.Errorf("analyze %s: %w", table, err)
			}
		}
		dataMB, indexMB, err = s.StorageSize(ctx)
		return err
	})
	return dataMB, indexMB, err
}
