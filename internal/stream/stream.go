// Package stream runs single query and refresh streams against the
// benchmarked database and returns their statement timings.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arkilian/indexsearch/internal/database"
	"github.com/arkilian/indexsearch/internal/refresh"
	"github.com/arkilian/indexsearch/pkg/types"
)

// Stored procedures invoked by the streams.
const (
	QueryStreamProcedure   = "QUERY_STREAM"
	InsertRefreshProcedure = "INSERT_REFRESH_FUNCTION"
	DeleteRefreshProcedure = "DELETE_REFRESH_FUNCTION"
)

// Labels of the two refresh function timings.
const (
	InsertRefreshLabel = "RF1"
	DeleteRefreshLabel = "RF2"
)

// refreshHistory bounds the profiling window of a refresh function; it is the
// largest window MySQL accepts.
const refreshHistory = 100

// Runner executes streams. Every call opens and closes its own session, so a
// Runner may be used by concurrent workers.
type Runner struct {
	db      *database.DB
	source  *refresh.Source
	queries int
	logger  *slog.Logger
}

// NewRunner creates a runner. queries is the number of statements in the
// query stream procedure.
func NewRunner(db *database.DB, source *refresh.Source, queries int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:      db,
		source:  source,
		queries: queries,
		logger:  logger.With("component", "stream"),
	}
}

// QueryCount returns the number of statements per query stream.
func (r *Runner) QueryCount() int {
	return r.queries
}

// QueryStream runs the query stream procedure once and returns one sample
// per statement, labelled by its sequence number within the session.
func (r *Runner) QueryStream(ctx context.Context) (types.Profile, error) {
	var profile types.Profile
	err := r.db.WithSession(ctx, func(s *database.Session) error {
		if err := s.EnableProfiling(ctx, r.queries); err != nil {
			return fmt.Errorf("query stream: enable profiling: %w", err)
		}
		if err := s.Call(ctx, QueryStreamProcedure); err != nil {
			return fmt.Errorf("query stream: %w", err)
		}
		p, err := s.Profiles(ctx)
		if err != nil {
			return fmt.Errorf("query stream: read profiles: %w", err)
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(profile) != r.queries {
		r.logger.Warn("query stream profile size differs from query count",
			"samples", len(profile), "queries", r.queries)
	}
	return profile, nil
}

// LoadRefreshData bulk loads refresh set seq into the staging tables. A
// missing file fails with DataFileMissing before anything is loaded.
func (r *Runner) LoadRefreshData(ctx context.Context, seq int) error {
	set, err := r.source.Check(seq)
	if err != nil {
		return err
	}

	return r.db.WithSession(ctx, func(s *database.Session) error {
		for _, load := range set.Loads() {
			if err := s.BulkLoad(ctx, load.Path, load.Table); err != nil {
				return fmt.Errorf("refresh %d: load %s into %s: %w", seq, load.Path, load.Table, err)
			}
		}
		r.logger.Debug("refresh data loaded", "seq", seq)
		return nil
	})
}

// InsertRefresh runs the insert refresh function and returns its total time.
func (r *Runner) InsertRefresh(ctx context.Context) (types.ProfileSample, error) {
	return r.refreshFunction(ctx, InsertRefreshProcedure, InsertRefreshLabel)
}

// DeleteRefresh runs the delete refresh function and returns its total time.
func (r *Runner) DeleteRefresh(ctx context.Context) (types.ProfileSample, error) {
	return r.refreshFunction(ctx, DeleteRefreshProcedure, DeleteRefreshLabel)
}

func (r *Runner) refreshFunction(ctx context.Context, procedure, label string) (types.ProfileSample, error) {
	sample := types.ProfileSample{Label: label}
	err := r.db.WithSession(ctx, func(s *database.Session) error {
		if err := s.EnableProfiling(ctx, refreshHistory); err != nil {
			return fmt.Errorf("%s: enable profiling: %w", label, err)
		}
		if err := s.Call(ctx, procedure); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		p, err := s.Profiles(ctx)
		if err != nil {
			return fmt.Errorf("%s: read profiles: %w", label, err)
		}
		sample.Duration = p.Total()
		return nil
	})
	return sample, err
}

// RefreshStream loads refresh set seq, then runs the insert and delete
// refresh functions. It returns the two function timings in that order.
func (r *Runner) RefreshStream(ctx context.Context, seq int) (types.Profile, error) {
	if err := r.LoadRefreshData(ctx, seq); err != nil {
		return nil, err
	}
	insert, err := r.InsertRefresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh %d: %w", seq, err)
	}
	del, err := r.DeleteRefresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh %d: %w", seq, err)
	}
	return types.Profile{insert, del}, nil
}
