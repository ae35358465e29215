// Package index reads the live index configuration of the benchmarked schema
// and applies target states to it by creating and dropping idx_<column>
// indexes.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arkilian/indexsearch/internal/catalog"
	"github.com/arkilian/indexsearch/internal/database"
	ierrors "github.com/arkilian/indexsearch/internal/errors"
)

// NamePrefix prefixes every index this package creates.
const NamePrefix = "idx_"

// IndexName returns the deterministic name of the index on col.
func IndexName(col catalog.Column) string {
	return NamePrefix + col.Name
}

// ActionType represents the type of index action to perform.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionDrop   ActionType = "DROP"
)

// Action represents an action to create or drop the index of one column.
type Action struct {
	Type   ActionType
	Column catalog.Column
	Name   string
}

// Outcome is how an action ended. AlreadyExists and NotFound are ignorable:
// the live schema already matches the target for that column.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeDropped       Outcome = "dropped"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeNotFound      Outcome = "not_found"
)

// Result pairs an action with its outcome.
type Result struct {
	Action
	Outcome Outcome
}

// Conflict reports whether the action was a no-op against the live schema.
func (r Result) Conflict() bool {
	return r.Outcome == OutcomeAlreadyExists || r.Outcome == OutcomeNotFound
}

// Applier reads and changes the live index configuration.
type Applier struct {
	db      *database.DB
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewApplier creates an applier over the tables of cat.
func NewApplier(db *database.DB, cat *catalog.Catalog, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		db:      db,
		catalog: cat,
		logger:  logger.With("component", "index"),
	}
}

// CurrentState reads every column of the catalog tables and flags it when
// any index, primary key included, covers it.
func (a *Applier) CurrentState(ctx context.Context) (*catalog.State, error) {
	var (
		columns []catalog.Column
		indexed = make(map[catalog.Column]bool)
	)
	err := a.db.WithSession(ctx, func(s *database.Session) error {
		for _, table := range a.catalog.Tables() {
			names, err := s.TableColumns(ctx, table)
			if err != nil {
				return fmt.Errorf("list columns of %s: %w", table, err)
			}
			for _, name := range names {
				columns = append(columns, catalog.Column{Table: table, Name: name})
			}

			entries, err := s.IndexedColumns(ctx, table)
			if err != nil {
				return fmt.Errorf("list indexes of %s: %w", table, err)
			}
			for _, e := range entries {
				indexed[catalog.Column{Table: table, Name: e.Column}] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	state := catalog.NewState(columns)
	for col := range indexed {
		if !state.Has(col) {
			continue
		}
		if err := state.Set(col, 1); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Plan lists the actions that bring the live schema to target. Every column
// gets an action; no-ops are resolved by the database, not by a prior read.
func (a *Applier) Plan(target *catalog.State, restrictToTunable bool) []Action {
	var actions []Action
	target.Each(func(col catalog.Column, flag uint8) {
		if restrictToTunable && !a.catalog.Contains(col) {
			return
		}
		typ := ActionDrop
		if flag == 1 {
			typ = ActionCreate
		}
		actions = append(actions, Action{Type: typ, Column: col, Name: IndexName(col)})
	})
	return actions
}

// Apply brings the live schema to target and returns once every action has
// completed. Index conflicts are logged and reported as outcomes; any other
// failure aborts the remaining actions.
func (a *Applier) Apply(ctx context.Context, target *catalog.State, restrictToTunable bool) ([]Result, error) {
	actions := a.Plan(target, restrictToTunable)
	results := make([]Result, 0, len(actions))

	err := a.db.WithSession(ctx, func(s *database.Session) error {
		for _, action := range actions {
			outcome, err := a.execute(ctx, s, action)
			if err != nil {
				return err
			}
			results = append(results, Result{Action: action, Outcome: outcome})
		}
		return nil
	})
	if err != nil {
		return results, err
	}

	created, dropped := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case OutcomeCreated:
			created++
		case OutcomeDropped:
			dropped++
		}
	}
	a.logger.Debug("index state applied", "actions", len(results), "created", created, "dropped", dropped)
	return results, nil
}

func (a *Applier) execute(ctx context.Context, s *database.Session, action Action) (Outcome, error) {
	table, column := action.Column.Table, action.Column.Name

	switch action.Type {
	case ActionCreate:
		err := s.CreateIndex(ctx, table, column, action.Name)
		if errors.Is(err, database.ErrIndexExists) {
			a.logConflict(action, err)
			return OutcomeAlreadyExists, nil
		}
		if err != nil {
			return "", fmt.Errorf("create index %s on %s: %w", action.Name, action.Column, err)
		}
		return OutcomeCreated, nil

	case ActionDrop:
		err := s.DropIndex(ctx, table, action.Name)
		if errors.Is(err, database.ErrIndexMissing) {
			a.logConflict(action, err)
			return OutcomeNotFound, nil
		}
		if err != nil {
			return "", fmt.Errorf("drop index %s on %s: %w", action.Name, action.Column, err)
		}
		return OutcomeDropped, nil

	default:
		return "", fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func (a *Applier) logConflict(action Action, cause error) {
	err := ierrors.NewIndexConflict(fmt.Sprintf("%s %s", strings.ToLower(string(action.Type)), action.Name), cause)
	a.logger.Debug("index conflict ignored",
		"table", action.Column.Table, "column", action.Column.Name, "error", err)
}

// ResetAll drops every index named with NamePrefix on the catalog tables.
// Per-index failures are logged and skipped; connectivity failures abort.
func (a *Applier) ResetAll(ctx context.Context) ([]Result, error) {
	var results []Result

	err := a.db.WithSession(ctx, func(s *database.Session) error {
		for _, table := range a.catalog.Tables() {
			entries, err := s.IndexedColumns(ctx, table)
			if err != nil {
				if errors.Is(err, ierrors.ErrConnectivity) {
					return err
				}
				a.logger.Warn("reset: list indexes failed", "table", table, "error", err)
				continue
			}

			seen := make(map[string]bool)
			for _, e := range entries {
				if !strings.HasPrefix(e.Name, NamePrefix) || seen[e.Name] {
					continue
				}
				seen[e.Name] = true

				action := Action{
					Type:   ActionDrop,
					Column: catalog.Column{Table: table, Name: e.Column},
					Name:   e.Name,
				}
				err := s.DropIndex(ctx, table, e.Name)
				switch {
				case err == nil:
					results = append(results, Result{Action: action, Outcome: OutcomeDropped})
				case errors.Is(err, ierrors.ErrConnectivity):
					return err
				case errors.Is(err, database.ErrIndexMissing):
					results = append(results, Result{Action: action, Outcome: OutcomeNotFound})
				default:
					a.logger.Warn("reset: drop index failed", "table", table, "index", e.Name, "error", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return results, err
	}

	a.logger.Info("indexes reset", "dropped", len(results))
	return results, nil
}
