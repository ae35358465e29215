package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/internal/catalog"
	"github.com/arkilian/indexsearch/internal/config"
	"github.com/arkilian/indexsearch/internal/database/dbtest"
	"github.com/arkilian/indexsearch/internal/history"
	"github.com/arkilian/indexsearch/internal/sequence"
	"github.com/arkilian/indexsearch/pkg/types"
)

func sqliteConfig(t *testing.T, sets int) *config.Config {
	t.Helper()
	root := t.TempDir()
	path := dbtest.Create(t)

	raw, err := sql.Open("sqlite3", dbtest.DSN(path))
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE INDEX idx_c_name ON customer (c_name)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	procs := filepath.Join(root, "procedures")
	require.NoError(t, os.MkdirAll(procs, 0o755))
	dbtest.WriteProcedures(t, procs)

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = dbtest.DSN(path)
	cfg.Database.Schema = "main"
	cfg.Database.ProceduresDir = procs
	cfg.Benchmark.QueriesPerStream = dbtest.QueryCount
	cfg.Search.Algorithm = config.AlgorithmRandom
	cfg.Search.Population = 2
	cfg.Search.Generations = 1
	cfg.Search.Seed = 4
	cfg.History.Dir = filepath.Join(root, "runs")
	cfg.History.Archive = true
	cfg.Storage.Type = "local"
	cfg.Metrics.Addr = ""
	cfg.Resolve()

	require.NoError(t, os.MkdirAll(cfg.Benchmark.RefreshDir, 0o755))
	for seq := 1; seq <= sets; seq++ {
		dbtest.WriteRefreshFiles(t, cfg.Benchmark.RefreshDir, seq, 4)
	}
	return cfg
}

func TestApp_SearchEndToEnd(t *testing.T) {
	cfg := sqliteConfig(t, 9)
	a, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	t.Cleanup(func() { a.Close() })

	// reset dropped the pre-existing tunable index
	state, err := a.Applier().CurrentState(ctx)
	require.NoError(t, err)
	flag, err := state.Get(catalog.Column{Table: "customer", Name: "c_name"})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), flag)
	assert.Equal(t, a.Catalog().Size(), a.Objective().Size())

	res, err := a.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evaluations)
	assert.Zero(t, res.Failures)
	require.NotEmpty(t, res.Best)

	gens, err := history.Load(filepath.Join(cfg.History.Dir, cfg.History.FileName))
	require.NoError(t, err)
	assert.Contains(t, gens[0], types.NewVector(a.Catalog().Size()).String())
	assert.NotEmpty(t, gens[1])

	archived := filepath.Join(cfg.Storage.Path, cfg.Storage.ArchivePrefix, a.History().RunID(), "history.json.sz")
	_, err = os.Stat(archived)
	assert.NoError(t, err)

	seq, err := sequence.NewFileStore(cfg.Benchmark.SequenceFile).Read()
	require.NoError(t, err)
	assert.Equal(t, 10, seq)
}

func TestApp_FailedEvaluationsDoNotStopSearch(t *testing.T) {
	// enough refresh sets for the baseline and one evaluation only
	cfg := sqliteConfig(t, 6)
	cfg.Search.Population = 3
	cfg.History.Archive = false
	a, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	t.Cleanup(func() { a.Close() })

	res, err := a.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Evaluations)
	assert.Equal(t, 2, res.Failures)
	assert.Len(t, res.Best, 1)
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestApp_OpenFailsOnUnreachableDatabase(t *testing.T) {
	cfg := sqliteConfig(t, 0)
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "missing", "x.db") + "?mode=ro"
	a, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, a.Open(context.Background()))
}
