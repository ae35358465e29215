package evaluate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/internal/benchmark"
	"github.com/arkilian/indexsearch/internal/catalog"
	"github.com/arkilian/indexsearch/internal/codec"
	"github.com/arkilian/indexsearch/internal/database/dbtest"
	"github.com/arkilian/indexsearch/internal/evaluate"
	"github.com/arkilian/indexsearch/internal/history"
	"github.com/arkilian/indexsearch/internal/index"
	"github.com/arkilian/indexsearch/internal/observability"
	"github.com/arkilian/indexsearch/internal/refresh"
	"github.com/arkilian/indexsearch/internal/sequence"
	"github.com/arkilian/indexsearch/internal/stream"
	"github.com/arkilian/indexsearch/pkg/types"
)

func TestObjective_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	dir := t.TempDir()
	for seq := 1; seq <= 9; seq++ {
		dbtest.WriteRefreshFiles(t, dir, seq, 5)
	}

	cat := catalog.TPCH()
	applier := index.NewApplier(db, cat, nil)
	initial, err := applier.CurrentState(ctx)
	require.NoError(t, err)
	c, err := codec.New(cat, initial)
	require.NoError(t, err)

	source := refresh.NewSource(dir, nil, "", nil)
	store := sequence.NewFileStore(filepath.Join(dir, "refresh_stream_number.txt"))
	cfg := benchmark.Config{ScaleFactor: 1, Streams: 2, WorkerTimeout: time.Minute, JoinGrace: 5 * time.Second}
	metrics := observability.NewMetrics()
	bench := benchmark.NewEngine(cfg, stream.NewRunner(db, source, dbtest.QueryCount, nil), store,
		benchmark.NewDatabaseSize(db, cat.Tables())).WithPreparer(source).WithMetrics(metrics)

	h, err := history.New(filepath.Join(dir, "results"), "", nil)
	require.NoError(t, err)

	f, err := evaluate.LookupFitness("qphh_prop")
	require.NoError(t, err)
	o := evaluate.NewObjective(c, applier, bench, f, evaluate.Options{History: h, Metrics: metrics})
	require.Equal(t, cat.Size(), o.Size())

	base, err := o.EvaluateBaseline(ctx)
	require.NoError(t, err)
	assert.Greater(t, base.QphH, 0.0)

	v := types.NewVector(o.Size())
	v[0], v[5] = 1, 1
	fitness, err := o.Evaluate(ctx, v)
	require.NoError(t, err)
	assert.Greater(t, fitness, 0.0)

	live, err := applier.CurrentState(ctx)
	require.NoError(t, err)
	got, err := c.Encode(live)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	seq, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, 7, seq)

	require.NoError(t, h.Serialize())
	gens, err := history.Load(h.Path())
	require.NoError(t, err)
	assert.Len(t, gens[0], 2)

	// sets 7..9 exist but a fourth evaluation would need 10..12
	_, err = o.Evaluate(ctx, types.Ones(o.Size()))
	require.NoError(t, err)
	_, err = o.Evaluate(ctx, types.NewVector(o.Size()))
	assert.Error(t, err)
	seq, err = store.Read()
	require.NoError(t, err)
	assert.Equal(t, 10, seq)
}
