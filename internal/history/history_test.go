package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/internal/storage"
	"github.com/arkilian/indexsearch/pkg/types"
)

func fitness(v float64) *float64 { return &v }

func TestHistory_UpdateAndSerialize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	h, err := New(dir, "", nil)
	require.NoError(t, err)
	_, err = uuid.Parse(h.RunID())
	require.NoError(t, err)

	baseline := types.NewVector(4)
	h.Update(baseline, Record{Metrics: types.Metrics{QphH: 100, Time: 30}})
	assert.Equal(t, 1, h.NextGeneration())

	v := types.Vector{0, 1, 1, 0}
	h.Update(v, Record{Metrics: types.Metrics{QphH: 150}, Fitness: fitness(150)})
	require.NoError(t, h.Serialize())

	gens, err := Load(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	require.Len(t, gens, 2)

	rec, ok := gens[1]["0 1 1 0"]
	require.True(t, ok)
	assert.Equal(t, 150.0, rec.QphH)
	require.NotNil(t, rec.Fitness)
	assert.Equal(t, 150.0, *rec.Fitness)
	assert.Equal(t, v.Fingerprint(), rec.Fingerprint)
	assert.Equal(t, h.RunID(), rec.RunID)

	assert.Nil(t, gens[0]["0 0 0 0"].Fitness)
	assert.Equal(t, 2, h.Evaluations())
}

func TestHistory_JSONShape(t *testing.T) {
	h, err := New(t.TempDir(), "h.json", nil)
	require.NoError(t, err)
	for i := 0; i < 11; i++ {
		h.Update(types.Vector{1, 0}, Record{Metrics: types.Metrics{Power: float64(i)}})
		h.NextGeneration()
	}
	require.NoError(t, h.Serialize())

	data, err := os.ReadFile(h.Path())
	require.NoError(t, err)

	var raw map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw["3"]["1 0"], "power")
	assert.Contains(t, raw["3"]["1 0"], "qphh")
	assert.NotContains(t, raw["3"]["1 0"], "fitness")

	// generations are written in numeric order
	assert.Less(t, strings.Index(string(data), `"2"`), strings.Index(string(data), `"10"`))
}

func TestHistory_FailedEvaluationRecorded(t *testing.T) {
	h, err := New(t.TempDir(), "", nil)
	require.NoError(t, err)

	v := types.Vector{1, 1}
	h.Update(v, Record{Error: "worker timed out"})
	rec, ok := h.Lookup(0, v)
	require.True(t, ok)
	assert.Equal(t, "worker timed out", rec.Error)
	assert.Nil(t, rec.Fitness)
}

func TestHistory_Archive(t *testing.T) {
	h, err := New(t.TempDir(), "", nil)
	require.NoError(t, err)
	h.Update(types.Vector{1, 0, 1}, Record{Metrics: types.Metrics{QphH: 42}, Fitness: fitness(42)})

	bucket := t.TempDir()
	remote, err := storage.NewLocalStorage(bucket)
	require.NoError(t, err)

	obj, err := h.Archive(context.Background(), remote, "archive")
	require.NoError(t, err)
	assert.Equal(t, "archive/"+h.RunID()+"/history.json.sz", obj)

	f, err := os.Open(filepath.Join(bucket, filepath.FromSlash(obj)))
	require.NoError(t, err)
	defer f.Close()

	gens, err := ReadArchive(f)
	require.NoError(t, err)
	assert.Equal(t, 42.0, gens[0]["1 0 1"].QphH)

	_, err = os.Stat(h.Path() + ".sz")
	assert.True(t, os.IsNotExist(err), "local compressed copy is removed")
}

func TestGenerations_Best(t *testing.T) {
	gens := Generations{
		0: {"0 0 0": {Metrics: types.Metrics{QphH: 100}}},
		1: {
			"1 0 0": {Fitness: fitness(2)},
			"0 1 0": {Fitness: fitness(5)},
			"0 0 1": {Error: "throughput worker timed out"},
		},
		2: {
			"1 1 0": {Fitness: fitness(5)},
			"1 1 1": {Fitness: fitness(1)},
		},
	}

	best := gens.Best(3)
	require.Len(t, best, 3)
	assert.Equal(t, "0 1 0", best[0].Vector)
	assert.Equal(t, 1, best[0].Generation)
	assert.Equal(t, "1 1 0", best[1].Vector, "ties keep the earlier generation first")
	assert.Equal(t, "1 0 0", best[2].Vector)

	assert.Len(t, gens.Best(0), 4, "unscored records are skipped")
	assert.Equal(t, 6, gens.Count())
}

func TestLoad_ReadsBackBest(t *testing.T) {
	h, err := New(t.TempDir(), "", nil)
	require.NoError(t, err)
	h.NextGeneration()
	h.Update(types.Vector{1, 0}, Record{Fitness: fitness(3)})
	h.Update(types.Vector{0, 1}, Record{Fitness: fitness(7)})
	require.NoError(t, h.Serialize())

	gens, err := Load(h.Path())
	require.NoError(t, err)
	best := gens.Best(1)
	require.Len(t, best, 1)
	assert.Equal(t, "0 1", best[0].Vector)
	assert.Equal(t, h.RunID(), best[0].RunID)

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
