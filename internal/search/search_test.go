package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/internal/observability"
	"github.com/arkilian/indexsearch/pkg/types"
)

// oneMax scores a vector by its number of set bits.
type oneMax struct {
	size   int
	calls  atomic.Int64
	failOn func(v types.Vector) bool
	cancel context.CancelFunc
	after  int64
}

func (o *oneMax) Size() int { return o.size }

func (o *oneMax) Evaluate(ctx context.Context, v types.Vector) (float64, error) {
	n := o.calls.Add(1)
	if o.cancel != nil && n >= o.after {
		o.cancel()
	}
	if len(v) != o.size {
		return 0, errors.New("bad length")
	}
	if o.failOn != nil && o.failOn(v) {
		return 0, errors.New("benchmark failed")
	}
	return float64(v.Count()), nil
}

type counter struct{ n int }

func (c *counter) NextGeneration() int { c.n++; return c.n }

func TestGenetic_ImprovesOneMax(t *testing.T) {
	eval := &oneMax{size: 21}
	tracker := &counter{}
	g := NewGenetic(eval, GeneticOptions{
		Options:        Options{Population: 30, Generations: 25, Seed: 42, Tracker: tracker},
		TournamentSize: 4,
		MutationRate:   0.05,
		MutationProb:   0.2,
		CrossoverProb:  0.8,
	})
	assert.Equal(t, "genetic", g.Name())

	res, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Generations)
	assert.Equal(t, 25, tracker.n)
	assert.Equal(t, 25*30, res.Evaluations)
	assert.Zero(t, res.Failures)
	require.Len(t, res.Best, 10)
	assert.GreaterOrEqual(t, res.Best[0].Fitness, 16.0)
	for i := 1; i < len(res.Best); i++ {
		assert.GreaterOrEqual(t, res.Best[i-1].Fitness, res.Best[i].Fitness)
	}
}

func TestGenetic_FailedEvaluationsAreExcluded(t *testing.T) {
	// vectors starting with a set bit always fail
	eval := &oneMax{size: 8, failOn: func(v types.Vector) bool { return v[0] == 1 }}
	g := NewGenetic(eval, GeneticOptions{
		Options:        Options{Population: 20, Generations: 10, Seed: 3},
		TournamentSize: 3,
		MutationRate:   0.1,
		MutationProb:   0.5,
		CrossoverProb:  0.8,
	})

	res, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, res.Failures)
	require.NotEmpty(t, res.Best)
	for _, ind := range res.Best {
		assert.True(t, ind.Valid)
		assert.Equal(t, uint8(0), ind.Vector[0])
	}
}

func TestGenetic_AllFailuresKeepRunning(t *testing.T) {
	eval := &oneMax{size: 4, failOn: func(types.Vector) bool { return true }}
	g := NewGenetic(eval, GeneticOptions{Options: Options{Population: 4, Generations: 3}})

	res, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, res.Failures)
	assert.Empty(t, res.Best)
}

func TestGenetic_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eval := &oneMax{size: 6, cancel: cancel, after: 5}
	g := NewGenetic(eval, GeneticOptions{Options: Options{Population: 10, Generations: 50}})

	res, err := g.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Generations)
	assert.Equal(t, 5, res.Evaluations)
}

func TestGenetic_Crossover(t *testing.T) {
	g := NewGenetic(&oneMax{size: 10}, GeneticOptions{Options: Options{Seed: 9}})
	for i := 0; i < 100; i++ {
		a := types.NewVector(10)
		b := types.Ones(10)
		g.crossover(a, b)
		// bits are exchanged position-wise
		for j := range a {
			assert.Equal(t, uint8(1), a[j]+b[j])
		}
		assert.Equal(t, 10, a.Count()+b.Count())
		assert.Positive(t, a.Count(), "at least one position is swapped")
		assert.Equal(t, uint8(0), a[0], "the first position is never swapped")
	}
}

func TestGenetic_MutateRate(t *testing.T) {
	g := NewGenetic(&oneMax{size: 1000}, GeneticOptions{Options: Options{Seed: 1}, MutationRate: 1})
	v := types.NewVector(1000)
	g.mutate(v)
	assert.Equal(t, 1000, v.Count())

	g.mutRate = 0
	g.mutate(v)
	assert.Equal(t, 1000, v.Count())
}

func TestGenetic_TournamentPicksValid(t *testing.T) {
	g := NewGenetic(&oneMax{size: 2}, GeneticOptions{Options: Options{Seed: 5}, TournamentSize: 50})
	pop := []Individual{
		{Vector: types.Vector{0, 0}, Fitness: 100},
		{Vector: types.Vector{0, 1}, Fitness: 1, Valid: true},
		{Vector: types.Vector{1, 1}, Fitness: 2, Valid: true},
	}
	chosen := g.selectTournament(pop, 6)
	require.Len(t, chosen, 6)
	for _, ind := range chosen {
		assert.Equal(t, 2.0, ind.Fitness)
	}
}

func TestRandomSearch(t *testing.T) {
	eval := &oneMax{size: 5}
	tracker := &counter{}
	m := observability.NewMetrics()
	r := NewRandomSearch(eval, Options{Population: 8, Generations: 4, Seed: 11, TopK: 3, Tracker: tracker, Metrics: m})
	assert.Equal(t, "random", r.Name())

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, res.Evaluations)
	assert.Equal(t, 4, tracker.n)
	require.Len(t, res.Best, 3)

	seen := map[string]bool{}
	for _, ind := range res.Best {
		assert.False(t, seen[ind.Vector.String()], "best individuals are distinct")
		seen[ind.Vector.String()] = true
		assert.Equal(t, float64(ind.Vector.Count()), ind.Fitness)
	}
}

func TestOptimizerInterface(t *testing.T) {
	var _ Optimizer = NewGenetic(&oneMax{size: 1}, GeneticOptions{})
	var _ Optimizer = NewRandomSearch(&oneMax{size: 1}, Options{})
}
