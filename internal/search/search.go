// Package search drives the evaluation contract with a pluggable optimizer.
package search

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/arkilian/indexsearch/internal/observability"
	"github.com/arkilian/indexsearch/pkg/types"
)

// Evaluator scores configuration vectors. A failed evaluation returns an
// error and carries no score.
type Evaluator interface {
	Size() int
	Evaluate(ctx context.Context, v types.Vector) (float64, error)
}

// GenerationTracker is told when a new generation starts.
type GenerationTracker interface {
	NextGeneration() int
}

// Optimizer searches the configuration space.
type Optimizer interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// Individual is a vector and its score. Valid is false until the vector has
// been evaluated successfully.
type Individual struct {
	Vector  types.Vector
	Fitness float64
	Valid   bool
}

func (ind Individual) clone() Individual {
	return Individual{Vector: ind.Vector.Clone()}
}

// Result summarizes a search run.
type Result struct {
	Generations int
	Evaluations int
	Failures    int
	// Best holds the top individuals, best first.
	Best []Individual
}

// Options holds the settings shared by all optimizers.
type Options struct {
	Population  int
	Generations int
	Seed        uint64
	TopK        int

	Tracker GenerationTracker
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Population <= 0 {
		o.Population = 50
	}
	if o.Generations <= 0 {
		o.Generations = 100
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// loop holds the state common to the optimizers.
type loop struct {
	eval   Evaluator
	opts   Options
	rng    *rand.Rand
	logger *slog.Logger
	result Result
}

func newLoop(eval Evaluator, opts Options, name string) *loop {
	opts = opts.withDefaults()
	return &loop{
		eval:   eval,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)),
		logger: opts.Logger.With("component", "search", "algorithm", name),
	}
}

func (l *loop) randomIndividual() Individual {
	v := types.NewVector(l.eval.Size())
	for i := range v {
		v[i] = uint8(l.rng.IntN(2))
	}
	return Individual{Vector: v}
}

func (l *loop) startGeneration(gen int) {
	if l.opts.Tracker != nil {
		l.opts.Tracker.NextGeneration()
	}
	l.opts.Metrics.SetGeneration(gen)
	l.result.Generations = gen
	l.logger.Info("generation started", "generation", gen)
}

// evaluate scores every individual in place. Failures leave the individual
// invalid; only a cancelled context stops the loop.
func (l *loop) evaluate(ctx context.Context, pop []Individual) error {
	for i := range pop {
		if err := ctx.Err(); err != nil {
			return err
		}
		fit, err := l.eval.Evaluate(ctx, pop[i].Vector)
		l.result.Evaluations++
		if err != nil {
			l.result.Failures++
			pop[i].Valid = false
			l.logger.Warn("individual excluded", "vector", pop[i].Vector.String(), "error", err)
			continue
		}
		pop[i].Fitness, pop[i].Valid = fit, true
		l.logger.Info("individual evaluated", "vector", pop[i].Vector.String(), "fitness", fit)
	}
	return ctx.Err()
}

// best returns up to k valid individuals, best first.
func best(pop []Individual, k int) []Individual {
	valid := make([]Individual, 0, len(pop))
	for _, ind := range pop {
		if ind.Valid {
			valid = append(valid, ind)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Fitness > valid[j].Fitness })
	if len(valid) > k {
		valid = valid[:k]
	}
	return valid
}

// merge keeps the k best distinct vectors of a and b.
func merge(a, b []Individual, k int) []Individual {
	seen := make(map[string]bool, len(a)+len(b))
	all := make([]Individual, 0, len(a)+len(b))
	for _, ind := range append(append([]Individual(nil), a...), b...) {
		key := ind.Vector.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		all = append(all, ind)
	}
	return best(all, k)
}

func (l *loop) report() *Result {
	for i, ind := range l.result.Best {
		l.logger.Info("best individual", "rank", i+1, "vector", ind.Vector.String(),
			"fingerprint", ind.Vector.Fingerprint(), "fitness", ind.Fitness)
	}
	l.logger.Info("search finished", "generations", l.result.Generations,
		"evaluations", l.result.Evaluations, "failures", l.result.Failures)
	res := l.result
	return &res
}
