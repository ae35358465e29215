package search

import (
	"context"
)

// RandomSearch evaluates a fresh random population every generation.
type RandomSearch struct {
	*loop
}

// NewRandomSearch creates a random search over eval.
func NewRandomSearch(eval Evaluator, opts Options) *RandomSearch {
	return &RandomSearch{loop: newLoop(eval, opts, "random")}
}

// Name returns "random".
func (r *RandomSearch) Name() string { return "random" }

// Run evaluates Generations populations. The best individuals over the whole
// run are reported. A cancelled context returns the partial result and the
// context error.
func (r *RandomSearch) Run(ctx context.Context) (*Result, error) {
	for gen := 1; gen <= r.opts.Generations; gen++ {
		r.startGeneration(gen)
		pop := make([]Individual, r.opts.Population)
		for i := range pop {
			pop[i] = r.randomIndividual()
		}
		err := r.evaluate(ctx, pop)
		r.result.Best = merge(r.result.Best, pop, r.opts.TopK)
		if err != nil {
			return r.report(), err
		}
	}
	return r.report(), nil
}
