package search

import (
	"context"
)

// GeneticOptions tunes the genetic operators.
type GeneticOptions struct {
	Options

	// TournamentSize is the number of aspirants per selection tournament.
	TournamentSize int
	// MutationRate is the per-bit flip probability of a mutation.
	MutationRate float64
	// MutationProb is the probability an offspring is mutated.
	MutationProb float64
	// CrossoverProb is the probability a pair of offspring is mated.
	CrossoverProb float64
}

// Genetic is a generational genetic algorithm over bit vectors: two-point
// crossover, flip-bit mutation and tournament selection, maximizing fitness.
type Genetic struct {
	*loop
	tournament int
	mutRate    float64
	mutProb    float64
	cxProb     float64
}

// NewGenetic creates a genetic optimizer over eval.
func NewGenetic(eval Evaluator, opts GeneticOptions) *Genetic {
	if opts.TournamentSize <= 0 {
		opts.TournamentSize = 4
	}
	return &Genetic{
		loop:       newLoop(eval, opts.Options, "genetic"),
		tournament: opts.TournamentSize,
		mutRate:    opts.MutationRate,
		mutProb:    opts.MutationProb,
		cxProb:     opts.CrossoverProb,
	}
}

// Name returns "genetic".
func (g *Genetic) Name() string { return "genetic" }

// Run evolves a random population for Generations generations. Every
// offspring is evaluated each generation, since measurements are noisy.
// Individuals whose evaluation failed take no part in selection.
func (g *Genetic) Run(ctx context.Context) (*Result, error) {
	population := make([]Individual, g.opts.Population)
	for i := range population {
		population[i] = g.randomIndividual()
	}

	for gen := 1; gen <= g.opts.Generations; gen++ {
		g.startGeneration(gen)
		offspring := g.vary(population)
		if err := g.evaluate(ctx, offspring); err != nil {
			g.result.Best = best(offspring, g.opts.TopK)
			return g.report(), err
		}
		population = g.selectTournament(offspring, len(population))
	}

	g.result.Best = best(population, g.opts.TopK)
	return g.report(), nil
}

// vary clones pop, mates consecutive pairs with probability cxProb and
// mutates each offspring with probability mutProb.
func (g *Genetic) vary(pop []Individual) []Individual {
	offspring := make([]Individual, len(pop))
	for i, ind := range pop {
		offspring[i] = ind.clone()
	}
	for i := 1; i < len(offspring); i += 2 {
		if g.rng.Float64() < g.cxProb {
			g.crossover(offspring[i-1].Vector, offspring[i].Vector)
		}
	}
	for i := range offspring {
		if g.rng.Float64() < g.mutProb {
			g.mutate(offspring[i].Vector)
		}
	}
	return offspring
}

// crossover swaps the segment between two random cut points of a and b.
func (g *Genetic) crossover(a, b []uint8) {
	size := min(len(a), len(b))
	if size < 2 {
		return
	}
	p1 := 1 + g.rng.IntN(size)
	p2 := 1 + g.rng.IntN(size-1)
	if p2 >= p1 {
		p2++
	} else {
		p1, p2 = p2, p1
	}
	for i := p1; i < p2; i++ {
		a[i], b[i] = b[i], a[i]
	}
}

// mutate flips each bit of v with probability mutRate.
func (g *Genetic) mutate(v []uint8) {
	for i := range v {
		if g.rng.Float64() < g.mutRate {
			v[i] ^= 1
		}
	}
}

// selectTournament draws k winners, each the fittest of tournament random
// valid aspirants. With no valid individual the population is kept as is.
func (g *Genetic) selectTournament(pop []Individual, k int) []Individual {
	valid := make([]Individual, 0, len(pop))
	for _, ind := range pop {
		if ind.Valid {
			valid = append(valid, ind)
		}
	}
	if len(valid) == 0 {
		g.logger.Warn("no valid individual in generation, keeping offspring")
		return pop
	}

	chosen := make([]Individual, k)
	for i := range chosen {
		winner := valid[g.rng.IntN(len(valid))]
		for j := 1; j < g.tournament; j++ {
			if c := valid[g.rng.IntN(len(valid))]; c.Fitness > winner.Fitness {
				winner = c
			}
		}
		chosen[i] = winner
	}
	return chosen
}
