// Package evaluate turns a configuration vector into a fitness score: decode
// the vector, apply the index state, run the benchmark stages the fitness
// needs, score the metrics and record the result.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arkilian/indexsearch/internal/catalog"
	"github.com/arkilian/indexsearch/internal/codec"
	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/internal/history"
	"github.com/arkilian/indexsearch/internal/index"
	"github.com/arkilian/indexsearch/internal/observability"
	"github.com/arkilian/indexsearch/pkg/types"
)

// Applier reads and changes the live index state.
type Applier interface {
	CurrentState(ctx context.Context) (*catalog.State, error)
	Apply(ctx context.Context, target *catalog.State, restrictToTunable bool) ([]index.Result, error)
}

// Benchmark produces metrics.
type Benchmark interface {
	QphH(ctx context.Context) (types.Metrics, error)
	StorageSize(ctx context.Context) (types.Metrics, error)
	Runtime(ctx context.Context) (types.Metrics, error)
}

// Options configures an Objective.
type Options struct {
	// Fake replaces every measurement with random positive values and skips
	// all database work.
	Fake bool

	// Seed seeds the fake metric generator.
	Seed uint64

	History *history.History
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Objective evaluates candidate vectors one at a time; concurrent calls are
// serialized because every evaluation mutates the shared schema.
type Objective struct {
	codec   *codec.Codec
	applier Applier
	bench   Benchmark
	fitness Fitness
	history *history.History
	metrics *observability.Metrics
	logger  *slog.Logger

	fake bool
	rng  *rand.Rand

	mu       sync.Mutex
	baseline *types.Metrics
	best     float64
	scored   bool
}

// NewObjective creates an objective scoring with fitness.
func NewObjective(c *codec.Codec, applier Applier, bench Benchmark, fitness Fitness, opts Options) *Objective {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Objective{
		codec:   c,
		applier: applier,
		bench:   bench,
		fitness: fitness,
		history: opts.History,
		metrics: opts.Metrics,
		logger:  logger.With("component", "evaluate", "fitness", fitness.Name),
		fake:    opts.Fake,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// Size returns the vector length the objective accepts.
func (o *Objective) Size() int {
	return o.codec.Size()
}

// Fitness returns the fitness in use.
func (o *Objective) Fitness() Fitness {
	return o.fitness
}

// Baseline returns the baseline metrics, if evaluated.
func (o *Objective) Baseline() (types.Metrics, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.baseline == nil {
		return types.Metrics{}, false
	}
	return *o.baseline, true
}

// EvaluateBaseline measures the configuration with no tunable index and keeps
// it as the reference for relative fitness functions.
func (o *Objective) EvaluateBaseline(ctx context.Context) (types.Metrics, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := types.NewVector(o.codec.Size())
	log := o.logger.With("vector", v.String(), "fingerprint", v.Fingerprint(), "baseline", true)
	log.Info("evaluating baseline")

	start := time.Now()
	m, err := o.measure(ctx, v, log)
	if err != nil {
		o.record(v, history.Record{Error: err.Error()}, log)
		return types.Metrics{}, err
	}
	m.EvaluationTime = time.Since(start).Seconds()

	o.baseline = &m
	o.record(v, history.Record{Metrics: m}, log)
	log.Info("baseline evaluated", "qphh", m.QphH, "time", m.Time, "index_size", m.IndexSize)
	return m, nil
}

// Evaluate scores v. A failed evaluation returns an error and no score; the
// failure is logged and recorded but never advances the refresh sequence.
func (o *Objective) Evaluate(ctx context.Context, v types.Vector) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := o.logger.With("vector", v.String(), "fingerprint", v.Fingerprint())
	log.Info("evaluating individual")

	if o.fitness.NeedsBaseline && o.baseline == nil && !o.fake {
		return 0, ierrors.NewInternalError(fmt.Sprintf("fitness %s needs a baseline evaluation first", o.fitness.Name), nil)
	}

	start := time.Now()
	m, err := o.measure(ctx, v, log)
	if err != nil {
		o.fail(v, err, log)
		return 0, err
	}
	m.EvaluationTime = time.Since(start).Seconds()

	baseline := types.Metrics{}
	if o.baseline != nil {
		baseline = *o.baseline
	}
	fitness, err := o.fitness.Score(m, baseline)
	if err != nil {
		o.fail(v, err, log)
		return 0, err
	}

	o.record(v, history.Record{Metrics: m, Fitness: &fitness}, log)
	if o.fake {
		o.metrics.EvaluationDone("fake")
	} else {
		o.metrics.EvaluationDone("ok")
	}
	o.metrics.SetLastMetrics(m)
	if !o.scored || fitness > o.best {
		o.best, o.scored = fitness, true
		o.metrics.SetBestFitness(fitness)
	}

	log.Info("evaluation finished", "fitness", fitness, "qphh", m.QphH, "time", m.Time,
		"index_size", m.IndexSize, "evaluation_time", m.EvaluationTime)
	return fitness, nil
}

func (o *Objective) fail(v types.Vector, err error, log *slog.Logger) {
	log.Error("evaluation failed", "error", err, "category", ierrors.GetCategory(err), "code", ierrors.GetCode(err))
	o.metrics.EvaluationDone("failed")
	o.record(v, history.Record{Error: err.Error()}, log)
}

// measure applies v and collects the metrics the fitness needs.
func (o *Objective) measure(ctx context.Context, v types.Vector, log *slog.Logger) (types.Metrics, error) {
	state, err := o.codec.Decode(v)
	if err != nil {
		return types.Metrics{}, fmt.Errorf("decode: %w", err)
	}
	if o.fake {
		return o.fakeMetrics(), nil
	}

	results, err := o.applier.Apply(ctx, state, true)
	for _, r := range results {
		o.metrics.IndexOperation(string(r.Outcome))
	}
	if err != nil {
		return types.Metrics{}, fmt.Errorf("apply: %w", err)
	}
	log.Debug("index state applied", "actions", len(results), "indexed", v.Count())

	var m types.Metrics
	for _, metric := range collectionOrder {
		if !o.fitness.needs(metric) {
			continue
		}
		got, err := o.collect(ctx, metric)
		if err != nil {
			return types.Metrics{}, fmt.Errorf("%s: %w", metric, err)
		}
		log.Debug("metric collected", "metric", metric, "values", got.AsMap())
		m.Merge(got)
	}

	o.verify(ctx, v, log)
	return m, nil
}

func (o *Objective) collect(ctx context.Context, metric Metric) (types.Metrics, error) {
	switch metric {
	case MetricDBSize:
		return o.bench.StorageSize(ctx)
	case MetricQphH:
		return o.bench.QphH(ctx)
	case MetricTime:
		return o.bench.Runtime(ctx)
	default:
		return types.Metrics{}, fmt.Errorf("unknown metric %q", metric)
	}
}

// verify re-reads the live state and warns when it does not encode back to v.
func (o *Objective) verify(ctx context.Context, v types.Vector, log *slog.Logger) {
	state, err := o.applier.CurrentState(ctx)
	if err != nil {
		log.Warn("state verification skipped", "error", err)
		return
	}
	live, err := o.codec.Encode(state)
	if err != nil {
		log.Warn("state verification skipped", "error", err)
		return
	}
	log.Debug("current database state", "state", live.String())
	if !live.Equal(v) {
		log.Warn("live index state differs from evaluated vector", "live", live.String())
	}
}

func (o *Objective) fakeMetrics() types.Metrics {
	r := func(scale float64) float64 { return scale * (math.Abs(o.rng.NormFloat64()) + 1e-3) }
	return types.Metrics{
		Power:      r(1293),
		Throughput: r(2300),
		QphH:       r(2560),
		DataSize:   r(1250),
		IndexSize:  r(125),
		Time:       r(82.4),
		Cost:       -1,
	}
}

func (o *Objective) record(v types.Vector, rec history.Record, log *slog.Logger) {
	if o.history == nil {
		return
	}
	o.history.Update(v, rec)
	if err := o.history.Serialize(); err != nil {
		log.Warn("history not written", "error", err)
	}
}
