// Package benchmark runs the decision-support benchmark: a serial power test,
// a concurrent throughput test, and the composite QphH score derived from
// them, plus storage size and query runtime measurements.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/internal/observability"
	"github.com/arkilian/indexsearch/internal/refresh"
	"github.com/arkilian/indexsearch/internal/sequence"
	"github.com/arkilian/indexsearch/pkg/types"
)

// StreamRunner executes individual streams.
type StreamRunner interface {
	QueryCount() int
	QueryStream(ctx context.Context) (types.Profile, error)
	LoadRefreshData(ctx context.Context, seq int) error
	InsertRefresh(ctx context.Context) (types.ProfileSample, error)
	DeleteRefresh(ctx context.Context) (types.ProfileSample, error)
	RefreshStream(ctx context.Context, seq int) (types.Profile, error)
}

// SizeProbe reports storage size in megabytes.
type SizeProbe interface {
	StorageSize(ctx context.Context) (dataMB, indexMB float64, err error)
}

// Preparer makes refresh sets available before a run consumes them.
type Preparer interface {
	Prepare(ctx context.Context, first, count int) ([]refresh.Set, error)
}

// Config holds benchmark parameters.
type Config struct {
	// ScaleFactor is the database scale factor (default: 1)
	ScaleFactor float64

	// Streams is the number of concurrent query streams in the throughput
	// test, and the number of refresh sets it consumes (default: 2)
	Streams int

	// WorkerTimeout bounds the whole throughput test (default: 2 hours)
	WorkerTimeout time.Duration

	// JoinGrace bounds how long cancelled workers are waited for (default: 30 seconds)
	JoinGrace time.Duration
}

// DefaultConfig returns the reference workload parameters.
func DefaultConfig() Config {
	return Config{
		ScaleFactor:   1,
		Streams:       2,
		WorkerTimeout: 2 * time.Hour,
		JoinGrace:     30 * time.Second,
	}
}

// Engine runs benchmark stages. It assumes it is the only benchmark using its
// sequence store and schema.
type Engine struct {
	cfg      Config
	runner   StreamRunner
	store    sequence.Store
	sizes    SizeProbe
	preparer Preparer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine creates an engine. sizes may be nil when storage is never measured.
func NewEngine(cfg Config, runner StreamRunner, store sequence.Store, sizes SizeProbe) *Engine {
	def := DefaultConfig()
	if cfg.ScaleFactor <= 0 {
		cfg.ScaleFactor = def.ScaleFactor
	}
	if cfg.Streams <= 0 {
		cfg.Streams = def.Streams
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = def.WorkerTimeout
	}
	if cfg.JoinGrace <= 0 {
		cfg.JoinGrace = def.JoinGrace
	}
	return &Engine{
		cfg:    cfg,
		runner: runner,
		store:  store,
		sizes:  sizes,
		logger: slog.Default().With("component", "benchmark"),
	}
}

// WithPreparer sets the refresh set preparer used by QphH.
func (e *Engine) WithPreparer(p Preparer) *Engine {
	e.preparer = p
	return e
}

// WithMetrics sets the collectors stage durations are reported to.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l.With("component", "benchmark")
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PowerTest loads refresh set seq, then runs the insert refresh function, one
// query stream and the delete refresh function in a row. It returns
// power@size and the collected timings.
func (e *Engine) PowerTest(ctx context.Context, seq int) (float64, types.Profile, error) {
	start := time.Now()
	log := e.logger.With("stage", "power", "seq", seq)

	if err := e.runner.LoadRefreshData(ctx, seq); err != nil {
		return 0, nil, fmt.Errorf("power test: %w", err)
	}
	insert, err := e.runner.InsertRefresh(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("power test: %w", err)
	}
	queries, err := e.runner.QueryStream(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("power test: %w", err)
	}
	del, err := e.runner.DeleteRefresh(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("power test: %w", err)
	}

	profile := make(types.Profile, 0, len(queries)+2)
	profile = append(profile, queries...)
	profile = append(profile, insert, del)

	power, err := Power(profile.Durations(), e.cfg.ScaleFactor)
	if err != nil {
		return 0, profile, fmt.Errorf("power test: %w", err)
	}

	elapsed := time.Since(start)
	e.metrics.ObserveStage("power", elapsed.Seconds())
	log.Debug("power test finished", "power", power, "samples", len(profile), "elapsed", elapsed)
	return power, profile, nil
}

type workerResult struct {
	worker  string
	profile types.Profile
}

// ThroughputTest runs Streams query streams concurrently with one worker that
// runs Streams refresh streams in sequence, starting at refresh set firstSeq.
// Each worker uses its own sessions. The test fails with WorkerFailure if a
// worker errors or panics and with WorkerTimeout if not every worker reported
// within WorkerTimeout; in both cases the other workers are cancelled.
func (e *Engine) ThroughputTest(ctx context.Context, firstSeq int) (float64, error) {
	n := e.cfg.Streams
	log := e.logger.With("stage", "throughput", "seq", firstSeq, "streams", n)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	results := make(chan workerResult, n+1)

	start := time.Now()
	for i := 1; i <= n; i++ {
		g.Go(e.worker(fmt.Sprintf("query-%d", i), results, func() (types.Profile, error) {
			return e.runner.QueryStream(gctx)
		}))
	}
	g.Go(e.worker("refresh", results, func() (types.Profile, error) {
		var all types.Profile
		for seq := firstSeq; seq < firstSeq+n; seq++ {
			p, err := e.runner.RefreshStream(gctx, seq)
			if err != nil {
				return nil, err
			}
			all = append(all, p...)
		}
		return all, nil
	}))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(e.cfg.WorkerTimeout)
	defer timer.Stop()

	var (
		elapsed time.Duration
		joined  bool
	)
	for received := 0; received < n+1; {
		select {
		case r := <-results:
			received++
			elapsed = time.Since(start)
			log.Debug("worker reported", "worker", r.worker, "samples", len(r.profile))

		case <-gctx.Done():
			// A worker failed, the caller cancelled, or every worker returned.
			finished, err := e.join(done, log)
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				return 0, err
			}
			if !finished {
				return 0, ierrors.NewBenchmarkError(ierrors.CodeWorkerFailure,
					"throughput workers cancelled and did not stop within join grace", nil)
			}
			joined = true
			for len(results) > 0 {
				<-results
				received++
			}
			elapsed = time.Since(start)
			if received < n+1 {
				return 0, ierrors.NewBenchmarkError(ierrors.CodeWorkerFailure,
					fmt.Sprintf("%d of %d throughput workers reported", received, n+1), nil)
			}

		case <-timer.C:
			cancel()
			e.metrics.WorkerFailed("timeout")
			if _, err := e.join(done, log); err != nil {
				log.Debug("cancelled worker error", "error", err)
			}
			// A timeout is a worker failure; callers may match either code.
			return 0, ierrors.NewBenchmarkError(ierrors.CodeWorkerTimeout,
				fmt.Sprintf("%d of %d throughput workers reported within %s", received, n+1, e.cfg.WorkerTimeout),
				ierrors.NewBenchmarkError(ierrors.CodeWorkerFailure, "throughput stage terminated", context.DeadlineExceeded))
		}
	}

	if !joined {
		if finished, err := e.join(done, log); err != nil {
			return 0, err
		} else if !finished {
			return 0, ierrors.NewBenchmarkError(ierrors.CodeWorkerFailure,
				"throughput workers reported but did not return within join grace", nil)
		}
	}

	throughput := Throughput(e.runner.QueryCount(), elapsed.Seconds(), e.cfg.ScaleFactor)
	e.metrics.ObserveStage("throughput", elapsed.Seconds())
	log.Debug("throughput test finished", "throughput", throughput, "elapsed", elapsed)
	return throughput, nil
}

// worker adapts a stream function to the errgroup, turning errors and panics
// into WorkerFailure.
func (e *Engine) worker(name string, results chan<- workerResult, run func() (types.Profile, error)) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				e.metrics.WorkerFailed("failure")
				err = ierrors.NewBenchmarkError(ierrors.CodeWorkerFailure,
					fmt.Sprintf("worker %s panicked: %v", name, r), nil)
			}
		}()

		profile, err := run()
		if err != nil {
			e.metrics.WorkerFailed("failure")
			return ierrors.NewBenchmarkError(ierrors.CodeWorkerFailure,
				fmt.Sprintf("worker %s failed", name), err)
		}
		results <- workerResult{worker: name, profile: profile}
		return nil
	}
}

// join waits for the worker group for at most JoinGrace. finished is false
// when the grace period ran out.
func (e *Engine) join(done <-chan error, log *slog.Logger) (finished bool, err error) {
	grace := time.NewTimer(e.cfg.JoinGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		return true, err
	case <-grace.C:
		log.Warn("throughput workers did not stop within join grace, abandoning them", "grace", e.cfg.JoinGrace)
		return false, nil
	}
}

// QphH runs the power test on the next refresh set and the throughput test on
// the Streams sets after it, then advances the sequence counter past every
// consumed set. The counter is written only when both tests succeed.
func (e *Engine) QphH(ctx context.Context) (types.Metrics, error) {
	begin := time.Now()

	seq, err := e.store.Read()
	if err != nil {
		return types.Metrics{}, err
	}
	log := e.logger.With("seq", seq)

	if e.preparer != nil {
		if _, err := e.preparer.Prepare(ctx, seq, e.cfg.Streams+1); err != nil {
			return types.Metrics{}, err
		}
	}

	power, _, err := e.PowerTest(ctx, seq)
	if err != nil {
		return types.Metrics{}, err
	}
	throughput, err := e.ThroughputTest(ctx, seq+1)
	if err != nil {
		return types.Metrics{}, fmt.Errorf("throughput test: %w", err)
	}

	next := seq + 1 + e.cfg.Streams
	if err := e.store.Write(next); err != nil {
		return types.Metrics{}, err
	}
	e.metrics.SetSequence(next)

	m := types.Metrics{
		Power:         power,
		Throughput:    throughput,
		QphH:          Composite(power, throughput),
		BenchmarkTime: time.Since(begin).Seconds(),
	}
	log.Info("qphh benchmark finished", "power", m.Power, "throughput", m.Throughput,
		"qphh", m.QphH, "next_seq", next, "benchmark_time", m.BenchmarkTime)
	return m, nil
}

// StorageSize reports data and index size in megabytes.
func (e *Engine) StorageSize(ctx context.Context) (types.Metrics, error) {
	if e.sizes == nil {
		return types.Metrics{}, ierrors.NewInternalError("storage size probe not configured", nil)
	}
	start := time.Now()
	data, index, err := e.sizes.StorageSize(ctx)
	if err != nil {
		return types.Metrics{}, fmt.Errorf("storage size: %w", err)
	}
	e.metrics.ObserveStage("storage_size", time.Since(start).Seconds())
	e.logger.Debug("storage size measured", "data_mb", data, "index_mb", index)
	return types.Metrics{DataSize: data, IndexSize: index}, nil
}

// Runtime runs one query stream and reports the sum of its timings.
func (e *Engine) Runtime(ctx context.Context) (types.Metrics, error) {
	start := time.Now()
	profile, err := e.runner.QueryStream(ctx)
	if err != nil {
		return types.Metrics{}, fmt.Errorf("runtime: %w", err)
	}
	e.metrics.ObserveStage("runtime", time.Since(start).Seconds())
	return types.Metrics{Time: profile.Total()}, nil
}
