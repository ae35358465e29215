// Package app wires the index search components from a configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/indexsearch/internal/api/grpc"
	"github.com/arkilian/indexsearch/internal/benchmark"
	"github.com/arkilian/indexsearch/internal/catalog"
	"github.com/arkilian/indexsearch/internal/codec"
	"github.com/arkilian/indexsearch/internal/config"
	"github.com/arkilian/indexsearch/internal/database"
	"github.com/arkilian/indexsearch/internal/evaluate"
	"github.com/arkilian/indexsearch/internal/history"
	"github.com/arkilian/indexsearch/internal/index"
	"github.com/arkilian/indexsearch/internal/observability"
	"github.com/arkilian/indexsearch/internal/refresh"
	"github.com/arkilian/indexsearch/internal/search"
	"github.com/arkilian/indexsearch/internal/sequence"
	"github.com/arkilian/indexsearch/internal/server"
	"github.com/arkilian/indexsearch/internal/storage"
	"github.com/arkilian/indexsearch/internal/stream"
)

// App holds the wired components of one run.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *database.DB
	catalog   *catalog.Catalog
	storage   storage.ObjectStorage
	applier   *index.Applier
	codec     *codec.Codec
	source    *refresh.Source
	store     *sequence.FileStore
	engine    *benchmark.Engine
	history   *history.History
	objective *evaluate.Objective
	metrics   *observability.Metrics
	shutdown  *server.ShutdownManager

	closeOnce sync.Once
}

// New validates cfg and creates its directories. Nothing is opened yet.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog.TPCH(),
		metrics:  observability.NewMetrics(),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{Logger: logger}),
	}, nil
}

// Open connects to the database, resets indexes if configured, snapshots the
// initial state and builds the benchmark and evaluation components.
func (a *App) Open(ctx context.Context) error {
	if err := a.initStorage(ctx); err != nil {
		return err
	}

	db, err := database.Open(ctx, database.Config{
		Driver:        a.cfg.Database.Driver,
		DSN:           a.cfg.Database.DSN,
		Schema:        a.cfg.Database.Schema,
		ProceduresDir: a.cfg.Database.ProceduresDir,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db

	a.applier = index.NewApplier(db, a.catalog, a.logger)
	if a.cfg.Database.ResetIndexes {
		if _, err := a.applier.ResetAll(ctx); err != nil {
			return fmt.Errorf("reset indexes: %w", err)
		}
	}
	initial, err := a.applier.CurrentState(ctx)
	if err != nil {
		return fmt.Errorf("read initial state: %w", err)
	}
	if a.codec, err = codec.New(a.catalog, initial); err != nil {
		return fmt.Errorf("build codec: %w", err)
	}

	bc := a.cfg.Benchmark
	a.source = refresh.NewSource(bc.RefreshDir, a.storage, a.cfg.Storage.RefreshPrefix, a.logger)
	a.store = sequence.NewFileStore(bc.SequenceFile)
	runner := stream.NewRunner(db, a.source, bc.QueriesPerStream, a.logger)
	a.engine = benchmark.NewEngine(benchmark.Config{
		ScaleFactor:   bc.ScaleFactor,
		Streams:       bc.Streams,
		WorkerTimeout: bc.WorkerTimeout,
		JoinGrace:     bc.JoinGrace,
	}, runner, a.store, benchmark.NewDatabaseSize(db, a.catalog.Tables())).
		WithPreparer(a.source).
		WithMetrics(a.metrics).
		WithLogger(a.logger)

	if a.history, err = history.New(a.cfg.History.Dir, a.cfg.History.FileName, a.logger); err != nil {
		return err
	}
	fitness, err := evaluate.LookupFitness(a.cfg.Search.Fitness)
	if err != nil {
		return err
	}
	a.objective = evaluate.NewObjective(a.codec, a.applier, a.engine, fitness, evaluate.Options{
		Fake:    a.cfg.Search.FakeEval,
		Seed:    a.cfg.Search.Seed,
		History: a.history,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	a.logger.Info("index search ready",
		"driver", a.cfg.Database.Driver,
		"tunable_columns", a.catalog.Size(),
		"fitness", fitness.Name,
		"run_id", a.history.RunID())
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "none":
		return nil
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
		})
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	return nil
}

// Objective returns the evaluation entry point.
func (a *App) Objective() *evaluate.Objective { return a.objective }

// Engine returns the benchmark engine.
func (a *App) Engine() *benchmark.Engine { return a.engine }

// Applier returns the index applier.
func (a *App) Applier() *index.Applier { return a.applier }

// Codec returns the state codec.
func (a *App) Codec() *codec.Codec { return a.codec }

// Catalog returns the tunable column catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// History returns the evaluation history.
func (a *App) History() *history.History { return a.history }

// Metrics returns the prometheus collectors.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Shutdown returns the shutdown manager.
func (a *App) Shutdown() *server.ShutdownManager { return a.shutdown }

// Optimizer builds the configured search driver over eval.
func (a *App) Optimizer(eval search.Evaluator) search.Optimizer {
	opts := search.Options{Metrics: a.metrics, Logger: a.logger}
	if a.history != nil {
		opts.Tracker = a.history
	}
	return NewOptimizer(a.cfg.Search, eval, opts)
}

// NewOptimizer builds the search driver sc names. Population, generation
// and seed settings of opts are taken from sc.
func NewOptimizer(sc config.SearchConfig, eval search.Evaluator, opts search.Options) search.Optimizer {
	opts.Population = sc.Population
	opts.Generations = sc.Generations
	opts.Seed = sc.Seed
	if sc.Algorithm == config.AlgorithmRandom {
		return search.NewRandomSearch(eval, opts)
	}
	return search.NewGenetic(eval, search.GeneticOptions{
		Options:        opts,
		TournamentSize: sc.TournamentSize,
		MutationRate:   sc.MutationRate,
		MutationProb:   sc.MutationProb,
		CrossoverProb:  sc.CrossoverProb,
	})
}

// Search evaluates the baseline, runs the optimizer and archives the history.
func (a *App) Search(ctx context.Context) (*search.Result, error) {
	if _, err := a.objective.EvaluateBaseline(ctx); err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	opt := a.Optimizer(a.objective)
	a.logger.Info("search started", "algorithm", opt.Name(), "population", a.cfg.Search.Population,
		"generations", a.cfg.Search.Generations)
	res, err := opt.Run(ctx)
	if archiveErr := a.Archive(context.WithoutCancel(ctx)); archiveErr != nil {
		a.logger.Warn("history archive failed", "error", archiveErr)
	}
	return res, err
}

// Archive uploads the compressed history when archiving is configured.
func (a *App) Archive(ctx context.Context) error {
	if !a.cfg.History.Archive || a.storage == nil || a.history == nil {
		return nil
	}
	key, err := a.history.Archive(ctx, a.storage, a.cfg.Storage.ArchivePrefix)
	if err != nil {
		return err
	}
	a.logger.Info("history archived", "object", key)
	return nil
}

// ServeMetrics exposes /metrics until shutdown. It is a no-op when no
// metrics address is configured.
func (a *App) ServeMetrics() error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
	return server.NewGracefulHTTPServer(srv, a.shutdown).ListenAndServe()
}

// ServeGRPC serves the evaluator service until shutdown.
func (a *App) ServeGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.GRPC.Addr, err)
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(a.shutdown.UnaryInterceptor()))
	grpcapi.RegisterEvaluatorServer(srv, grpcapi.NewServer(a.objective, a.logger))
	return a.shutdown.ServeGRPC(srv, lis)
}

// Close releases the database. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.db != nil {
			err = a.db.Close()
		}
	})
	return err
}
