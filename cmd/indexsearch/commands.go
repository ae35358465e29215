package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "github.com/arkilian/indexsearch/internal/api/grpc"
	"github.com/arkilian/indexsearch/internal/app"
	"github.com/arkilian/indexsearch/internal/config"
	"github.com/arkilian/indexsearch/internal/history"
	"github.com/arkilian/indexsearch/internal/index"
	"github.com/arkilian/indexsearch/internal/search"
	"github.com/arkilian/indexsearch/pkg/types"
)

var (
	remoteAddr   string
	withBaseline bool
	topK         int

	searchCmd = &cobra.Command{
		Use:   "search",
		Short: "Evaluate the baseline and run the configured optimizer",
		RunE:  runSearch,
	}
	evaluateCmd = &cobra.Command{
		Use:   "evaluate [vector]",
		Short: `Apply and score one configuration vector ("0 1 0 ..." or "010...")`,
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Run the TPC-H power and throughput tests on the current index state",
		RunE:  runBench,
	}
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Print the live index state and its configuration vector",
		RunE:  runState,
	}
	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Drop every index created by the search",
		RunE:  runReset,
	}
	historyCmd = &cobra.Command{
		Use:   "history [file]",
		Short: "Print the best scored configurations of a history file or .sz archive",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluator over gRPC for a remote optimizer",
		RunE:  runServe,
	}
)

func init() {
	searchCmd.Flags().StringVar(&remoteAddr, "remote", "", "Drive a remote evaluator at this gRPC address instead of a local database")
	evaluateCmd.Flags().BoolVar(&withBaseline, "baseline", false, "Evaluate the baseline first (needed by relative fitness functions)")
	historyCmd.Flags().IntVar(&topK, "top", 10, "Number of configurations to print (0 prints all)")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openApp loads the configuration and opens the application.
func openApp(cmd *cobra.Command, mutate func(*config.Config)) (*app.App, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Open(cmd.Context()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	if remoteAddr != "" {
		return runRemoteSearch(ctx, cmd)
	}

	a, err := openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.ServeMetrics)
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown().Shutdown(context.Background(), "search finished")
	})

	var (
		res       *search.Result
		searchErr error
	)
	g.Go(func() error {
		defer stop()
		res, searchErr = a.Search(gctx)
		return nil
	})
	waitErr := g.Wait()
	if res != nil {
		if err := printJSON(res); err != nil {
			return err
		}
	}
	if searchErr != nil && !errors.Is(searchErr, context.Canceled) {
		return searchErr
	}
	return waitErr
}

func runRemoteSearch(ctx context.Context, cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	conn, err := grpc.NewClient(remoteAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", remoteAddr, err)
	}
	defer conn.Close()

	client := grpcapi.NewClient(conn)
	if _, err := client.FetchSize(ctx); err != nil {
		return err
	}
	baseline, err := client.Baseline(ctx)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	logger.Info("remote baseline", "qphh", baseline["qphh"], "time", baseline["time"])

	opt := app.NewOptimizer(cfg.Search, client, search.Options{Logger: logger})
	res, err := opt.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return printJSON(res)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	v, err := types.ParseVector(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	obj := a.Objective()
	if withBaseline || obj.Fitness().NeedsBaseline {
		if _, err := obj.EvaluateBaseline(ctx); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
	}
	fitness, err := obj.Evaluate(ctx, v)
	if err != nil {
		return err
	}
	rec, _ := a.History().Lookup(a.History().Generation(), v)
	return printJSON(map[string]any{
		"vector":  v.String(),
		"fitness": fitness,
		"metrics": rec.Metrics,
	})
}

func runBench(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, func(c *config.Config) { c.Database.ResetIndexes = false })
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	e := a.Engine()
	var m types.Metrics
	for _, stage := range []func(context.Context) (types.Metrics, error){e.StorageSize, e.QphH, e.Runtime} {
		got, err := stage(ctx)
		if err != nil {
			return err
		}
		m.Merge(got)
	}
	return printJSON(m)
}

func runState(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, func(c *config.Config) { c.Database.ResetIndexes = false })
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.Applier().CurrentState(cmd.Context())
	if err != nil {
		return err
	}
	v, err := a.Codec().Encode(state)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"vector":      v.String(),
		"fingerprint": v.Fingerprint(),
		"indexed":     v.Count(),
		"state":       state,
	})
}

func runReset(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, func(c *config.Config) { c.Database.ResetIndexes = false })
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.Applier().ResetAll(cmd.Context())
	if err != nil {
		return err
	}
	dropped := make([]string, 0, len(results))
	for _, r := range results {
		if r.Outcome == index.OutcomeDropped {
			dropped = append(dropped, r.Name)
		}
	}
	return printJSON(map[string]any{"dropped": dropped})
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	var g errgroup.Group
	g.Go(a.ServeMetrics)
	g.Go(a.ServeGRPC)
	g.Go(func() error { return a.Shutdown().ListenForSignals(ctx) })
	err = g.Wait()
	if archiveErr := a.Archive(context.Background()); archiveErr != nil {
		return archiveErr
	}
	return err
}

func runHistory(cmd *cobra.Command, args []string) error {
	var file string
	if len(args) == 1 {
		file = args[0]
	} else {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg.Resolve()
		file = filepath.Join(cfg.History.Dir, cfg.History.FileName)
	}

	gens, err := readHistory(file)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"file":        file,
		"generations": len(gens),
		"evaluations": gens.Count(),
		"best":        gens.Best(topK),
	})
}

// readHistory loads a serialized history, decompressing .sz archives.
func readHistory(file string) (history.Generations, error) {
	if !strings.HasSuffix(file, ".sz") {
		return history.Load(file)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()
	return history.ReadArchive(f)
}
