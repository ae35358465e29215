// Package main implements the indexsearch binary: a TPC-H driven search for
// the set of secondary indexes that maximizes a benchmark fitness.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkilian/indexsearch/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile  string
	dataDir     string
	driver      string
	dsn         string
	fitnessName string
	algorithm   string
	population  int
	generations int
	seed        uint64
	fakeEval    bool
	grpcAddr    string
	metricsAddr string
	logLevel    string
	logFormat   string

	rootCmd = &cobra.Command{
		Use:           "indexsearch",
		Short:         "Search TPC-H index configurations with a benchmark-driven objective",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	pf.StringVar(&dataDir, "data-dir", "", "Base directory for derived paths")
	pf.StringVar(&driver, "driver", "", "Database driver: mysql or sqlite3")
	pf.StringVar(&dsn, "dsn", "", "Database data source name")
	pf.StringVar(&fitnessName, "fitness", "", "Fitness function")
	pf.StringVar(&algorithm, "algorithm", "", "Search algorithm: genetic or random")
	pf.IntVarP(&population, "population", "p", 0, "Population size")
	pf.IntVarP(&generations, "generations", "g", 0, "Number of generations")
	pf.Uint64Var(&seed, "seed", 0, "Random seed")
	pf.BoolVar(&fakeEval, "fake-eval", false, "Replace measurements with random values (debugging only)")
	pf.StringVar(&grpcAddr, "grpc-addr", "", "Evaluator gRPC address")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics address (empty string disables)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(searchCmd, evaluateCmd, benchCmd, stateCmd, resetCmd, historyCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("indexsearch failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig applies defaults, the config file, the environment and the
// flags set on cmd, in increasing precedence, and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("driver") {
		cfg.Database.Driver = driver
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN = dsn
	}
	if flags.Changed("fitness") {
		cfg.Search.Fitness = fitnessName
	}
	if flags.Changed("algorithm") {
		cfg.Search.Algorithm = config.Algorithm(algorithm)
	}
	if flags.Changed("population") {
		cfg.Search.Population = population
	}
	if flags.Changed("generations") {
		cfg.Search.Generations = generations
	}
	if flags.Changed("seed") {
		cfg.Search.Seed = seed
	}
	if flags.Changed("fake-eval") {
		cfg.Search.FakeEval = fakeEval
	}
	if flags.Changed("grpc-addr") {
		cfg.GRPC.Addr = grpcAddr
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
