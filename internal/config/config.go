// Package config provides the configuration of the index search tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/indexsearch/internal/evaluate"
)

// Algorithm names a search driver.
type Algorithm string

const (
	AlgorithmGenetic Algorithm = "genetic"
	AlgorithmRandom  Algorithm = "random"
)

// Config holds the configuration of every component.
type Config struct {
	// DataDir is the base directory for derived paths
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Benchmark BenchmarkConfig `json:"benchmark" yaml:"benchmark"`
	Search    SearchConfig    `json:"search" yaml:"search"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	GRPC      GRPCConfig      `json:"grpc" yaml:"grpc"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// DatabaseConfig holds the connection to the benchmarked database.
type DatabaseConfig struct {
	// Driver is mysql or sqlite3
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific data source name
	DSN string `json:"dsn" yaml:"dsn"`

	// Schema is the database holding the TPC-H tables (mysql only)
	Schema string `json:"schema" yaml:"schema"`

	// ProceduresDir holds NAME.sql scripts emulating stored procedures (sqlite3 only)
	ProceduresDir string `json:"procedures_dir" yaml:"procedures_dir"`

	// ResetIndexes drops every tunable index when the application starts
	ResetIndexes bool `json:"reset_indexes" yaml:"reset_indexes"`
}

// BenchmarkConfig holds the TPC-H run settings.
type BenchmarkConfig struct {
	ScaleFactor      float64 `json:"scale_factor" yaml:"scale_factor"`
	Streams          int     `json:"streams" yaml:"streams"`
	QueriesPerStream int     `json:"queries_per_stream" yaml:"queries_per_stream"`

	// RefreshDir holds the numbered refresh files
	RefreshDir string `json:"refresh_dir" yaml:"refresh_dir"`

	// SequenceFile persists the next refresh sequence number
	SequenceFile string `json:"sequence_file" yaml:"sequence_file"`

	// WorkerTimeout bounds the throughput test
	WorkerTimeout time.Duration `json:"worker_timeout" yaml:"worker_timeout"`

	// JoinGrace is how long cancelled workers get to return
	JoinGrace time.Duration `json:"join_grace" yaml:"join_grace"`
}

// SearchConfig holds the optimizer settings.
type SearchConfig struct {
	Algorithm      Algorithm `json:"algorithm" yaml:"algorithm"`
	Population     int       `json:"population" yaml:"population"`
	Generations    int       `json:"generations" yaml:"generations"`
	TournamentSize int       `json:"tournament_size" yaml:"tournament_size"`
	MutationRate   float64   `json:"mutation_rate" yaml:"mutation_rate"`
	MutationProb   float64   `json:"mutation_prob" yaml:"mutation_prob"`
	CrossoverProb  float64   `json:"crossover_prob" yaml:"crossover_prob"`
	Fitness        string    `json:"fitness" yaml:"fitness"`
	Seed           uint64    `json:"seed" yaml:"seed"`

	// FakeEval replaces measurements with random values; debugging only
	FakeEval bool `json:"fake_eval" yaml:"fake_eval"`
}

// HistoryConfig holds the evaluation history output.
type HistoryConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	FileName string `json:"file_name" yaml:"file_name"`

	// Archive uploads a compressed copy to storage when the run ends
	Archive bool `json:"archive" yaml:"archive"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// RefreshPrefix is the object prefix of the refresh files
	RefreshPrefix string `json:"refresh_prefix" yaml:"refresh_prefix"`

	// ArchivePrefix is the object prefix of history archives
	ArchivePrefix string `json:"archive_prefix" yaml:"archive_prefix"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// GRPCConfig holds the evaluator service address.
type GRPCConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// MetricsConfig holds the prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig holds the log handler settings.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/indexsearch",
		Database: DatabaseConfig{
			Driver:       "mysql",
			Schema:       "tpch",
			ResetIndexes: true,
		},
		Benchmark: BenchmarkConfig{
			ScaleFactor:      1,
			Streams:          2,
			QueriesPerStream: 22,
			WorkerTimeout:    2 * time.Hour,
			JoinGrace:        30 * time.Second,
		},
		Search: SearchConfig{
			Algorithm:      AlgorithmGenetic,
			Population:     50,
			Generations:    100,
			TournamentSize: 4,
			MutationRate:   0.05,
			MutationProb:   0.2,
			CrossoverProb:  0.8,
			Fitness:        "qphh",
		},
		History: HistoryConfig{
			Dir:      "runs",
			FileName: "history.json",
		},
		Storage: StorageConfig{
			Type:          "none",
			RefreshPrefix: "refresh",
			ArchivePrefix: "runs",
		},
		GRPC:    GRPCConfig{Addr: ":9090"},
		Metrics: MetricsConfig{Addr: ":9100"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Resolve derives unset paths from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/indexsearch"
	}
	if c.Benchmark.RefreshDir == "" {
		c.Benchmark.RefreshDir = filepath.Join(c.DataDir, "refresh")
	}
	if c.Benchmark.SequenceFile == "" {
		c.Benchmark.SequenceFile = filepath.Join(c.Benchmark.RefreshDir, "refresh_stream_number.txt")
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.History.FileName == "" {
		c.History.FileName = "history.json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be mysql or sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Benchmark.ScaleFactor <= 0 {
		return fmt.Errorf("benchmark.scale_factor must be positive, got %g", c.Benchmark.ScaleFactor)
	}
	if c.Benchmark.Streams < 1 {
		return fmt.Errorf("benchmark.streams must be at least 1, got %d", c.Benchmark.Streams)
	}
	if c.Benchmark.QueriesPerStream < 1 {
		return fmt.Errorf("benchmark.queries_per_stream must be at least 1, got %d", c.Benchmark.QueriesPerStream)
	}
	if c.Benchmark.WorkerTimeout <= 0 {
		return fmt.Errorf("benchmark.worker_timeout must be positive")
	}

	switch c.Search.Algorithm {
	case AlgorithmGenetic, AlgorithmRandom:
	default:
		return fmt.Errorf("invalid search algorithm: %s (must be genetic or random)", c.Search.Algorithm)
	}
	if c.Search.Population < 1 || c.Search.Generations < 1 {
		return fmt.Errorf("search.population and search.generations must be at least 1")
	}
	if c.Search.TournamentSize < 1 {
		return fmt.Errorf("search.tournament_size must be at least 1, got %d", c.Search.TournamentSize)
	}
	for name, p := range map[string]float64{
		"mutation_rate":  c.Search.MutationRate,
		"mutation_prob":  c.Search.MutationProb,
		"crossover_prob": c.Search.CrossoverProb,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("search.%s must be between 0 and 1, got %g", name, p)
		}
	}
	if _, err := evaluate.LookupFitness(c.Search.Fitness); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "none", "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}
	if c.History.Archive && c.Storage.Type == "none" {
		return fmt.Errorf("history.archive needs a storage type")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from INDEXSEARCH_ environment variables.
// Malformed numbers and durations are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	e := envReader{}

	e.str("INDEXSEARCH_DATA_DIR", &cfg.DataDir)

	e.str("INDEXSEARCH_DATABASE_DRIVER", &cfg.Database.Driver)
	e.str("INDEXSEARCH_DATABASE_DSN", &cfg.Database.DSN)
	e.str("INDEXSEARCH_DATABASE_SCHEMA", &cfg.Database.Schema)
	e.str("INDEXSEARCH_DATABASE_PROCEDURES_DIR", &cfg.Database.ProceduresDir)
	e.boolean("INDEXSEARCH_DATABASE_RESET_INDEXES", &cfg.Database.ResetIndexes)

	e.float("INDEXSEARCH_BENCHMARK_SCALE_FACTOR", &cfg.Benchmark.ScaleFactor)
	e.integer("INDEXSEARCH_BENCHMARK_STREAMS", &cfg.Benchmark.Streams)
	e.integer("INDEXSEARCH_BENCHMARK_QUERIES_PER_STREAM", &cfg.Benchmark.QueriesPerStream)
	e.str("INDEXSEARCH_BENCHMARK_REFRESH_DIR", &cfg.Benchmark.RefreshDir)
	e.str("INDEXSEARCH_BENCHMARK_SEQUENCE_FILE", &cfg.Benchmark.SequenceFile)
	e.duration("INDEXSEARCH_BENCHMARK_WORKER_TIMEOUT", &cfg.Benchmark.WorkerTimeout)
	e.duration("INDEXSEARCH_BENCHMARK_JOIN_GRACE", &cfg.Benchmark.JoinGrace)

	if v := os.Getenv("INDEXSEARCH_SEARCH_ALGORITHM"); v != "" {
		cfg.Search.Algorithm = Algorithm(v)
	}
	e.integer("INDEXSEARCH_SEARCH_POPULATION", &cfg.Search.Population)
	e.integer("INDEXSEARCH_SEARCH_GENERATIONS", &cfg.Search.Generations)
	e.integer("INDEXSEARCH_SEARCH_TOURNAMENT_SIZE", &cfg.Search.TournamentSize)
	e.float("INDEXSEARCH_SEARCH_MUTATION_RATE", &cfg.Search.MutationRate)
	e.float("INDEXSEARCH_SEARCH_MUTATION_PROB", &cfg.Search.MutationProb)
	e.float("INDEXSEARCH_SEARCH_CROSSOVER_PROB", &cfg.Search.CrossoverProb)
	e.str("INDEXSEARCH_SEARCH_FITNESS", &cfg.Search.Fitness)
	if v := os.Getenv("INDEXSEARCH_SEARCH_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		e.set("INDEXSEARCH_SEARCH_SEED", err)
		if err == nil {
			cfg.Search.Seed = n
		}
	}
	e.boolean("INDEXSEARCH_SEARCH_FAKE_EVAL", &cfg.Search.FakeEval)

	e.str("INDEXSEARCH_HISTORY_DIR", &cfg.History.Dir)
	e.boolean("INDEXSEARCH_HISTORY_ARCHIVE", &cfg.History.Archive)

	e.str("INDEXSEARCH_STORAGE_TYPE", &cfg.Storage.Type)
	e.str("INDEXSEARCH_STORAGE_PATH", &cfg.Storage.Path)
	e.str("INDEXSEARCH_S3_BUCKET", &cfg.Storage.S3.Bucket)
	e.str("INDEXSEARCH_S3_REGION", &cfg.Storage.S3.Region)
	e.str("INDEXSEARCH_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	e.boolean("INDEXSEARCH_S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	e.str("INDEXSEARCH_GRPC_ADDR", &cfg.GRPC.Addr)
	e.str("INDEXSEARCH_METRICS_ADDR", &cfg.Metrics.Addr)
	e.str("INDEXSEARCH_LOG_LEVEL", &cfg.Log.Level)
	e.str("INDEXSEARCH_LOG_FORMAT", &cfg.Log.Format)

	return e.err
}

type envReader struct {
	err error
}

func (e *envReader) set(key string, err error) {
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		e.set(key, err)
		if err == nil {
			*dst = n
		}
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		e.set(key, err)
		if err == nil {
			*dst = f
		}
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		e.set(key, err)
		if err == nil {
			*dst = d
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Benchmark.RefreshDir,
		filepath.Dir(c.Benchmark.SequenceFile),
		c.History.Dir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
