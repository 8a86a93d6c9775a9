// Package config loads gateway settings from command-line flags, with
// environment variables supplying the defaults.
//
// Environment variables:
//
//	RCP_ADDR, RCP_LOG_LEVEL, RCP_LOG_FORMAT, RCP_CORS_ORIGINS (comma separated)
//	RCP_CORPUS_DRIVER, RCP_CORPUS_PATH, RCP_CORPUS_DSN, RCP_CORPUS_CACHE_DIR
//	RCP_S3_BUCKET, RCP_S3_REGION, RCP_S3_ENDPOINT, RCP_S3_KEY, RCP_S3_PATH_STYLE
//	RCP_S3_ACCESS_KEY_ID, RCP_S3_SECRET_ACCESS_KEY (env only)
//	STOCKFISH_PATH, RCP_EVAL_DEPTH, RCP_EVAL_WORKERS, RCP_EVAL_CACHE, RCP_EVAL_CACHE_FILE
//	LICHESS_TOKEN (env only), RCP_LICHESS_URL
//	RCP_REPLAY_WORKERS, RCP_REPLAY_TIMEOUT, RCP_REPLAY_MAX_GAMES
//	RCP_ECO_DIR, RCP_INGEST_DIR, RCP_INGEST_RATING
//
// A flag given on the command line wins over its environment variable.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
)

// Config holds every gateway setting.
type Config struct {
	Addr           string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	EnablePprof    bool

	Corpus corpus.OpenConfig

	StockfishPath string
	EvalDepth     int
	EvalWorkers   int
	EvalThreads   int
	EvalHashMB    int
	EvalTimeout   time.Duration
	EvalCacheSize int64 // bytes
	EvalCacheFile string

	LichessURL   string
	LichessToken string

	ReplayWorkers      int
	ReplayTimeout      time.Duration
	ReplayMaxGames     int
	ReplayIncludeStart bool

	ECODir string

	IngestDir    string
	IngestRating int
	IngestStride int

	ShutdownTimeout time.Duration
}

// envReader collects malformed environment values instead of failing on
// the first one.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

// Load parses args (without the program name). getenv is usually os.Getenv.
// Usage and flag errors are printed to stderr.
func Load(args []string, getenv func(string) string) (Config, error) {
	return load("api", args, getenv, os.Stderr)
}

func load(name string, args []string, getenv func(string) string, out io.Writer) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	env := &envReader{getenv: getenv}
	var (
		cfg       Config
		origins   string
		cacheSize string
	)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)

	// Server
	fs.StringVar(&cfg.Addr, "addr", env.str("RCP_ADDR", ":8007"), "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("RCP_LOG_LEVEL", "info"), "log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", env.str("RCP_LOG_FORMAT", "console"), "log format (console or json)")
	fs.StringVar(&origins, "cors-origins", env.str("RCP_CORS_ORIGINS", ""), "comma separated allowed origins (empty = any)")
	fs.BoolVar(&cfg.EnablePprof, "pprof", env.boolean("RCP_PPROF", false), "serve /debug/pprof")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.duration("RCP_SHUTDOWN_TIMEOUT", 30*time.Second), "graceful shutdown deadline")

	// Corpus
	fs.StringVar(&cfg.Corpus.Driver, "corpus-driver", env.str("RCP_CORPUS_DRIVER", ""), "memory, sqlite, postgres, segment or parquet (empty = infer from path)")
	fs.StringVar(&cfg.Corpus.Path, "corpus", env.str("RCP_CORPUS_PATH", "./data/corpus.db"), "corpus file (sqlite, .cps.zst or .parquet)")
	fs.StringVar(&cfg.Corpus.DSN, "corpus-dsn", env.str("RCP_CORPUS_DSN", ""), "postgres connection string")
	fs.StringVar(&cfg.Corpus.CacheDir, "corpus-cache-dir", env.str("RCP_CORPUS_CACHE_DIR", "./data/cache"), "where downloaded snapshots are kept")
	fs.StringVar(&cfg.Corpus.S3.Bucket, "s3-bucket", env.str("RCP_S3_BUCKET", ""), "bucket holding the corpus snapshot")
	fs.StringVar(&cfg.Corpus.S3.Region, "s3-region", env.str("RCP_S3_REGION", "us-east-1"), "bucket region")
	fs.StringVar(&cfg.Corpus.S3.Endpoint, "s3-endpoint", env.str("RCP_S3_ENDPOINT", ""), "custom S3 endpoint")
	fs.StringVar(&cfg.Corpus.S3Key, "s3-key", env.str("RCP_S3_KEY", ""), "snapshot object key")
	fs.BoolVar(&cfg.Corpus.S3.PathStyle, "s3-path-style", env.boolean("RCP_S3_PATH_STYLE", false), "use path-style bucket addressing")
	cfg.Corpus.S3.AccessKeyID = env.str("RCP_S3_ACCESS_KEY_ID", "")
	cfg.Corpus.S3.SecretAccessKey = env.str("RCP_S3_SECRET_ACCESS_KEY", "")

	// Evaluation
	fs.StringVar(&cfg.StockfishPath, "stockfish", env.str("STOCKFISH_PATH", ""), "path to Stockfish executable (empty = evaluation disabled)")
	fs.IntVar(&cfg.EvalDepth, "eval-depth", env.integer("RCP_EVAL_DEPTH", 18), "Stockfish search depth")
	fs.IntVar(&cfg.EvalWorkers, "eval-workers", env.integer("RCP_EVAL_WORKERS", 1), "number of Stockfish processes")
	fs.IntVar(&cfg.EvalThreads, "eval-threads", env.integer("RCP_EVAL_THREADS", 1), "Stockfish threads per process")
	fs.IntVar(&cfg.EvalHashMB, "eval-hash", env.integer("RCP_EVAL_HASH", 128), "Stockfish hash MB per process")
	fs.DurationVar(&cfg.EvalTimeout, "eval-timeout", env.duration("RCP_EVAL_TIMEOUT", 30*time.Second), "per-request evaluation deadline")
	fs.StringVar(&cacheSize, "eval-cache", env.str("RCP_EVAL_CACHE", "64m"), "evaluation cache budget (e.g. 512m, 1g)")
	fs.StringVar(&cfg.EvalCacheFile, "eval-cache-file", env.str("RCP_EVAL_CACHE_FILE", ""), "load/save evaluations here (.csv, .csv.gz or .csv.zst)")

	// Archive and replay
	fs.StringVar(&cfg.LichessURL, "lichess-url", env.str("RCP_LICHESS_URL", "https://lichess.org"), "Lichess base URL")
	cfg.LichessToken = env.str("LICHESS_TOKEN", "")
	fs.IntVar(&cfg.ReplayWorkers, "replay-workers", env.integer("RCP_REPLAY_WORKERS", 0), "concurrent game replays (0 = GOMAXPROCS)")
	fs.DurationVar(&cfg.ReplayTimeout, "replay-timeout", env.duration("RCP_REPLAY_TIMEOUT", 20*time.Second), "whole replay request deadline")
	fs.IntVar(&cfg.ReplayMaxGames, "replay-max-games", env.integer("RCP_REPLAY_MAX_GAMES", 50), "upper bound on games per replay request")
	fs.BoolVar(&cfg.ReplayIncludeStart, "replay-include-start", env.boolean("RCP_REPLAY_INCLUDE_START", false), "prepend the initial position to replayed games")

	// Openings and ingest
	fs.StringVar(&cfg.ECODir, "eco-dir", env.str("RCP_ECO_DIR", ""), "directory containing ECO .tsv files")
	fs.StringVar(&cfg.IngestDir, "ingest-dir", env.str("RCP_INGEST_DIR", ""), "directory to watch for PGN files (empty = disabled)")
	fs.IntVar(&cfg.IngestRating, "ingest-rating", env.integer("RCP_INGEST_RATING", 0), "minimum rating of both players for ingested games")
	fs.IntVar(&cfg.IngestStride, "ingest-stride", env.integer("RCP_INGEST_STRIDE", 1), "store every n-th ply of ingested games")

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.AllowedOrigins = splitList(origins)
	size, err := ParseSize(cacheSize)
	if err != nil {
		return Config{}, fmt.Errorf("eval-cache: %w", err)
	}
	cfg.EvalCacheSize = size

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log-format %q: want console or json", c.LogFormat))
	}
	switch c.Corpus.Driver {
	case "", corpus.DriverMemory, corpus.DriverSQLite, corpus.DriverSegment, corpus.DriverParquet:
	case corpus.DriverPostgres:
		if c.Corpus.DSN == "" {
			errs = append(errs, errors.New("corpus-dsn required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown corpus-driver %q", c.Corpus.Driver))
	}
	if c.Corpus.S3Key != "" && c.Corpus.S3.Bucket == "" {
		errs = append(errs, errors.New("s3-key set without s3-bucket"))
	}
	if c.EvalDepth < 1 || c.EvalDepth > 99 {
		errs = append(errs, fmt.Errorf("eval-depth %d out of range 1..99", c.EvalDepth))
	}
	if c.EvalWorkers < 1 {
		errs = append(errs, fmt.Errorf("eval-workers must be at least 1, got %d", c.EvalWorkers))
	}
	if c.ReplayWorkers < 0 {
		errs = append(errs, fmt.Errorf("replay-workers must be non-negative, got %d", c.ReplayWorkers))
	}
	if c.ReplayMaxGames < 1 {
		errs = append(errs, fmt.Errorf("replay-max-games must be at least 1, got %d", c.ReplayMaxGames))
	}
	if c.IngestRating < 0 {
		errs = append(errs, fmt.Errorf("ingest-rating must be non-negative, got %d", c.IngestRating))
	}
	if c.IngestStride < 1 {
		errs = append(errs, fmt.Errorf("ingest-stride must be at least 1, got %d", c.IngestStride))
	}
	return errors.Join(errs...)
}

// ParseSize parses a size string like "512m", "4g" or "1024" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "0" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "b")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n * multiplier, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
