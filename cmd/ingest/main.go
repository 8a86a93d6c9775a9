package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
	"github.com/Helix48/realistic-chess-puzzles/internal/ingest"
	"github.com/Helix48/realistic-chess-puzzles/internal/logx"
)

func main() {
	defaultRatingMin := 0
	if envRating := os.Getenv("RCP_INGEST_RATING"); envRating != "" {
		if rating, err := strconv.Atoi(envRating); err == nil {
			defaultRatingMin = rating
		}
	}

	var (
		dir       = flag.String("dir", "", "Directory of PGN files (.pgn, .pgn.zst)")
		corpusArg = flag.String("corpus", "./data/corpus.db", "SQLite corpus file")
		dsn       = flag.String("corpus-dsn", os.Getenv("RCP_CORPUS_DSN"), "Postgres DSN (overrides -corpus)")
		ratingMin = flag.Int("rating-min", defaultRatingMin, "Rating floor for both players")
		stride    = flag.Int("stride", 1, "Store every n-th ply")
		batchSize = flag.Int("batch-size", 1000, "Records per insert transaction")
		workers   = flag.Int("workers", 2, "Files ingested in parallel")
		watch     = flag.Bool("watch", false, "Keep polling the directory instead of exiting")
		poll      = flag.Duration("poll", 10*time.Second, "Poll interval with -watch")
		logLevel  = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingest -dir <pgn dir> [-corpus corpus.db | -corpus-dsn postgres://...] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger, err := logx.New(logx.Options{Level: *logLevel})
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to info level")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	openCfg := corpus.OpenConfig{Driver: corpus.DriverSQLite, Path: *corpusArg}
	if *dsn != "" {
		openCfg = corpus.OpenConfig{Driver: corpus.DriverPostgres, DSN: *dsn}
	}
	store, err := corpus.Open(ctx, openCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open corpus")
	}
	defer store.Close()

	worker, err := ingest.NewWorker(ingest.Config{
		WatchDir:     *dir,
		RatingMin:    *ratingMin,
		Stride:       *stride,
		BatchSize:    *batchSize,
		NumWorkers:   *workers,
		PollInterval: *poll,
		Logger:       logger,
	}, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("create ingest worker")
	}

	logger.Info().
		Str("dir", *dir).
		Str("driver", openCfg.Driver).
		Int("rating_min", *ratingMin).
		Int("stride", *stride).
		Msg("starting ingest")

	if *watch {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("ingest worker stopped")
		}
		return
	}

	start := time.Now()
	st, err := worker.ProcessOnce(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("ingest interrupted")
	}
	total, cerr := store.Count(context.Background(), corpus.Predicate{})
	if cerr != nil {
		logger.Warn().Err(cerr).Msg("count corpus")
	}
	logger.Info().
		Int("files", st.Files).
		Int("failed", st.Failed).
		Int64("games", st.Games).
		Int64("skipped", st.Skipped).
		Int64("records", st.Records).
		Int64("corpus_positions", total).
		Dur("elapsed", time.Since(start)).
		Msg("ingest complete")
	if err != nil || st.Failed > 0 {
		_ = store.Close()
		os.Exit(1)
	}
}
