package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Helix48/realistic-chess-puzzles/internal/config"
	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
	"github.com/Helix48/realistic-chess-puzzles/internal/eco"
	"github.com/Helix48/realistic-chess-puzzles/internal/eval"
	"github.com/Helix48/realistic-chess-puzzles/internal/gateway"
	"github.com/Helix48/realistic-chess-puzzles/internal/httpapi"
	"github.com/Helix48/realistic-chess-puzzles/internal/ingest"
	"github.com/Helix48/realistic-chess-puzzles/internal/lichess"
	"github.com/Helix48/realistic-chess-puzzles/internal/logx"
	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
	"github.com/Helix48/realistic-chess-puzzles/internal/replay"
	"github.com/Helix48/realistic-chess-puzzles/internal/sampling"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fallback := logx.NewLogger()
		fallback.Fatal().Err(err).Msg("load config")
	}

	logger, err := logx.New(logx.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to info level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	// Corpus
	store, err := corpus.Open(ctx, cfg.Corpus)
	if err != nil {
		logger.Fatal().Err(err).Msg("open corpus")
	}
	defer store.Close()
	n, err := store.Count(ctx, corpus.Predicate{})
	if err != nil {
		logger.Fatal().Err(err).Msg("count corpus")
	}
	logger.Info().
		Str("driver", cfg.Corpus.Driver).
		Str("path", cfg.Corpus.Path).
		Int64("positions", n).
		Msg("corpus opened")

	sampler, err := sampling.NewEngine(sampling.Config{Index: store, Logger: logger, Metrics: m})
	if err != nil {
		logger.Fatal().Err(err).Msg("create sampling engine")
	}

	// Load ECO opening database
	var ecoDB *eco.Database
	if cfg.ECODir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.LoadDir(cfg.ECODir); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.ECODir).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			logger.Info().Int("openings", ecoDB.Count()).Int("skipped", ecoDB.Skipped()).Msg("ECO database loaded")
		}
	}

	archive := lichess.New(lichess.Config{
		BaseURL: cfg.LichessURL,
		Token:   cfg.LichessToken,
		Logger:  logger,
	})
	pipeline, err := replay.New(archive, replay.Config{
		Workers:      cfg.ReplayWorkers,
		Timeout:      cfg.ReplayTimeout,
		IncludeStart: cfg.ReplayIncludeStart,
		MaxGames:     cfg.ReplayMaxGames,
		Logger:       logger,
		Openings:     ecoDB,
		Metrics:      m,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create replay pipeline")
	}

	// Evaluation pool is optional; without Stockfish the evaluation route
	// answers 503.
	var (
		pool      *eval.Pool
		evaluator gateway.Evaluator
		cache     *eval.Cache
	)
	if cfg.StockfishPath != "" {
		cache = eval.NewCacheForBudget(cfg.EvalCacheSize)
		if cfg.EvalCacheFile != "" {
			if loaded, err := cache.LoadFromFile(cfg.EvalCacheFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str("file", cfg.EvalCacheFile).Msg("load eval cache")
			} else if loaded > 0 {
				logger.Info().Int("evals", loaded).Msg("eval cache loaded")
			}
		}
		pool, err = eval.NewPool(eval.PoolConfig{
			Stockfish: eval.StockfishConfig{
				Path:    cfg.StockfishPath,
				HashMB:  cfg.EvalHashMB,
				Threads: cfg.EvalThreads,
			},
			Logger:     logger,
			Depth:      cfg.EvalDepth,
			NumWorkers: cfg.EvalWorkers,
			Cache:      cache,
			Metrics:    m,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("create eval pool")
		}
		evaluator = pool
		go func() {
			if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("eval pool stopped")
			}
		}()
	} else {
		logger.Info().Msg("no stockfish configured - evaluation disabled")
	}

	svc, err := gateway.New(gateway.Config{
		Evaluator:   evaluator,
		Sampler:     sampler,
		Replayer:    pipeline,
		EvalTimeout: cfg.EvalTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create gateway")
	}

	routerCfg := httpapi.Config{
		API:            svc,
		Logger:         logger,
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins,
		EnablePprof:    cfg.EnablePprof,
		Ready: func() bool {
			if p, ok := store.(pinger); ok {
				pctx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				if p.Ping(pctx) != nil {
					return false
				}
			}
			return pool == nil || pool.Ready()
		},
	}
	if pool != nil {
		routerCfg.EvalStatus = pool.Status
	}

	// Start HTTP server
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httpapi.NewRouter(routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	// Start ingest worker if configured
	if cfg.IngestDir != "" {
		worker, err := ingest.NewWorker(ingest.Config{
			WatchDir:  cfg.IngestDir,
			RatingMin: cfg.IngestRating,
			Stride:    cfg.IngestStride,
			Logger:    logger,
			Metrics:   m,
		}, store)
		if err != nil {
			logger.Fatal().Err(err).Msg("create ingest worker")
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("ingest worker stopped")
			}
		}()
		logger.Info().Str("watch_dir", cfg.IngestDir).Msg("started ingest worker")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	if cache != nil && cfg.EvalCacheFile != "" {
		if saved, err := cache.SaveToFile(cfg.EvalCacheFile); err != nil {
			logger.Error().Err(err).Msg("save eval cache")
		} else {
			logger.Info().Int("evals", saved).Str("file", cfg.EvalCacheFile).Msg("eval cache saved")
		}
	}

	logger.Info().Msg("shutdown complete")
}
