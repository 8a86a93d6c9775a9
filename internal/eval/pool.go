package eval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
)

// PoolConfig configures the evaluation pool.
type PoolConfig struct {
	Stockfish  StockfishConfig
	Logger     zerolog.Logger
	Depth      int // search depth per request
	NumWorkers int // parallel engine processes
	QueueSize  int // pending requests before Evaluate blocks
	Cache      *Cache
	Metrics    *metrics.Metrics

	// NewSearcher overrides engine construction (tests).
	NewSearcher func() (Searcher, error)
}

type result struct {
	analysis Analysis
	err      error
}

type job struct {
	ctx  context.Context
	fen  string
	resp chan result
}

// Pool serves Evaluate calls from a fixed set of engine workers. Each
// caller waits only for its own job.
type Pool struct {
	cfg   PoolConfig
	log   zerolog.Logger
	cache *Cache

	jobs  chan job
	wg    sync.WaitGroup
	ready atomic.Int32

	evaluated atomic.Int64
	cacheHits atomic.Int64
}

// NewPool creates an evaluation pool. Call Run to start the workers.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.NewSearcher == nil {
		if cfg.Stockfish.Path == "" {
			return nil, fmt.Errorf("stockfish path required")
		}
		sf := cfg.Stockfish
		cfg.NewSearcher = func() (Searcher, error) { return NewStockfish(sf) }
	}
	if cfg.Depth == 0 {
		cfg.Depth = 18
	}
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = 1
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	return &Pool{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "eval").Logger(),
		cache: cfg.Cache,
		jobs:  make(chan job, cfg.QueueSize),
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has shut its engine down.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().
		Str("stockfish", p.cfg.Stockfish.Path).
		Int("depth", p.cfg.Depth).
		Int("num_workers", p.cfg.NumWorkers).
		Int("queue_size", p.cfg.QueueSize).
		Msg("eval pool started")

	var startErr error
	for i := 0; i < p.cfg.NumWorkers; i++ {
		workerID := i
		s, err := p.cfg.NewSearcher()
		if err != nil {
			startErr = err
			p.log.Error().Err(err).Int("worker", workerID).Msg("engine start failed")
			continue
		}
		p.ready.Add(1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID, s)
		}()
	}
	if p.ready.Load() == 0 {
		return fmt.Errorf("%w: %w", ErrUnavailable, startErr)
	}

	<-ctx.Done()
	p.wg.Wait()

	p.log.Info().
		Int64("total_evaluated", p.evaluated.Load()).
		Int64("cache_hits", p.cacheHits.Load()).
		Msg("eval pool stopped")
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context, id int, s Searcher) {
	defer func() {
		p.ready.Add(-1)
		_ = s.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			if j.ctx.Err() != nil {
				// caller already gave up
				continue
			}
			start := time.Now()
			a, err := s.Search(j.fen, p.cfg.Depth)
			p.cfg.Metrics.ObserveEvaluation(time.Since(start))
			if err == nil {
				p.evaluated.Add(1)
				p.cache.Put(j.fen, a)
			} else {
				p.log.Warn().Err(err).Int("worker", id).Str("fen", j.fen).Msg("evaluation failed")
			}
			j.resp <- result{analysis: a, err: err}
		}
	}
}

// Ready reports whether at least one engine worker is running.
func (p *Pool) Ready() bool { return p.ready.Load() > 0 }

// Evaluate analyses fen, consulting the cache first. It returns when the
// analysis is done or ctx ends, whichever comes first.
func (p *Pool) Evaluate(ctx context.Context, fen string) (Analysis, error) {
	normalized, err := board.NormalizeFEN(fen)
	if err != nil {
		return Analysis{}, err
	}
	if a, ok := p.cache.Get(normalized); ok {
		p.cacheHits.Add(1)
		p.cfg.Metrics.EvalCache(true)
		a.FEN = normalized
		return a, nil
	}
	p.cfg.Metrics.EvalCache(false)
	if !p.Ready() {
		return Analysis{}, fmt.Errorf("%w: no running workers", ErrUnavailable)
	}

	j := job{ctx: ctx, fen: normalized, resp: make(chan result, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	}
	select {
	case r := <-j.resp:
		if r.err != nil && !errors.Is(r.err, ErrUnavailable) {
			return Analysis{}, fmt.Errorf("%w: %w", ErrUnavailable, r.err)
		}
		return r.analysis, r.err
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	}
}

// PoolStatus is a snapshot of pool counters.
type PoolStatus struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Evaluated int64 `json:"evaluated"`
	CacheHits int64 `json:"cache_hits"`
	CacheLen  int   `json:"cache_len"`
}

// Status returns the current counters.
func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Workers:   int(p.ready.Load()),
		Queued:    len(p.jobs),
		Evaluated: p.evaluated.Load(),
		CacheHits: p.cacheHits.Load(),
		CacheLen:  p.cache.Len(),
	}
}
