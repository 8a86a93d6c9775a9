// Package sampling turns client filters into corpus queries: a uniform
// random draw and an exact count over the same predicate.
package sampling

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
)

// SampleResult is one drawn position. Found is false when nothing matched.
type SampleResult struct {
	FEN    string
	Ply    int
	Rating int
	GameID string
	Found  bool
}

// Config configures an Engine.
type Config struct {
	Index   corpus.Index
	Source  rand.Source // nil seeds from the runtime
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Engine answers sample and count requests against one corpus index.
type Engine struct {
	index   corpus.Index
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEngine creates a sampling engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Index == nil {
		return nil, errors.New("sampling: nil corpus index")
	}
	src := cfg.Source
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Engine{
		index:   cfg.Index,
		log:     cfg.Logger.With().Str("component", "sampling").Logger(),
		metrics: cfg.Metrics,
		rnd:     rand.New(src),
	}, nil
}

// Int64N makes Engine a corpus.Rand that is safe for concurrent requests.
func (e *Engine) Int64N(n int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Int64N(n)
}

// SampleRandom draws one record uniformly among those matching f. Zero
// matches is a normal outcome and returns Found=false with no error.
func (e *Engine) SampleRandom(ctx context.Context, f Filter) (SampleResult, error) {
	p, err := f.Predicate()
	if err != nil {
		return SampleResult{}, err
	}
	start := time.Now()
	rec, ok, err := e.index.SampleOne(ctx, p, e)
	e.metrics.ObserveCorpusQuery("sample", time.Since(start))
	if err != nil {
		e.metrics.SampleDraw("error")
		return SampleResult{}, err
	}
	if !ok {
		e.metrics.SampleDraw("empty")
		e.log.Debug().Str("filter", f.String()).Msg("no position matches filter")
		return SampleResult{}, nil
	}
	e.metrics.SampleDraw("hit")
	return SampleResult{
		FEN:    rec.FEN,
		Ply:    rec.Ply,
		Rating: rec.Rating,
		GameID: rec.GameID,
		Found:  true,
	}, nil
}

// CountMatches returns the exact number of records SampleRandom could draw for f.
func (e *Engine) CountMatches(ctx context.Context, f Filter) (int64, error) {
	p, err := f.Predicate()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := e.index.Count(ctx, p)
	e.metrics.ObserveCorpusQuery("count", time.Since(start))
	return n, err
}
