// Package gateway exposes the operations served over HTTP: position
// evaluation, corpus sampling and counting, and archive game replay.
// It owns no state; every collaborator is injected.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
	"github.com/Helix48/realistic-chess-puzzles/internal/eval"
	"github.com/Helix48/realistic-chess-puzzles/internal/replay"
	"github.com/Helix48/realistic-chess-puzzles/internal/sampling"
)

// Evaluator analyses a single position. *eval.Pool implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (eval.Analysis, error)
}

// Sampler draws from and counts the position corpus. *sampling.Engine
// implements it.
type Sampler interface {
	SampleRandom(ctx context.Context, f sampling.Filter) (sampling.SampleResult, error)
	CountMatches(ctx context.Context, f sampling.Filter) (int64, error)
}

// Replayer fetches and replays a player's recent games. *replay.Pipeline
// implements it.
type Replayer interface {
	FetchAndReplay(ctx context.Context, handle string, maxGames int) ([]replay.Outcome, error)
}

// Config wires the service.
type Config struct {
	Evaluator   Evaluator // optional; evaluations fail with eval.ErrUnavailable without it
	Sampler     Sampler
	Replayer    Replayer
	EvalTimeout time.Duration // per-evaluation deadline; 0 disables
	Logger      zerolog.Logger
}

// Service implements the gateway-facing operations.
type Service struct {
	evaluator   Evaluator
	sampler     Sampler
	replayer    Replayer
	evalTimeout time.Duration
	log         zerolog.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Sampler == nil {
		return nil, errors.New("gateway: sampler required")
	}
	if cfg.Replayer == nil {
		return nil, errors.New("gateway: replayer required")
	}
	return &Service{
		evaluator:   cfg.Evaluator,
		sampler:     cfg.Sampler,
		replayer:    cfg.Replayer,
		evalTimeout: cfg.EvalTimeout,
		log:         cfg.Logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// GetEvaluation validates fen and asks the evaluator for an analysis.
// The call only blocks the calling request.
func (s *Service) GetEvaluation(ctx context.Context, fen string) (eval.Analysis, error) {
	fen = strings.TrimSpace(fen)
	if err := board.ValidateFEN(fen); err != nil {
		return eval.Analysis{}, sampling.Invalid("fen", fen, "not a legal position")
	}
	if s.evaluator == nil {
		return eval.Analysis{}, fmt.Errorf("%w: no engine configured", eval.ErrUnavailable)
	}
	if s.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.evalTimeout)
		defer cancel()
	}
	a, err := s.evaluator.Evaluate(ctx, fen)
	if err != nil {
		s.log.Debug().Err(err).Str("fen", fen).Msg("evaluation failed")
		return eval.Analysis{}, err
	}
	return a, nil
}

// GetRandomFen draws one corpus position matching f. An empty match set
// is reported with Found=false and a nil error.
func (s *Service) GetRandomFen(ctx context.Context, f sampling.Filter) (sampling.SampleResult, error) {
	return s.sampler.SampleRandom(ctx, f)
}

// GetQuantity counts the corpus positions matching f.
func (s *Service) GetQuantity(ctx context.Context, f sampling.Filter) (int64, error) {
	return s.sampler.CountMatches(ctx, f)
}

// GetReplayedFens replays up to maxGames recent games of handle.
func (s *Service) GetReplayedFens(ctx context.Context, handle string, maxGames int) ([]replay.Outcome, error) {
	return s.replayer.FetchAndReplay(ctx, strings.TrimSpace(handle), maxGames)
}
