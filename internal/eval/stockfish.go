// Package eval evaluates positions with a pool of UCI engine processes and
// caches the results by position key.
package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freeeve/uci"
)

var (
	ErrUnavailable = errors.New("evaluation engine unavailable")
	ErrNoResult    = errors.New("no results from engine")
)

// Analysis is the engine's verdict on one position. Scores are from White's
// point of view; exactly one of CP and Mate is set.
type Analysis struct {
	FEN      string   `json:"fen"`
	Depth    int      `json:"depth"`
	CP       *int     `json:"cp,omitempty"`
	Mate     *int     `json:"mate,omitempty"`
	BestMove string   `json:"bestMove"`
	PV       []string `json:"pv"`
}

// Score returns a single comparable number: centipawns, or a large value
// signed by the mating side for forced mates.
func (a Analysis) Score() int {
	switch {
	case a.CP != nil:
		return *a.CP
	case a.Mate != nil && *a.Mate > 0:
		return 100000 - *a.Mate
	case a.Mate != nil && *a.Mate < 0:
		return -100000 - *a.Mate
	}
	return 0
}

// Searcher runs one search at a time on a single engine.
type Searcher interface {
	Search(fen string, depth int) (Analysis, error)
	Close() error
}

// StockfishConfig configures one engine process.
type StockfishConfig struct {
	Path    string
	HashMB  int
	Threads int
}

type stockfish struct {
	engine *uci.Engine
}

// NewStockfish starts an engine process.
func NewStockfish(cfg StockfishConfig) (Searcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("stockfish path required")
	}
	if cfg.HashMB == 0 {
		cfg.HashMB = 128
	}
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}

	engine, err := uci.NewEngine(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	opts := uci.Options{
		Hash:    cfg.HashMB,
		Threads: cfg.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}
	if err := engine.SetOptions(opts); err != nil {
		engine.Close()
		return nil, fmt.Errorf("set options: %w", err)
	}
	return &stockfish{engine: engine}, nil
}

func (s *stockfish) Search(fen string, depth int) (Analysis, error) {
	if err := s.engine.SetFEN(fen); err != nil {
		return Analysis{}, fmt.Errorf("set FEN: %w", err)
	}
	results, err := s.engine.GoDepth(depth, uci.HighestDepthOnly)
	if err != nil {
		return Analysis{}, fmt.Errorf("stockfish eval: %w", err)
	}
	if len(results.Results) == 0 {
		return Analysis{}, ErrNoResult
	}

	best := results.Results[0]
	for _, r := range results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}

	// Stockfish scores are from side-to-move's perspective.
	score := best.Score
	if strings.Contains(fen, " b ") {
		score = -score
	}

	a := Analysis{
		FEN:      fen,
		Depth:    best.Depth,
		BestMove: results.BestMove,
		PV:       append([]string(nil), best.BestMoves...),
	}
	if best.Mate {
		a.Mate = &score
	} else {
		a.CP = &score
	}
	if a.BestMove == "" && len(a.PV) > 0 {
		a.BestMove = a.PV[0]
	}
	return a, nil
}

func (s *stockfish) Close() error {
	s.engine.Close()
	return nil
}
