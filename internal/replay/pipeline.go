package replay

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Helix48/realistic-chess-puzzles/internal/eco"
	"github.com/Helix48/realistic-chess-puzzles/internal/lichess"
	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
	"github.com/Helix48/realistic-chess-puzzles/internal/sampling"
)

// ErrArchiveUnavailable means no games could be fetched; the whole request
// fails. The underlying cause is wrapped alongside it.
var ErrArchiveUnavailable = errors.New("game archive unavailable")

// Archive lists a player's most recent games, newest first.
type Archive interface {
	ListRecentGames(ctx context.Context, handle string, max int) ([]lichess.Game, error)
}

// Config configures a Pipeline.
type Config struct {
	Workers      int           // concurrent replays; default GOMAXPROCS
	Timeout      time.Duration // whole-request deadline; 0 disables
	IncludeStart bool          // prepend the initial position to each FEN list
	MaxGames     int           // upper bound on games per request; default 50
	Logger       zerolog.Logger
	Openings     *eco.Database // optional opening tagging
	Metrics      *metrics.Metrics
}

// Pipeline fetches games from an archive and replays them concurrently.
type Pipeline struct {
	archive      Archive
	workers      int
	timeout      time.Duration
	includeStart bool
	maxGames     int
	log          zerolog.Logger
	openings     *eco.Database
	metrics      *metrics.Metrics

	replay func(ctx context.Context, game lichess.Game, includeStart bool) Outcome
}

// New creates a pipeline over archive, filling defaults.
func New(archive Archive, cfg Config) (*Pipeline, error) {
	if archive == nil {
		return nil, errors.New("replay: nil archive")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxGames <= 0 {
		cfg.MaxGames = 50
	}
	return &Pipeline{
		archive:      archive,
		workers:      cfg.Workers,
		timeout:      cfg.Timeout,
		includeStart: cfg.IncludeStart,
		maxGames:     cfg.MaxGames,
		log:          cfg.Logger.With().Str("component", "replay").Logger(),
		openings:     cfg.Openings,
		metrics:      cfg.Metrics,
		replay:       Replay,
	}, nil
}

// FetchAndReplay fetches up to maxGames recent games of handle and replays
// each one. outcome[i] always belongs to the i-th fetched game. Per-game
// failures, the request timeout and caller cancellation are reported on
// the outcomes; only validation and fetch failures return an error.
func (p *Pipeline) FetchAndReplay(ctx context.Context, handle string, maxGames int) ([]Outcome, error) {
	if maxGames < 0 {
		return nil, sampling.Invalid("max", fmt.Sprint(maxGames), "must be non-negative")
	}
	if !lichess.ValidHandle(handle) {
		return nil, sampling.Invalid("user", handle, "not a valid lichess username")
	}
	if maxGames == 0 {
		return []Outcome{}, nil
	}
	if maxGames > p.maxGames {
		maxGames = p.maxGames
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	games, err := p.archive.ListRecentGames(ctx, handle, maxGames)
	p.metrics.ObserveArchiveFetch(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveUnavailable, err)
	}
	if len(games) > maxGames {
		games = games[:maxGames]
	}

	outcomes := make([]Outcome, len(games))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, game := range games {
		g.Go(func() error {
			outcomes[i] = p.replayOne(ctx, game)
			return nil
		})
	}
	_ = g.Wait()

	p.summarize(handle, outcomes, time.Since(start))
	return outcomes, nil
}

func (p *Pipeline) replayOne(ctx context.Context, game lichess.Game) Outcome {
	// a game picked up after the deadline never starts
	if err := ctx.Err(); err != nil {
		return Outcome{GameID: game.ID, Status: stopStatus(err), Err: err}
	}
	out := p.replay(ctx, game, p.includeStart)
	if len(out.FENs) > 0 {
		out.Opening = p.openings.Deepest(out.FENs)
	}
	if out.Status == StatusFailed {
		p.log.Debug().
			Str("game", game.ID).
			Int("ply", out.FailedPly).
			Err(out.Err).
			Msg("game replay failed")
	}
	return out
}

func (p *Pipeline) summarize(handle string, outcomes []Outcome, dur time.Duration) {
	counts := make(map[Status]int, 4)
	for _, o := range outcomes {
		counts[o.Status]++
		p.metrics.ReplayOutcome(string(o.Status))
	}
	p.log.Info().
		Str("user", handle).
		Int("games", len(outcomes)).
		Int("ok", counts[StatusOK]).
		Int("failed", counts[StatusFailed]).
		Int("timed_out", counts[StatusTimedOut]).
		Int("cancelled", counts[StatusCancelled]).
		Dur("dur", dur).
		Msg("replayed games")
}
