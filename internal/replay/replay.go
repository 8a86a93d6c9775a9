// Package replay fetches a player's recent games and rebuilds the FEN of
// every position reached, one private board per game, on a bounded pool.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
	"github.com/Helix48/realistic-chess-puzzles/internal/eco"
	"github.com/Helix48/realistic-chess-puzzles/internal/lichess"
)

// Status classifies one replayed game.
type Status string

const (
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

var ErrUnsupportedVariant = errors.New("unsupported variant")

// Outcome is the replay result for one fetched game. FENs holds every
// position reached before the game finished or stopped; when Status is
// StatusFailed, FailedPly is the 1-based ply whose move was rejected.
type Outcome struct {
	GameID    string
	Status    Status
	FENs      []string
	FailedPly int
	Err       error
	Opening   *eco.Opening
}

// OK reports whether every move of the game was replayed.
func (o Outcome) OK() bool { return o.Status == StatusOK }

var supportedVariants = map[string]bool{
	"":             true,
	"standard":     true,
	"fromPosition": true,
}

// Replay plays game from its initial position and records a FEN after every
// ply. ctx is checked before each move, so a stop always lands between
// moves. Replaying the same game twice yields the same FENs.
func Replay(ctx context.Context, game lichess.Game, includeStart bool) Outcome {
	out := Outcome{GameID: game.ID}

	if !supportedVariants[game.Variant] {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("%w: %s", ErrUnsupportedVariant, game.Variant)
		return out
	}

	var b *board.Board
	if strings.TrimSpace(game.InitialFEN) == "" {
		b = board.New()
	} else {
		var err error
		if b, err = board.FromFEN(game.InitialFEN); err != nil {
			out.Status = StatusFailed
			out.Err = err
			return out
		}
	}

	out.FENs = make([]string, 0, len(game.Moves)+1)
	if includeStart {
		out.FENs = append(out.FENs, b.FEN())
	}

	for i, tok := range game.Moves {
		if err := ctx.Err(); err != nil {
			out.Status = stopStatus(err)
			out.Err = err
			return out
		}
		if err := b.Apply(tok); err != nil {
			out.Status = StatusFailed
			out.FailedPly = i + 1
			out.Err = err
			return out
		}
		out.FENs = append(out.FENs, b.FEN())
	}
	out.Status = StatusOK
	return out
}

// stopStatus maps a context error to the marker recorded on the outcome.
func stopStatus(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimedOut
	}
	return StatusCancelled
}
