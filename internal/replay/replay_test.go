package replay

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
	"github.com/Helix48/realistic-chess-puzzles/internal/eco"
	"github.com/Helix48/realistic-chess-puzzles/internal/lichess"
	"github.com/Helix48/realistic-chess-puzzles/internal/sampling"
)

type fakeArchive struct {
	games []lichess.Game
	err   error
	calls atomic.Int32
	asked atomic.Int32
}

func (f *fakeArchive) ListRecentGames(_ context.Context, _ string, max int) ([]lichess.Game, error) {
	f.calls.Add(1)
	f.asked.Store(int32(max))
	if f.err != nil {
		return nil, f.err
	}
	if max < len(f.games) {
		return f.games[:max], nil
	}
	return f.games, nil
}

func game(id string, moves ...string) lichess.Game {
	return lichess.Game{ID: id, Variant: "standard", Moves: moves}
}

var (
	italian  = []string{"e4", "e5", "Nf3", "Nc6", "Bc4", "Bc5"}
	queens   = []string{"d4", "d5", "c4", "e6", "Nc3", "Nf6"}
	english  = []string{"c4", "e5", "Nc3", "Nf6"}
	sicilian = []string{"e4", "c5", "Nf3", "d6", "d4", "cxd4", "Nxd4"}
	scandi   = []string{"e4", "d5", "exd5", "Qxd5"}
)

func newPipeline(t *testing.T, a Archive, cfg Config) *Pipeline {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	p, err := New(a, cfg)
	require.NoError(t, err)
	return p
}

func TestReplay_OpeningExample(t *testing.T) {
	out := Replay(context.Background(), game("g", "e4", "e5", "Nf3"), false)
	require.Equal(t, StatusOK, out.Status)
	require.Len(t, out.FENs, 3)

	last := strings.Fields(out.FENs[2])
	assert.Equal(t, "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R", last[0])
	assert.Equal(t, "b", last[1])
}

func TestReplay_IncludeStart(t *testing.T) {
	out := Replay(context.Background(), game("g", "e4"), true)
	require.Equal(t, StatusOK, out.Status)
	require.Len(t, out.FENs, 2)
	assert.Equal(t, board.StartFEN, out.FENs[0])
}

func TestReplay_Deterministic(t *testing.T) {
	g := game("g", sicilian...)
	a := Replay(context.Background(), g, true)
	b := Replay(context.Background(), g, true)
	assert.Equal(t, a.FENs, b.FENs)
	assert.Equal(t, strings.Join(a.FENs, "\n"), strings.Join(b.FENs, "\n"))
}

func TestReplay_FromPosition(t *testing.T) {
	g := lichess.Game{
		ID:         "fp",
		Variant:    "fromPosition",
		InitialFEN: "8/4P3/8/8/8/8/k7/4K3 w - - 0 1",
		Moves:      []string{"e8=Q", "Ka1", "Qa4#"},
	}
	out := Replay(context.Background(), g, false)
	require.Equal(t, StatusOK, out.Status, "err: %v", out.Err)
	assert.Len(t, out.FENs, 3)
}

func TestReplay_FromPositionKeepsCounters(t *testing.T) {
	start := "r3k2r/8/8/8/8/8/8/R3K2R b KQkq - 12 35"
	g := lichess.Game{
		ID:         "fc",
		Variant:    "fromPosition",
		InitialFEN: start,
		Moves:      []string{"O-O", "Ra2"},
	}
	out := Replay(context.Background(), g, true)
	require.Equal(t, StatusOK, out.Status, "err: %v", out.Err)
	require.Len(t, out.FENs, 3)
	assert.Equal(t, start, out.FENs[0])
	assert.Equal(t, "r4rk1/8/8/8/8/8/8/R3K2R w KQ - 13 36", out.FENs[1])
	assert.True(t, strings.HasSuffix(out.FENs[2], " b K - 14 36"), out.FENs[2])
}

func TestReplay_Failures(t *testing.T) {
	tests := []struct {
		name      string
		game      lichess.Game
		wantPly   int
		wantFENs  int
		wantErrIs error
	}{
		{"illegal at ply 3", game("g", "e4", "e5", "Ke3"), 3, 2, board.ErrIllegalMove},
		{"garbage at ply 1", game("g", "??"), 1, 0, board.ErrUnparseableMove},
		{"variant", lichess.Game{ID: "g", Variant: "atomic", Moves: []string{"e4"}}, 0, 0, ErrUnsupportedVariant},
		{"bad initial fen", lichess.Game{ID: "g", Variant: "fromPosition", InitialFEN: "nonsense", Moves: []string{"e4"}}, 0, 0, board.ErrInvalidFEN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Replay(context.Background(), tt.game, false)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, tt.wantPly, out.FailedPly)
			assert.Len(t, out.FENs, tt.wantFENs)
			assert.ErrorIs(t, out.Err, tt.wantErrIs)
		})
	}
}

// stopAfter reports no error for the first n Err() calls, then Canceled.
type stopAfter struct {
	context.Context
	n atomic.Int32
}

func (c *stopAfter) Err() error {
	if c.n.Add(-1) < 0 {
		return context.Canceled
	}
	return nil
}

func TestReplay_StopsAtMoveBoundary(t *testing.T) {
	ctx := &stopAfter{Context: context.Background()}
	ctx.n.Store(3)

	out := Replay(ctx, game("g", italian...), false)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Len(t, out.FENs, 3, "three full moves applied before the stop")

	full := Replay(context.Background(), game("g", italian...), false)
	assert.Equal(t, full.FENs[:3], out.FENs, "partial FENs are a prefix of the full replay")
}

func TestFetchAndReplay_Isolation(t *testing.T) {
	bad := append(append([]string{}, english[:2]...), "Qxh8", "Nf6")
	a := &fakeArchive{games: []lichess.Game{
		game("g1", italian...),
		game("g2", queens...),
		game("g3", bad...),
		game("g4", sicilian...),
		game("g5", scandi...),
	}}
	p := newPipeline(t, a, Config{Workers: 3})

	outs, err := p.FetchAndReplay(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.Len(t, outs, 5)

	for i, moves := range map[int][]string{0: italian, 1: queens, 3: sicilian, 4: scandi} {
		assert.Equal(t, StatusOK, outs[i].Status, "game %d", i+1)
		assert.Len(t, outs[i].FENs, len(moves), "game %d", i+1)
		assert.Equal(t, Replay(context.Background(), a.games[i], false).FENs, outs[i].FENs)
	}

	assert.Equal(t, "g3", outs[2].GameID)
	assert.Equal(t, StatusFailed, outs[2].Status)
	assert.Equal(t, 3, outs[2].FailedPly)
	assert.Len(t, outs[2].FENs, 2)
	assert.ErrorIs(t, outs[2].Err, board.ErrIllegalMove)
}

func TestFetchAndReplay_PreservesOrderUnderLatency(t *testing.T) {
	a := &fakeArchive{games: []lichess.Game{
		game("slow", italian...),
		game("medium", queens...),
		game("fast", scandi...),
	}}
	p := newPipeline(t, a, Config{Workers: 3})

	delays := map[string]time.Duration{"slow": 60 * time.Millisecond, "medium": 30 * time.Millisecond}
	var finished []string
	done := make(chan string, 3)
	p.replay = func(ctx context.Context, g lichess.Game, inc bool) Outcome {
		time.Sleep(delays[g.ID])
		done <- g.ID
		return Replay(ctx, g, inc)
	}

	outs, err := p.FetchAndReplay(context.Background(), "alice", 3)
	require.NoError(t, err)
	close(done)
	for id := range done {
		finished = append(finished, id)
	}

	assert.Equal(t, []string{"fast", "medium", "slow"}, finished, "completion order differs from fetch order")
	require.Len(t, outs, 3)
	assert.Equal(t, "slow", outs[0].GameID)
	assert.Equal(t, "medium", outs[1].GameID)
	assert.Equal(t, "fast", outs[2].GameID)
}

func TestFetchAndReplay_Timeout(t *testing.T) {
	a := &fakeArchive{games: []lichess.Game{
		game("quick", scandi...),
		game("stuck", italian...),
		game("never", queens...),
	}}
	p := newPipeline(t, a, Config{Workers: 1, Timeout: 50 * time.Millisecond})
	p.replay = func(ctx context.Context, g lichess.Game, inc bool) Outcome {
		if g.ID == "stuck" {
			<-ctx.Done()
		}
		return Replay(ctx, g, inc)
	}

	start := time.Now()
	outs, err := p.FetchAndReplay(context.Background(), "alice", 3)
	require.NoError(t, err, "a timeout is reported per game, not for the call")
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, outs, 3)
	assert.Equal(t, StatusOK, outs[0].Status)
	assert.Equal(t, StatusTimedOut, outs[1].Status)
	assert.Equal(t, StatusTimedOut, outs[2].Status)
	assert.Equal(t, "never", outs[2].GameID)
	assert.ErrorIs(t, outs[2].Err, context.DeadlineExceeded)
}

func TestFetchAndReplay_CallerCancellation(t *testing.T) {
	a := &fakeArchive{games: []lichess.Game{game("a", italian...), game("b", queens...)}}
	p := newPipeline(t, a, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	p.replay = func(ctx context.Context, g lichess.Game, inc bool) Outcome {
		cancel()
		return Replay(ctx, g, inc)
	}
	outs, err := p.FetchAndReplay(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.Equal(t, StatusCancelled, o.Status)
	}
}

func TestFetchAndReplay_ArchiveUnavailable(t *testing.T) {
	cause := lichess.ErrUserNotFound
	a := &fakeArchive{err: cause}
	p := newPipeline(t, a, Config{})

	outs, err := p.FetchAndReplay(context.Background(), "ghost", 3)
	require.Error(t, err)
	assert.Nil(t, outs)
	assert.ErrorIs(t, err, ErrArchiveUnavailable)
	assert.ErrorIs(t, err, lichess.ErrUserNotFound)
}

func TestFetchAndReplay_Validation(t *testing.T) {
	a := &fakeArchive{games: []lichess.Game{game("a", italian...)}}
	p := newPipeline(t, a, Config{})

	var ve *sampling.ValidationError
	_, err := p.FetchAndReplay(context.Background(), "alice", -1)
	assert.True(t, errors.As(err, &ve))

	_, err = p.FetchAndReplay(context.Background(), "not a handle", 3)
	assert.True(t, errors.As(err, &ve))

	outs, err := p.FetchAndReplay(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, outs)
	assert.NotNil(t, outs)

	assert.EqualValues(t, 0, a.calls.Load(), "archive is not contacted")
}

func TestFetchAndReplay_ClampsMaxGames(t *testing.T) {
	a := &fakeArchive{games: []lichess.Game{game("a", italian...), game("b", queens...), game("c", scandi...)}}
	p := newPipeline(t, a, Config{MaxGames: 2})

	outs, err := p.FetchAndReplay(context.Background(), "alice", 100)
	require.NoError(t, err)
	assert.Len(t, outs, 2)
	assert.EqualValues(t, 2, a.asked.Load())
}

func TestFetchAndReplay_TagsOpenings(t *testing.T) {
	db := eco.NewDatabase()
	require.NoError(t, db.Load(strings.NewReader("eco\tname\tpgn\nC50\tItalian Game\t1. e4 e5 2. Nf3 Nc6 3. Bc4\n")))

	a := &fakeArchive{games: []lichess.Game{game("it", italian...), game("qg", queens...)}}
	p := newPipeline(t, a, Config{Openings: db})

	outs, err := p.FetchAndReplay(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.NotNil(t, outs[0].Opening)
	assert.Equal(t, "C50", outs[0].Opening.ECO)
	assert.Nil(t, outs[1].Opening)
}
