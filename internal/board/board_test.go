package board

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fenFields(t *testing.T, fen string) []string {
	t.Helper()
	fields := strings.Fields(fen)
	require.Len(t, fields, 6, "fen %q", fen)
	return fields
}

func playAll(t *testing.T, b *Board, moves ...string) {
	t.Helper()
	for _, mv := range moves {
		require.NoError(t, b.Apply(mv), "apply %s", mv)
	}
}

func TestNew_StartingPosition(t *testing.T) {
	b := New()
	assert.Equal(t, StartFEN, b.FEN())
	assert.Equal(t, 0, b.Ply())
	assert.True(t, b.WhiteToMove())
}

func TestApply_OpeningSequence(t *testing.T) {
	b := New()
	playAll(t, b, "e4", "e5", "Nf3")

	f := fenFields(t, b.FEN())
	assert.Equal(t, "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R", f[0])
	assert.Equal(t, "b", f[1])
	assert.Equal(t, "KQkq", f[2])
	assert.Equal(t, "1", f[4], "halfmove clock after a knight move")
	assert.Equal(t, "2", f[5], "fullmove number")
	assert.Equal(t, 3, b.Ply())
	assert.False(t, b.WhiteToMove())
}

func TestApply_CoordinateMatchesSAN(t *testing.T) {
	san := New()
	playAll(t, san, "e4", "e5", "Nf3", "Nc6")

	coord := New()
	playAll(t, coord, "e2e4", "e7e5", "g1f3", "b8c6")

	assert.Equal(t, san.FEN(), coord.FEN())
}

func TestApply_CastlingRights(t *testing.T) {
	b := New()
	playAll(t, b, "e4", "e5", "Nf3", "Nc6", "Bc4", "Bc5", "O-O")

	f := fenFields(t, b.FEN())
	assert.Equal(t, "r1bqk1nr/pppp1ppp/2n5/2b1p3/2B1P3/5N2/PPPP1PPP/RNBQ1RK1", f[0])
	assert.Equal(t, "kq", f[2])

	playAll(t, b, "Ke7")
	f = fenFields(t, b.FEN())
	assert.Equal(t, "-", f[2], "king move drops black's rights")
}

func TestApply_ZeroCastlingAndAnnotations(t *testing.T) {
	b := New()
	playAll(t, b, "e4!", "e5?!", "Nf3", "Nc6", "Bc4", "Bc5", "0-0")
	f := fenFields(t, b.FEN())
	assert.Equal(t, "kq", f[2])
}

func TestApply_EnPassantCapture(t *testing.T) {
	b := New()
	playAll(t, b, "e4", "a6", "e5", "d5")

	f := fenFields(t, b.FEN())
	assert.Equal(t, "d6", f[3], "double push next to an enemy pawn sets the target")

	playAll(t, b, "exd6")
	f = fenFields(t, b.FEN())
	assert.Equal(t, "rnbqkbnr/1pp1pppp/p2P4/8/8/8/PPPP1PPP/RNBQKBNR", f[0])
	assert.Equal(t, "-", f[3])
	assert.Equal(t, "0", f[4], "capture resets the halfmove clock")
}

func TestApply_Promotion(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		placement string
	}{
		{"san queen", "e8=Q", "4Q3/8/8/8/8/8/k7/4K3"},
		{"san without equals", "e8Q", "4Q3/8/8/8/8/8/k7/4K3"},
		{"coordinate knight", "e7e8n", "4N3/8/8/8/8/8/k7/4K3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := FromFEN("8/4P3/8/8/8/8/k7/4K3 w - - 0 1")
			require.NoError(t, err)
			require.NoError(t, b.Apply(tt.token))
			assert.Equal(t, tt.placement, fenFields(t, b.FEN())[0])
		})
	}
}

func TestApply_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"blocked king", "Ke2", ErrIllegalMove},
		{"pawn too far", "e5", ErrIllegalMove},
		{"coordinate from empty square", "e3e4", ErrIllegalMove},
		{"garbage", "zz", ErrUnparseableMove},
		{"empty", "  ", ErrUnparseableMove},
		{"lowercase piece", "nf3", ErrUnparseableMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			before := b.FEN()

			err := b.Apply(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			var moveErr *MoveError
			require.True(t, errors.As(err, &moveErr))
			assert.Equal(t, 1, moveErr.Ply)
			assert.Equal(t, tt.token, moveErr.Token)

			assert.Equal(t, before, b.FEN(), "rejected move must not mutate the board")
			assert.Equal(t, 0, b.Ply())
		})
	}
}

func TestApply_ErrorPlyTracksHistory(t *testing.T) {
	b := New()
	playAll(t, b, "e4", "e5")
	err := b.Apply("Qh8")
	var moveErr *MoveError
	require.True(t, errors.As(err, &moveErr))
	assert.Equal(t, 3, moveErr.Ply)
}

func TestFromFEN(t *testing.T) {
	tests := []struct {
		name    string
		fen     string
		wantErr bool
	}{
		{"start", StartFEN, false},
		{"empty means start", "", false},
		{"four fields", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq -", false},
		{"not a fen", "hello world", true},
		{"seven ranks", "rnbqkbnr/pppppppp/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", true},
		{"wide rank", "rnbqkbnr/ppppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", true},
		{"two white kings", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKKNR w KQkq - 0 1", true},
		{"bad side", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1", true},
		{"bad castling", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KX - 0 1", true},
		{"bad en passant", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq e4 0 1", true},
		{"negative halfmove", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - -1 1", true},
		{"zero fullmove", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 0", true},
		{"counter not a number", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - x 1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromFEN(tt.fen)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFEN)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFromFEN_KeepsCounters(t *testing.T) {
	fens := []string{
		"r3k2r/8/8/8/8/8/8/R3K2R b KQkq - 12 35",
		"rnbqkbnr/ppp1p1pp/8/3pPp2/8/8/PPPP1PPP/RNBQKBNR w KQkq f6 0 3",
		"8/5k2/8/8/8/8/2K5/8 w - - 49 71",
	}
	for _, fen := range fens {
		t.Run(fen, func(t *testing.T) {
			b, err := FromFEN(fen)
			require.NoError(t, err)
			assert.Equal(t, fen, b.FEN())

			norm, err := NormalizeFEN(fen)
			require.NoError(t, err)
			assert.Equal(t, fen, norm)
		})
	}
}

func TestFromFEN_CountersAdvance(t *testing.T) {
	b, err := FromFEN("r3k2r/8/8/8/8/8/8/R3K2R b KQkq - 12 35")
	require.NoError(t, err)

	playAll(t, b, "O-O", "Ra2")
	f := fenFields(t, b.FEN())
	assert.Equal(t, "14", f[4], "quiet moves advance the halfmove clock")
	assert.Equal(t, "36", f[5], "fullmove number advances after black moves")

	playAll(t, b, "Rxa2")
	f = fenFields(t, b.FEN())
	assert.Equal(t, "0", f[4], "captures reset the halfmove clock")
	assert.Equal(t, "37", f[5])
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -", KeyOf(StartFEN))
	assert.Equal(t, "a b", KeyOf("a b"))
}

func TestReplayIsDeterministic(t *testing.T) {
	moves := []string{"d4", "d5", "c4", "e6", "Nc3", "Nf6", "Bg5", "Be7"}
	run := func() []string {
		b := New()
		out := make([]string, 0, len(moves))
		for _, mv := range moves {
			require.NoError(t, b.Apply(mv))
			out = append(out, b.FEN())
		}
		return out
	}
	assert.Equal(t, run(), run())
}
