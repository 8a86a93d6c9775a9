package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
)

const samplePGN = `[Event "Rated Blitz game"]
[Site "https://lichess.org/abcd1234"]
[White "alice"]
[Black "bob"]
[Result "1-0"]
[WhiteElo "2100"]
[BlackElo "2000"]

1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 1-0

[Event "Rated Blitz game"]
[Site "https://lichess.org/lowrated"]
[White "carol"]
[Black "dave"]
[Result "0-1"]
[WhiteElo "1200"]
[BlackElo "2300"]

1. d4 d5 2. c4 e6 0-1

[Event "Rated Rapid game"]
[Site "https://lichess.org/efgh5678"]
[White "erin"]
[Black "frank"]
[Result "1/2-1/2"]
[WhiteElo "2400"]
[BlackElo "2200"]

1. c4 e5 2. Nc3 Nf6 1/2-1/2
`

func newWorker(t *testing.T, cfg Config, out corpus.Writer) *Worker {
	t.Helper()
	if cfg.WatchDir == "" {
		cfg.WatchDir = t.TempDir()
	}
	cfg.Logger = zerolog.Nop()
	w, err := NewWorker(cfg, out)
	require.NoError(t, err)
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func collect(t *testing.T, idx *corpus.MemoryIndex) []corpus.Record {
	t.Helper()
	var recs []corpus.Record
	require.NoError(t, idx.Scan(context.Background(), func(r corpus.Record) error {
		recs = append(recs, r)
		return nil
	}))
	return recs
}

func TestProcessOnce_FiltersAndMoves(t *testing.T) {
	idx, err := corpus.NewMemoryIndex(nil)
	require.NoError(t, err)
	w := newWorker(t, Config{RatingMin: 1800, BatchSize: 4}, idx)
	writeFile(t, filepath.Join(w.cfg.WatchDir, "games.pgn"), samplePGN)
	writeFile(t, filepath.Join(w.cfg.WatchDir, "notes.txt"), "ignored")

	st, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Files)
	assert.EqualValues(t, 2, st.Games)
	assert.EqualValues(t, 1, st.Skipped, "one player below the rating floor")
	assert.EqualValues(t, 12, st.Records)

	recs := collect(t, idx)
	require.Len(t, recs, 12)
	assert.Equal(t, "abcd1234", recs[0].GameID)
	assert.Equal(t, 0, recs[0].Ply, "the initial position is stored")
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", recs[0].FEN)
	assert.Equal(t, 2050, recs[0].Rating, "average of both players")
	assert.Equal(t, 1, recs[1].Ply)
	assert.Equal(t, []string{"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR", "b"}, strings.Fields(recs[1].FEN)[:2])
	assert.Equal(t, 6, recs[6].Ply)
	assert.Equal(t, "efgh5678", recs[7].GameID)
	assert.Equal(t, 0, recs[7].Ply)
	assert.Equal(t, 2300, recs[7].Rating)

	_, err = os.Stat(filepath.Join(w.cfg.WatchDir, "games.pgn"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(w.cfg.ProcessedDir, "games.pgn"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(w.cfg.WatchDir, "notes.txt"))
	assert.NoError(t, err, "non-PGN files are left alone")
}

func TestProcessOnce_Stride(t *testing.T) {
	idx, err := corpus.NewMemoryIndex(nil)
	require.NoError(t, err)
	w := newWorker(t, Config{Stride: 2}, idx)
	writeFile(t, filepath.Join(w.cfg.WatchDir, "games.pgn"), samplePGN)

	_, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	recs := collect(t, idx)
	require.Len(t, recs, 10)
	for _, r := range recs {
		assert.Zero(t, r.Ply%2, "ply %d", r.Ply)
	}
}

func TestProcessOnce_Zstd(t *testing.T) {
	idx, err := corpus.NewMemoryIndex(nil)
	require.NoError(t, err)
	w := newWorker(t, Config{}, idx)

	f, err := os.Create(filepath.Join(w.cfg.WatchDir, "archive.pgn.zst"))
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	require.NoError(t, err)
	_, err = zw.Write([]byte(samplePGN))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	st, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Games)
	assert.Equal(t, 17, idx.Len())
}

const unratedPGN = `[Event "Casual game"]
[Site "https://lichess.org/oneside1"]
[WhiteElo "2400"]
[BlackElo "?"]
[Result "1-0"]

1. e4 e5 1-0

[Event "Casual game"]
[Site "https://lichess.org/nobody01"]
[WhiteElo "?"]
[BlackElo "?"]
[Result "0-1"]

1. d4 d5 0-1
`

func TestProcessOnce_UnratedPlayers(t *testing.T) {
	tests := []struct {
		name        string
		ratingMin   int
		wantGames   int64
		wantSkipped int64
		wantRating  int
	}{
		{"rated side only", 0, 1, 1, 2400},
		{"floor rejects unrated side", 1800, 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := corpus.NewMemoryIndex(nil)
			require.NoError(t, err)
			w := newWorker(t, Config{RatingMin: tt.ratingMin}, idx)
			writeFile(t, filepath.Join(w.cfg.WatchDir, "casual.pgn"), unratedPGN)

			st, err := w.ProcessOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantGames, st.Games)
			assert.Equal(t, tt.wantSkipped, st.Skipped)
			for _, r := range collect(t, idx) {
				assert.Equal(t, "oneside1", r.GameID)
				assert.Equal(t, tt.wantRating, r.Rating)
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Append(context.Context, []corpus.Record) error {
	return errors.New("disk full")
}

func TestProcessOnce_WriterFailureKeepsFile(t *testing.T) {
	w := newWorker(t, Config{}, failingWriter{})
	path := filepath.Join(w.cfg.WatchDir, "games.pgn")
	writeFile(t, path, samplePGN)

	st, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 0, st.Files)
	_, err = os.Stat(path)
	assert.NoError(t, err, "failed files stay in the watch dir for the next pass")
}

func TestProcessOnce_Cancelled(t *testing.T) {
	idx, err := corpus.NewMemoryIndex(nil)
	require.NoError(t, err)
	w := newWorker(t, Config{}, idx)
	writeFile(t, filepath.Join(w.cfg.WatchDir, "games.pgn"), samplePGN)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.ProcessOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, idx.Len())
}

func TestNewWorker_Validation(t *testing.T) {
	idx, err := corpus.NewMemoryIndex(nil)
	require.NoError(t, err)
	_, err = NewWorker(Config{}, idx)
	assert.Error(t, err)
	_, err = NewWorker(Config{WatchDir: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestIsPGNFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"games.pgn", true},
		{"games.pgn.zst", true},
		{"games.zst", false},
		{"games.txt", false},
		{"pgn", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPGNFile(tt.name), tt.name)
	}
}

func TestParseRating(t *testing.T) {
	assert.Equal(t, 0, parseRating(""))
	assert.Equal(t, 0, parseRating("?"))
	assert.Equal(t, 0, parseRating("-"))
	assert.Equal(t, 2150, parseRating("2150"))
}
