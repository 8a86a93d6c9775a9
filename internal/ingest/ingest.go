// Package ingest turns PGN archives into corpus records. A Worker watches a
// directory, replays every qualifying game and appends the positions it
// passes through to a corpus.Writer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
)

// Config configures the ingest worker.
type Config struct {
	WatchDir     string         // Directory to watch for PGN files
	ProcessedDir string         // Directory to move processed files to
	RatingMin    int            // Both players must be rated at least this; 0 accepts unrated games
	Stride       int            // Store every Stride-th ply (default 1)
	BatchSize    int            // Records per Append call (default 1000)
	NumWorkers   int            // Files ingested in parallel (default 2)
	PollInterval time.Duration  // How often to check for new files
	Logger       zerolog.Logger // Logger
	Metrics      *metrics.Metrics
}

// Stats summarises one pass over the watch directory.
type Stats struct {
	Files   int
	Failed  int
	Games   int64
	Skipped int64
	Records int64
}

// Worker watches a folder and ingests PGN files.
type Worker struct {
	cfg Config
	out corpus.Writer
	log zerolog.Logger
}

// NewWorker creates a new ingest worker writing to out.
func NewWorker(cfg Config, out corpus.Writer) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, errors.New("ingest: watch dir required")
	}
	if out == nil {
		return nil, errors.New("ingest: corpus writer required")
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.Stride <= 0 {
		cfg.Stride = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}

	if err := os.MkdirAll(cfg.WatchDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ProcessedDir, 0755); err != nil {
		return nil, err
	}

	return &Worker{
		cfg: cfg,
		out: out,
		log: cfg.Logger.With().Str("component", "ingest").Logger(),
	}, nil
}

// Run polls the watch directory until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("processed_dir", w.cfg.ProcessedDir).
		Int("rating_min", w.cfg.RatingMin).
		Int("stride", w.cfg.Stride).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.log.Warn().Err(err).Msg("process files failed")
			}
		}
	}
}

type fileResult struct {
	name  string
	stats Stats
	err   error
}

// ProcessOnce ingests every PGN file currently in the watch directory,
// NumWorkers files at a time. Files that ingest cleanly are moved to the
// processed directory; failed files stay put and are retried next pass.
func (w *Worker) ProcessOnce(ctx context.Context) (Stats, error) {
	var total Stats
	if err := ctx.Err(); err != nil {
		return total, err
	}

	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return total, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isPGNFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return total, nil
	}
	sort.Strings(files)
	w.log.Info().Int("files", len(files)).Int("workers", w.cfg.NumWorkers).Msg("found PGN files")

	fileChan := make(chan string, len(files))
	resultChan := make(chan fileResult, len(files))

	var wg sync.WaitGroup
	for i := range w.cfg.NumWorkers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for name := range fileChan {
				if err := ctx.Err(); err != nil {
					resultChan <- fileResult{name: name, err: err}
					continue
				}
				st, err := w.processFile(ctx, workerID, filepath.Join(w.cfg.WatchDir, name))
				resultChan <- fileResult{name: name, stats: st, err: err}
			}
		}(i)
	}
	for _, name := range files {
		fileChan <- name
	}
	close(fileChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		total.Games += r.stats.Games
		total.Skipped += r.stats.Skipped
		total.Records += r.stats.Records
		if r.err != nil {
			w.log.Error().Err(r.err).Str("file", r.name).Msg("ingest failed")
			total.Failed++
			continue
		}
		src := filepath.Join(w.cfg.WatchDir, r.name)
		dst := filepath.Join(w.cfg.ProcessedDir, r.name)
		if err := os.Rename(src, dst); err != nil {
			w.log.Warn().Err(err).Str("file", r.name).Msg("move to processed failed")
		}
		total.Files++
	}

	w.log.Info().
		Int("processed", total.Files).
		Int("failed", total.Failed).
		Int64("games", total.Games).
		Int64("records", total.Records).
		Msg("batch complete")
	return total, ctx.Err()
}

// processFile streams one PGN file into the corpus.
func (w *Worker) processFile(ctx context.Context, workerID int, path string) (Stats, error) {
	var st Stats
	log := w.log.With().Str("file", filepath.Base(path)).Int("worker", workerID).Logger()
	log.Info().Msg("starting file ingest")

	start := time.Now()
	lastLog := start
	batch := make([]corpus.Record, 0, w.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.out.Append(ctx, batch); err != nil {
			return fmt.Errorf("append %d records: %w", len(batch), err)
		}
		st.Records += int64(len(batch))
		w.cfg.Metrics.IngestRecords(len(batch))
		batch = batch[:0]
		return nil
	}

	parser := pgn.Games(path)
	var fail error
	index := 0
gameLoop:
	for game := range parser.Games {
		if fail == nil {
			fail = ctx.Err()
		}
		if fail != nil {
			parser.Stop()
			break gameLoop
		}
		index++

		rating, ok := w.gameRating(game)
		if !ok {
			st.Skipped++
			w.cfg.Metrics.IngestGame("skipped")
			continue
		}
		id := gameID(game, filepath.Base(path), index)
		recs, err := w.positions(game, id, rating)
		st.Games++
		if err != nil {
			log.Debug().Err(err).Str("game", id).Int("plies", len(recs)-1).Msg("game replay stopped early")
			w.cfg.Metrics.IngestGame("partial")
		} else {
			w.cfg.Metrics.IngestGame("stored")
		}

		batch = append(batch, recs...)
		if len(batch) >= w.cfg.BatchSize {
			fail = flush()
		}

		if time.Since(lastLog) > 10*time.Second {
			log.Info().
				Int64("games", st.Games).
				Int64("skipped", st.Skipped).
				Int64("records", st.Records).
				Float64("games_per_sec", float64(st.Games)/time.Since(start).Seconds()).
				Msg("ingest progress")
			lastLog = time.Now()
		}
	}
	if fail != nil {
		return st, fail
	}
	if err := parser.Err(); err != nil {
		return st, err
	}
	if err := flush(); err != nil {
		return st, err
	}

	log.Info().
		Int64("games", st.Games).
		Int64("skipped", st.Skipped).
		Int64("records", st.Records).
		Dur("elapsed", time.Since(start)).
		Msg("file ingest complete")
	return st, nil
}

// gameRating returns the average rating of the rated players, or false when
// nobody is rated, a player falls below RatingMin, or the game does not start
// from the standard position. An unrated player fails any RatingMin floor.
func (w *Worker) gameRating(game *pgn.Game) (int, bool) {
	if fen := game.Tags["FEN"]; fen != "" && fen != board.StartFEN {
		return 0, false
	}
	var sum, n int
	for _, tag := range []string{"WhiteElo", "BlackElo"} {
		r := parseRating(game.Tags[tag])
		if w.cfg.RatingMin > 0 && r < w.cfg.RatingMin {
			return 0, false
		}
		if r > 0 {
			sum += r
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / n, true
}

// positions replays a game and returns a record for every Stride-th ply,
// starting with the initial position at ply 0. An illegal move ends the game;
// the positions before it are kept.
func (w *Worker) positions(game *pgn.Game, id string, rating int) ([]corpus.Record, error) {
	b := board.New()
	recs := []corpus.Record{{FEN: b.FEN(), Ply: 0, Rating: rating, GameID: id}}
	for _, mv := range game.Moves {
		if err := b.ApplyMv(mv); err != nil {
			return recs, err
		}
		if b.Ply()%w.cfg.Stride == 0 {
			recs = append(recs, corpus.Record{FEN: b.FEN(), Ply: b.Ply(), Rating: rating, GameID: id})
		}
	}
	return recs, nil
}

// gameID prefers the archive's own id (last element of the Site URL).
func gameID(game *pgn.Game, file string, index int) string {
	site := strings.TrimRight(game.Tags["Site"], "/")
	if i := strings.LastIndexByte(site, '/'); i >= 0 && i < len(site)-1 {
		return site[i+1:]
	}
	return file + ":" + strconv.Itoa(index)
}

func isPGNFile(name string) bool {
	return strings.HasSuffix(name, ".pgn") || strings.HasSuffix(name, ".pgn.zst")
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
