package eval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
)

// approxEntryBytes is the rough heap cost of one cached analysis, used to
// turn a byte budget into an entry limit.
const approxEntryBytes = 320

var cacheHeader = []string{"fen", "depth", "cp", "mate", "best", "pv"}

// Cache is an in-memory map of analyses keyed by position (FEN without move
// counters). When full, the oldest insertion is evicted. A nil *Cache is a
// valid, always-empty cache.
type Cache struct {
	mu      sync.RWMutex
	evals   map[string]Analysis
	order   []string
	maxSize int
}

// NewCache creates a cache holding at most maxEntries analyses.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	return &Cache{
		evals:   make(map[string]Analysis),
		order:   make([]string, 0, min(maxEntries, 4096)),
		maxSize: maxEntries,
	}
}

// NewCacheForBudget sizes a cache from a memory budget in bytes.
func NewCacheForBudget(budget int64) *Cache {
	return NewCache(int(budget / approxEntryBytes))
}

// Get retrieves the analysis for a position.
func (c *Cache) Get(fen string) (Analysis, bool) {
	if c == nil {
		return Analysis{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.evals[board.KeyOf(fen)]
	return a, ok
}

// Put stores an analysis, replacing any previous one for the position.
func (c *Cache) Put(fen string, a Analysis) {
	if c == nil {
		return
	}
	key := board.KeyOf(fen)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.evals[key]; !ok {
		// If at capacity, remove oldest
		if len(c.order) >= c.maxSize {
			delete(c.evals, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.evals[key] = a
}

// Len returns the number of cached analyses.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.evals)
}

// LoadFromFile loads analyses from a CSV file (supports .zst and .gz
// compression). Malformed rows are skipped. A truncated compressed stream
// keeps what was read before the break.
func (c *Cache) LoadFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var reader io.Reader = f

	// Handle compression
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return 0, err
		}
		defer zr.Close()
		reader = zr
	} else if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return 0, err
		}
		defer gr.Close()
		reader = gr
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	// Skip header
	if _, err := csvReader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for {
		row, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			// truncated stream: keep what we have
			break
		}
		a, ok := parseRow(row)
		if !ok {
			continue
		}
		c.Put(a.FEN, a)
		count++
	}
	return count, nil
}

// Columns: fen, depth, cp, mate, best, pv (space separated)
func parseRow(row []string) (Analysis, bool) {
	if len(row) < 6 || board.ValidateFEN(row[0]) != nil {
		return Analysis{}, false
	}
	depth, err := strconv.Atoi(row[1])
	if err != nil {
		return Analysis{}, false
	}
	a := Analysis{FEN: row[0], Depth: depth, BestMove: row[4], PV: strings.Fields(row[5])}
	switch {
	case row[2] != "":
		cp, err := strconv.Atoi(row[2])
		if err != nil {
			return Analysis{}, false
		}
		a.CP = &cp
	case row[3] != "":
		mate, err := strconv.Atoi(row[3])
		if err != nil {
			return Analysis{}, false
		}
		a.Mate = &mate
	default:
		return Analysis{}, false
	}
	return a, true
}

// SaveToFile writes every cached analysis as zstd-compressed CSV, oldest
// first, so a reload rebuilds the same eviction order.
func (c *Cache) SaveToFile(path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	fail := func(err error) (int, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fail(err)
	}
	w := csv.NewWriter(zw)
	if err := w.Write(cacheHeader); err != nil {
		return fail(err)
	}

	c.mu.RLock()
	count := 0
	for _, key := range c.order {
		a := c.evals[key]
		row := []string{a.FEN, strconv.Itoa(a.Depth), "", "", a.BestMove, strings.Join(a.PV, " ")}
		if a.CP != nil {
			row[2] = strconv.Itoa(*a.CP)
		}
		if a.Mate != nil {
			row[3] = strconv.Itoa(*a.Mate)
		}
		if err := w.Write(row); err != nil {
			c.mu.RUnlock()
			return fail(err)
		}
		count++
	}
	c.mu.RUnlock()

	w.Flush()
	if err := w.Error(); err != nil {
		return fail(err)
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("close zstd: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return count, nil
}
