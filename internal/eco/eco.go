// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Helix48/realistic-chess-puzzles/internal/board"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database holds ECO opening data indexed by position key (FEN without
// move counters), so transpositions resolve to the same opening.
type Database struct {
	byKey   map[string]Opening
	count   int
	skipped int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byKey: make(map[string]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.Load(f)
}

// Load reads "eco\tname\tpgn" rows. Lines whose moves do not replay are
// counted in Skipped and otherwise ignored.
func (db *Database) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		b, err := replayLine(parts[2])
		if err != nil {
			db.skipped++
			continue
		}

		db.byKey[b.Key()] = Opening{ECO: parts[0], Name: parts[1]}
		db.count++
	}

	return scanner.Err()
}

// replayLine plays PGN movetext like "1. e4 e5 2. Nf3 Nc6" from the start.
func replayLine(pgnMoves string) (*board.Board, error) {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")
	b := board.New()
	for _, san := range strings.Fields(cleaned) {
		// Skip annotations
		if san[0] == '$' || san[0] == '{' {
			continue
		}
		if err := b.Apply(san); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Lookup returns the opening for a FEN, or nil if the position is not a
// named opening.
func (db *Database) Lookup(fen string) *Opening {
	if db == nil {
		return nil
	}
	if o, ok := db.byKey[board.KeyOf(fen)]; ok {
		return &o
	}
	return nil
}

// Deepest returns the last position in fens that names an opening.
func (db *Database) Deepest(fens []string) *Opening {
	if db == nil {
		return nil
	}
	for i := len(fens) - 1; i >= 0; i-- {
		if o := db.Lookup(fens[i]); o != nil {
			return o
		}
	}
	return nil
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	return db.count
}

// Skipped returns the number of rows whose moves could not be replayed.
func (db *Database) Skipped() int {
	return db.skipped
}
