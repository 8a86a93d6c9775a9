// Package corpus stores historical game positions tagged with ply and player
// rating, and answers filtered count and uniform sample queries over them.
//
// Backends:
//   - MemoryIndex: slice-backed, used for fixtures and for segment/parquet snapshots
//   - SQLStore: database/sql over SQLite (modernc.org/sqlite) or Postgres (pgx)
//
// Snapshot formats:
//   - Segment (.cps.zst): magic header followed by a zstd stream of length-prefixed records
//   - Parquet (.parquet): one row per record
//
// Every backend renders the same Predicate, so a count and a sample issued with
// one predicate always describe the same set of records.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRecord is returned when a record violates the corpus invariants.
var ErrInvalidRecord = errors.New("invalid corpus record")

// Record is one stored position. Records are immutable once stored.
type Record struct {
	FEN    string
	Ply    int // half-moves played to reach the position, >= 0
	Rating int // rating of the players, >= 0
	GameID string
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if strings.TrimSpace(r.FEN) == "" {
		return fmt.Errorf("%w: empty fen", ErrInvalidRecord)
	}
	if r.Ply < 0 {
		return fmt.Errorf("%w: negative ply %d", ErrInvalidRecord, r.Ply)
	}
	if r.Rating < 0 {
		return fmt.Errorf("%w: negative rating %d", ErrInvalidRecord, r.Rating)
	}
	return nil
}

// Predicate is a conjunction of optional inclusive bounds. A nil bound is
// unconstrained; the zero Predicate matches every record.
type Predicate struct {
	PlyMin    *int
	PlyMax    *int
	RatingMin *int
	RatingMax *int
}

// Match evaluates the predicate against a record in memory.
func (p Predicate) Match(r Record) bool {
	if p.PlyMin != nil && r.Ply < *p.PlyMin {
		return false
	}
	if p.PlyMax != nil && r.Ply > *p.PlyMax {
		return false
	}
	if p.RatingMin != nil && r.Rating < *p.RatingMin {
		return false
	}
	if p.RatingMax != nil && r.Rating > *p.RatingMax {
		return false
	}
	return true
}

// String renders the predicate for logs.
func (p Predicate) String() string {
	bound := func(v *int) string {
		if v == nil {
			return "*"
		}
		return strconv.Itoa(*v)
	}
	return fmt.Sprintf("ply[%s,%s] rating[%s,%s]",
		bound(p.PlyMin), bound(p.PlyMax), bound(p.RatingMin), bound(p.RatingMax))
}

// Rand is the randomness source used for sampling. *rand.Rand from
// math/rand/v2 satisfies it; implementations must be safe for the caller's
// concurrency (see sampling.Engine).
type Rand interface {
	Int64N(n int64) int64
}

// Index is a read-mostly queryable corpus.
type Index interface {
	// Count returns the number of records matching p.
	Count(ctx context.Context, p Predicate) (int64, error)
	// SampleOne returns a record drawn uniformly among those matching p.
	// ok is false when nothing matches.
	SampleOne(ctx context.Context, p Predicate, rnd Rand) (rec Record, ok bool, err error)
}

// Writer accepts new records (ingest and import targets).
type Writer interface {
	Append(ctx context.Context, recs []Record) error
}

// Store is a corpus that can be both queried and extended.
type Store interface {
	Index
	Writer
	Close() error
}

// Scanner iterates every stored record in a stable order (used for export).
type Scanner interface {
	Scan(ctx context.Context, fn func(Record) error) error
}

// Int returns a pointer to v, for building predicates.
func Int(v int) *int { return &v }
