package sampling

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
)

// ValidationError reports a request value that violates a filter or
// request constraint. It is raised before any corpus or archive work.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Invalid builds a *ValidationError.
func Invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// MoveBucket names a phase of the game measured in plies.
type MoveBucket string

const (
	BucketAny        MoveBucket = ""
	BucketOpening    MoveBucket = "opening"
	BucketMiddlegame MoveBucket = "middlegame"
	BucketEndgame    MoveBucket = "endgame"
)

type plyRange struct {
	min int
	max int // -1 = unbounded
}

var buckets = map[MoveBucket]plyRange{
	BucketOpening:    {0, 19},
	BucketMiddlegame: {20, 59},
	BucketEndgame:    {60, -1},
}

// Buckets lists the known bucket names in game order.
func Buckets() []MoveBucket {
	return []MoveBucket{BucketOpening, BucketMiddlegame, BucketEndgame}
}

// ParseBucket accepts a bucket name case-insensitively. Empty means any.
func ParseBucket(s string) (MoveBucket, error) {
	b := MoveBucket(strings.ToLower(strings.TrimSpace(s)))
	if b == BucketAny {
		return BucketAny, nil
	}
	if _, ok := buckets[b]; !ok {
		return "", Invalid("moveFilter", s, "unknown move bucket (want opening, middlegame or endgame)")
	}
	return b, nil
}

// RatingRange is a closed interval over player rating.
type RatingRange struct {
	Low  int
	High int
}

func (r RatingRange) validate() error {
	raw := fmt.Sprintf("%d-%d", r.Low, r.High)
	if r.Low < 0 || r.High < 0 {
		return Invalid("ratingRange", raw, "bounds must be non-negative")
	}
	if r.Low > r.High {
		return Invalid("ratingRange", raw, "low bound exceeds high bound")
	}
	return nil
}

// ParseRatingRange accepts "low-high", "low,high" or "[low,high]". Empty
// means unconstrained and returns nil.
func ParseRatingRange(s string) (*RatingRange, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, nil
	}
	body := raw
	if strings.HasPrefix(body, "[") || strings.HasSuffix(body, "]") {
		if !strings.HasPrefix(body, "[") || !strings.HasSuffix(body, "]") {
			return nil, Invalid("ratingRange", s, "unbalanced brackets")
		}
		body = body[1 : len(body)-1]
	}
	sep := ","
	if !strings.Contains(body, ",") {
		sep = "-"
	}
	parts := strings.Split(body, sep)
	if len(parts) != 2 {
		return nil, Invalid("ratingRange", s, "want low-high")
	}
	low, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, Invalid("ratingRange", s, "low bound is not an integer")
	}
	high, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, Invalid("ratingRange", s, "high bound is not an integer")
	}
	r := &RatingRange{Low: low, High: high}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Filter selects corpus records. Zero-valued fields are unconstrained.
type Filter struct {
	Bucket MoveBucket
	Rating *RatingRange
}

// ParseFilter validates the loosely typed query values once at the boundary.
func ParseFilter(moveFilter, ratingRange string) (Filter, error) {
	b, err := ParseBucket(moveFilter)
	if err != nil {
		return Filter{}, err
	}
	r, err := ParseRatingRange(ratingRange)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Bucket: b, Rating: r}, nil
}

// Predicate builds the corpus predicate for f. Counting and sampling both go
// through here, so they always query the same set.
func (f Filter) Predicate() (corpus.Predicate, error) {
	var p corpus.Predicate
	if f.Bucket != BucketAny {
		br, ok := buckets[f.Bucket]
		if !ok {
			return corpus.Predicate{}, Invalid("moveFilter", string(f.Bucket), "unknown move bucket")
		}
		p.PlyMin = corpus.Int(br.min)
		if br.max >= 0 {
			p.PlyMax = corpus.Int(br.max)
		}
	}
	if f.Rating != nil {
		if err := f.Rating.validate(); err != nil {
			return corpus.Predicate{}, err
		}
		p.RatingMin = corpus.Int(f.Rating.Low)
		p.RatingMax = corpus.Int(f.Rating.High)
	}
	return p, nil
}

func (f Filter) String() string {
	b := string(f.Bucket)
	if b == "" {
		b = "any"
	}
	if f.Rating == nil {
		return b + " rating=any"
	}
	return fmt.Sprintf("%s rating=%d-%d", b, f.Rating.Low, f.Rating.High)
}
