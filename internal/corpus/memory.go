package corpus

import (
	"context"
	"sync"
)

// MemoryIndex keeps the corpus in a slice. Reads take a shared lock, so
// concurrent counts and samples never block each other.
type MemoryIndex struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryIndex creates an index holding a copy of recs.
func NewMemoryIndex(recs []Record) (*MemoryIndex, error) {
	m := &MemoryIndex{}
	if err := m.Append(context.Background(), recs); err != nil {
		return nil, err
	}
	return m, nil
}

// Append validates and stores recs. Either all records are added or none.
func (m *MemoryIndex) Append(_ context.Context, recs []Record) error {
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.records = append(m.records, recs...)
	m.mu.Unlock()
	return nil
}

// Count returns the number of records matching p.
func (m *MemoryIndex) Count(ctx context.Context, p Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(p), nil
}

func (m *MemoryIndex) countLocked(p Predicate) int64 {
	var n int64
	for i := range m.records {
		if p.Match(m.records[i]) {
			n++
		}
	}
	return n
}

// SampleOne counts the matches, draws k in [0, count) and returns the k-th
// match in insertion order. Count and fetch run under one read lock.
func (m *MemoryIndex) SampleOne(ctx context.Context, p Predicate, rnd Rand) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.countLocked(p)
	if n == 0 {
		return Record{}, false, nil
	}
	k := rnd.Int64N(n)
	for i := range m.records {
		if !p.Match(m.records[i]) {
			continue
		}
		if k == 0 {
			return m.records[i], true, nil
		}
		k--
	}
	// unreachable while the lock is held
	return Record{}, false, nil
}

// Scan visits every record in insertion order.
func (m *MemoryIndex) Scan(ctx context.Context, fn func(Record) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.records {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(m.records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the total number of records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close is a no-op; it lets MemoryIndex satisfy Store.
func (m *MemoryIndex) Close() error { return nil }
