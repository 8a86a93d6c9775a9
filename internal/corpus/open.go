package corpus

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverSegment  = "segment"
	DriverParquet  = "parquet"
)

// OpenConfig selects and locates a corpus backend.
type OpenConfig struct {
	Driver string // one of the Driver* names; empty infers from Path
	Path   string // sqlite file, segment file or parquet file
	DSN    string // postgres

	// Snapshot, when S3.Bucket is set, is downloaded into CacheDir before
	// a segment or parquet corpus is opened.
	S3       S3Config
	S3Key    string
	CacheDir string
}

// InferDriver picks a driver from a file name.
func InferDriver(path string) string {
	switch {
	case strings.HasSuffix(path, SegmentExt):
		return DriverSegment
	case strings.HasSuffix(path, ParquetExt):
		return DriverParquet
	case strings.HasPrefix(path, "postgres://"), strings.HasPrefix(path, "postgresql://"):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// Open returns the configured corpus. Segment and parquet snapshots are
// loaded fully into memory.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	path := cfg.Path
	if cfg.S3.Bucket != "" && cfg.S3Key != "" {
		dir := cfg.CacheDir
		if dir == "" {
			dir = os.TempDir()
		}
		local, err := FetchSnapshot(ctx, cfg.S3, cfg.S3Key, dir)
		if err != nil {
			return nil, fmt.Errorf("fetch snapshot: %w", err)
		}
		path = local
	}

	driver := cfg.Driver
	if driver == "" {
		if cfg.DSN != "" {
			driver = DriverPostgres
		} else {
			driver = InferDriver(path)
		}
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case DriverMemory:
		st, err = NewMemoryIndex(nil)
	case DriverSQLite:
		st, err = OpenSQLite(ctx, path)
	case DriverPostgres:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = path
		}
		st, err = OpenPostgres(ctx, dsn)
	case DriverSegment:
		st, err = ReadSegment(path)
	case DriverParquet:
		st, err = ReadParquet(path, 0)
	default:
		return nil, fmt.Errorf("unknown corpus driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s corpus: %w", driver, err)
	}
	return st, nil
}
