package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Helix48/realistic-chess-puzzles/internal/corpus"
)

func main() {
	var (
		input     = flag.String("input", "", "Snapshot to import (.cps.zst or .parquet)")
		s3Key     = flag.String("s3-key", "", "Fetch the snapshot from this S3 key instead of -input")
		bucket    = flag.String("s3-bucket", os.Getenv("RCP_S3_BUCKET"), "Bucket for -s3-key")
		region    = flag.String("s3-region", os.Getenv("RCP_S3_REGION"), "Bucket region")
		endpoint  = flag.String("s3-endpoint", os.Getenv("RCP_S3_ENDPOINT"), "Custom S3 endpoint")
		pathStyle = flag.Bool("s3-path-style", false, "Use path-style bucket addressing")
		cacheDir  = flag.String("cache-dir", os.TempDir(), "Where fetched snapshots are written")
		target    = flag.String("corpus", "./data/corpus.db", "Target SQLite corpus")
		dsn       = flag.String("corpus-dsn", os.Getenv("RCP_CORPUS_DSN"), "Target Postgres DSN (overrides -corpus)")
		batchSize = flag.Int("batch-size", 5000, "Records per insert transaction")
	)
	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = 5000
	}
	if *input == "" && *s3Key == "" {
		fmt.Fprintln(os.Stderr, "Usage: import-corpus -input <snapshot> | -s3-key <key> [-corpus corpus.db | -corpus-dsn postgres://...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := *input
	if *s3Key != "" {
		var err error
		path, err = corpus.FetchSnapshot(ctx, corpus.S3Config{
			Bucket:          *bucket,
			Region:          *region,
			Endpoint:        *endpoint,
			AccessKeyID:     os.Getenv("RCP_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("RCP_S3_SECRET_ACCESS_KEY"),
			PathStyle:       *pathStyle,
		}, *s3Key, *cacheDir)
		if err != nil {
			fatalf("fetch snapshot: %v", err)
		}
		fmt.Printf("Fetched s3://%s/%s to %s\n", *bucket, *s3Key, path)
	}

	fmt.Printf("Reading snapshot: %s\n", path)
	var (
		snap *corpus.MemoryIndex
		err  error
	)
	if strings.HasSuffix(path, corpus.ParquetExt) {
		snap, err = corpus.ReadParquet(path, 4)
	} else {
		snap, err = corpus.ReadSegment(path)
	}
	if err != nil {
		fatalf("read snapshot: %v", err)
	}
	fmt.Printf("Snapshot holds %d records\n", snap.Len())

	openCfg := corpus.OpenConfig{Driver: corpus.DriverSQLite, Path: *target}
	if *dsn != "" {
		openCfg = corpus.OpenConfig{Driver: corpus.DriverPostgres, DSN: *dsn}
	}
	store, err := corpus.Open(ctx, openCfg)
	if err != nil {
		fatalf("open target corpus: %v", err)
	}
	defer store.Close()

	start := time.Now()
	var imported int
	batch := make([]corpus.Record, 0, *batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.Append(ctx, batch); err != nil {
			return err
		}
		imported += len(batch)
		if imported%(*batchSize*100) < len(batch) {
			fmt.Printf("Imported %d records\n", imported)
		}
		batch = batch[:0]
		return nil
	}
	err = snap.Scan(ctx, func(r corpus.Record) error {
		batch = append(batch, r)
		if len(batch) >= *batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		fatalf("import after %d records: %v", imported, err)
	}

	fmt.Printf("\nDone! Imported %d records in %s\n", imported, time.Since(start).Round(time.Millisecond))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
