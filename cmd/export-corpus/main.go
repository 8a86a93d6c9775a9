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
		corpusArg = flag.String("corpus", "./data/corpus.db", "Source corpus (sqlite file, .cps.zst or .parquet)")
		dsn       = flag.String("corpus-dsn", os.Getenv("RCP_CORPUS_DSN"), "Postgres DSN (overrides -corpus)")
		output    = flag.String("output", "corpus"+corpus.SegmentExt, "Output file; .parquet selects parquet, otherwise segment")
		parallel  = flag.Int64("parallel", 4, "Parquet writer goroutines")
		publish   = flag.String("publish", "", "Upload the snapshot to this S3 key after writing")
		bucket    = flag.String("s3-bucket", os.Getenv("RCP_S3_BUCKET"), "Bucket for -publish")
		region    = flag.String("s3-region", os.Getenv("RCP_S3_REGION"), "Bucket region")
		endpoint  = flag.String("s3-endpoint", os.Getenv("RCP_S3_ENDPOINT"), "Custom S3 endpoint")
		pathStyle = flag.Bool("s3-path-style", false, "Use path-style bucket addressing")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	openCfg := corpus.OpenConfig{Path: *corpusArg}
	if *dsn != "" {
		openCfg = corpus.OpenConfig{Driver: corpus.DriverPostgres, DSN: *dsn}
	}
	fmt.Printf("Opening corpus: %s\n", describe(openCfg))
	store, err := corpus.Open(ctx, openCfg)
	if err != nil {
		fatalf("open corpus: %v", err)
	}
	defer store.Close()

	src, ok := store.(corpus.Scanner)
	if !ok {
		fatalf("corpus backend cannot be scanned")
	}

	start := time.Now()
	var n int
	if strings.HasSuffix(*output, corpus.ParquetExt) {
		n, err = corpus.WriteParquet(ctx, *output, src, *parallel)
	} else {
		n, err = corpus.WriteSegment(ctx, *output, src)
	}
	if err != nil {
		fatalf("write %s: %v", *output, err)
	}
	fmt.Printf("Exported %d records to %s in %s\n", n, *output, time.Since(start).Round(time.Millisecond))

	if *publish == "" {
		return
	}
	snapshots, err := corpus.NewSnapshotStore(ctx, corpus.S3Config{
		Bucket:          *bucket,
		Region:          *region,
		Endpoint:        *endpoint,
		AccessKeyID:     os.Getenv("RCP_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("RCP_S3_SECRET_ACCESS_KEY"),
		PathStyle:       *pathStyle,
	})
	if err != nil {
		fatalf("s3: %v", err)
	}
	if err := snapshots.Publish(ctx, *output, *publish); err != nil {
		fatalf("publish: %v", err)
	}
	fmt.Printf("Published s3://%s/%s\n", *bucket, *publish)
}

func describe(cfg corpus.OpenConfig) string {
	if cfg.DSN != "" {
		return "postgres"
	}
	return cfg.Path
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
