package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

const ParquetExt = ".parquet"

// parquetRow is the on-disk row layout.
type parquetRow struct {
	FEN    string `parquet:"name=fen, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ply    int32  `parquet:"name=ply, type=INT32"`
	Rating int32  `parquet:"name=rating, type=INT32"`
	GameID string `parquet:"name=game_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteParquet exports every record from src to a Snappy-compressed parquet file.
func WriteParquet(ctx context.Context, path string, src Scanner, parallel int64) (int, error) {
	if parallel <= 0 {
		parallel = 4
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("create parquet file: %w", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), parallel)
	if err != nil {
		_ = fw.Close()
		return 0, fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	count := 0
	err = src.Scan(ctx, func(r Record) error {
		if err := r.Validate(); err != nil {
			return err
		}
		row := parquetRow{FEN: r.FEN, Ply: int32(r.Ply), Rating: int32(r.Rating), GameID: r.GameID}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		count++
		return nil
	})
	if err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return 0, err
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return 0, fmt.Errorf("finish parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, err
	}
	return count, nil
}

// ReadParquet loads a parquet export into memory.
func ReadParquet(path string, parallel int64) (*MemoryIndex, error) {
	if parallel <= 0 {
		parallel = 4
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetRow), parallel)
	if err != nil {
		return nil, fmt.Errorf("parquet reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	recs := make([]Record, 0, num)
	batchSize := 1024
	for offset := 0; offset < num; offset += batchSize {
		if remain := num - offset; remain < batchSize {
			batchSize = remain
		}
		batch := make([]parquetRow, batchSize)
		if err := pr.Read(&batch); err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		for _, row := range batch {
			recs = append(recs, Record{FEN: row.FEN, Ply: int(row.Ply), Rating: int(row.Rating), GameID: row.GameID})
		}
	}
	return NewMemoryIndex(recs)
}
