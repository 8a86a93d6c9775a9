package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Segment format: a compact, immutable snapshot of a corpus.
//
// File structure:
//
//	Header (16 bytes):
//	  - Magic (4): "CPS1"
//	  - Version (2): 1
//	  - Flags (2): reserved
//	  - RecordCount (4)
//	  - Checksum (4): CRC32 of the uncompressed body
//	Body (compressed with zstd), per record:
//	  - uvarint len(fen), fen bytes
//	  - uvarint ply
//	  - uvarint rating
//	  - uvarint len(game_id), game_id bytes
const (
	SegmentMagic      = "CPS1"
	SegmentVersion    = 1
	SegmentHeaderSize = 16
	SegmentExt        = ".cps.zst"
)

var ErrBadSegment = errors.New("bad corpus segment")

type segmentHeader struct {
	Magic       [4]byte
	Version     uint16
	Flags       uint16
	RecordCount uint32
	Checksum    uint32
}

// WriteSegment writes every record produced by src to path. The file is
// written to a temporary name and renamed into place.
func WriteSegment(ctx context.Context, path string, src Scanner) (int, error) {
	var body bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		body.Write(scratch[:n])
	}
	count := 0
	err := src.Scan(ctx, func(r Record) error {
		if err := r.Validate(); err != nil {
			return err
		}
		putUvarint(uint64(len(r.FEN)))
		body.WriteString(r.FEN)
		putUvarint(uint64(r.Ply))
		putUvarint(uint64(r.Rating))
		putUvarint(uint64(len(r.GameID)))
		body.WriteString(r.GameID)
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("collect records: %w", err)
	}

	hdr := segmentHeader{
		Version:     SegmentVersion,
		RecordCount: uint32(count),
		Checksum:    crc32.ChecksumIEEE(body.Bytes()),
	}
	copy(hdr.Magic[:], SegmentMagic)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if err := binary.Write(f, binary.BigEndian, hdr); err != nil {
		cleanup()
		return 0, fmt.Errorf("write header: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		cleanup()
		return 0, err
	}
	if _, err := enc.Write(body.Bytes()); err != nil {
		_ = enc.Close()
		cleanup()
		return 0, fmt.Errorf("compress body: %w", err)
	}
	if err := enc.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("compress body: %w", err)
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

// ReadSegment loads a segment file into memory.
func ReadSegment(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr segmentHeader
	if err := binary.Read(f, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadSegment, err)
	}
	if string(hdr.Magic[:]) != SegmentMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadSegment, hdr.Magic[:])
	}
	if hdr.Version != SegmentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSegment, hdr.Version)
	}

	dec, err := zstd.NewReader(bufio.NewReader(f), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadSegment, err)
	}
	if crc32.ChecksumIEEE(body) != hdr.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadSegment)
	}

	recs := make([]Record, 0, hdr.RecordCount)
	r := bytes.NewReader(body)
	readString := func() (string, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return "", err
		}
		if n > uint64(r.Len()) {
			return "", io.ErrUnexpectedEOF
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}
	for i := uint32(0); i < hdr.RecordCount; i++ {
		var rec Record
		if rec.FEN, err = readString(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadSegment, i, err)
		}
		ply, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadSegment, i, err)
		}
		rating, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadSegment, i, err)
		}
		rec.Ply, rec.Rating = int(ply), int(rating)
		if rec.GameID, err = readString(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadSegment, i, err)
		}
		recs = append(recs, rec)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadSegment, r.Len())
	}
	return NewMemoryIndex(recs)
}
