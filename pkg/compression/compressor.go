// Package compression provides streaming decompression for staged export
// files, plus the matching writers used to produce fixtures and local copies.
//
// # Algorithms
//
// UNLOAD can write gzip, zstd or bzip2 shards, or uncompressed text:
//   - Gzip and Zstd use github.com/klauspost/compress
//   - Bzip2 is read-only (the warehouse writes it, nothing here does)
//
// # Usage
//
//	r, err := compression.NewReader(compression.Gzip, f)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
package compression

import (
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// Bzip2 represents bzip2 compression
	Bzip2 Algorithm = "bzip2"
)

// Level represents compression level for writers.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Best maximizes compression ratio.
	Best Level = 9
)

// ParseAlgorithm maps a configuration value onto an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case None, Gzip, Zstd, Bzip2:
		return a, nil
	case "":
		return None, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// FromKey infers the algorithm from an object key suffix, falling back to def.
func FromKey(key string, def Algorithm) Algorithm {
	switch {
	case strings.HasSuffix(key, ".gz"):
		return Gzip
	case strings.HasSuffix(key, ".zst"):
		return Zstd
	case strings.HasSuffix(key, ".bz2"):
		return Bzip2
	default:
		return def
	}
}

// NewReader wraps r with a decompressing reader. Closing the result does not
// close r.
func NewReader(alg Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gr, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	case Bzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// NewWriter wraps w with a compressing writer. Close flushes the stream but
// does not close w.
func NewWriter(alg Algorithm, w io.Writer, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapGzipLevel(level))
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
	default:
		return nil, fmt.Errorf("compression algorithm %s is not writable", alg)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
