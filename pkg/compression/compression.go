// Package compression wraps readers and writers with the block and stream
// codecs supported for file and object storage payloads.
//
// The algorithm is chosen explicitly or detected from a path extension:
//
//	w, err := compression.NewWriter(compression.Zstd, file)
//	alg := compression.Detect("export/users.csv.gz") // Gzip
package compression

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

var extensions = map[Algorithm]string{
	Gzip:   ".gz",
	Snappy: ".sz",
	LZ4:    ".lz4",
	Zstd:   ".zst",
	S2:     ".s2",
}

// Parse converts a configuration string into an Algorithm. The empty string
// is None.
func Parse(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	default:
		return None, fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// Extension returns the conventional file suffix, empty for None
func (a Algorithm) Extension() string {
	return extensions[a]
}

// Detect infers the algorithm from the last extension of path
func Detect(path string) Algorithm {
	ext := strings.ToLower(filepath.Ext(path))
	for alg, e := range extensions {
		if e == ext {
			return alg
		}
	}
	return None
}

// Strip removes the compression suffix from path, if any
func Strip(path string) string {
	if alg := Detect(path); alg != None {
		return strings.TrimSuffix(path, filepath.Ext(path))
	}
	return path
}

// NewReader returns a reader that decompresses src. Close releases codec
// resources; it does not close src.
func NewReader(alg Algorithm, src io.Reader) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(src), nil
	case Gzip:
		return gzip.NewReader(src)
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// NewWriter returns a writer that compresses into dst. Close flushes the
// codec; it does not close dst.
func NewWriter(alg Algorithm, dst io.Writer) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{dst}, nil
	case Gzip:
		return gzip.NewWriterLevel(dst, gzip.DefaultCompression)
	case Snappy:
		return snappy.NewBufferedWriter(dst), nil
	case S2:
		return s2.NewWriter(dst), nil
	case LZ4:
		return lz4.NewWriter(dst), nil
	case Zstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
