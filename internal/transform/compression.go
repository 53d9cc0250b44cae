package transform

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
)

// Algorithm selects a compression format.
type Algorithm string

const (
	AlgorithmGzip Algorithm = "gzip"
	AlgorithmZstd Algorithm = "zstd"
	AlgorithmNone Algorithm = "none"
)

// Magic bytes for stream detection
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ParseAlgorithm maps a configuration string to an Algorithm. Empty input
// defaults to gzip.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gzip", "gz", "":
		return AlgorithmGzip, nil
	case "zstd", "zstandard", "zst":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, apperrors.NewConfigError(
			fmt.Sprintf("unsupported compression format %q", s),
			"Set COMPRESSION_FORMAT to gzip or zstd.")
	}
}

// detectAlgorithm peeks at the stream's first bytes and reports which
// format it carries. The returned reader replays the peeked bytes.
func detectAlgorithm(r io.Reader) (Algorithm, io.Reader) {
	br := bufio.NewReaderSize(r, 4)
	peeked, err := br.Peek(4)
	if err != nil && len(peeked) < 2 {
		return AlgorithmNone, br
	}
	if len(peeked) >= 2 && peeked[0] == magicGzip[0] && peeked[1] == magicGzip[1] {
		return AlgorithmGzip, br
	}
	if len(peeked) >= 4 &&
		peeked[0] == magicZstd[0] && peeked[1] == magicZstd[1] &&
		peeked[2] == magicZstd[2] && peeked[3] == magicZstd[3] {
		return AlgorithmZstd, br
	}
	return AlgorithmNone, br
}

// Compression compresses on Apply and decompresses on Reverse. The
// configured algorithm decides what backups are written with; Reverse
// detects the actual format from the stream, so backups taken under a
// different configuration still restore.
type Compression struct {
	algorithm Algorithm
	level     int
}

// NewCompression builds a Compression step for the configured format.
func NewCompression(format string, level int) (*Compression, error) {
	algo, err := ParseAlgorithm(format)
	if err != nil {
		return nil, err
	}
	return &Compression{algorithm: algo, level: level}, nil
}

func (c *Compression) Name() string { return string(c.algorithm) }

// Suffix returns the filename suffix of the configured format.
func (c *Compression) Suffix() string {
	if c.algorithm == AlgorithmZstd {
		return ".zst"
	}
	return ".gz"
}

// Apply compresses src into a fresh spool.
func (c *Compression) Apply(src io.Reader) (*fs.Spool, error) {
	out := fs.NewSpool()
	w, err := c.newWriter(out)
	if err != nil {
		out.Close()
		return nil, err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		out.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := out.Rewind(); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Reverse decompresses src into a fresh spool, detecting the format from
// the stream's magic bytes.
func (c *Compression) Reverse(src io.Reader) (*fs.Spool, error) {
	algo, replay := detectAlgorithm(src)
	if algo == AlgorithmNone {
		return nil, apperrors.BadStream("input is not gzip or zstd compressed", nil)
	}

	out := fs.NewSpool()
	r, closeReader, err := newDecompressReader(replay, algo)
	if err != nil {
		out.Close()
		return nil, apperrors.BadStream("cannot open compressed stream", err)
	}
	defer closeReader()

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return nil, apperrors.BadStream("compressed stream is corrupt", err)
	}
	if err := out.Rewind(); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

func (c *Compression) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.algorithm {
	case AlgorithmZstd:
		return newZstdWriter(w, c.level)
	default:
		return newGzipWriter(w, c.level)
	}
}

func newGzipWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < 1 || level > 9 {
		level = 6
	}
	gz, err := pgzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	// 1MB blocks for parallel compression
	if err := gz.SetConcurrency(1<<20, runtime.NumCPU()); err != nil {
		gz.Close()
		return nil, fmt.Errorf("failed to configure parallel gzip: %w", err)
	}
	return gz, nil
}

func newZstdWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encLevel := zstd.SpeedDefault
	switch {
	case level <= 2:
		encLevel = zstd.SpeedFastest
	case level <= 5:
		encLevel = zstd.SpeedDefault
	case level <= 9:
		encLevel = zstd.SpeedBetterCompression
	default:
		encLevel = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderConcurrency(runtime.NumCPU()),
		zstd.WithWindowSize(4<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return enc, nil
}

func newDecompressReader(r io.Reader, algo Algorithm) (io.Reader, func(), error) {
	switch algo {
	case AlgorithmZstd:
		dec, err := zstd.NewReader(r,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(2<<30),
		)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		workers := runtime.NumCPU()
		if workers > 16 {
			workers = 16
		}
		gz, err := pgzip.NewReaderN(r, 1<<20, workers)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	}
}
