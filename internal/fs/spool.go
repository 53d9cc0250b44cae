package fs

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// DefaultSpoolThreshold is the number of bytes a Spool keeps in memory
// before spilling to a temporary file.
const DefaultSpoolThreshold = 10 * 1024 * 1024

var (
	spoolThreshold int64 = DefaultSpoolThreshold
	spoolDir             = "" // empty means the filesystem's default temp dir
)

// ConfigureSpool sets the process-wide spool directory and memory threshold.
// Called once at startup from configuration; a threshold <= 0 keeps the
// default.
func ConfigureSpool(dir string, threshold int64) {
	spoolDir = dir
	if threshold > 0 {
		spoolThreshold = threshold
	}
}

// ErrSpoolClosed is returned by operations on a closed Spool.
var ErrSpoolClosed = errors.New("spool is closed")

// Spool is a temporary byte stream buffered in memory up to a threshold,
// then transparently spilled to a temp file on the global filesystem.
//
// The usage pattern is sequential: write everything, Rewind, read. Closing
// a Spool releases its backing storage (deletes the temp file if one was
// created). Spools are not safe for concurrent use and are never shared
// across operations.
type Spool struct {
	threshold int64
	mem       []byte
	pos       int64
	file      afero.File
	size      int64
	closed    bool
}

// NewSpool creates a spool with the configured threshold and directory.
func NewSpool() *Spool {
	return NewSpoolSize(spoolThreshold)
}

// NewSpoolSize creates a spool with an explicit in-memory threshold.
func NewSpoolSize(threshold int64) *Spool {
	if threshold < 0 {
		threshold = 0
	}
	return &Spool{threshold: threshold}
}

// Write appends p to the spool, spilling to a temp file once the
// in-memory threshold is exceeded.
func (s *Spool) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSpoolClosed
	}

	if s.file == nil && s.size+int64(len(p)) > s.threshold {
		if err := s.rollover(); err != nil {
			return 0, err
		}
	}

	if s.file != nil {
		n, err := s.file.Write(p)
		s.size += int64(n)
		return n, err
	}

	s.mem = append(s.mem, p...)
	s.size += int64(len(p))
	return len(p), nil
}

// rollover moves the in-memory contents into a temp file.
func (s *Spool) rollover() error {
	f, err := TempFile(spoolDir, "appbackup-spool-*")
	if err != nil {
		return fmt.Errorf("cannot create spool file: %w", err)
	}

	if len(s.mem) > 0 {
		if _, err := f.Write(s.mem); err != nil {
			_ = f.Close()
			_ = Remove(f.Name())
			return fmt.Errorf("cannot spill spool to disk: %w", err)
		}
	}

	s.file = f
	s.mem = nil
	return nil
}

// Read reads from the current position.
func (s *Spool) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSpoolClosed
	}

	if s.file != nil {
		return s.file.Read(p)
	}

	if s.pos >= int64(len(s.mem)) {
		return 0, io.EOF
	}
	n := copy(p, s.mem[s.pos:])
	s.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (s *Spool) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrSpoolClosed
	}

	if s.file != nil {
		return s.file.Seek(offset, whence)
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = int64(len(s.mem)) + offset
	default:
		return 0, fmt.Errorf("invalid seek whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative seek position")
	}
	s.pos = abs
	return abs, nil
}

// Rewind seeks back to the start for reading.
func (s *Spool) Rewind() error {
	_, err := s.Seek(0, io.SeekStart)
	return err
}

// Len returns the total number of bytes written.
func (s *Spool) Len() int64 {
	return s.size
}

// InMemory reports whether the contents have stayed under the threshold.
func (s *Spool) InMemory() bool {
	return s.file == nil
}

// Close releases the backing storage. Safe to call more than once.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.mem = nil

	if s.file != nil {
		name := s.file.Name()
		err := s.file.Close()
		if rmErr := Remove(name); err == nil {
			err = rmErr
		}
		s.file = nil
		return err
	}
	return nil
}

// SpoolFrom copies everything from r into a fresh spool and rewinds it.
// Used to materialize non-seekable sources (remote storage handles) before
// passing them to consumers that need random access.
func SpoolFrom(r io.Reader) (*Spool, error) {
	s := NewSpool()
	if _, err := io.Copy(s, r); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Rewind(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
