// Package progress renders byte progress for attended stream copies.
// Unattended runs get the source back untouched so logs stay parseable.
package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Unknown marks a stream whose total length cannot be known up front; the
// bar then shows bytes moved and throughput only.
const Unknown int64 = -1

// Reader wraps r in a stderr progress bar when attended is true. The bar
// counts bytes as they are read and clears itself when the stream is
// exhausted. Wrapping hides the source's Seeker, so callers that rewind
// must keep their own reference.
func Reader(r io.Reader, size int64, label string, attended bool) io.Reader {
	if !attended {
		return r
	}
	bar := progressbar.DefaultBytes(size, label)
	return io.TeeReader(r, bar)
}
