package streamutil

import (
	"io"
)

// Splitter partitions a stream of totalSize bytes into pieces of pieceSize,
// except the last which holds the remainder. Pieces are lazy sub-readers of
// the source: each must be fully consumed before requesting the next.
type Splitter struct {
	r         io.Reader
	remaining int64
	pieceSize int64
}

// Split creates a Splitter over r.
func Split(r io.Reader, totalSize, pieceSize int64) *Splitter {
	return &Splitter{r: r, remaining: totalSize, pieceSize: pieceSize}
}

// Next returns the next piece and its size, or ok=false when the stream is
// fully partitioned.
func (s *Splitter) Next() (io.Reader, int64, bool) {
	if s.remaining <= 0 {
		return nil, 0, false
	}

	size := s.pieceSize
	if s.remaining < size {
		size = s.remaining
	}
	s.remaining -= size
	return LimitExact(s.r, size), size, true
}
