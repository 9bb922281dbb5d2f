package streamutil

import (
	"io"
)

// LimitExact returns a reader that yields exactly n bytes from r. Reading
// past the limit returns io.EOF; a short source surfaces
// io.ErrUnexpectedEOF instead of a silent truncation.
func LimitExact(r io.Reader, n int64) io.Reader {
	return &exactReader{r: r, remaining: n}
}

type exactReader struct {
	r         io.Reader
	remaining int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.remaining {
		p = p[:e.remaining]
	}

	n, err := e.r.Read(p)
	e.remaining -= int64(n)

	if err == io.EOF && e.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	if err == io.EOF && e.remaining == 0 {
		return n, io.EOF
	}
	return n, err
}
