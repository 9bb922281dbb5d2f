// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package streamutil

import (
	"bytes"
	"io"
	"sync"
)

// copyBufPool recycles the 1 MiB buffers used when streaming between the
// client and the store.
var copyBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 1<<20)
		return &buf
	},
}

// Copy streams src to dst through a pooled buffer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)
	return io.CopyBuffer(dst, src, *bufp)
}

// ReadAll materializes a bounded stream. sizeHint, when non-negative,
// pre-sizes the buffer.
func ReadAll(r io.Reader, sizeHint int64) ([]byte, error) {
	var buf bytes.Buffer
	if sizeHint > 0 {
		buf.Grow(int(sizeHint))
	}
	if _, err := Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
