// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

// Package streamutil provides the streaming primitives shared by the upload
// and registry engines: hash-while-read digesting, exact-length limiting,
// and fixed-size splitting.
package streamutil

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/minio/sha256-simd"
	"github.com/opencontainers/go-digest"
)

// DigestReader computes a SHA-256 digest over everything read through it.
type DigestReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewDigestReader wraps r so the bytes flowing through are hashed at line
// rate.
func NewDigestReader(r io.Reader) *DigestReader {
	return &DigestReader{r: r, h: sha256.New()}
}

func (d *DigestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

// Digest returns the digest of all bytes read so far.
func (d *DigestReader) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(d.h.Sum(nil)))
}

// BytesRead returns the number of bytes read so far.
func (d *DigestReader) BytesRead() int64 {
	return d.n
}

// SumBytes returns the digest of b.
func SumBytes(b []byte) digest.Digest {
	sum := sha256.Sum256(b)
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(sum[:]))
}

// SumHex returns the lowercase hex SHA-256 of b without the algorithm prefix.
func SumHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
