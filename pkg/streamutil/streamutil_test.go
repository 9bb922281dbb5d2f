// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package streamutil_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestDigestReader(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 64<<10)
	dr := streamutil.NewDigestReader(bytes.NewReader(data))

	out, err := io.ReadAll(dr)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, int64(len(data)), dr.BytesRead())
	assert.Equal(t, digest.FromBytes(data), dr.Digest())
}

func TestSumBytes(t *testing.T) {
	t.Parallel()

	data := []byte("hello registry")
	assert.Equal(t, digest.FromBytes(data), streamutil.SumBytes(data))
	assert.Equal(t, digest.FromBytes(data).Encoded(), streamutil.SumHex(data))
}

func TestLimitExact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  []byte
		limit   int64
		want    []byte
		wantErr error
	}{
		{
			name:   "exact length",
			source: []byte("0123456789"),
			limit:  10,
			want:   []byte("0123456789"),
		},
		{
			name:   "truncates a longer source",
			source: []byte("0123456789"),
			limit:  4,
			want:   []byte("0123"),
		},
		{
			name:    "short source fails",
			source:  []byte("012"),
			limit:   10,
			want:    []byte("012"),
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:   "zero limit",
			source: []byte("012"),
			limit:  0,
			want:   []byte{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out, err := io.ReadAll(streamutil.LimitExact(bytes.NewReader(tc.source), tc.limit))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		total     int64
		pieceSize int64
		wantSizes []int64
	}{
		{name: "even split", total: 12, pieceSize: 4, wantSizes: []int64{4, 4, 4}},
		{name: "remainder", total: 10, pieceSize: 4, wantSizes: []int64{4, 4, 2}},
		{name: "single short piece", total: 3, pieceSize: 4, wantSizes: []int64{3}},
		{name: "empty", total: 0, pieceSize: 4, wantSizes: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data := randomBytes(t, int(tc.total))
			split := streamutil.Split(bytes.NewReader(data), tc.total, tc.pieceSize)

			var sizes []int64
			var rebuilt []byte
			for {
				piece, size, ok := split.Next()
				if !ok {
					break
				}
				sizes = append(sizes, size)
				chunk, err := io.ReadAll(piece)
				require.NoError(t, err)
				require.Len(t, chunk, int(size))
				rebuilt = append(rebuilt, chunk...)
			}

			assert.Equal(t, tc.wantSizes, sizes)
			assert.Equal(t, data, rebuilt)
		})
	}
}

func TestReadAll(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 3<<20)
	out, err := streamutil.ReadAll(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, out)

	out, err = streamutil.ReadAll(bytes.NewReader(data), -1)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
