// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	codec := NewCodec(store, 2*time.Hour)

	state := &State{UploadID: "u-1", StoreUploadID: "s-1", Name: "lib/app"}
	state.appendChunk(Chunk{Kind: ChunkEqual, Size: 10}, objectstore.Part{Number: 1, ETag: "a"})

	enc, err := codec.Encode(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, streamutil.SumHex(enc.Token), enc.Fingerprint)

	// The authoritative copy lands under the uploads key with a TTL hint.
	_, hinted := store.ExpiresAt(types.UploadStateKey("lib/app", "u-1"))
	assert.True(t, hinted)

	dec, err := codec.Decode(ctx, "lib/app", "u-1", "")
	require.NoError(t, err)
	assert.Equal(t, enc.Fingerprint, dec.Fingerprint)
	if diff := cmp.Diff(state, dec.State); diff != "" {
		t.Fatalf("decoded state mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecFreshnessCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	codec := NewCodec(store, 2*time.Hour)

	state := &State{UploadID: "u-1", StoreUploadID: "s-1", Name: "lib/app"}
	first, err := codec.Encode(ctx, state)
	require.NoError(t, err)

	// Matching fingerprint passes.
	_, err = codec.Decode(ctx, "lib/app", "u-1", first.Fingerprint)
	require.NoError(t, err)

	// Advance the state; the old fingerprint is now stale.
	state.appendChunk(Chunk{Kind: ChunkEqual, Size: 5}, objectstore.Part{Number: 1, ETag: "a"})
	second, err := codec.Encode(ctx, state)
	require.NoError(t, err)

	_, err = codec.Decode(ctx, "lib/app", "u-1", first.Fingerprint)
	var stale *StaleStateError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, second.Fingerprint, stale.Fingerprint)
	assert.Equal(t, int64(5), stale.State.ByteRange)
}

func TestCodecMissingState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	codec := NewCodec(objectstore.NewMemoryStore(), 0)
	_, err := codec.Decode(ctx, "lib/app", "missing", "")
	assert.ErrorIs(t, err, ErrStateMissing)
}

func TestCodecRejectsInvalidState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	codec := NewCodec(objectstore.NewMemoryStore(), 0)

	state := &State{UploadID: "u-1", StoreUploadID: "s-1", Name: "lib/app"}
	state.Chunks = []Chunk{{Kind: ChunkEqual, Size: 10}}

	_, err := codec.Encode(ctx, state)
	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ErrCodeInternal, upErr.Code)
}

func TestCodecDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	codec := NewCodec(store, 0)

	state := &State{UploadID: "u-1", StoreUploadID: "s-1", Name: "lib/app"}
	_, err := codec.Encode(ctx, state)
	require.NoError(t, err)

	require.NoError(t, codec.Delete(ctx, "lib/app", "u-1"))
	_, err = codec.Decode(ctx, "lib/app", "u-1", "")
	assert.ErrorIs(t, err, ErrStateMissing)
}
