// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

type reconcilerHarness struct {
	store *objectstore.MemoryStore
	rec   *reconciler
	state *State
	mp    objectstore.MultipartHandle
}

func newReconcilerHarness(t *testing.T, mode types.CompatibilityMode) *reconcilerHarness {
	t.Helper()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	storeUploadID, err := store.CreateMultipart(ctx, "staging-key")
	require.NoError(t, err)
	mp, err := store.ResumeMultipart(ctx, "staging-key", storeUploadID)
	require.NoError(t, err)

	return &reconcilerHarness{
		store: store,
		rec:   &reconciler{store: store, mode: mode, scratchTTL: time.Hour},
		state: &State{UploadID: "staging-key", StoreUploadID: storeUploadID, Name: "lib/app"},
		mp:    mp,
	}
}

func (h *reconcilerHarness) append(t *testing.T, data []byte) error {
	t.Helper()
	_, err := h.rec.append(context.Background(), h.state, h.mp, bytes.NewReader(data), int64(len(data)))
	if err == nil {
		require.NoError(t, h.state.checkInvariants())
	}
	return err
}

// assemble completes the multipart upload and returns the stored bytes.
func (h *reconcilerHarness) assemble(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.mp.Complete(ctx, h.state.Parts))
	body, _, err := h.store.Get(ctx, "staging-key")
	require.NoError(t, err)
	defer body.Close()
	out, err := io.ReadAll(body)
	require.NoError(t, err)
	return out
}

func chunkKinds(state *State) []ChunkKind {
	kinds := make([]ChunkKind, len(state.Chunks))
	for i, c := range state.Chunks {
		kinds[i] = c.Kind
	}
	return kinds
}

func TestReconcilerIdealRun(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityOff)
	first := randomBytes(t, 5*mib)
	second := randomBytes(t, 5*mib)
	tail := randomBytes(t, 1024)

	require.NoError(t, h.append(t, first))
	require.NoError(t, h.append(t, second))
	require.NoError(t, h.append(t, tail))

	assert.Equal(t, []ChunkKind{ChunkEqual, ChunkEqual, ChunkTrailing}, chunkKinds(h.state))
	assert.Equal(t, int64(10*mib+1024), h.state.ByteRange)
	assert.Len(t, h.state.Parts, 3)

	want := append(append(append([]byte{}, first...), second...), tail...)
	assert.Equal(t, want, h.assemble(t))
}

func TestReconcilerTrailingScratchInFullMode(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityFull)
	require.NoError(t, h.append(t, randomBytes(t, 8*mib)))

	tail := randomBytes(t, 2*mib)
	require.NoError(t, h.append(t, tail))

	last := h.state.lastChunk()
	require.Equal(t, ChunkTrailing, last.Kind)
	require.NotEmpty(t, last.ScratchKey)

	// The scratch copy holds the same bytes and carries an expiration hint.
	body, _, err := h.store.Get(context.Background(), last.ScratchKey)
	require.NoError(t, err)
	scratch, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, tail, scratch)

	_, hinted := h.store.ExpiresAt(last.ScratchKey)
	assert.True(t, hinted)
}

func TestReconcilerOffModeSkipsScratch(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityOff)
	require.NoError(t, h.append(t, randomBytes(t, 8*mib)))
	require.NoError(t, h.append(t, randomBytes(t, 2*mib)))

	last := h.state.lastChunk()
	assert.Equal(t, ChunkTrailing, last.Kind)
	assert.Empty(t, last.ScratchKey)
}

func TestReconcilerRepairsTail(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityFull)
	first := randomBytes(t, 8*mib)
	second := randomBytes(t, 8*mib)
	small := randomBytes(t, 4*mib)
	next := randomBytes(t, 8*mib)

	require.NoError(t, h.append(t, first))
	require.NoError(t, h.append(t, second))
	require.NoError(t, h.append(t, small))
	require.Equal(t, ChunkTrailing, h.state.lastChunk().Kind)
	scratchKey := h.state.lastChunk().ScratchKey

	// The next append pops the trailing part, recovers its scratch copy,
	// and reconciles the combined 12 MiB: one more 8 MiB equal part plus a
	// new 4 MiB tail.
	require.NoError(t, h.append(t, next))
	assert.Equal(t, []ChunkKind{ChunkEqual, ChunkEqual, ChunkEqual, ChunkTrailing}, chunkKinds(h.state))
	assert.Equal(t, int64(28*mib), h.state.ByteRange)

	// The consumed scratch object is reported for deletion by the caller.
	_, _, err := h.store.Get(context.Background(), scratchKey)
	require.NoError(t, err)

	want := append(append(append(append([]byte{}, first...), second...), small...), next...)
	assert.Equal(t, want, h.assemble(t))
}

func TestReconcilerRepairReportsConsumedScratch(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityFull)
	require.NoError(t, h.append(t, randomBytes(t, 6*mib)))
	require.NoError(t, h.append(t, randomBytes(t, 2*mib)))
	scratchKey := h.state.lastChunk().ScratchKey

	consumed, err := h.rec.append(context.Background(), h.state, h.mp,
		bytes.NewReader(randomBytes(t, 6*mib)), 6*mib)
	require.NoError(t, err)
	assert.Equal(t, []string{scratchKey}, consumed)
}

func TestReconcilerGrowSplitsAtEstablishedSize(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityFull)
	first := randomBytes(t, 5 * mib)
	grown := randomBytes(t, 12 * mib)

	require.NoError(t, h.append(t, first))
	require.NoError(t, h.append(t, grown))

	assert.Equal(t, []ChunkKind{ChunkEqual, ChunkEqual, ChunkEqual, ChunkTrailing}, chunkKinds(h.state))
	sizes := make([]int64, 0, len(h.state.Chunks))
	for _, c := range h.state.Chunks {
		sizes = append(sizes, c.Size)
	}
	assert.Equal(t, []int64{5 * mib, 5 * mib, 5 * mib, 2 * mib}, sizes)

	want := append(append([]byte{}, first...), grown...)
	assert.Equal(t, want, h.assemble(t))
}

func TestReconcilerOffModeRejectsRepair(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityOff)
	require.NoError(t, h.append(t, randomBytes(t, 6*mib)))
	require.NoError(t, h.append(t, randomBytes(t, 2*mib)))

	before := h.state.ByteRange
	err := h.append(t, randomBytes(t, 6*mib))

	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ErrCodeRange, upErr.Code)
	assert.Equal(t, before, h.state.ByteRange)
}

func TestReconcilerOffModeRejectsGrow(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityOff)
	require.NoError(t, h.append(t, randomBytes(t, 5*mib)))

	err := h.append(t, randomBytes(t, 6*mib))

	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ErrCodeRange, upErr.Code)
}

func TestReconcilerPartBudget(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityOff)
	// Fake a state that already sits at the part-count limit; the next
	// append must be rejected before touching the store.
	for i := 0; i < types.MaxParts; i++ {
		h.state.Chunks = append(h.state.Chunks, Chunk{Kind: ChunkEqual, Size: 5 * mib})
		h.state.Parts = append(h.state.Parts, objectstore.Part{Number: int32(i + 1), ETag: "e"})
		h.state.ByteRange += 5 * mib
	}

	err := h.append(t, randomBytes(t, 5*mib))

	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ErrCodeTooManyParts, upErr.Code)
}

func TestReconcilerFailedPartLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	h := newReconcilerHarness(t, types.CompatibilityOff)
	require.NoError(t, h.append(t, randomBytes(t, 5*mib)))
	partsBefore := len(h.state.Parts)
	rangeBefore := h.state.ByteRange

	// A short body makes the part upload fail mid-stream.
	_, err := h.rec.append(context.Background(), h.state, h.mp,
		bytes.NewReader(randomBytes(t, mib)), 5*mib)
	require.Error(t, err)

	assert.Len(t, h.state.Parts, partsBefore)
	assert.Equal(t, rangeBefore, h.state.ByteRange)
	require.NoError(t, h.state.checkInvariants())
}
