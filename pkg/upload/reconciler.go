// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// reconciler transforms an arriving client chunk into store parts that
// satisfy the multipart sizing rules: all parts equal size except the last,
// every part within [MinChunkSize, MaxChunkSize], at most MaxParts parts.
//
// The reconciler records a chunk in the in-memory state only after the store
// confirmed the corresponding part; a tail repair pops the previous chunk
// before re-uploading its bytes. On error the caller discards the in-memory
// state without persisting it, so the authoritative cursor is unchanged and
// the client resumes from where it was.
type reconciler struct {
	store      objectstore.Store
	mode       types.CompatibilityMode
	scratchTTL time.Duration
}

// append reconciles one client chunk of exactly size bytes against the
// current state, uploading store parts as needed. It returns the scratch
// keys consumed by history repair; the caller deletes them once the new
// state is persisted.
func (r *reconciler) append(ctx context.Context, state *State, mp objectstore.MultipartHandle, body io.Reader, size int64) ([]string, error) {
	run := &reconcileRun{reconciler: r, state: state, mp: mp}
	if err := run.append(ctx, body, size); err != nil {
		return nil, err
	}
	return run.consumedScratch, nil
}

type reconcileRun struct {
	*reconciler
	state *State
	mp    objectstore.MultipartHandle

	consumedScratch []string
}

func (run *reconcileRun) append(ctx context.Context, body io.Reader, size int64) error {
	state := run.state
	last := state.lastChunk()

	// (a) Ideal: the chunk extends the equal-size run within store limits.
	if (last == nil || (last.Kind == ChunkEqual && last.Size == size)) &&
		size >= types.MinChunkSize && size <= types.MaxChunkSize {
		return run.uploadEqual(ctx, body, size)
	}

	// (b) Oversize: carve the chunk into max-size pieces and recurse. The
	// trailing remainder falls through the other rules.
	if size > types.MaxChunkSize {
		return run.splitAndRecurse(ctx, body, size, types.MaxChunkSize)
	}

	// (c) Repair: a non-equal tail must be undone before anything can
	// follow it. Recover the scratch copy, pop the tail, and reconcile the
	// combined bytes; the popped part number is reused on the next upload.
	if last != nil && last.Kind != ChunkEqual && run.mode == types.CompatibilityFull {
		return run.repairTail(ctx, body, size)
	}

	// (d) Shrink or sub-minimum tail: accept as a non-equal part. In full
	// mode the bytes are teed to scratch so (c) can undo this later; in off
	// mode there is no scratch and any append requiring (c) fails Range.
	if (last != nil && last.Size > size) ||
		(size < types.MinChunkSize && (last == nil || last.Kind == ChunkEqual)) {
		kind := ChunkShrunk
		if size < types.MinChunkSize {
			kind = ChunkTrailing
		}
		if run.mode == types.CompatibilityFull {
			return run.uploadWithScratch(ctx, body, size, kind)
		}
		return run.uploadBare(ctx, body, size, kind)
	}

	// (e) Grow after an equal run: keep the run going by splitting at the
	// established part size.
	if last != nil && last.Kind == ChunkEqual && size > last.Size &&
		size <= types.MaxChunkSize && run.mode == types.CompatibilityFull {
		return run.splitAndRecurse(ctx, body, size, last.Size)
	}

	// (f) Nothing fits; the client must resume from the current cursor.
	return rangeError("", state.ByteRange)
}

func (run *reconcileRun) uploadEqual(ctx context.Context, body io.Reader, size int64) error {
	etag, number, err := run.uploadPart(ctx, body, size)
	if err != nil {
		return err
	}
	run.state.appendChunk(
		Chunk{Kind: ChunkEqual, Size: size},
		objectstore.Part{Number: number, ETag: etag},
	)
	return nil
}

func (run *reconcileRun) uploadBare(ctx context.Context, body io.Reader, size int64, kind ChunkKind) error {
	etag, number, err := run.uploadPart(ctx, body, size)
	if err != nil {
		return err
	}
	run.state.appendChunk(
		Chunk{Kind: kind, Size: size},
		objectstore.Part{Number: number, ETag: etag},
	)
	return nil
}

// uploadWithScratch tees the chunk: one branch becomes the store part, the
// other lands in a scratch object with an expiration hint so it vanishes if
// the upload is never finalized.
func (run *reconcileRun) uploadWithScratch(ctx context.Context, body io.Reader, size int64, kind ChunkKind) error {
	if err := run.checkPartBudget(); err != nil {
		return err
	}

	scratchKey := types.ScratchKey(uuid.New().String())
	number := run.state.nextPartNumber()

	pr, pw := io.Pipe()
	tee := io.TeeReader(body, pw)

	g, gctx := errgroup.WithContext(ctx)

	var etag string
	g.Go(func() error {
		var err error
		etag, err = run.mp.UploadPart(gctx, number, tee, size)
		pw.CloseWithError(err)
		if err != nil {
			return serverError("upload part", err)
		}
		return nil
	})
	g.Go(func() error {
		err := run.store.Put(gctx, scratchKey, pr, size, objectstore.PutOptions{
			ExpiresIn: run.scratchTTL,
		})
		if err != nil {
			pr.CloseWithError(err)
			return serverError("put scratch object", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	run.state.appendChunk(
		Chunk{Kind: kind, Size: size, ScratchKey: scratchKey},
		objectstore.Part{Number: number, ETag: etag},
	)
	return nil
}

// repairTail undoes the final non-equal chunk: its bytes are recovered from
// scratch, the chunk and part are popped, and the combined stream is
// reconciled as one larger chunk.
func (run *reconcileRun) repairTail(ctx context.Context, body io.Reader, size int64) error {
	last := run.state.lastChunk()

	scratchBody, _, err := run.store.Get(ctx, last.ScratchKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			// Scratch expired out from under the upload; the chain cannot
			// be repaired, only resumed as-is.
			return rangeError("", run.state.ByteRange)
		}
		return serverError("get scratch object", err)
	}
	defer scratchBody.Close()

	popped := run.state.popChunk()
	reconcilerRepairs.Inc()

	combined := io.MultiReader(scratchBody, body)
	if err := run.append(ctx, combined, popped.Size+size); err != nil {
		return err
	}

	run.consumedScratch = append(run.consumedScratch, popped.ScratchKey)
	return nil
}

func (run *reconcileRun) splitAndRecurse(ctx context.Context, body io.Reader, size, pieceSize int64) error {
	split := streamutil.Split(body, size, pieceSize)
	for {
		piece, pieceLen, ok := split.Next()
		if !ok {
			return nil
		}
		if err := run.append(ctx, piece, pieceLen); err != nil {
			return err
		}
	}
}

func (run *reconcileRun) uploadPart(ctx context.Context, body io.Reader, size int64) (string, int32, error) {
	if err := run.checkPartBudget(); err != nil {
		return "", 0, err
	}

	number := run.state.nextPartNumber()
	etag, err := run.mp.UploadPart(ctx, number, body, size)
	if err != nil {
		return "", 0, serverError("upload part", err)
	}
	return etag, number, nil
}

func (run *reconcileRun) checkPartBudget() error {
	if run.state.nextPartNumber() > types.MaxParts {
		return &Error{
			Code:    ErrCodeTooManyParts,
			Message: "upload exceeds the store part-count limit",
		}
	}
	return nil
}
