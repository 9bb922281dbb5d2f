// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/logger"
	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

const blobContentType = "application/octet-stream"

// Config holds configuration for the upload service
type Config struct {
	Store objectstore.Store

	// Mode selects the reconciler compatibility behavior.
	Mode types.CompatibilityMode

	// StateTTL bounds the advisory lifetime of state records.
	StateTTL time.Duration

	// ScratchTTL bounds the advisory lifetime of reconciler scratch objects.
	ScratchTTL time.Duration
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	store objectstore.Store
	codec *Codec
	rec   *reconciler
}

// NewService creates a new upload service
func NewService(cfg Config) (Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("Store is required")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = types.CompatibilityOff
	}
	scratchTTL := cfg.ScratchTTL
	if scratchTTL == 0 {
		scratchTTL = 1 * time.Hour
	}

	return &serviceImpl{
		store: cfg.Store,
		codec: NewCodec(cfg.Store, cfg.StateTTL),
		rec: &reconciler{
			store:      cfg.Store,
			mode:       mode,
			scratchTTL: scratchTTL,
		},
	}, nil
}

func (s *serviceImpl) StartUpload(ctx context.Context, req *StartUploadRequest) (*StartUploadResult, error) {
	if req.Name == "" {
		return nil, &Error{Code: ErrCodeInvalidArgument, Message: "repository name is required"}
	}

	uploadID := uuid.New().String()

	storeUploadID, err := s.store.CreateMultipart(ctx, uploadID)
	if err != nil {
		return nil, serverError("create multipart upload", err)
	}

	state := &State{
		UploadID:      uploadID,
		StoreUploadID: storeUploadID,
		Name:          req.Name,
	}

	enc, err := s.codec.Encode(ctx, state)
	if err != nil {
		return nil, err
	}

	uploadsStarted.Inc()
	return &StartUploadResult{
		UploadID:     uploadID,
		Location:     uploadLocation(req.Name, uploadID, enc.Fingerprint),
		MinChunkSize: types.MinChunkSize,
		MaxChunkSize: types.MaxUploadChunkSize,
	}, nil
}

func (s *serviceImpl) GetUpload(ctx context.Context, req *GetUploadRequest) (*GetUploadResult, error) {
	dec, err := s.codec.Decode(ctx, req.Name, req.UploadID, "")
	if err != nil {
		return nil, asNotFound(err)
	}

	return &GetUploadResult{
		UploadID:     req.UploadID,
		Location:     uploadLocation(req.Name, req.UploadID, dec.Fingerprint),
		Range:        acceptedRange(dec.State),
		MinChunkSize: types.MinChunkSize,
		MaxChunkSize: types.MaxUploadChunkSize,
	}, nil
}

func (s *serviceImpl) UploadChunk(ctx context.Context, req *UploadChunkRequest) (*UploadChunkResult, error) {
	if req.Length <= 0 {
		return nil, &Error{Code: ErrCodeInvalidArgument, Message: "chunk length must be positive"}
	}

	dec, err := s.decodeFresh(ctx, req.Name, req.UploadID, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	state := dec.State

	if req.Range != nil {
		if req.Range.Start != state.ByteRange || req.Range.Start >= req.Range.End {
			rangeRejections.Inc()
			return nil, rangeError(dec.Fingerprint, state.ByteRange)
		}
	}

	mp, err := s.store.ResumeMultipart(ctx, state.UploadID, state.StoreUploadID)
	if err != nil {
		return nil, serverError("resume multipart upload", err)
	}

	consumed, err := s.rec.append(ctx, state, mp, streamutil.LimitExact(req.Body, req.Length), req.Length)
	if err != nil {
		// The reconciler reports range rejections against an unknown
		// cursor; fill in the authoritative one. State was not persisted,
		// so the client resumes from the unchanged fingerprint.
		var upErr *Error
		if errors.As(err, &upErr) && upErr.Code == ErrCodeRange && upErr.Fingerprint == "" {
			rangeRejections.Inc()
			return nil, rangeError(dec.Fingerprint, dec.State.ByteRange)
		}
		return nil, err
	}

	enc, err := s.codec.Encode(ctx, state)
	if err != nil {
		return nil, err
	}

	for _, key := range consumed {
		if err := s.store.Delete(ctx, key); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to delete consumed scratch object")
		}
	}

	bytesAccepted.Add(float64(req.Length))
	return &UploadChunkResult{
		UploadID:    req.UploadID,
		Location:    uploadLocation(req.Name, req.UploadID, enc.Fingerprint),
		Fingerprint: enc.Fingerprint,
		Range:       acceptedRange(state),
	}, nil
}

func (s *serviceImpl) FinishUpload(ctx context.Context, req *FinishUploadRequest) (*FinishUploadResult, error) {
	if err := req.Digest.Validate(); err != nil {
		return nil, &Error{Code: ErrCodeInvalidArgument, Message: "invalid digest", Err: err}
	}

	dec, err := s.decodeFresh(ctx, req.Name, req.UploadID, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	state := dec.State

	if len(state.Parts) == 0 {
		if err := s.finishMonolithic(ctx, state, req); err != nil {
			return nil, err
		}
	} else {
		if req.Body != nil && req.Length != 0 {
			return nil, &Error{
				Code:    ErrCodeTrailingBody,
				Message: "finish request carries body bytes after chunked parts; append them first",
			}
		}
		if err := s.finishChunked(ctx, state, req.Digest); err != nil {
			return nil, err
		}
	}

	s.cleanupScratch(ctx, state)
	if err := s.codec.Delete(ctx, req.Name, req.UploadID); err != nil {
		return nil, err
	}

	uploadsFinished.Inc()
	return &FinishUploadResult{
		Digest:   req.Digest,
		Location: blobLocation(req.Name, req.Digest),
	}, nil
}

// finishMonolithic stores the finish body directly under the blob key; the
// multipart upload opened at start was never used and is aborted.
func (s *serviceImpl) finishMonolithic(ctx context.Context, state *State, req *FinishUploadRequest) error {
	if req.Body == nil || req.Length <= 0 {
		return &Error{Code: ErrCodeInvalidArgument, Message: "finish without parts requires a body"}
	}
	if req.Length > types.MaxChunkSize {
		return &Error{Code: ErrCodeTooLarge, Message: "body exceeds the maximum object size"}
	}

	key := types.BlobKey(state.Name, req.Digest)
	body := streamutil.LimitExact(req.Body, req.Length)
	err := s.store.Put(ctx, key, body, req.Length, objectstore.PutOptions{
		SHA256:      req.Digest.Encoded(),
		ContentType: blobContentType,
	})
	if err != nil {
		return serverError("put blob", err)
	}

	if mp, err := s.store.ResumeMultipart(ctx, state.UploadID, state.StoreUploadID); err == nil {
		if err := mp.Abort(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("upload_id", state.UploadID).Msg("failed to abort unused multipart upload")
		}
	}
	return nil
}

// finishChunked completes the multipart upload and re-materializes the
// assembled object under the final digest key.
func (s *serviceImpl) finishChunked(ctx context.Context, state *State, dgst digest.Digest) error {
	mp, err := s.store.ResumeMultipart(ctx, state.UploadID, state.StoreUploadID)
	if err != nil {
		return serverError("resume multipart upload", err)
	}
	if err := mp.Complete(ctx, state.Parts); err != nil {
		return serverError("complete multipart upload", err)
	}

	key := types.BlobKey(state.Name, dgst)
	err = s.store.Copy(ctx, state.UploadID, key, objectstore.PutOptions{
		SHA256:      dgst.Encoded(),
		ContentType: blobContentType,
	})
	if err != nil {
		return serverError("copy assembled blob", err)
	}

	if err := s.store.Delete(ctx, state.UploadID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", state.UploadID).Msg("failed to delete multipart staging object")
	}
	return nil
}

func (s *serviceImpl) CancelUpload(ctx context.Context, req *CancelUploadRequest) error {
	dec, err := s.codec.Decode(ctx, req.Name, req.UploadID, "")
	if err != nil {
		return asNotFound(err)
	}
	state := dec.State

	if mp, err := s.store.ResumeMultipart(ctx, state.UploadID, state.StoreUploadID); err == nil {
		if err := mp.Abort(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("upload_id", state.UploadID).Msg("failed to abort multipart upload")
		}
	}

	s.cleanupScratch(ctx, state)
	if err := s.codec.Delete(ctx, req.Name, req.UploadID); err != nil {
		return err
	}

	uploadsCanceled.Inc()
	return nil
}

func (s *serviceImpl) MonolithicUpload(ctx context.Context, req *MonolithicUploadRequest) (*FinishUploadResult, error) {
	if err := req.Digest.Validate(); err != nil {
		return nil, &Error{Code: ErrCodeInvalidArgument, Message: "invalid digest", Err: err}
	}

	body := req.Body
	size := req.Length
	if size < 0 {
		buf, err := streamutil.ReadAll(req.Body, -1)
		if err != nil {
			return nil, serverError("buffer blob body", err)
		}
		size = int64(len(buf))
		body = bytes.NewReader(buf)
	}

	if size > types.MaxChunkSize {
		return nil, &Error{Code: ErrCodeTooLarge, Message: "blob exceeds the maximum object size; use the chunked path"}
	}

	key := types.BlobKey(req.Name, req.Digest)
	err := s.store.Put(ctx, key, streamutil.LimitExact(body, size), size, objectstore.PutOptions{
		SHA256:      req.Digest.Encoded(),
		ContentType: blobContentType,
	})
	if err != nil {
		return nil, serverError("put blob", err)
	}

	return &FinishUploadResult{
		Digest:   req.Digest,
		Location: blobLocation(req.Name, req.Digest),
	}, nil
}

// decodeFresh decodes the state record, mapping staleness to a range error
// carrying the authoritative resume cursor.
func (s *serviceImpl) decodeFresh(ctx context.Context, name, uploadID, fingerprint string) (*DecodedState, error) {
	dec, err := s.codec.Decode(ctx, name, uploadID, fingerprint)
	if err == nil {
		return dec, nil
	}

	var stale *StaleStateError
	if errors.As(err, &stale) {
		rangeRejections.Inc()
		return nil, rangeError(stale.Fingerprint, stale.State.ByteRange)
	}
	return nil, asNotFound(err)
}

func (s *serviceImpl) cleanupScratch(ctx context.Context, state *State) {
	for _, key := range state.scratchKeys() {
		if err := s.store.Delete(ctx, key); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to delete scratch object")
		}
	}
}

func acceptedRange(state *State) *ByteRange {
	if state.ByteRange == 0 {
		return nil
	}
	return &ByteRange{Start: 0, End: state.ByteRange - 1}
}

func asNotFound(err error) error {
	if errors.Is(err, ErrStateMissing) {
		return &Error{Code: ErrCodeNotFound, Message: "upload not found", Err: err}
	}
	return err
}

func uploadLocation(name, uploadID, fingerprint string) string {
	return fmt.Sprintf("/v2/%s/blobs/uploads/%s?_state=%s", name, uploadID, fingerprint)
}

func blobLocation(name string, dgst digest.Digest) string {
	return fmt.Sprintf("/v2/%s/blobs/%s", name, dgst)
}
