// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload implements the resumable chunked blob upload engine: the
// cross-request state protocol, the chunk reconciler, and the session
// orchestrator the HTTP dispatcher drives.
package upload

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// Service defines the blob upload operations.
// This separates business logic from HTTP handling.
type Service interface {
	// StartUpload opens a new resumable upload session.
	StartUpload(ctx context.Context, req *StartUploadRequest) (*StartUploadResult, error)

	// GetUpload reports the status of an upload session.
	GetUpload(ctx context.Context, req *GetUploadRequest) (*GetUploadResult, error)

	// UploadChunk appends one chunk to an upload session.
	UploadChunk(ctx context.Context, req *UploadChunkRequest) (*UploadChunkResult, error)

	// FinishUpload finalizes an upload under its content digest.
	FinishUpload(ctx context.Context, req *FinishUploadRequest) (*FinishUploadResult, error)

	// CancelUpload aborts an upload session and removes its state.
	CancelUpload(ctx context.Context, req *CancelUploadRequest) error

	// MonolithicUpload stores a complete blob in one request.
	MonolithicUpload(ctx context.Context, req *MonolithicUploadRequest) (*FinishUploadResult, error)
}

// ByteRange is an inclusive byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// StartUploadRequest contains parameters for opening an upload session.
type StartUploadRequest struct {
	Name string
}

// StartUploadResult describes a fresh upload session.
type StartUploadResult struct {
	UploadID string

	// Location is the resumable-upload URL carrying the state fingerprint.
	Location string

	// Range is the accepted byte range; nil until the first byte lands.
	Range *ByteRange

	MinChunkSize int64
	MaxChunkSize int64
}

// GetUploadRequest contains parameters for an upload status query.
type GetUploadRequest struct {
	Name     string
	UploadID string
}

// GetUploadResult describes an in-flight upload session.
type GetUploadResult struct {
	UploadID     string
	Location     string
	Range        *ByteRange
	MinChunkSize int64
	MaxChunkSize int64
}

// UploadChunkRequest contains parameters for appending a chunk.
type UploadChunkRequest struct {
	Name     string
	UploadID string

	// Fingerprint is the state fingerprint echoed from the previous
	// response's Location.
	Fingerprint string

	Body   io.Reader
	Length int64

	// Range, when set, must open exactly at the current cursor.
	Range *ByteRange
}

// UploadChunkResult reports an accepted chunk.
type UploadChunkResult struct {
	UploadID    string
	Location    string
	Fingerprint string
	Range       *ByteRange
}

// FinishUploadRequest contains parameters for finalizing an upload.
type FinishUploadRequest struct {
	Name        string
	UploadID    string
	Fingerprint string
	Digest      digest.Digest

	// Body carries the blob for uploads that never appended a chunk.
	// It must be empty once parts exist.
	Body   io.Reader
	Length int64
}

// FinishUploadResult describes a stored blob.
type FinishUploadResult struct {
	Digest   digest.Digest
	Location string
}

// CancelUploadRequest contains parameters for aborting an upload.
type CancelUploadRequest struct {
	Name     string
	UploadID string
}

// MonolithicUploadRequest contains parameters for a single-request blob push.
type MonolithicUploadRequest struct {
	Name   string
	Digest digest.Digest
	Body   io.Reader

	// Length is the body size, or -1 when unknown (the service buffers to
	// learn it).
	Length int64
}
