// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"
)

// ChunkKind tags one entry in the chunk chain.
type ChunkKind string

const (
	// ChunkEqual is a store part whose size equals every preceding equal
	// part. The chain starts as a run of these.
	ChunkEqual ChunkKind = "equal"

	// ChunkShrunk is a part smaller than its predecessor. The same bytes
	// also live in a scratch object so a later append can re-assemble them.
	ChunkShrunk ChunkKind = "shrunk"

	// ChunkTrailing is a part below the store's minimum part size, legal
	// only as the final part. Scratch-backed like ChunkShrunk.
	ChunkTrailing ChunkKind = "trailing"
)

// Chunk records one client-visible append that became a store part.
type Chunk struct {
	Kind ChunkKind `json:"kind"`
	Size int64     `json:"size"`

	// ScratchKey holds a live copy of the part bytes for shrunk and
	// trailing chunks. Empty for equal chunks and in off-compatibility
	// uploads, where history is never rewritten.
	ScratchKey string `json:"scratchKey,omitempty"`
}

// State is the cursor of one in-flight blob push. The authoritative copy
// lives in the object store; requests carry its fingerprint.
type State struct {
	// UploadID is the registry upload id; also the multipart target key.
	UploadID string `json:"uploadId"`

	// StoreUploadID is the store's token for the multipart upload.
	StoreUploadID string `json:"storeUploadId"`

	// Name is the target repository.
	Name string `json:"name"`

	// ByteRange is the total bytes accepted so far.
	ByteRange int64 `json:"byteRange"`

	Parts  []objectstore.Part `json:"parts"`
	Chunks []Chunk            `json:"chunks"`

	// ExpiresAt is the advisory state TTL.
	ExpiresAt time.Time `json:"expiresAt"`
}

// lastChunk returns the final chunk of the chain, or nil.
func (s *State) lastChunk() *Chunk {
	if len(s.Chunks) == 0 {
		return nil
	}
	return &s.Chunks[len(s.Chunks)-1]
}

// nextPartNumber is the store part number the next upload uses.
func (s *State) nextPartNumber() int32 {
	return int32(len(s.Parts)) + 1
}

// appendChunk records a confirmed part and advances the cursor.
func (s *State) appendChunk(c Chunk, p objectstore.Part) {
	s.Chunks = append(s.Chunks, c)
	s.Parts = append(s.Parts, p)
	s.ByteRange += c.Size
}

// popChunk removes the final chunk and part, rolling the cursor back.
// The caller owns the scratch bytes it is about to re-assemble.
func (s *State) popChunk() Chunk {
	last := s.Chunks[len(s.Chunks)-1]
	s.Chunks = s.Chunks[:len(s.Chunks)-1]
	s.Parts = s.Parts[:len(s.Parts)-1]
	s.ByteRange -= last.Size
	return last
}

// scratchKeys returns every live scratch key in the chain.
func (s *State) scratchKeys() []string {
	var keys []string
	for _, c := range s.Chunks {
		if c.ScratchKey != "" {
			keys = append(keys, c.ScratchKey)
		}
	}
	return keys
}

// checkInvariants verifies the chunk chain. Violations are programmer
// errors surfaced before any store mutation is persisted.
func (s *State) checkInvariants() error {
	if len(s.Parts) != len(s.Chunks) {
		return fmt.Errorf("parts/chunks length mismatch: %d != %d", len(s.Parts), len(s.Chunks))
	}
	if len(s.Parts) > types.MaxParts {
		return fmt.Errorf("part count %d exceeds limit", len(s.Parts))
	}

	var total int64
	for i, c := range s.Chunks {
		total += c.Size
		if c.Kind == ChunkEqual && i > 0 {
			prev := s.Chunks[i-1]
			if prev.Kind != ChunkEqual {
				return fmt.Errorf("chunk %d: equal chunk follows %s chunk", i, prev.Kind)
			}
			if prev.Size != c.Size {
				return fmt.Errorf("chunk %d: equal chunk size %d differs from predecessor %d", i, c.Size, prev.Size)
			}
		}
	}
	if total != s.ByteRange {
		return fmt.Errorf("chunk sizes sum to %d, byteRange is %d", total, s.ByteRange)
	}
	return nil
}
