// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the manifest and layer surface of the
// storage engine: manifest put/get/head with the GC commit barrier, layer
// reads with symlink resolution, cross-repository mounts, and repository
// and tag listing.
package registry

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// Service defines the manifest and layer operations.
// This separates business logic from HTTP handling.
type Service interface {
	// PutManifest validates and stores a manifest under its reference and
	// digest, coordinated with the garbage collector.
	PutManifest(ctx context.Context, req *PutManifestRequest) (*PutManifestResult, error)

	// GetManifest streams a manifest by tag or digest.
	GetManifest(ctx context.Context, req *GetManifestRequest) (*GetManifestResult, error)

	// ManifestExists reports manifest presence without a body.
	ManifestExists(ctx context.Context, req *ManifestExistsRequest) (*ManifestStat, error)

	// GetLayer streams a blob, following symlink blobs.
	GetLayer(ctx context.Context, req *GetLayerRequest) (*GetLayerResult, error)

	// LayerExists reports blob presence without a body.
	LayerExists(ctx context.Context, req *LayerExistsRequest) (*LayerStat, error)

	// MountLayer makes an existing blob visible in another repository
	// without copying its bytes.
	MountLayer(ctx context.Context, req *MountLayerRequest) (*MountLayerResult, error)

	// ListRepositories pages through repository names.
	ListRepositories(ctx context.Context, req *ListRepositoriesRequest) (*ListRepositoriesResult, error)

	// ListTags returns the tags of one repository.
	ListTags(ctx context.Context, req *ListTagsRequest) (*ListTagsResult, error)
}

// PutManifestRequest contains parameters for storing a manifest.
type PutManifestRequest struct {
	Name      string
	Reference string

	Body        io.Reader
	ContentType string

	// CheckLayers verifies every referenced blob (or child manifest, for an
	// index) exists before committing.
	CheckLayers bool
}

// PutManifestResult describes a stored manifest.
type PutManifestResult struct {
	Digest   digest.Digest
	Location string
}

// GetManifestRequest contains parameters for fetching a manifest.
type GetManifestRequest struct {
	Name      string
	Reference string
}

// GetManifestResult carries a manifest body and its metadata.
type GetManifestResult struct {
	Body        io.ReadCloser
	Digest      digest.Digest
	Size        int64
	ContentType string
}

// ManifestExistsRequest contains parameters for a manifest presence check.
type ManifestExistsRequest struct {
	Name      string
	Reference string
}

// ManifestStat reports manifest presence.
type ManifestStat struct {
	Exists      bool
	Digest      digest.Digest
	Size        int64
	ContentType string
}

// GetLayerRequest contains parameters for fetching a blob.
type GetLayerRequest struct {
	Name   string
	Digest digest.Digest
}

// GetLayerResult carries a blob body and its metadata.
type GetLayerResult struct {
	Body   io.ReadCloser
	Digest digest.Digest
	Size   int64
}

// LayerExistsRequest contains parameters for a blob presence check.
type LayerExistsRequest struct {
	Name   string
	Digest digest.Digest
}

// LayerStat reports blob presence.
type LayerStat struct {
	Exists bool
	Digest digest.Digest
	Size   int64
}

// MountLayerRequest contains parameters for a cross-repository mount.
type MountLayerRequest struct {
	SourceName string
	DestName   string
	Digest     digest.Digest
}

// MountLayerResult describes a mounted blob.
type MountLayerResult struct {
	Digest   digest.Digest
	Location string
}

// ListRepositoriesRequest pages through repository names. Last is the
// exclusive lower bound; Limit caps the page size.
type ListRepositoriesRequest struct {
	Last  string
	Limit int
}

// ListRepositoriesResult is one page of repository names.
type ListRepositoriesResult struct {
	Repositories []string

	// Cursor is the Last value for the next page, "" when exhausted.
	Cursor string
}

// ListTagsRequest names the repository to list tags for.
type ListTagsRequest struct {
	Name string
}

// ListTagsResult carries the repository's tags in sorted order.
type ListTagsResult struct {
	Tags []string
}
