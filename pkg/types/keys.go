// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strings"

	"github.com/opencontainers/go-digest"
)

// Key layout in the object store:
//
//	<repo>/manifests/<reference>   manifest by tag or digest
//	<repo>/blobs/<digest>          blob, or symlink blob pointing elsewhere
//	<repo>/uploads/<uploadID>      authoritative upload state record
//	scratch/<uuid>                 reconciler scratch objects
//	gc/<repo>/...                  collector and insertion markers
//	<uploadID>                     in-flight multipart target
const (
	manifestsSegment = "/manifests/"
	blobsSegment     = "/blobs/"
	uploadsSegment   = "/uploads/"

	// ScratchPrefix is the namespace for reconciler scratch objects.
	ScratchPrefix = "scratch/"

	// GCPrefix is the namespace for collector markers.
	GCPrefix = "gc/"
)

// ManifestKey returns the store key for a manifest reference (tag or digest).
func ManifestKey(name, reference string) string {
	return name + manifestsSegment + reference
}

// ManifestPrefix returns the listing prefix for all manifests of a repository.
func ManifestPrefix(name string) string {
	return name + manifestsSegment
}

// BlobKey returns the store key for a blob.
func BlobKey(name string, dgst digest.Digest) string {
	return name + blobsSegment + dgst.String()
}

// BlobPrefix returns the listing prefix for all blobs of a repository.
func BlobPrefix(name string) string {
	return name + blobsSegment
}

// UploadStateKey returns the store key for an upload state record.
func UploadStateKey(name, uploadID string) string {
	return name + uploadsSegment + uploadID
}

// ScratchKey returns the store key for a reconciler scratch object.
func ScratchKey(id string) string {
	return ScratchPrefix + id
}

// RepositoryOfManifestKey extracts the repository name from a manifest key,
// or "" if the key is not a manifest key.
func RepositoryOfManifestKey(key string) string {
	i := strings.Index(key, manifestsSegment)
	if i <= 0 {
		return ""
	}
	return key[:i]
}

// ReferenceOfManifestKey extracts the reference from a manifest key,
// or "" if the key is not a manifest key.
func ReferenceOfManifestKey(key string) string {
	i := strings.Index(key, manifestsSegment)
	if i < 0 {
		return ""
	}
	return key[i+len(manifestsSegment):]
}

// IsDigestReference reports whether a manifest reference is a digest rather
// than a tag.
func IsDigestReference(reference string) bool {
	_, err := digest.Parse(reference)
	return err == nil
}
