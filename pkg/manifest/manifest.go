// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest parses and validates image manifests into a typed form.
// The engine treats manifest bytes as opaque; this package only extracts the
// references needed for layer verification and garbage collection.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker media types accepted alongside the OCI ones.
const (
	MediaTypeDockerSchema1       = "application/vnd.docker.distribution.manifest.v1+json"
	MediaTypeDockerSchema1Signed = "application/vnd.docker.distribution.manifest.v1+prettyjws"
	MediaTypeDockerSchema2       = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList  = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// SchemaV1 is a legacy schema1 manifest.
type SchemaV1 struct {
	FSLayers []digest.Digest
}

// SchemaV2 is a schema2 or OCI image manifest.
type SchemaV2 struct {
	Config digest.Digest
	Layers []digest.Digest
}

// Index is a manifest list or OCI index.
type Index struct {
	Manifests []digest.Digest
}

// Manifest is the typed result of parsing manifest bytes. Exactly one of
// V1, V2, Index is non-nil.
type Manifest struct {
	MediaType string

	V1    *SchemaV1
	V2    *SchemaV2
	Index *Index
}

// IsIndex reports whether the manifest is a manifest list / index.
func (m *Manifest) IsIndex() bool {
	return m.Index != nil
}

// BlobReferences returns the layer and config digests a non-index manifest
// names. Empty for an index.
func (m *Manifest) BlobReferences() []digest.Digest {
	switch {
	case m.V1 != nil:
		return m.V1.FSLayers
	case m.V2 != nil:
		refs := make([]digest.Digest, 0, len(m.V2.Layers)+1)
		refs = append(refs, m.V2.Layers...)
		if m.V2.Config != "" {
			refs = append(refs, m.V2.Config)
		}
		return refs
	default:
		return nil
	}
}

// ChildManifests returns the child digests of an index. Empty otherwise.
func (m *Manifest) ChildManifests() []digest.Digest {
	if m.Index == nil {
		return nil
	}
	return m.Index.Manifests
}

type rawSchemaV1 struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType"`
	FSLayers      []struct {
		BlobSum string `json:"blobSum"`
	} `json:"fsLayers"`
}

type rawSchemaV2 struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType"`
	Config        struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Layers []struct {
		Digest string `json:"digest"`
	} `json:"layers"`
}

type rawIndex struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType"`
	Manifests     []struct {
		Digest string `json:"digest"`
	} `json:"manifests"`
}

// Parse validates manifest bytes and returns the typed form. contentType is
// the client-declared media type; when empty, the embedded mediaType or
// schemaVersion decides.
func Parse(body []byte, contentType string) (*Manifest, error) {
	mediaType := contentType
	if mediaType == "" {
		var probe struct {
			SchemaVersion int    `json:"schemaVersion"`
			MediaType     string `json:"mediaType"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, fmt.Errorf("malformed manifest: %w", err)
		}
		mediaType = probe.MediaType
		if mediaType == "" && probe.SchemaVersion == 1 {
			mediaType = MediaTypeDockerSchema1
		}
	}

	switch mediaType {
	case MediaTypeDockerSchema1, MediaTypeDockerSchema1Signed:
		return parseSchemaV1(body, mediaType)
	case MediaTypeDockerSchema2, ocispec.MediaTypeImageManifest:
		return parseSchemaV2(body, mediaType)
	case MediaTypeDockerManifestList, ocispec.MediaTypeImageIndex:
		return parseIndex(body, mediaType)
	default:
		return nil, fmt.Errorf("unsupported manifest media type %q", mediaType)
	}
}

func parseSchemaV1(body []byte, mediaType string) (*Manifest, error) {
	var raw rawSchemaV1
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}

	v1 := &SchemaV1{FSLayers: make([]digest.Digest, 0, len(raw.FSLayers))}
	for _, l := range raw.FSLayers {
		d, err := digest.Parse(l.BlobSum)
		if err != nil {
			return nil, fmt.Errorf("invalid blobSum %q: %w", l.BlobSum, err)
		}
		v1.FSLayers = append(v1.FSLayers, d)
	}
	return &Manifest{MediaType: mediaType, V1: v1}, nil
}

func parseSchemaV2(body []byte, mediaType string) (*Manifest, error) {
	var raw rawSchemaV2
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}

	v2 := &SchemaV2{Layers: make([]digest.Digest, 0, len(raw.Layers))}
	for _, l := range raw.Layers {
		d, err := digest.Parse(l.Digest)
		if err != nil {
			return nil, fmt.Errorf("invalid layer digest %q: %w", l.Digest, err)
		}
		v2.Layers = append(v2.Layers, d)
	}
	if raw.Config.Digest != "" {
		d, err := digest.Parse(raw.Config.Digest)
		if err != nil {
			return nil, fmt.Errorf("invalid config digest %q: %w", raw.Config.Digest, err)
		}
		v2.Config = d
	}
	return &Manifest{MediaType: mediaType, V2: v2}, nil
}

func parseIndex(body []byte, mediaType string) (*Manifest, error) {
	var raw rawIndex
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}

	idx := &Index{Manifests: make([]digest.Digest, 0, len(raw.Manifests))}
	for _, m := range raw.Manifests {
		d, err := digest.Parse(m.Digest)
		if err != nil {
			return nil, fmt.Errorf("invalid child manifest digest %q: %w", m.Digest, err)
		}
		idx.Manifests = append(idx.Manifests, d)
	}
	return &Manifest{MediaType: mediaType, Index: idx}, nil
}
