// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package manifest_test

import (
	"testing"

	"github.com/LeeDigitalWorks/zapreg/pkg/manifest"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	layerA = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	layerB = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	confC  = "sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	childD = "sha256:dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"
)

func TestParseSchemaV2(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"schemaVersion": 2,
		"mediaType": "application/vnd.docker.distribution.manifest.v2+json",
		"config": {"digest": "` + confC + `"},
		"layers": [{"digest": "` + layerA + `"}, {"digest": "` + layerB + `"}]
	}`)

	m, err := manifest.Parse(body, manifest.MediaTypeDockerSchema2)
	require.NoError(t, err)
	require.NotNil(t, m.V2)
	assert.False(t, m.IsIndex())

	refs := m.BlobReferences()
	assert.Equal(t, []digest.Digest{layerA, layerB, confC}, refs)
	assert.Empty(t, m.ChildManifests())
}

func TestParseOCIManifest(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"schemaVersion": 2,
		"mediaType": "` + ocispec.MediaTypeImageManifest + `",
		"config": {"digest": "` + confC + `"},
		"layers": [{"digest": "` + layerA + `"}]
	}`)

	// Media type detected from the body when the content type is empty.
	m, err := manifest.Parse(body, "")
	require.NoError(t, err)
	require.NotNil(t, m.V2)
	assert.Equal(t, ocispec.MediaTypeImageManifest, m.MediaType)
}

func TestParseIndex(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"schemaVersion": 2,
		"mediaType": "` + ocispec.MediaTypeImageIndex + `",
		"manifests": [{"digest": "` + childD + `"}]
	}`)

	m, err := manifest.Parse(body, ocispec.MediaTypeImageIndex)
	require.NoError(t, err)
	assert.True(t, m.IsIndex())
	assert.Equal(t, []digest.Digest{childD}, m.ChildManifests())
	assert.Empty(t, m.BlobReferences())
}

func TestParseSchemaV1(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"schemaVersion": 1,
		"fsLayers": [{"blobSum": "` + layerA + `"}, {"blobSum": "` + layerA + `"}]
	}`)

	m, err := manifest.Parse(body, "")
	require.NoError(t, err)
	require.NotNil(t, m.V1)
	assert.Equal(t, []digest.Digest{layerA, layerA}, m.BlobReferences())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{
			name:        "malformed JSON",
			body:        `{"schemaVersion": 2,`,
			contentType: manifest.MediaTypeDockerSchema2,
		},
		{
			name:        "unsupported media type",
			body:        `{"schemaVersion": 2}`,
			contentType: "application/x-unknown",
		},
		{
			name:        "invalid layer digest",
			body:        `{"schemaVersion": 2, "layers": [{"digest": "not-a-digest"}]}`,
			contentType: manifest.MediaTypeDockerSchema2,
		},
		{
			name:        "invalid child digest",
			body:        `{"schemaVersion": 2, "manifests": [{"digest": "nope"}]}`,
			contentType: ocispec.MediaTypeImageIndex,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := manifest.Parse([]byte(tc.body), tc.contentType)
			assert.Error(t, err)
		})
	}
}
