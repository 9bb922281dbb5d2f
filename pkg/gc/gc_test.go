// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/manifest"
	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func putBlob(t *testing.T, store *objectstore.MemoryStore, name string, data []byte) digest.Digest {
	t.Helper()
	dgst := digest.FromBytes(data)
	err := store.Put(context.Background(), types.BlobKey(name, dgst),
		bytes.NewReader(data), int64(len(data)), objectstore.PutOptions{SHA256: dgst.Encoded()})
	require.NoError(t, err)
	return dgst
}

func putManifest(t *testing.T, store *objectstore.MemoryStore, name, reference string, layers ...digest.Digest) digest.Digest {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString(`{"schemaVersion": 2, "mediaType": "` + manifest.MediaTypeDockerSchema2 + `", "layers": [`)
	for i, l := range layers {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(`{"digest": "` + l.String() + `"}`)
	}
	buf.WriteString(`]}`)

	body := buf.Bytes()
	dgst := digest.FromBytes(body)
	for _, ref := range []string{reference, dgst.String()} {
		err := store.Put(context.Background(), types.ManifestKey(name, ref),
			bytes.NewReader(body), int64(len(body)), objectstore.PutOptions{
				SHA256:      dgst.Encoded(),
				ContentType: manifest.MediaTypeDockerSchema2,
			})
		require.NoError(t, err)
	}
	return dgst
}

func blobExists(t *testing.T, store *objectstore.MemoryStore, name string, dgst digest.Digest) bool {
	t.Helper()
	_, err := store.Head(context.Background(), types.BlobKey(name, dgst))
	return err == nil
}

func TestInterlockBarrier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)

	marker, err := interlock.MarkForInsertion(ctx, "lib/app")
	require.NoError(t, err)

	// No collection yet: insertion may proceed.
	ok, err := interlock.CheckCanInsertData(ctx, "lib/app", marker)
	require.NoError(t, err)
	assert.True(t, ok)

	// A collection stamped after the marker blocks it.
	require.NoError(t, interlock.recordEpoch(ctx, "lib/app", time.Now()))
	ok, err = interlock.CheckCanInsertData(ctx, "lib/app", marker)
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh marker postdating the epoch passes again.
	marker2, err := interlock.MarkForInsertion(ctx, "lib/app")
	require.NoError(t, err)
	ok, err = interlock.CheckCanInsertData(ctx, "lib/app", marker2)
	require.NoError(t, err)
	assert.True(t, ok)

	// Cleanup is idempotent, and a cleaned marker fails closed.
	require.NoError(t, interlock.CleanInsertion(ctx, "lib/app", marker))
	require.NoError(t, interlock.CleanInsertion(ctx, "lib/app", marker))
	ok, err = interlock.CheckCanInsertData(ctx, "lib/app", marker)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInterlockRejectsForeignMarker(t *testing.T) {
	t.Parallel()

	interlock := NewInterlock(objectstore.NewMemoryStore(), time.Hour)
	err := interlock.CleanInsertion(context.Background(), "lib/app", "gc/other/insert/x")
	assert.Error(t, err)
}

func TestCollectUnreferenced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)
	collector := NewCollector(store, interlock)

	live := putBlob(t, store, "lib/app", []byte("live-layer"))
	orphan := putBlob(t, store, "lib/app", []byte("orphan-layer"))
	putManifest(t, store, "lib/app", "v1", live)

	ok, err := collector.Collect(ctx, "lib/app", ModeUnreferenced)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, blobExists(t, store, "lib/app", live))
	assert.False(t, blobExists(t, store, "lib/app", orphan))
}

func TestCollectUntagged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)
	collector := NewCollector(store, interlock)

	taggedLayer := putBlob(t, store, "lib/app", []byte("tagged-layer"))
	putManifest(t, store, "lib/app", "v1", taggedLayer)

	// A manifest only reachable by digest, plus its layer.
	danglingLayer := putBlob(t, store, "lib/app", []byte("dangling-layer"))
	danglingDigest := putManifest(t, store, "lib/app", "stale", danglingLayer)
	require.NoError(t, store.Delete(ctx, types.ManifestKey("lib/app", "stale")))

	ok, err := collector.Collect(ctx, "lib/app", ModeUntagged)
	require.NoError(t, err)
	assert.True(t, ok)

	// The untagged manifest and its now-unreferenced layer are gone; the
	// tagged one survives with its layer.
	_, err = store.Head(ctx, types.ManifestKey("lib/app", danglingDigest.String()))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.False(t, blobExists(t, store, "lib/app", danglingLayer))
	assert.True(t, blobExists(t, store, "lib/app", taggedLayer))
}

func TestCollectKeepsTaggedIndexChildren(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)
	collector := NewCollector(store, interlock)

	childLayer := putBlob(t, store, "lib/app", []byte("child-layer"))
	childDigest := putManifest(t, store, "lib/app", "child", childLayer)
	require.NoError(t, store.Delete(ctx, types.ManifestKey("lib/app", "child")))

	index := []byte(`{"schemaVersion": 2, "mediaType": "` + manifest.MediaTypeDockerManifestList +
		`", "manifests": [{"digest": "` + childDigest.String() + `"}]}`)
	indexDigest := digest.FromBytes(index)
	for _, ref := range []string{"multi", indexDigest.String()} {
		err := store.Put(ctx, types.ManifestKey("lib/app", ref), bytes.NewReader(index),
			int64(len(index)), objectstore.PutOptions{
				SHA256:      indexDigest.Encoded(),
				ContentType: manifest.MediaTypeDockerManifestList,
			})
		require.NoError(t, err)
	}

	ok, err := collector.Collect(ctx, "lib/app", ModeUntagged)
	require.NoError(t, err)
	assert.True(t, ok)

	// The child is only reachable through the tagged index, and survives.
	_, err = store.Head(ctx, types.ManifestKey("lib/app", childDigest.String()))
	assert.NoError(t, err)
	assert.True(t, blobExists(t, store, "lib/app", childLayer))
}

func TestCollectAbortsOnRacingInsertion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)
	collector := NewCollector(store, interlock)

	orphan := putBlob(t, store, "lib/app", []byte("about-to-be-referenced"))

	// An insertion marker stamped after the pass starts: the writer is
	// about to commit a manifest that may reference the orphan.
	markerKey := insertMarkerPrefix("lib/app") + "racer"
	future := time.Now().Add(time.Minute).UTC().Format(time.RFC3339Nano)
	require.NoError(t, store.Put(ctx, markerKey, strings.NewReader(future),
		int64(len(future)), objectstore.PutOptions{}))

	ok, err := collector.Collect(ctx, "lib/app", ModeUnreferenced)
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing was deleted.
	assert.True(t, blobExists(t, store, "lib/app", orphan))
}

func TestServiceStartStop(t *testing.T) {
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)
	layer := putBlob(t, store, "lib/app", []byte("layer"))
	orphan := putBlob(t, store, "lib/app", []byte("orphan"))
	putManifest(t, store, "lib/app", "v1", layer)

	svc := NewService(Config{
		Store:     store,
		Collector: NewCollector(store, interlock),
		Interval:  time.Hour,
	})

	svc.Start(ctx)
	// Starting twice is a no-op.
	svc.Start(ctx)

	// The initial pass runs promptly.
	require.Eventually(t, func() bool {
		return !blobExists(t, store, "lib/app", orphan)
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, blobExists(t, store, "lib/app", layer))

	svc.Stop()
	svc.Stop()
}

func TestCollectOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	interlock := NewInterlock(store, time.Hour)

	layerA := putBlob(t, store, "lib/a", []byte("layer-a"))
	orphanA := putBlob(t, store, "lib/a", []byte("orphan-a"))
	putManifest(t, store, "lib/a", "v1", layerA)

	layerB := putBlob(t, store, "lib/b", []byte("layer-b"))
	putManifest(t, store, "lib/b", "v1", layerB)

	svc := NewService(Config{Store: store, Collector: NewCollector(store, interlock)})
	require.NoError(t, svc.CollectOnce(ctx))

	assert.False(t, blobExists(t, store, "lib/a", orphanA))
	assert.True(t, blobExists(t, store, "lib/a", layerA))
	assert.True(t, blobExists(t, store, "lib/b", layerB))
}
