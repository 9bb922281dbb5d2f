// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/logger"
	"github.com/LeeDigitalWorks/zapreg/pkg/manifest"
	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/opencontainers/go-digest"
)

// Mode selects what a collection pass removes.
type Mode string

const (
	// ModeUnreferenced removes blobs no live manifest points to.
	ModeUnreferenced Mode = "unreferenced"

	// ModeUntagged removes manifests no tag points to, then their
	// unreferenced layers.
	ModeUntagged Mode = "untagged"
)

// Collector runs best-effort garbage collection passes over one repository
// at a time.
type Collector struct {
	store     objectstore.Store
	interlock *Interlock
}

// NewCollector creates a collector sharing the given interlock.
func NewCollector(store objectstore.Store, interlock *Interlock) *Collector {
	return &Collector{store: store, interlock: interlock}
}

type liveManifest struct {
	reference string
	digest    digest.Digest
	parsed    *manifest.Manifest
}

// Collect runs one pass for the repository. It returns false without
// deleting anything when an insertion raced in after the pass started.
func (c *Collector) Collect(ctx context.Context, name string, mode Mode) (bool, error) {
	start := time.Now()
	gcRunsTotal.Inc()

	if err := c.interlock.recordEpoch(ctx, name, start); err != nil {
		gcErrors.Inc()
		return false, err
	}

	manifests, skipped, err := c.loadManifests(ctx, name)
	if err != nil {
		gcErrors.Inc()
		return false, err
	}

	var deadManifests []string
	if mode == ModeUntagged {
		manifests, deadManifests = partitionUntagged(manifests)
	}

	referenced := make(map[digest.Digest]struct{})
	for _, m := range manifests {
		for _, d := range m.parsed.BlobReferences() {
			referenced[d] = struct{}{}
		}
	}

	deadBlobs, err := c.unreferencedBlobs(ctx, name, referenced)
	if err != nil {
		gcErrors.Inc()
		return false, err
	}
	if skipped {
		// An unparseable manifest may name any blob, so none is collected.
		deadBlobs = nil
	}

	// Commit barrier: a manifest put that began after this pass started
	// may reference anything scheduled for deletion.
	racing, err := c.interlock.insertionNewerThan(ctx, name, start)
	if err != nil {
		gcErrors.Inc()
		return false, err
	}
	if racing {
		gcAborts.Inc()
		logger.Ctx(ctx).Info().Str("repository", name).Msg("collection aborted: insertion in flight")
		return false, nil
	}

	for _, ref := range deadManifests {
		if err := c.store.Delete(ctx, types.ManifestKey(name, ref)); err != nil {
			gcErrors.Inc()
			return false, fmt.Errorf("delete manifest %s: %w", ref, err)
		}
		gcManifestsDeleted.Inc()
	}
	for _, d := range deadBlobs {
		if err := c.store.Delete(ctx, types.BlobKey(name, d)); err != nil {
			gcErrors.Inc()
			return false, fmt.Errorf("delete blob %s: %w", d, err)
		}
		gcBlobsDeleted.Inc()
	}

	gcLastRunTime.SetToCurrentTime()
	gcDuration.Observe(time.Since(start).Seconds())
	return true, nil
}

// loadManifests reads and parses every manifest in the repository, and
// reports whether any record was skipped. Unparseable records are skipped:
// their blobs stay conservatively uncollected until the record is repaired
// or deleted.
func (c *Collector) loadManifests(ctx context.Context, name string) ([]liveManifest, bool, error) {
	prefix := types.ManifestPrefix(name)
	var out []liveManifest
	skipped := false

	cursor := ""
	for {
		page, err := c.store.List(ctx, objectstore.ListOptions{Prefix: prefix, Cursor: cursor})
		if err != nil {
			return nil, false, fmt.Errorf("list manifests: %w", err)
		}
		for _, key := range page.Keys {
			body, info, err := c.store.Get(ctx, key)
			if err != nil {
				if errors.Is(err, objectstore.ErrNotFound) {
					continue
				}
				return nil, false, fmt.Errorf("get manifest %s: %w", key, err)
			}
			raw, err := streamutil.ReadAll(body, info.Size)
			body.Close()
			if err != nil {
				return nil, false, fmt.Errorf("read manifest %s: %w", key, err)
			}

			parsed, err := manifest.Parse(raw, info.ContentType)
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("skipping unparseable manifest")
				skipped = true
				continue
			}

			var dgst digest.Digest
			if info.SHA256 != "" {
				dgst = digest.NewDigestFromEncoded(digest.SHA256, info.SHA256)
			} else {
				dgst = streamutil.SumBytes(raw)
			}

			out = append(out, liveManifest{
				reference: types.ReferenceOfManifestKey(key),
				digest:    dgst,
				parsed:    parsed,
			})
		}
		if page.NextCursor == "" {
			return out, skipped, nil
		}
		cursor = page.NextCursor
	}
}

// partitionUntagged splits manifests into survivors and the references of
// digest-keyed manifests no tag reaches. Children of a tagged index survive.
func partitionUntagged(manifests []liveManifest) ([]liveManifest, []string) {
	keep := make(map[digest.Digest]struct{})
	for _, m := range manifests {
		if types.IsDigestReference(m.reference) {
			continue
		}
		keep[m.digest] = struct{}{}
		for _, child := range m.parsed.ChildManifests() {
			keep[child] = struct{}{}
		}
	}

	var survivors []liveManifest
	var dead []string
	for _, m := range manifests {
		if !types.IsDigestReference(m.reference) {
			survivors = append(survivors, m)
			continue
		}
		if _, ok := keep[m.digest]; ok {
			survivors = append(survivors, m)
			continue
		}
		dead = append(dead, m.reference)
	}
	return survivors, dead
}

func (c *Collector) unreferencedBlobs(ctx context.Context, name string, referenced map[digest.Digest]struct{}) ([]digest.Digest, error) {
	prefix := types.BlobPrefix(name)
	var dead []digest.Digest

	cursor := ""
	for {
		page, err := c.store.List(ctx, objectstore.ListOptions{Prefix: prefix, Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}
		for _, key := range page.Keys {
			d, err := digest.Parse(key[len(prefix):])
			if err != nil {
				continue
			}
			if _, ok := referenced[d]; !ok {
				dead = append(dead, d)
			}
		}
		if page.NextCursor == "" {
			return dead, nil
		}
		cursor = page.NextCursor
	}
}
