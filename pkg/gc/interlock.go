// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/google/uuid"
)

// Interlock coordinates manifest insertions with garbage collection through
// small marker objects in the store. Insertions observe GC and GC observes
// insertions; when both contend, one of them retries.
type Interlock struct {
	store     objectstore.Store
	markerTTL time.Duration
}

// NewInterlock creates an interlock. markerTTL is the backstop lifetime of
// insertion markers should their owner die before cleaning them.
func NewInterlock(store objectstore.Store, markerTTL time.Duration) *Interlock {
	if markerTTL == 0 {
		markerTTL = 1 * time.Hour
	}
	return &Interlock{store: store, markerTTL: markerTTL}
}

func insertMarkerPrefix(name string) string {
	return types.GCPrefix + name + "/insert/"
}

func epochKey(name string) string {
	return types.GCPrefix + name + "/epoch"
}

// MarkForInsertion registers an insertion marker for the repository and
// returns its key.
func (g *Interlock) MarkForInsertion(ctx context.Context, name string) (string, error) {
	markerKey := insertMarkerPrefix(name) + uuid.New().String()
	body := time.Now().UTC().Format(time.RFC3339Nano)

	err := g.store.Put(ctx, markerKey, strings.NewReader(body), int64(len(body)), objectstore.PutOptions{
		ExpiresIn: g.markerTTL,
	})
	if err != nil {
		return "", fmt.Errorf("put insertion marker: %w", err)
	}
	return markerKey, nil
}

// CleanInsertion removes an insertion marker. Idempotent; the marker TTL is
// the backstop if the writer dies first.
func (g *Interlock) CleanInsertion(ctx context.Context, name, markerKey string) error {
	if !strings.HasPrefix(markerKey, insertMarkerPrefix(name)) {
		return fmt.Errorf("marker %q does not belong to repository %q", markerKey, name)
	}
	if err := g.store.Delete(ctx, markerKey); err != nil {
		return fmt.Errorf("delete insertion marker: %w", err)
	}
	return nil
}

// CheckCanInsertData reports whether no collection has started since the
// marker was created. This is the commit barrier of a manifest put.
func (g *Interlock) CheckCanInsertData(ctx context.Context, name, markerKey string) (bool, error) {
	markedAt, err := g.readMarkerTime(ctx, markerKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			// Marker expired or was never written; fail closed.
			return false, nil
		}
		return false, err
	}

	collectStart, err := g.readMarkerTime(ctx, epochKey(name))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	return collectStart.Before(markedAt), nil
}

// recordEpoch stamps the start of a collection pass.
func (g *Interlock) recordEpoch(ctx context.Context, name string, start time.Time) error {
	body := start.UTC().Format(time.RFC3339Nano)
	err := g.store.Put(ctx, epochKey(name), strings.NewReader(body), int64(len(body)), objectstore.PutOptions{})
	if err != nil {
		return fmt.Errorf("put collection epoch: %w", err)
	}
	return nil
}

// insertionNewerThan reports whether any live insertion marker for the
// repository was created after the given instant.
func (g *Interlock) insertionNewerThan(ctx context.Context, name string, start time.Time) (bool, error) {
	prefix := insertMarkerPrefix(name)
	cursor := ""
	for {
		page, err := g.store.List(ctx, objectstore.ListOptions{Prefix: prefix, Cursor: cursor})
		if err != nil {
			return false, fmt.Errorf("list insertion markers: %w", err)
		}
		for _, key := range page.Keys {
			markedAt, err := g.readMarkerTime(ctx, key)
			if err != nil {
				if errors.Is(err, objectstore.ErrNotFound) {
					continue
				}
				return false, err
			}
			if markedAt.After(start) {
				return true, nil
			}
		}
		if page.NextCursor == "" {
			return false, nil
		}
		cursor = page.NextCursor
	}
}

func (g *Interlock) readMarkerTime(ctx context.Context, key string) (time.Time, error) {
	body, _, err := g.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	defer body.Close()

	raw, err := streamutil.ReadAll(body, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("read marker %s: %w", key, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse marker %s: %w", key, err)
	}
	return ts, nil
}
