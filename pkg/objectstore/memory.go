// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
)

// BackendTypeMemory is used for testing
const BackendTypeMemory types.BackendType = "memory"

func init() {
	Register(BackendTypeMemory, func(cfg types.BackendConfig) (Store, error) {
		return NewMemoryStore(), nil
	})
}

type memObject struct {
	data []byte
	info ObjectInfo

	// expiresAt records the advisory expiration hint. The memory backend
	// never reaps; tests inspect it.
	expiresAt time.Time
}

type memUpload struct {
	key   string
	parts map[int32][]byte
	etags map[int32]string
}

// MemoryStore is an in-memory backend for testing
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	uploads map[string]*memUpload
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*memObject),
		uploads: make(map[string]*memUpload),
	}
}

func (m *MemoryStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	info := obj.info
	return &info, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	info := obj.info
	return io.NopCloser(bytes.NewReader(obj.data)), &info, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(buf)) != size {
		return fmt.Errorf("put %s: body is %d bytes, declared %d", key, len(buf), size)
	}
	if opts.SHA256 != "" {
		sum := sha256.Sum256(buf)
		if hex.EncodeToString(sum[:]) != opts.SHA256 {
			return fmt.Errorf("put %s: content does not match declared sha256", key)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = newMemObject(key, buf, opts)
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, src, dst string, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[src]
	if !ok {
		return ErrNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	m.objects[dst] = newMemObject(dst, data, opts)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if opts.Prefix != "" && !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		if opts.StartAfter != "" && k <= opts.StartAfter {
			continue
		}
		if opts.Cursor != "" && k <= opts.Cursor {
			continue
		}
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	result := &ListResult{}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		result.Keys = keys[:opts.Limit]
		result.NextCursor = keys[opts.Limit-1]
	} else {
		result.Keys = keys
	}
	return result, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) CreateMultipart(ctx context.Context, key string) (string, error) {
	id := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = &memUpload{
		key:   key,
		parts: make(map[int32][]byte),
		etags: make(map[int32]string),
	}
	return id, nil
}

func (m *MemoryStore) ResumeMultipart(ctx context.Context, key, storeUploadID string) (MultipartHandle, error) {
	m.mu.RLock()
	up, ok := m.uploads[storeUploadID]
	m.mu.RUnlock()

	if !ok || up.key != key {
		return nil, fmt.Errorf("multipart upload not found: %s", storeUploadID)
	}
	return &memMultipart{store: m, uploadID: storeUploadID}, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// ExpiresAt returns the advisory expiration recorded for key, if any.
// Test helper.
func (m *MemoryStore) ExpiresAt(key string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok || obj.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return obj.expiresAt, true
}

// OpenUploads returns the number of in-flight multipart uploads. Test helper.
func (m *MemoryStore) OpenUploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uploads)
}

type memMultipart struct {
	store    *MemoryStore
	uploadID string
}

func (h *memMultipart) UploadPart(ctx context.Context, n int32, body io.Reader, size int64) (string, error) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if size >= 0 && int64(len(buf)) != size {
		return "", fmt.Errorf("part %d is %d bytes, declared %d", n, len(buf), size)
	}

	etag := fmt.Sprintf("\"%s-%d\"", uuid.New().String(), n)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	up, ok := h.store.uploads[h.uploadID]
	if !ok {
		return "", fmt.Errorf("multipart upload not found: %s", h.uploadID)
	}
	up.parts[n] = buf
	up.etags[n] = etag
	return etag, nil
}

func (h *memMultipart) Complete(ctx context.Context, parts []Part) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	up, ok := h.store.uploads[h.uploadID]
	if !ok {
		return fmt.Errorf("multipart upload not found: %s", h.uploadID)
	}

	ordered := make([]Part, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	var body []byte
	for _, p := range ordered {
		data, ok := up.parts[p.Number]
		if !ok || up.etags[p.Number] != p.ETag {
			return fmt.Errorf("invalid part %d in complete request", p.Number)
		}
		body = append(body, data...)
	}

	h.store.objects[up.key] = newMemObject(up.key, body, PutOptions{})
	delete(h.store.uploads, h.uploadID)
	return nil
}

func (h *memMultipart) Abort(ctx context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	delete(h.store.uploads, h.uploadID)
	return nil
}

func newMemObject(key string, data []byte, opts PutOptions) *memObject {
	md := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		md[k] = v
	}
	if opts.SHA256 != "" {
		md[metaSHA256] = opts.SHA256
	}

	obj := &memObject{
		data: data,
		info: ObjectInfo{
			Key:         key,
			Size:        int64(len(data)),
			SHA256:      opts.SHA256,
			ContentType: opts.ContentType,
			Metadata:    md,
		},
	}
	if opts.ExpiresIn > 0 {
		obj.expiresAt = time.Now().Add(opts.ExpiresIn)
	}
	return obj
}
