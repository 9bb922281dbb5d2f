// Package objectstore provides typed capabilities over the external object
// store. All backends implement the Store interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/types"
)

// ErrNotFound is returned when the referenced key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	SHA256      string // lowercase hex, "" if the store has no record
	ContentType string
	Metadata    map[string]string
}

// PutOptions carries optional hints for Put and Copy.
type PutOptions struct {
	// SHA256 is the expected lowercase hex digest of the body. When set, Put
	// verifies the content against it; Copy records it without verifying.
	SHA256 string

	ContentType string
	Metadata    map[string]string

	// ExpiresIn marks the object with an expiration hint. Advisory: backends
	// may ignore it, and expired objects may linger.
	ExpiresIn time.Duration
}

// ListOptions controls a List call.
type ListOptions struct {
	Prefix     string
	Cursor     string
	StartAfter string
	Limit      int
}

// ListResult is one page of a listing.
type ListResult struct {
	Keys       []string
	NextCursor string
}

// Part identifies one uploaded multipart part.
type Part struct {
	Number int32
	ETag   string
}

// MultipartHandle drives a single multipart upload.
type MultipartHandle interface {
	// UploadPart uploads part n and returns the store's etag for it.
	UploadPart(ctx context.Context, n int32, body io.Reader, size int64) (string, error)

	// Complete assembles the given parts into the target object.
	Complete(ctx context.Context, parts []Part) error

	// Abort discards the upload and any parts uploaded so far.
	Abort(ctx context.Context) error
}

// Store is the capability set the engine requires from the object store.
type Store interface {
	// Head returns object metadata, or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Get returns the object body and metadata, or ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Put atomically creates or replaces the object at key.
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error

	// Copy server-side copies src to dst, replacing dst's metadata with opts.
	Copy(ctx context.Context, src, dst string, opts PutOptions) error

	// List returns one page of keys.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CreateMultipart opens a multipart upload targeting key.
	CreateMultipart(ctx context.Context, key string) (string, error)

	// ResumeMultipart returns a handle for an open multipart upload.
	ResumeMultipart(ctx context.Context, key, storeUploadID string) (MultipartHandle, error)

	Close() error
}

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[types.BackendType]Factory)
)

// Factory creates a Store from config
type Factory func(cfg types.BackendConfig) (Store, error)

// Register adds a factory for a backend type
func Register(t types.BackendType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Store from config
func New(cfg types.BackendConfig) (Store, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
	return f(cfg)
}
