// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/LeeDigitalWorks/zapreg/pkg/logger"
	"github.com/LeeDigitalWorks/zapreg/pkg/manifest"
	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// DefaultSymlinkMetaKey marks a blob as a symlink in custom metadata; the
// value is the source repository name and the blob body is the full source
// key. Deployments may override the key name.
const DefaultSymlinkMetaKey = "symlink-target-repo"

// Interlock is the slice of the garbage collector the manifest engine
// coordinates with. This interface allows for easy mocking in tests.
type Interlock interface {
	MarkForInsertion(ctx context.Context, name string) (string, error)
	CleanInsertion(ctx context.Context, name, markerKey string) error
	CheckCanInsertData(ctx context.Context, name, markerKey string) (bool, error)
}

// Config holds configuration for the registry service
type Config struct {
	Store     objectstore.Store
	Interlock Interlock

	// SymlinkMetaKey overrides DefaultSymlinkMetaKey.
	SymlinkMetaKey string
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	store      objectstore.Store
	interlock  Interlock
	symlinkKey string
}

// NewService creates a new registry service
func NewService(cfg Config) (Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("Store is required")
	}
	if cfg.Interlock == nil {
		return nil, errors.New("Interlock is required")
	}

	symlinkKey := cfg.SymlinkMetaKey
	if symlinkKey == "" {
		symlinkKey = DefaultSymlinkMetaKey
	}

	return &serviceImpl{
		store:      cfg.Store,
		interlock:  cfg.Interlock,
		symlinkKey: symlinkKey,
	}, nil
}

func (s *serviceImpl) PutManifest(ctx context.Context, req *PutManifestRequest) (*PutManifestResult, error) {
	if req.Name == "" || req.Reference == "" {
		return nil, &Error{Code: ErrCodeClient, Message: "repository name and reference are required"}
	}

	marker, err := s.interlock.MarkForInsertion(ctx, req.Name)
	if err != nil {
		return nil, serverError("mark for insertion", err)
	}
	defer func() {
		if err := s.interlock.CleanInsertion(ctx, req.Name, marker); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("marker", marker).Msg("failed to clean insertion marker")
		}
	}()

	raw, err := streamutil.ReadAll(req.Body, -1)
	if err != nil {
		return nil, serverError("read manifest body", err)
	}
	dgst := streamutil.SumBytes(raw)

	parsed, err := manifest.Parse(raw, req.ContentType)
	if err != nil {
		return nil, &Error{Code: ErrCodeManifestInvalid, Message: "invalid manifest", Err: err}
	}

	if req.CheckLayers {
		if err := s.verifyReferences(ctx, req.Name, parsed); err != nil {
			return nil, err
		}
	}

	// Commit barrier: a collection pass that started after the marker was
	// registered may have judged this manifest's blobs unreachable.
	ok, err := s.interlock.CheckCanInsertData(ctx, req.Name, marker)
	if err != nil {
		return nil, serverError("check insertion barrier", err)
	}
	if !ok {
		return nil, &Error{
			Code:    ErrCodeServer,
			Message: "garbage collection in progress, retry the push",
		}
	}

	opts := objectstore.PutOptions{
		SHA256:      dgst.Encoded(),
		ContentType: req.ContentType,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		key := types.ManifestKey(req.Name, dgst.String())
		return s.store.Put(gctx, key, bytes.NewReader(raw), int64(len(raw)), opts)
	})
	if req.Reference != dgst.String() {
		g.Go(func() error {
			key := types.ManifestKey(req.Name, req.Reference)
			return s.store.Put(gctx, key, bytes.NewReader(raw), int64(len(raw)), opts)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, serverError("put manifest", err)
	}

	return &PutManifestResult{
		Digest:   dgst,
		Location: fmt.Sprintf("/v2/%s/manifests/%s", req.Name, dgst),
	}, nil
}

// verifyReferences heads every blob a manifest names, or every child of an
// index.
func (s *serviceImpl) verifyReferences(ctx context.Context, name string, m *manifest.Manifest) error {
	if m.IsIndex() {
		for _, child := range m.ChildManifests() {
			_, err := s.store.Head(ctx, types.ManifestKey(name, child.String()))
			if err != nil {
				if errors.Is(err, objectstore.ErrNotFound) {
					return &Error{
						Code:    ErrCodeManifestUnknown,
						Message: fmt.Sprintf("child manifest %s is unknown", child),
					}
				}
				return serverError("head child manifest", err)
			}
		}
		return nil
	}

	for _, d := range m.BlobReferences() {
		_, err := s.store.Head(ctx, types.BlobKey(name, d))
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				return &Error{
					Code:    ErrCodeBlobUnknown,
					Message: fmt.Sprintf("blob %s is unknown", d),
				}
			}
			return serverError("head blob", err)
		}
	}
	return nil
}

func (s *serviceImpl) GetManifest(ctx context.Context, req *GetManifestRequest) (*GetManifestResult, error) {
	key := types.ManifestKey(req.Name, req.Reference)

	body, info, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, manifestUnknown(req.Reference)
		}
		return nil, serverError("get manifest", err)
	}

	dgst, body, err := s.manifestDigest(body, info)
	if err != nil {
		return nil, err
	}

	return &GetManifestResult{
		Body:        body,
		Digest:      dgst,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

func (s *serviceImpl) ManifestExists(ctx context.Context, req *ManifestExistsRequest) (*ManifestStat, error) {
	info, err := s.store.Head(ctx, types.ManifestKey(req.Name, req.Reference))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return &ManifestStat{Exists: false}, nil
		}
		return nil, serverError("head manifest", err)
	}

	stat := &ManifestStat{
		Exists:      true,
		Size:        info.Size,
		ContentType: info.ContentType,
	}
	if info.SHA256 != "" {
		stat.Digest = digest.NewDigestFromEncoded(digest.SHA256, info.SHA256)
	}
	return stat, nil
}

func (s *serviceImpl) GetLayer(ctx context.Context, req *GetLayerRequest) (*GetLayerResult, error) {
	body, info, err := s.openLayer(ctx, req.Name, req.Digest)
	if err != nil {
		return nil, err
	}

	return &GetLayerResult{
		Body:   body,
		Digest: req.Digest,
		Size:   info.Size,
	}, nil
}

func (s *serviceImpl) LayerExists(ctx context.Context, req *LayerExistsRequest) (*LayerStat, error) {
	body, info, err := s.openLayer(ctx, req.Name, req.Digest)
	if err != nil {
		var regErr *Error
		if errors.As(err, &regErr) && (regErr.Code == ErrCodeBlobUnknown || regErr.Code == ErrCodeNotFound) {
			return &LayerStat{Exists: false}, nil
		}
		return nil, err
	}
	body.Close()

	return &LayerStat{
		Exists: true,
		Digest: req.Digest,
		Size:   info.Size,
	}, nil
}

// openLayer opens a blob, following a symlink blob one level. A link that
// resolves back to the requested (name, digest) is treated as unknown.
func (s *serviceImpl) openLayer(ctx context.Context, name string, dgst digest.Digest) (io.ReadCloser, *objectstore.ObjectInfo, error) {
	body, info, err := s.store.Get(ctx, types.BlobKey(name, dgst))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil, blobUnknown(dgst)
		}
		return nil, nil, serverError("get blob", err)
	}

	targetRepo := info.Metadata[s.symlinkKey]
	if targetRepo == "" {
		return body, info, nil
	}

	targetKey, err := streamutil.ReadAll(body, info.Size)
	body.Close()
	if err != nil {
		return nil, nil, serverError("read symlink blob", err)
	}

	if targetRepo == name || string(targetKey) == types.BlobKey(name, dgst) {
		return nil, nil, blobUnknown(dgst)
	}

	resolved, resolvedInfo, err := s.store.Get(ctx, string(targetKey))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil, blobUnknown(dgst)
		}
		return nil, nil, serverError("get blob", err)
	}
	if resolvedInfo.Metadata[s.symlinkKey] != "" {
		// Mounts resolve transitively at write time, so a second level
		// means a corrupt chain.
		resolved.Close()
		return nil, nil, blobUnknown(dgst)
	}
	return resolved, resolvedInfo, nil
}

func (s *serviceImpl) MountLayer(ctx context.Context, req *MountLayerRequest) (*MountLayerResult, error) {
	srcKey := types.BlobKey(req.SourceName, req.Digest)
	dstKey := types.BlobKey(req.DestName, req.Digest)
	if srcKey == dstKey {
		return nil, &Error{Code: ErrCodeClient, Message: "cannot mount a blob onto itself"}
	}

	info, err := s.store.Head(ctx, srcKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, &Error{
				Code:    ErrCodeNotFound,
				Message: fmt.Sprintf("source blob %s is unknown", req.Digest),
			}
		}
		return nil, serverError("head source blob", err)
	}

	// Resolve a symlink source so links never chain deeper than one level.
	resolvedName := req.SourceName
	if target := info.Metadata[s.symlinkKey]; target != "" {
		resolvedName = target
	}
	if resolvedName == req.DestName {
		return nil, &Error{Code: ErrCodeClient, Message: "cannot mount a blob onto itself"}
	}

	linkTarget := types.BlobKey(resolvedName, req.Digest)
	err = s.store.Put(ctx, dstKey, strings.NewReader(linkTarget), int64(len(linkTarget)), objectstore.PutOptions{
		Metadata: map[string]string{s.symlinkKey: resolvedName},
	})
	if err != nil {
		return nil, serverError("put symlink blob", err)
	}

	return &MountLayerResult{
		Digest:   req.Digest,
		Location: fmt.Sprintf("/v2/%s/blobs/%s", req.DestName, req.Digest),
	}, nil
}

func (s *serviceImpl) ListRepositories(ctx context.Context, req *ListRepositoriesRequest) (*ListRepositoriesResult, error) {
	seen := make(map[string]struct{})
	var repos []string

	cursor := ""
	for {
		page, err := s.store.List(ctx, objectstore.ListOptions{Cursor: cursor})
		if err != nil {
			return nil, serverError("list repositories", err)
		}
		for _, key := range page.Keys {
			name := types.RepositoryOfManifestKey(key)
			if name == "" || name <= req.Last {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				repos = append(repos, name)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	sort.Strings(repos)

	result := &ListRepositoriesResult{Repositories: repos}
	if req.Limit > 0 && len(repos) > req.Limit {
		result.Repositories = repos[:req.Limit]
		result.Cursor = repos[req.Limit-1]
	}
	return result, nil
}

func (s *serviceImpl) ListTags(ctx context.Context, req *ListTagsRequest) (*ListTagsResult, error) {
	prefix := types.ManifestPrefix(req.Name)
	var tags []string

	cursor := ""
	for {
		page, err := s.store.List(ctx, objectstore.ListOptions{Prefix: prefix, Cursor: cursor})
		if err != nil {
			return nil, serverError("list tags", err)
		}
		for _, key := range page.Keys {
			ref := types.ReferenceOfManifestKey(key)
			if ref == "" || types.IsDigestReference(ref) {
				continue
			}
			tags = append(tags, ref)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	sort.Strings(tags)
	return &ListTagsResult{Tags: tags}, nil
}

// manifestDigest returns the stored digest, computing it from the body when
// the record predates digest metadata. The returned body is ready to stream
// either way.
func (s *serviceImpl) manifestDigest(body io.ReadCloser, info *objectstore.ObjectInfo) (digest.Digest, io.ReadCloser, error) {
	if info.SHA256 != "" {
		return digest.NewDigestFromEncoded(digest.SHA256, info.SHA256), body, nil
	}

	raw, err := streamutil.ReadAll(body, info.Size)
	body.Close()
	if err != nil {
		return "", nil, serverError("read manifest", err)
	}
	return streamutil.SumBytes(raw), io.NopCloser(bytes.NewReader(raw)), nil
}

func manifestUnknown(reference string) *Error {
	return &Error{
		Code:    ErrCodeManifestUnknown,
		Message: fmt.Sprintf("manifest %s is unknown", reference),
	}
}

func blobUnknown(dgst digest.Digest) *Error {
	return &Error{
		Code:    ErrCodeBlobUnknown,
		Message: fmt.Sprintf("blob %s is unknown", dgst),
	}
}
