// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"
)

// ErrStateMissing is returned when no authoritative state record exists for
// an upload.
var ErrStateMissing = errors.New("upload state not found")

// StaleStateError reports a fingerprint mismatch. It carries the current
// state and fingerprint so the caller can answer with a resume cursor.
type StaleStateError struct {
	State       *State
	Fingerprint string
}

func (e *StaleStateError) Error() string {
	return "upload state fingerprint is stale"
}

// Codec encodes upload state records and maintains the authoritative copy
// in the object store. The token is the canonical JSON encoding of the
// state; the fingerprint is SHA-256 of the token bytes. Freshness derives
// entirely from the store copy, so no signing is involved.
type Codec struct {
	store objectstore.Store
	ttl   time.Duration
}

// NewCodec creates a state codec. ttl bounds the advisory lifetime of state
// records.
func NewCodec(store objectstore.Store, ttl time.Duration) *Codec {
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	return &Codec{store: store, ttl: ttl}
}

// DecodedState is a decoded authoritative state record.
type DecodedState struct {
	State       *State
	Token       []byte
	Fingerprint string
}

// Encode serializes state, writes the authoritative copy, and returns the
// token with its fingerprint.
func (c *Codec) Encode(ctx context.Context, state *State) (*DecodedState, error) {
	state.ExpiresAt = time.Now().Add(c.ttl).UTC().Truncate(time.Second)

	if err := state.checkInvariants(); err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "upload state invariant violated", Err: err}
	}

	token, err := json.Marshal(state)
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "encode upload state", Err: err}
	}

	key := types.UploadStateKey(state.Name, state.UploadID)
	err = c.store.Put(ctx, key, bytes.NewReader(token), int64(len(token)), objectstore.PutOptions{
		ContentType: "application/json",
		ExpiresIn:   c.ttl,
	})
	if err != nil {
		return nil, serverError("put upload state", err)
	}

	return &DecodedState{
		State:       state,
		Token:       token,
		Fingerprint: streamutil.SumHex(token),
	}, nil
}

// Decode fetches the authoritative state record. When expectedFingerprint
// is non-empty and differs from the current fingerprint, a StaleStateError
// carrying the current cursor is returned.
//
// The read-compare-write sequence is not fully serializable: two racers may
// both pass the check once, but the loser's next append computes against an
// outdated base and fails here.
func (c *Codec) Decode(ctx context.Context, name, uploadID, expectedFingerprint string) (*DecodedState, error) {
	key := types.UploadStateKey(name, uploadID)

	body, _, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, ErrStateMissing
		}
		return nil, serverError("get upload state", err)
	}
	defer body.Close()

	token, err := streamutil.ReadAll(body, -1)
	if err != nil {
		return nil, serverError("read upload state", err)
	}

	var state State
	if err := json.Unmarshal(token, &state); err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "decode upload state", Err: err}
	}
	if state.Name != name || state.UploadID != uploadID {
		return nil, &Error{
			Code:    ErrCodeInternal,
			Message: fmt.Sprintf("upload state record at %s names %s/%s", key, state.Name, state.UploadID),
		}
	}

	fingerprint := streamutil.SumHex(token)
	if expectedFingerprint != "" && fingerprint != expectedFingerprint {
		return nil, &StaleStateError{State: &state, Fingerprint: fingerprint}
	}

	return &DecodedState{
		State:       &state,
		Token:       token,
		Fingerprint: fingerprint,
	}, nil
}

// Delete removes the authoritative state record.
func (c *Codec) Delete(ctx context.Context, name, uploadID string) error {
	if err := c.store.Delete(ctx, types.UploadStateKey(name, uploadID)); err != nil {
		return serverError("delete upload state", err)
	}
	return nil
}
