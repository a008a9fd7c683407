// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote shares encoded analyses between machines through object
// storage, so that a fresh checkout can start from an analysis produced
// elsewhere.
//
// Backends implement store.Blobs. Values stored remotely are always the
// portable form produced by store.AnalysisStore; nothing here sees local
// paths.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/incremental/services/incremental/store"
)

// TieredStore reads from a local backend first and falls back to a remote
// one, populating the local backend on a remote hit. Writes go to both.
//
// Remote failures never fail a build: they are logged and the remote tier
// is treated as empty. Push and Pull are the explicit transfer operations
// and do report remote errors.
//
// Thread Safety: safe for concurrent use if both tiers are.
type TieredStore struct {
	local  store.Blobs
	remote store.Blobs
	logger *slog.Logger
}

// NewTiered creates a TieredStore. A nil logger means slog.Default().
func NewTiered(local, remote store.Blobs, logger *slog.Logger) *TieredStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredStore{
		local:  local,
		remote: remote,
		logger: logger.With("component", "remote.TieredStore"),
	}
}

// Get implements store.Blobs.
func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.local.Get(ctx, key)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return data, err
	}

	data, err = t.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			t.logger.Warn("remote analysis unavailable",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}

	if err := t.local.Put(ctx, key, data); err != nil {
		t.logger.Warn("could not cache remote analysis locally",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	t.logger.Info("restored analysis from remote cache", slog.String("key", key), slog.Int("bytes", len(data)))
	return data, nil
}

// Put implements store.Blobs. Only a local failure is returned.
func (t *TieredStore) Put(ctx context.Context, key string, data []byte) error {
	if err := t.local.Put(ctx, key, data); err != nil {
		return err
	}
	if err := t.remote.Put(ctx, key, data); err != nil {
		t.logger.Warn("remote analysis write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Push copies key from the local tier to the remote tier.
func (t *TieredStore) Push(ctx context.Context, key string) error {
	data, err := t.local.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	if err := t.remote.Put(ctx, key, data); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

// Pull copies key from the remote tier to the local tier, replacing any
// local value.
func (t *TieredStore) Pull(ctx context.Context, key string) error {
	data, err := t.remote.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("pull %s: %w", key, err)
	}
	if err := t.local.Put(ctx, key, data); err != nil {
		return fmt.Errorf("pull %s: %w", key, err)
	}
	return nil
}
