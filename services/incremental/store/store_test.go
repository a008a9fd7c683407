// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/mapper"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

func openInMemory(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func contentsUnder(root string) analysis.Contents {
	a := analysis.New()
	src := filepath.Join(root, "src", "A.scala")
	a.Put(src, analysis.SourceInfo{
		Stamp:    stamp.Hash("aa"),
		Products: []analysis.Product{{Path: filepath.Join(root, "out", "A.class"), Stamp: stamp.LastModified(5)}},
		API:      analysis.NewAPISummary("class A", false),
	})
	return analysis.NewContents(a, analysis.Setup{OutputDirs: []string{filepath.Join(root, "out")}, StoreAPIs: true})
}

func TestBadgerStore(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "p1", []byte("one")))
	require.NoError(t, s.Put(ctx, "p2", []byte("two")))
	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, keys)

	require.NoError(t, s.Delete(ctx, "p1"))
	_, err = s.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, "p2")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestCodec(t *testing.T) {
	c := contentsUnder("/proj")
	data, err := Encode(c)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, c.Analysis.Equal(back.Analysis))

	t.Run("garbage is corrupt", func(t *testing.T) {
		_, err := Decode([]byte("not zstd"))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("other version is incompatible", func(t *testing.T) {
		raw, err := json.Marshal(map[string]any{"version": analysis.FormatVersion + 1})
		require.NoError(t, err)
		_, err = Decode(zstdEncoder.EncodeAll(raw, nil))
		assert.ErrorIs(t, err, ErrIncompatibleFormat)
	})
}

func TestAnalysisStore(t *testing.T) {
	ctx := context.Background()
	blobs := openInMemory(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	t.Run("missing analysis is not an error", func(t *testing.T) {
		s := NewAnalysisStore(blobs, nil, logger)
		_, found, err := s.Load(ctx, "nothing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("portable across roots", func(t *testing.T) {
		writer := NewAnalysisStore(blobs, mapper.Relative(filepath.FromSlash("/machine-a/proj"), true), logger)
		require.NoError(t, writer.Save(ctx, "proj", contentsUnder(filepath.FromSlash("/machine-a/proj"))))

		raw, err := blobs.Get(ctx, "proj")
		require.NoError(t, err)
		portable, err := Decode(raw)
		require.NoError(t, err)
		for _, src := range portable.Analysis.SourcePaths() {
			assert.NotContains(t, src, "machine-a")
		}

		reader := NewAnalysisStore(blobs, mapper.Relative(filepath.FromSlash("/machine-b/proj"), false), logger)
		got, found, err := reader.Load(ctx, "proj")
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, contentsUnder(filepath.FromSlash("/machine-b/proj")).Analysis.Equal(got.Analysis))
	})

	t.Run("stale analysis treated as absent", func(t *testing.T) {
		require.NoError(t, blobs.Put(ctx, "stale", []byte("garbage")))
		s := NewAnalysisStore(blobs, nil, logger)
		_, found, err := s.Load(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Contains(t, logs.String(), "discarding unusable analysis")
	})

	t.Run("strict mapper rejects machine paths on save", func(t *testing.T) {
		s := NewAnalysisStore(blobs, mapper.Relative("/other", true), logger)
		err := s.Save(ctx, "x", contentsUnder("/proj"))
		assert.ErrorIs(t, err, mapper.ErrMachinePath)
	})

	t.Run("export and import", func(t *testing.T) {
		s := NewAnalysisStore(blobs, mapper.Relative("/proj", false), logger)
		data, err := s.Export(contentsUnder("/proj"))
		require.NoError(t, err)
		back, err := s.Import(data)
		require.NoError(t, err)
		assert.True(t, contentsUnder("/proj").Analysis.Equal(back.Analysis))

		_, err = s.Import([]byte("nope"))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}
