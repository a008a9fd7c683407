// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/artifact"
	"github.com/AleutianAI/incremental/services/incremental/compiler"
	"github.com/AleutianAI/incremental/services/incremental/lock"
	"github.com/AleutianAI/incremental/services/incremental/options"
	"github.com/AleutianAI/incremental/services/incremental/store"
)

// toyBackend compiles a line-oriented toy language:
//
//	api: <text>   public surface
//	dep: <name>   depends on the sibling source <name>
//	macro         defines a macro
//	error         fails to compile
//
// Each source produces <output>/<name>.out holding its full text.
type toyBackend struct {
	level   int
	version string

	mu       sync.Mutex
	compiled []string
	batches  int
}

func (b *toyBackend) Name() string { return "toy" }

func (b *toyBackend) Version() string {
	if b.version == "" {
		return "v1.0.0"
	}
	return b.version
}

func (b *toyBackend) BridgeCompatibilityLevel() int { return b.level }

func (b *toyBackend) NewInstance(context.Context, compiler.Settings) (compiler.Instance, error) {
	return &toyInstance{b: b}, nil
}

func (b *toyBackend) take() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.compiled
	b.compiled = nil
	return out
}

type toyInstance struct{ b *toyBackend }

func (i *toyInstance) Close() error { return nil }

func (i *toyInstance) CompileUnit(_ context.Context, u compiler.Unit) error {
	i.b.mu.Lock()
	i.b.compiled = append(i.b.compiled, filepath.Base(u.Source))
	i.b.mu.Unlock()

	data, err := os.ReadFile(u.Source)
	if err != nil {
		return err
	}
	u.Callback.StartSource(u.Source)

	var api string
	var macro, failed bool
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(text, "api:"):
			api = strings.TrimSpace(strings.TrimPrefix(text, "api:"))
		case strings.HasPrefix(text, "dep:"):
			dep := strings.TrimSpace(strings.TrimPrefix(text, "dep:"))
			u.Callback.SourceDependency(u.Source, filepath.Join(filepath.Dir(u.Source), dep))
		case text == "macro":
			macro = true
		case text == "error":
			failed = true
			u.Reporter.Report(compiler.Problem{
				Severity: compiler.SeverityError,
				Message:  "toy error",
				Position: compiler.Position{Path: u.Source, Line: line, Column: 1},
			})
		}
	}
	if failed {
		return nil
	}

	name := strings.TrimSuffix(filepath.Base(u.Source), filepath.Ext(u.Source))
	u.Callback.API(u.Source, analysis.NewAPISummary(api, macro), []string{"toy." + name})
	product := filepath.Join(u.Output.For(u.Source), name+".out")
	if err := os.WriteFile(product, data, 0o644); err != nil {
		return err
	}
	u.Callback.GeneratedProduct(u.Source, product)
	return nil
}

func (i *toyInstance) CompileBatch(ctx context.Context, b *compiler.Batch) error {
	i.b.mu.Lock()
	i.b.batches++
	i.b.mu.Unlock()
	for n, src := range b.Sources {
		if err := b.Checkpoint(n, len(b.Sources), "", "toy"); err != nil {
			return err
		}
		b.StartUnit("toy", src)
		err := i.CompileUnit(ctx, compiler.Unit{
			Source:   src,
			Changes:  b.Changes,
			Options:  b.Options,
			Output:   b.Output,
			Callback: b.Callback,
			Reporter: b.Reporter,
			Lookup:   b.Lookup,
		})
		if err != nil {
			return err
		}
	}
	return b.Checkpoint(len(b.Sources), len(b.Sources), "toy", "")
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = bytes.Clone(data)
	return nil
}

type project struct {
	t       *testing.T
	src     string
	out     string
	blobs   store.Blobs
	backend *toyBackend
	opts    options.Options
	hooks   Hooks

	// versioned negotiates the protocol from the backend version.
	versioned bool
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	p := &project{
		t:       t,
		src:     filepath.Join(root, "src"),
		out:     filepath.Join(root, "out"),
		blobs:   &memBlobs{},
		backend: &toyBackend{level: compiler.LevelPerUnit},
		opts:    options.Default(),
	}
	require.NoError(t, os.MkdirAll(p.src, 0o755))
	require.NoError(t, os.MkdirAll(p.out, 0o755))
	return p
}

func (p *project) write(name, content string) {
	p.t.Helper()
	require.NoError(p.t, os.WriteFile(filepath.Join(p.src, name), []byte(content), 0o644))
}

func (p *project) product(name string) string {
	return filepath.Join(p.out, strings.TrimSuffix(name, filepath.Ext(name))+".out")
}

// run builds every source currently in src with a fresh session.
func (p *project) run() (Result, error) {
	p.t.Helper()
	entries, err := os.ReadDir(p.src)
	require.NoError(p.t, err)
	var sources []string
	for _, e := range entries {
		sources = append(sources, filepath.Join(p.src, e.Name()))
	}
	var backend compiler.Backend = p.backend
	if p.versioned {
		backend = compiler.Versioned(p.backend)
	}
	s, err := New(Config{
		Options: p.opts,
		Root:    filepath.Dir(p.src),
		Sources: sources,
		Output:  compiler.SingleOutput(p.out),
		Backend: backend,
		Blobs:   p.blobs,
		Hooks:   p.hooks,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(p.t, err)
	p.backend.take()
	return s.Run(context.Background())
}

func (p *project) mustRun() Result {
	p.t.Helper()
	res, err := p.run()
	require.NoError(p.t, err)
	return res
}

func (p *project) abs(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(p.src, n)
	}
	return out
}

// chain writes A <- B <- C.
func (p *project) chain() {
	p.write("A.toy", "api: a1\n")
	p.write("B.toy", "api: b1\ndep: A.toy\n")
	p.write("C.toy", "api: c1\ndep: B.toy\n")
}

func TestRun_FullBuildThenNoOp(t *testing.T) {
	p := newProject(t)
	p.chain()

	res := p.mustRun()
	assert.True(t, res.FullBuild)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, p.abs("A.toy", "B.toy", "C.toy"), res.Recompiled)
	assert.True(t, res.Persisted)
	assert.NotEmpty(t, res.RunID)
	assert.FileExists(t, p.product("A.toy"))
	assert.FileExists(t, p.product("C.toy"))

	res = p.mustRun()
	assert.False(t, res.FullBuild)
	assert.Zero(t, res.Rounds)
	assert.Empty(t, res.Recompiled)
	assert.Empty(t, p.backend.take())
}

func TestRun_APIChangeInvalidatesDependents(t *testing.T) {
	p := newProject(t)
	p.chain()
	p.mustRun()

	t.Run("body change stays local", func(t *testing.T) {
		p.write("A.toy", "api: a1\n// touched\n")
		res := p.mustRun()
		assert.Equal(t, 1, res.Rounds)
		assert.Equal(t, p.abs("A.toy"), res.Recompiled)
		assert.Equal(t, p.abs("A.toy"), res.Changes.Modified)
	})

	t.Run("api change reaches direct dependents", func(t *testing.T) {
		p.write("A.toy", "api: a2\n")
		res := p.mustRun()
		assert.Equal(t, 2, res.Rounds)
		assert.Equal(t, p.abs("A.toy", "B.toy"), res.Recompiled)
		assert.False(t, res.Escalated)
	})

	t.Run("api change cascades", func(t *testing.T) {
		var err error
		p.opts, err = p.opts.WithRecompileAllFraction(0.9)
		require.NoError(t, err)
		p.write("A.toy", "api: a3\n")
		p.write("B.toy", "api: b2\ndep: A.toy\n")
		res := p.mustRun()
		// A and B were both modified; B's new API reaches C.
		assert.Equal(t, 2, res.Rounds)
		assert.Equal(t, p.abs("A.toy", "B.toy", "C.toy"), res.Recompiled)
	})
}

func TestRun_EscalatesAboveFraction(t *testing.T) {
	p := newProject(t)
	names := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	for _, n := range names {
		p.write(n+".toy", "api: "+n+"\n")
	}
	p.mustRun()

	for _, n := range names[:6] {
		p.write(n+".toy", "api: "+n+"\n// edit\n")
	}
	res := p.mustRun()
	assert.True(t, res.Escalated)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, res.Recompiled, 10)

	for _, n := range names[:5] {
		p.write(n+".toy", "api: "+n+"\n// second edit\n")
	}
	res = p.mustRun()
	assert.False(t, res.Escalated)
	assert.Len(t, res.Recompiled, 5)
}

func TestRun_CompileErrorRollsBack(t *testing.T) {
	p := newProject(t)
	p.opts = p.opts.WithArtifactManagerMode(options.ModeTransactional)
	p.chain()
	p.mustRun()

	original, err := os.ReadFile(p.product("A.toy"))
	require.NoError(t, err)

	p.write("A.toy", "api: a1\nerror\n")
	res, err := p.run()
	require.ErrorIs(t, err, ErrCompilationFailed)
	assert.False(t, res.Persisted)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, compiler.SeverityError, res.Problems[0].Severity)

	restored, err := os.ReadFile(p.product("A.toy"))
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	// The failed run saved nothing, so A is still seen as changed.
	p.write("A.toy", "api: a1\n// fixed\n")
	res = p.mustRun()
	assert.Equal(t, p.abs("A.toy"), res.Recompiled)
}

func TestRun_RemovedSource(t *testing.T) {
	p := newProject(t)
	p.chain()
	p.mustRun()
	require.FileExists(t, p.product("C.toy"))

	require.NoError(t, os.Remove(filepath.Join(p.src, "C.toy")))
	res := p.mustRun()
	assert.Equal(t, p.abs("C.toy"), res.Changes.Removed)
	assert.Empty(t, res.Recompiled)
	assert.NoFileExists(t, p.product("C.toy"))

	require.NoError(t, os.Remove(filepath.Join(p.src, "A.toy")))
	res = p.mustRun()
	assert.Equal(t, p.abs("B.toy"), res.Recompiled)
	assert.NoFileExists(t, p.product("A.toy"))
}

func TestRun_RemovedSourceProductsDeletedOnce(t *testing.T) {
	p := newProject(t)
	p.chain()
	p.mustRun()

	rec := &recordingManager{}
	p.hooks = Hooks{ArtifactManager: func(base artifact.Manager) artifact.Manager {
		rec.Manager = base
		rec.deleted = nil
		return rec
	}}

	t.Run("folded into first round", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(p.src, "A.toy")))
		res := p.mustRun()
		assert.Equal(t, 1, res.Rounds)
		require.Len(t, rec.deleted, 1)
		assert.ElementsMatch(t, []string{p.product("A.toy"), p.product("B.toy")}, rec.deleted[0])
		assert.NoFileExists(t, p.product("A.toy"))
		assert.FileExists(t, p.product("B.toy"))
	})

	t.Run("deleted without a round", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(p.src, "C.toy")))
		res := p.mustRun()
		assert.Zero(t, res.Rounds)
		require.Len(t, rec.deleted, 1)
		assert.Equal(t, []string{p.product("C.toy")}, rec.deleted[0])
		assert.NoFileExists(t, p.product("C.toy"))
	})
}

func TestRun_MacroChangeRecompilesDependents(t *testing.T) {
	p := newProject(t)
	p.write("M.toy", "api: m\nmacro\n")
	p.write("U.toy", "api: u\ndep: M.toy\n")
	p.write("V.toy", "api: v\n")
	p.mustRun()

	p.write("M.toy", "api: m\nmacro\n// new expansion\n")
	res := p.mustRun()
	assert.Equal(t, p.abs("M.toy", "U.toy"), res.Recompiled)

	p.opts = p.opts.WithRecompileOnMacroDef(options.TristateFalse)
	p.write("M.toy", "api: m\nmacro\n// another expansion\n")
	res = p.mustRun()
	assert.Equal(t, p.abs("M.toy"), res.Recompiled)
}

func TestRun_DisabledRebuildsEverything(t *testing.T) {
	p := newProject(t)
	p.chain()
	p.mustRun()

	p.opts = p.opts.WithEnabled(false)
	res := p.mustRun()
	assert.True(t, res.FullBuild)
	assert.Len(t, res.Recompiled, 3)
}

func TestRun_SetupChangeForcesFullBuild(t *testing.T) {
	p := newProject(t)
	p.chain()
	p.mustRun()

	p.opts = p.opts.WithStoreAPIs(false)
	res := p.mustRun()
	assert.True(t, res.FullBuild)
	assert.Len(t, res.Recompiled, 3)
}

func TestRun_BadgerStore(t *testing.T) {
	p := newProject(t)
	db, err := store.OpenBadger(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	p.blobs = db
	p.chain()

	assert.True(t, p.mustRun().FullBuild)
	res := p.mustRun()
	assert.False(t, res.FullBuild)
	assert.Zero(t, res.Rounds)
}

func TestRun_BatchBackend(t *testing.T) {
	p := newProject(t)
	p.backend.level = compiler.LevelBatch
	p.chain()
	p.mustRun()

	p.write("A.toy", "api: a2\n")
	res := p.mustRun()
	assert.Equal(t, p.abs("A.toy", "B.toy"), res.Recompiled)
	assert.Equal(t, []string{"A.toy", "B.toy"}, p.backend.take())
}

func TestRun_VersionedBackend(t *testing.T) {
	t.Run("v2 compiles in batches", func(t *testing.T) {
		p := newProject(t)
		p.versioned = true
		p.backend.version = "v2.1.0"
		p.chain()
		p.mustRun()
		assert.Equal(t, 1, p.backend.batches)
		assert.FileExists(t, p.product("C.toy"))
	})

	t.Run("v1 compiles per unit", func(t *testing.T) {
		p := newProject(t)
		p.versioned = true
		p.backend.level = compiler.LevelBatch
		p.chain()
		res := p.mustRun()
		assert.Zero(t, p.backend.batches)
		assert.Len(t, res.Recompiled, 3)
	})

	t.Run("v0 is rejected", func(t *testing.T) {
		p := newProject(t)
		p.versioned = true
		p.backend.version = "v0.9.0"
		p.chain()
		_, err := p.run()
		require.ErrorIs(t, err, compiler.ErrUnsupportedBackend)
		assert.NoFileExists(t, p.product("A.toy"))
	})
}

func TestRun_UnsupportedBackend(t *testing.T) {
	p := newProject(t)
	p.backend.level = compiler.LevelUnsupported
	p.chain()

	_, err := p.run()
	require.ErrorIs(t, err, compiler.ErrUnsupportedBackend)
}

func TestRun_OutputLocked(t *testing.T) {
	p := newProject(t)
	p.chain()

	held, err := lock.Acquire(p.out, "other-run", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	_, err = p.run()
	require.ErrorIs(t, err, lock.ErrLocked)

	require.NoError(t, held.Release())
	assert.True(t, p.mustRun().FullBuild)
}

func TestRun_ReporterReceivesProblems(t *testing.T) {
	p := newProject(t)
	p.write("A.toy", "error\n")

	collect := compiler.NewCollectingReporter(nil)
	s, err := New(Config{
		Root:     filepath.Dir(p.src),
		Sources:  p.abs("A.toy"),
		Output:   compiler.SingleOutput(p.out),
		Backend:  p.backend,
		Reporter: collect,
	})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrCompilationFailed)
	assert.True(t, collect.HasErrors())
	assert.Equal(t, "toy error", collect.Problems()[0].Message)
}

func TestNew_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	backend := &toyBackend{level: compiler.LevelPerUnit}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no backend", Config{Root: dir, Output: compiler.SingleOutput(dir)}},
		{"no root", Config{Backend: backend, Output: compiler.SingleOutput(dir)}},
		{"no output", Config{Root: dir, Backend: backend}},
		{"bad key", Config{Root: dir, Backend: backend, Output: compiler.SingleOutput(dir), AnalysisKey: "../x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// recordingManager observes the artifact manager built for a run.
type recordingManager struct {
	artifact.Manager

	mu        sync.Mutex
	generated []string
	deleted   [][]string
	completed []bool
}

func (r *recordingManager) Delete(ctx context.Context, paths []string) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, paths)
	r.mu.Unlock()
	return r.Manager.Delete(ctx, paths)
}

func (r *recordingManager) Generated(ctx context.Context, paths []string) error {
	r.mu.Lock()
	r.generated = append(r.generated, paths...)
	r.mu.Unlock()
	return r.Manager.Generated(ctx, paths)
}

func (r *recordingManager) Complete(ctx context.Context, success bool) error {
	r.mu.Lock()
	r.completed = append(r.completed, success)
	r.mu.Unlock()
	return r.Manager.Complete(ctx, success)
}

func TestRun_Hooks(t *testing.T) {
	p := newProject(t)
	p.chain()

	rec := &recordingManager{}
	upstream := analysis.New()
	s, err := New(Config{
		Root:    filepath.Dir(p.src),
		Sources: p.abs("A.toy", "B.toy", "C.toy"),
		Output:  compiler.SingleOutput(p.out),
		Backend: p.backend,
		Hooks: Hooks{
			ArtifactManager: func(base artifact.Manager) artifact.Manager {
				rec.Manager = base
				return rec
			},
			Lookup: func(_ context.Context, entry string) (*analysis.Analysis, bool, error) {
				return upstream, entry == "upstream.jar", nil
			},
		},
	})
	require.NoError(t, err)

	got, ok := s.Lookup().Analysis(context.Background(), "upstream.jar")
	require.True(t, ok)
	assert.Same(t, upstream, got)
	_, ok = s.Lookup().Analysis(context.Background(), "other.jar")
	assert.False(t, ok)

	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p.product("A.toy"), p.product("B.toy"), p.product("C.toy")}, rec.generated)
	assert.Equal(t, []bool{true}, rec.completed)
}

func TestRun_OutputGroups(t *testing.T) {
	root := t.TempDir()
	mainSrc := filepath.Join(root, "src", "main")
	testSrc := filepath.Join(root, "src", "test")
	mainOut := filepath.Join(root, "out", "main")
	testOut := filepath.Join(root, "out", "test")
	for _, d := range []string{mainSrc, testSrc, mainOut, testOut} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(mainSrc, "Lib.toy"), []byte("api: lib\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(testSrc, "LibTest.toy"), []byte("api: t\ndep: ../main/Lib.toy\n"), 0o644))

	cfg := Config{
		Root:    root,
		Sources: []string{filepath.Join(mainSrc, "Lib.toy"), filepath.Join(testSrc, "LibTest.toy")},
		Output: compiler.Output{Groups: []compiler.OutputGroup{
			{SourceDir: mainSrc, OutputDir: mainOut},
			{SourceDir: testSrc, OutputDir: testOut},
		}},
		Backend: &toyBackend{level: compiler.LevelPerUnit},
		Blobs:   &memBlobs{},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(mainOut, "Lib.out"))
	assert.FileExists(t, filepath.Join(testOut, "LibTest.out"))

	require.NoError(t, os.Remove(filepath.Join(testSrc, "LibTest.toy")))
	cfg.Sources = cfg.Sources[:1]
	s, err = New(cfg)
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Recompiled)
	assert.NoFileExists(t, filepath.Join(testOut, "LibTest.out"))
	assert.DirExists(t, testOut)
}
