// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/options"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// fakeBackend records what it is asked to do.
type fakeBackend struct {
	level    int
	started  atomic.Int32
	closed   atomic.Int32
	startErr error

	mu       sync.Mutex
	compiled []string

	// compile is invoked per source for level 1 and once per batch for
	// level 2 (with the batch's first source).
	compile func(ctx context.Context, src string, cb Callback, rep Reporter) error
}

func (b *fakeBackend) Name() string                  { return "fake" }
func (b *fakeBackend) Version() string               { return "v2.1.0" }
func (b *fakeBackend) BridgeCompatibilityLevel() int { return b.level }

func (b *fakeBackend) NewInstance(_ context.Context, _ Settings) (Instance, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	b.started.Add(1)
	base := &fakeInstance{b: b}
	if b.level == LevelBatch {
		return &fakeBatchInstance{base}, nil
	}
	return &fakeUnitInstance{base}, nil
}

func (b *fakeBackend) record(src string) {
	b.mu.Lock()
	b.compiled = append(b.compiled, src)
	b.mu.Unlock()
}

func (b *fakeBackend) Compiled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.compiled)
}

type fakeInstance struct{ b *fakeBackend }

func (i *fakeInstance) Close() error {
	i.b.closed.Add(1)
	return nil
}

type fakeUnitInstance struct{ *fakeInstance }

func (i *fakeUnitInstance) CompileUnit(ctx context.Context, u Unit) error {
	i.b.record(u.Source)
	if i.b.compile != nil {
		return i.b.compile(ctx, u.Source, u.Callback, u.Reporter)
	}
	return nil
}

type fakeBatchInstance struct{ *fakeInstance }

func (i *fakeBatchInstance) CompileBatch(ctx context.Context, batch *Batch) error {
	for n, src := range batch.Sources {
		if err := batch.Checkpoint(n, len(batch.Sources), PhaseCompile, PhaseCompile); err != nil {
			return err
		}
		batch.StartUnit(PhaseCompile, src)
		i.b.record(src)
		if i.b.compile != nil {
			if err := i.b.compile(ctx, src, batch.Callback, batch.Reporter); err != nil {
				return err
			}
		}
	}
	return nil
}

// stopAfter cancels once Advance has been called n times.
type stopAfter struct {
	n      int
	calls  int
	starts []string
}

func (p *stopAfter) StartUnit(_, unit string) { p.starts = append(p.starts, unit) }

func (p *stopAfter) Advance(int, int, string, string) bool {
	p.calls++
	return p.calls <= p.n
}

func writeProduct(t *testing.T, dir, src string) string {
	t.Helper()
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".class")
	if err := os.WriteFile(out, []byte("bytecode"), 0o644); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestLevelForVersion(t *testing.T) {
	tests := []struct {
		version string
		want    int
	}{
		{"v0.9.0", LevelUnsupported},
		{"v1.0.0-rc.1", LevelUnsupported},
		{"1.2.3", LevelPerUnit},
		{"v1.99.0", LevelPerUnit},
		{"v2.0.0", LevelBatch},
		{"v3.1.4", LevelBatch},
		{"", LevelUnsupported},
		{"not-a-version", LevelUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			if got := LevelForVersion(tt.version); got != tt.want {
				t.Errorf("LevelForVersion(%q) = %d, want %d", tt.version, got, tt.want)
			}
		})
	}
}

// releasedBackend reports a fixed version.
type releasedBackend struct {
	*fakeBackend
	version string
}

func (b releasedBackend) Version() string { return b.version }

func TestVersioned_Negotiate(t *testing.T) {
	tests := []struct {
		version string
		want    int
		wantErr bool
	}{
		{"2.0.0", LevelBatch, false},
		{"v1.4.2", LevelPerUnit, false},
		{"v0.9", LevelUnsupported, true},
		{"nightly", LevelUnsupported, true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			// The declared level is ignored once the backend is versioned.
			b := Versioned(releasedBackend{&fakeBackend{level: LevelBatch}, tt.version})
			got, err := Negotiate(b)
			if tt.wantErr != errors.Is(err, ErrUnsupportedBackend) {
				t.Fatalf("Negotiate(%q) err = %v", tt.version, err)
			}
			if got != tt.want {
				t.Errorf("Negotiate(%q) = %d, want %d", tt.version, got, tt.want)
			}
			if b.Name() != "fake" || b.Version() != tt.version {
				t.Errorf("identity not forwarded: %s %s", b.Name(), b.Version())
			}
		})
	}
}

func TestInvocation_UnsupportedBackend(t *testing.T) {
	for _, level := range []int{0, 3, -1} {
		b := &fakeBackend{level: level}
		inv := NewInvocation(b, nil, nil)
		cb := NewAnalysisCallback(nil, nil)
		err := inv.Run(context.Background(), Request{Sources: []string{"A.scala"}, Callback: cb})
		if !errors.Is(err, ErrUnsupportedBackend) {
			t.Fatalf("level %d: err = %v, want ErrUnsupportedBackend", level, err)
		}
		if b.started.Load() != 0 || len(b.Compiled()) != 0 {
			t.Errorf("level %d: backend touched sources", level)
		}
		if inv.State() != StateFailed {
			t.Errorf("level %d: state = %s, want failed", level, inv.State())
		}
	}
}

func TestInvocation_Levels(t *testing.T) {
	for _, level := range []int{LevelPerUnit, LevelBatch} {
		t.Run(map[int]string{LevelPerUnit: "per-unit", LevelBatch: "batch"}[level], func(t *testing.T) {
			dir := t.TempDir()
			b := &fakeBackend{level: level}
			b.compile = func(_ context.Context, src string, cb Callback, rep Reporter) error {
				cb.StartSource(src)
				cb.API(src, analysis.NewAPISummary("api of "+src, false), []string{strings.TrimSuffix(src, ".scala")})
				cb.GeneratedProduct(src, writeProduct(t, dir, src))
				if src == "B.scala" {
					cb.SourceDependency("B.scala", "A.scala")
					rep.Report(Problem{Severity: SeverityWarning, Message: "unused import"})
				}
				return nil
			}
			cb := NewAnalysisCallback(stamp.NewStamper(), map[string]stamp.Stamp{
				"A.scala": stamp.Hash("a"),
				"B.scala": stamp.Hash("b"),
			})
			rep := NewCollectingReporter(nil)
			inv := NewInvocation(b, nil, nil)

			err := inv.Run(context.Background(), Request{
				Sources:  []string{"A.scala", "B.scala"},
				Output:   SingleOutput(dir),
				Callback: cb,
				Reporter: rep,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if inv.State() != StateCompleted {
				t.Errorf("state = %s, want completed", inv.State())
			}
			if got := b.Compiled(); !slices.Equal(got, []string{"A.scala", "B.scala"}) {
				t.Errorf("compiled = %v", got)
			}
			if b.closed.Load() != 1 {
				t.Errorf("uncached instance not closed")
			}

			a := cb.Analysis()
			info, ok := a.Source("A.scala")
			if !ok || info.Stamp != stamp.Hash("a") {
				t.Fatalf("A.scala info = %+v, %v", info, ok)
			}
			if len(info.Products) != 1 || info.Products[0].Stamp.Form != stamp.FormLastModified {
				t.Errorf("A.scala products = %+v", info.Products)
			}
			if got := a.DirectDependents([]string{"A.scala"}); !slices.Equal(got, []string{"B.scala"}) {
				t.Errorf("dependents of A = %v", got)
			}
			if len(cb.Products()) != 2 {
				t.Errorf("products = %v", cb.Products())
			}
			if rep.HasErrors() || len(rep.Problems()) != 1 {
				t.Errorf("problems = %+v", rep.Problems())
			}
		})
	}
}

func TestInvocation_DiagnosticsDoNotFail(t *testing.T) {
	b := &fakeBackend{level: LevelPerUnit}
	b.compile = func(_ context.Context, src string, _ Callback, rep Reporter) error {
		rep.Report(Problem{Severity: SeverityError, Message: "type mismatch", Position: Position{Path: src, Line: 3}})
		return nil
	}
	rep := NewCollectingReporter(nil)
	inv := NewInvocation(b, nil, nil)
	if err := inv.Run(context.Background(), Request{Sources: []string{"A.scala"}, Reporter: rep}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.HasErrors() {
		t.Error("error diagnostic not collected")
	}
	if inv.State() != StateCompleted {
		t.Errorf("state = %s, want completed", inv.State())
	}
	if got := rep.Problems()[0].Position.String(); got != "A.scala:3" {
		t.Errorf("position = %q", got)
	}
}

func TestInvocation_ReportingState(t *testing.T) {
	b := &fakeBackend{level: LevelPerUnit}
	var seen State
	var inv *Invocation
	b.compile = func(_ context.Context, _ string, _ Callback, rep Reporter) error {
		rep.Report(Problem{Severity: SeverityInfo, Message: "note"})
		seen = inv.State()
		return nil
	}
	inv = NewInvocation(b, nil, nil)
	if err := inv.Run(context.Background(), Request{Sources: []string{"A.scala"}}); err != nil {
		t.Fatal(err)
	}
	if seen != StateReporting {
		t.Errorf("state during report = %s, want reporting", seen)
	}
}

func TestInvocation_Cancellation(t *testing.T) {
	for _, level := range []int{LevelPerUnit, LevelBatch} {
		b := &fakeBackend{level: level}
		p := &stopAfter{n: 1}
		inv := NewInvocation(b, nil, nil)
		err := inv.Run(context.Background(), Request{
			Sources:  []string{"A.scala", "B.scala", "C.scala"},
			Progress: p,
		})
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("level %d: err = %v, want ErrCancelled", level, err)
		}
		if got := b.Compiled(); !slices.Equal(got, []string{"A.scala"}) {
			t.Errorf("level %d: compiled = %v, want only A.scala", level, got)
		}
		if inv.State() != StateFailed {
			t.Errorf("level %d: state = %s", level, inv.State())
		}
	}
}

func TestInvocation_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBackend{level: LevelPerUnit}
	b.compile = func(context.Context, string, Callback, Reporter) error {
		cancel()
		return nil
	}
	err := Compile(ctx, b, nil, Request{Sources: []string{"A.scala", "B.scala"}}, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if got := b.Compiled(); len(got) != 1 {
		t.Errorf("compiled = %v", got)
	}
}

func TestInvocation_BackendFailure(t *testing.T) {
	cache, err := NewInstanceCache(2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	dir := t.TempDir()
	crash := errors.New("segfault")
	b := &fakeBackend{level: LevelPerUnit}
	b.compile = func(_ context.Context, src string, cb Callback, _ Reporter) error {
		if src == "B.scala" {
			return crash
		}
		cb.GeneratedProduct(src, writeProduct(t, dir, src))
		return nil
	}
	cb := NewAnalysisCallback(nil, nil)
	inv := NewInvocation(b, cache, nil)
	err = inv.Run(context.Background(), Request{
		Sources:  []string{"A.scala", "B.scala"},
		Settings: Settings{Backend: "fake"},
		Callback: cb,
	})

	var be *BackendError
	if !errors.As(err, &be) || !errors.Is(err, crash) {
		t.Fatalf("err = %v, want BackendError wrapping crash", err)
	}
	if inv.State() != StateFailed {
		t.Errorf("state = %s", inv.State())
	}
	if got := cb.Products(); len(got) != 1 {
		t.Errorf("facts before the failure were lost: %v", got)
	}
	if cache.Len() != 0 || b.closed.Load() != 1 {
		t.Errorf("failed instance not evicted: len=%d closed=%d", cache.Len(), b.closed.Load())
	}
}

func TestInvocation_PanicIsBackendError(t *testing.T) {
	b := &fakeBackend{level: LevelBatch}
	b.compile = func(context.Context, string, Callback, Reporter) error {
		panic("boom")
	}
	err := Compile(context.Background(), b, nil, Request{Sources: []string{"A.scala"}}, nil)
	var be *BackendError
	if !errors.As(err, &be) || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestInvocation_SingleUse(t *testing.T) {
	inv := NewInvocation(&fakeBackend{level: LevelPerUnit}, nil, nil)
	if err := inv.Run(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if err := inv.Run(context.Background(), Request{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Run err = %v, want ErrInvalidState", err)
	}
}

func TestInstanceCache(t *testing.T) {
	cache, err := NewInstanceCache(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := &fakeBackend{level: LevelPerUnit}
	ctx := context.Background()
	s1 := Settings{Backend: "fake", Options: []string{"-deprecation"}}
	s2 := Settings{Backend: "fake", Options: []string{"-feature"}}

	t.Run("reuses warm instance", func(t *testing.T) {
		for range 3 {
			if err := Compile(ctx, b, cache, Request{Settings: s1, Sources: []string{"A.scala"}}, nil); err != nil {
				t.Fatal(err)
			}
		}
		if b.started.Load() != 1 {
			t.Errorf("started = %d, want 1", b.started.Load())
		}
	})

	t.Run("evicts and closes", func(t *testing.T) {
		if _, hit, err := cache.GetOrCreate(ctx, b, s2); err != nil || hit {
			t.Fatalf("GetOrCreate = hit %v, err %v", hit, err)
		}
		if b.closed.Load() != 1 || cache.Len() != 1 {
			t.Errorf("closed = %d, len = %d", b.closed.Load(), cache.Len())
		}
	})

	t.Run("close purges", func(t *testing.T) {
		cache.Close()
		if b.closed.Load() != 2 || cache.Len() != 0 {
			t.Errorf("closed = %d, len = %d", b.closed.Load(), cache.Len())
		}
	})

	t.Run("start failure", func(t *testing.T) {
		bad := &fakeBackend{level: LevelPerUnit, startErr: errors.New("no jvm")}
		_, _, err := cache.GetOrCreate(ctx, bad, s1)
		var be *BackendError
		if !errors.As(err, &be) {
			t.Errorf("err = %v, want BackendError", err)
		}
	})
}

func TestSettingsKey(t *testing.T) {
	a := Settings{Backend: "scalac", Version: "v2.13.0", Classpath: []string{"a.jar", "b.jar"}}
	b := a
	b.Classpath = []string{"a.jarb.jar"}
	if a.Key() == b.Key() {
		t.Error("classpath boundaries not part of the key")
	}
	if a.Key() != (Settings{Backend: "scalac", Version: "v2.13.0", Classpath: []string{"a.jar", "b.jar"}}).Key() {
		t.Error("key not stable")
	}
}

func TestOrderSources(t *testing.T) {
	srcs := []string{"A.scala", "B.java", "C.scala", "D.java"}
	tests := []struct {
		order options.CompileOrder
		want  []string
	}{
		{options.OrderMixed, srcs},
		{options.OrderForeignFirst, []string{"B.java", "D.java", "A.scala", "C.scala"}},
		{options.OrderForeignLast, []string{"A.scala", "C.scala", "B.java", "D.java"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			if got := OrderSources(srcs, tt.order, nil); !slices.Equal(got, tt.want) {
				t.Errorf("OrderSources = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutputFor(t *testing.T) {
	out := Output{
		Dir: "/out/default",
		Groups: []OutputGroup{
			{SourceDir: "/src", OutputDir: "/out/main"},
			{SourceDir: "/src/gen", OutputDir: "/out/gen"},
		},
	}
	cases := map[string]string{
		"/src/a/A.scala":   "/out/main",
		"/src/gen/G.scala": "/out/gen",
		"/other/X.scala":   "/out/default",
		"/srcx/Y.scala":    "/out/default",
	}
	for src, want := range cases {
		if got := out.For(src); got != want {
			t.Errorf("For(%s) = %s, want %s", src, got, want)
		}
	}
	if got := out.Dirs(); !slices.Equal(got, []string{"/out/default", "/out/gen", "/out/main"}) {
		t.Errorf("Dirs = %v", got)
	}
}
