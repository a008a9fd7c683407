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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/incremental/pkg/validation"
	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/apidiff"
	"github.com/AleutianAI/incremental/services/incremental/classpath"
	"github.com/AleutianAI/incremental/services/incremental/compiler"
	"github.com/AleutianAI/incremental/services/incremental/lock"
	"github.com/AleutianAI/incremental/services/incremental/mapper"
	"github.com/AleutianAI/incremental/services/incremental/policy"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
	"github.com/AleutianAI/incremental/services/incremental/store"
	"github.com/AleutianAI/incremental/services/incremental/telemetry"
)

var tracer = otel.Tracer("incremental.session")

// Result summarises a run.
type Result struct {
	RunID string

	// Rounds is the number of compiler invocations.
	Rounds int

	// Recompiled lists every source compiled at least once, sorted.
	Recompiled []string

	// FullBuild is true when no usable previous analysis existed.
	FullBuild bool

	// Escalated is true when the fraction rule forced a full rebuild.
	Escalated bool

	// Changes is what differed from the previous analysis.
	Changes analysis.Changes

	// Problems are every diagnostic reported.
	Problems []compiler.Problem

	// Persisted is true when the new analysis was saved.
	Persisted bool
}

// Session builds one project. A Session may Run many times, one run at a
// time.
type Session struct {
	cfg     Config
	root    string
	sources []string
	setup   analysis.Setup

	mapper mapper.Mapper
	store  *store.AnalysisStore
	lookup classpath.Lookup
	policy *policy.Policy
	differ *apidiff.Differ
	dumper *apidiff.Dumper
	logger *slog.Logger

	mu sync.Mutex
}

// New validates cfg and prepares a session.
//
// # Description
//
// Fills defaults, resolves paths to absolute form, selects the portability
// mapper from the options, and wires the analysis store and classpath
// lookup. A deprecated compile order is accepted with a warning.
//
// # Outputs
//
//   - *Session: Ready to Run.
//   - error: ErrInvalidConfig when the backend, root or output is missing.
func New(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Backend == nil {
		return nil, configError("backend is required")
	}
	if cfg.Root == "" {
		return nil, configError("project root is required")
	}
	if len(cfg.Output.Dirs()) == 0 {
		return nil, configError("output directory is required")
	}
	if err := validation.ValidateKey(cfg.AnalysisKey); err != nil {
		return nil, configError("%v", err)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, configError("resolving root %s: %v", cfg.Root, err)
	}
	sources, err := absAll(cfg.Sources)
	if err != nil {
		return nil, configError("resolving sources: %v", err)
	}
	slices.Sort(sources)
	sources = slices.Compact(sources)

	logger := cfg.Logger.With("component", "session.Session")
	if cfg.Order.Deprecated() {
		logger.Warn("compile order is deprecated and may be removed",
			slog.String("order", string(cfg.Order)))
	}

	s := &Session{
		cfg:     cfg,
		root:    root,
		sources: sources,
		mapper:  mapper.ForOptions(cfg.Options, root),
		policy:  policy.New(cfg.Options, cfg.Logger),
		differ:  apidiff.New(cfg.Options, cfg.Logger),
		dumper:  apidiff.NewDumper(cfg.Options),
		logger:  logger,
	}
	if cfg.Blobs != nil {
		s.store = store.NewAnalysisStore(cfg.Blobs, s.mapper, cfg.Logger)
	}

	var lookup classpath.Lookup = classpath.NewCache(classpath.Config{
		Scanner: cfg.Scanner,
		Locator: cfg.Locator,
		Logger:  cfg.Logger,
	})
	if cfg.Hooks.Lookup != nil {
		lookup = classpath.Override(lookup, cfg.Hooks.Lookup)
	}
	s.lookup = lookup

	var sourceDirs []string
	for _, g := range cfg.Output.Groups {
		sourceDirs = append(sourceDirs, g.SourceDir)
	}
	s.setup = analysis.Setup{
		OutputDirs:      cfg.Output.Dirs(),
		SourceDirs:      sourceDirs,
		Classpath:       slices.Clone(cfg.Classpath),
		CompilerOptions: slices.Clone(cfg.CompilerOptions),
		Order:           cfg.Order,
		StoreAPIs:       cfg.Options.StoreAPIs(),
		Extra:           cfg.Options.Extras(),
	}
	return s, nil
}

// Mapper returns the portability mapper selected for the project.
func (s *Session) Mapper() mapper.Mapper { return s.mapper }

// Lookup returns the classpath lookup handed to the backend.
func (s *Session) Lookup() classpath.Lookup { return s.lookup }

// Run performs one incremental build.
//
// # Outputs
//
//   - Result: Always populated as far as the run got.
//   - error: nil on success. ErrCompilationFailed when the compiler
//     reported errors; compiler.ErrUnsupportedBackend, compiler.ErrCancelled,
//     *compiler.BackendError or an artifact I/O error for fatal failures;
//     lock.ErrLocked when another session holds the output. Artifacts are
//     rolled back on every error after compilation started.
func (s *Session) Run(ctx context.Context) (res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	res.RunID = runID
	ctx, span := tracer.Start(ctx, "session.Session.Run",
		trace.WithAttributes(
			attribute.String("session.run_id", runID),
			attribute.Int("session.sources", len(s.sources)),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, s.logger.With(slog.String("run_id", runID)))

	if err := initMetrics(); err != nil {
		logger.Warn("session metrics unavailable", slog.String("error", err.Error()))
	}
	start := time.Now()
	defer func() {
		recordRun(ctx, res, time.Since(start), err)
		span.SetAttributes(
			attribute.Int("session.rounds", res.Rounds),
			attribute.Bool("session.escalated", res.Escalated),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	locks, err := s.acquireLocks(ctx, runID, logger)
	if err != nil {
		return res, err
	}
	defer releaseLocks(locks, logger)

	prev := s.loadPrevious(ctx, logger)
	res.FullBuild = prev == nil

	stamps, err := stampAll(ctx, s.sources, s.cfg.StampWorkers, s.cfg.Stamper.Source)
	if err != nil {
		return res, fmt.Errorf("stamping sources: %w", err)
	}
	var binStamps map[string]stamp.Stamp
	if prev != nil {
		binStamps, err = stampAll(ctx, slices.Sorted(maps.Keys(prev.Binaries)), s.cfg.StampWorkers, s.cfg.Stamper.Binary)
		if err != nil {
			return res, fmt.Errorf("stamping classpath: %w", err)
		}
	}
	res.Changes = analysis.Diff(prev, stamps, binStamps)

	mgr, err := newArtifactManager(s.cfg.Output.Dirs(), s.cfg.Options.ResolveArtifactManagerMode(), runID, s.cfg)
	if err != nil {
		return res, err
	}

	b := &build{
		s:        s,
		logger:   logger,
		mgr:      mgr,
		reporter: compiler.NewCollectingReporter(logger),
		stamps:   stamps,
		prev:     prev,
		res:      &res,
	}
	if prev != nil {
		b.current = prev.Clone()
	} else {
		b.current = analysis.New()
	}

	buildErr := b.run(ctx)
	res.Problems = b.reporter.Problems()
	res.Recompiled = b.recompiledSorted()

	if buildErr != nil {
		if cerr := mgr.Complete(context.WithoutCancel(ctx), false); cerr != nil {
			buildErr = errors.Join(buildErr, cerr)
		}
		logger.Warn("incremental run failed",
			slog.Int("rounds", res.Rounds),
			slog.String("error", buildErr.Error()),
		)
		return res, buildErr
	}
	if err := mgr.Complete(ctx, true); err != nil {
		return res, err
	}

	res.Persisted = s.persist(ctx, b.current, logger)
	logger.Info("incremental run finished",
		slog.Int("rounds", res.Rounds),
		slog.Int("recompiled", len(res.Recompiled)),
		slog.Bool("full_build", res.FullBuild),
		slog.Bool("escalated", res.Escalated),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// loadPrevious returns the usable previous analysis or nil. Store failures
// degrade to a full rebuild.
func (s *Session) loadPrevious(ctx context.Context, logger *slog.Logger) *analysis.Analysis {
	if s.store == nil {
		return nil
	}
	if !s.cfg.Options.Enabled() {
		logger.Info("incremental compilation disabled, rebuilding everything")
		return nil
	}
	c, found, err := s.store.Load(ctx, s.cfg.AnalysisKey)
	if err != nil {
		logger.Warn("loading previous analysis failed, full rebuild required",
			slog.String("error", err.Error()))
		return nil
	}
	if !found {
		return nil
	}
	if ok, reason := s.setup.Compare(c.Setup, s.cfg.Options); !ok {
		logger.Info("previous analysis discarded, full rebuild required",
			slog.String("reason", reason))
		return nil
	}
	return c.Analysis
}

// persist saves a. A failed save is logged; the next run then sees the
// older analysis and recompiles whatever changed since it.
func (s *Session) persist(ctx context.Context, a *analysis.Analysis, logger *slog.Logger) bool {
	if s.store == nil {
		return false
	}
	pruneBinaries(a)
	if !s.cfg.Options.StoreAPIs() {
		a = a.WithoutAPIText()
	}
	if err := s.store.Save(ctx, s.cfg.AnalysisKey, analysis.NewContents(a, s.setup)); err != nil {
		logger.Error("persisting analysis failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *Session) acquireLocks(ctx context.Context, runID string, logger *slog.Logger) ([]*lock.Lock, error) {
	var held []*lock.Lock
	for _, dir := range s.cfg.Output.Dirs() {
		var l *lock.Lock
		var err error
		if s.cfg.LockWait > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
			l, err = lock.Wait(waitCtx, dir, runID, 0, s.cfg.Logger)
			cancel()
		} else {
			l, err = lock.Acquire(dir, runID, s.cfg.Logger)
		}
		if err != nil {
			releaseLocks(held, logger)
			return nil, err
		}
		held = append(held, l)
	}
	return held, nil
}

func releaseLocks(locks []*lock.Lock, logger *slog.Logger) {
	for i := len(locks) - 1; i >= 0; i-- {
		if err := locks[i].Release(); err != nil {
			logger.Warn("releasing output lock failed", slog.String("error", err.Error()))
		}
	}
}

// stampAll stamps paths with at most workers goroutines.
func stampAll(ctx context.Context, paths []string, workers int, fn func(string) (stamp.Stamp, error)) (map[string]stamp.Stamp, error) {
	out := make(map[string]stamp.Stamp, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := fn(p)
			if err != nil {
				return err
			}
			mu.Lock()
			out[p] = st
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// pruneBinaries forgets stamps of binaries nothing depends on any more.
func pruneBinaries(a *analysis.Analysis) {
	for bin := range a.Binaries {
		if len(a.BinaryDeps.Reverse(bin)) == 0 {
			delete(a.Binaries, bin)
		}
	}
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}
