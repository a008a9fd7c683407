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
	"slices"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/artifact"
	"github.com/AleutianAI/incremental/services/incremental/compiler"
	"github.com/AleutianAI/incremental/services/incremental/policy"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// build is the state of one Run.
type build struct {
	s        *Session
	logger   *slog.Logger
	mgr      artifact.Manager
	reporter *compiler.CollectingReporter
	stamps   map[string]stamp.Stamp
	prev     *analysis.Analysis
	current  *analysis.Analysis
	res      *Result

	recompiled map[string]struct{}
	// stale holds products of removed sources, deleted with the first
	// round's products.
	stale []string
}

func (b *build) run(ctx context.Context) error {
	b.recompiled = make(map[string]struct{})
	changes := b.res.Changes

	b.removeSources(changes.Removed)
	depChanges := compiler.DependencyChanges{
		ModifiedBinaries: changes.ModifiedBinaries,
		ModifiedClasses:  b.modifiedClasses(ctx, changes.ModifiedBinaries),
	}

	full := b.prev == nil
	toCompile := b.initialInvalidation(changes)
	total := len(b.s.sources)

	for step := 0; len(toCompile) > 0; step++ {
		if step >= b.s.cfg.MaxRounds {
			return fmt.Errorf("%w after %d rounds", ErrTooManyRounds, step)
		}
		if !full && b.s.policy.Decide(len(toCompile), total) == policy.EscalateFullRebuild {
			b.logger.Info("invalidated share above threshold, escalating to full rebuild",
				slog.Int("invalidated", len(toCompile)),
				slog.Int("total", total),
				slog.Float64("fraction", b.s.cfg.Options.RecompileAllFraction()),
			)
			toCompile = b.s.sources
			full = true
			b.res.Escalated = true
		}

		apiChanged, macroChanged, err := b.round(ctx, step, toCompile, depChanges)
		if err != nil {
			return err
		}
		if full {
			return nil
		}

		next := b.s.policy.Expand(b.current, apiChanged, step)
		next = append(next, b.s.policy.MacroDependents(b.current, macroChanged)...)
		toCompile = b.pending(next, toCompile)
	}
	return b.deleteProducts(ctx, nil)
}

// initialInvalidation is every added or modified source, the dependents
// of changed binaries, and the direct dependents of removed sources.
func (b *build) initialInvalidation(changes analysis.Changes) []string {
	if b.prev == nil {
		return b.s.sources
	}
	var out []string
	out = append(out, changes.Added...)
	out = append(out, changes.Modified...)
	out = append(out, b.prev.DependentsOfBinaries(changes.ModifiedBinaries)...)
	out = append(out, b.prev.DirectDependents(changes.Removed)...)
	return b.pending(out, nil)
}

// pending returns the sorted, de-duplicated members of srcs that still
// exist and are not in exclude.
func (b *build) pending(srcs, exclude []string) []string {
	var out []string
	for _, src := range srcs {
		if _, ok := b.stamps[src]; !ok || slices.Contains(exclude, src) {
			continue
		}
		out = append(out, src)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (b *build) removeSources(removed []string) {
	if len(removed) == 0 {
		return
	}
	b.stale = b.current.Products(removed)
	for _, src := range removed {
		b.current.Remove(src)
	}
	b.logger.Debug("removed sources forgotten", slog.Int("count", len(removed)))
}

// deleteProducts removes products together with any pending products of
// removed sources in a single Delete call.
func (b *build) deleteProducts(ctx context.Context, products []string) error {
	paths := append(b.stale, products...)
	b.stale = nil
	if len(paths) == 0 {
		return nil
	}
	return b.mgr.Delete(ctx, paths)
}

// modifiedClasses lists the classes of changed classpath entries whose
// producing analysis is known.
func (b *build) modifiedClasses(ctx context.Context, bins []string) []string {
	var classes []string
	for _, bin := range bins {
		if a, ok := b.s.lookup.Analysis(ctx, bin); ok {
			classes = append(classes, a.ClassesOf(a.SourcePaths())...)
		}
	}
	slices.Sort(classes)
	return slices.Compact(classes)
}

// round compiles sources once and folds the result into the current
// analysis. It returns the sources whose API changed and the changed
// macro-defining sources.
func (b *build) round(ctx context.Context, step int, sources []string, changes compiler.DependencyChanges) (apiChanged, macroChanged []string, err error) {
	cfg := b.s.cfg
	logger := b.logger.With(slog.Int("round", step+1))
	logger.Info("compiling", slog.Int("sources", len(sources)))

	if err := b.deleteProducts(ctx, b.current.Products(sources)); err != nil {
		return nil, nil, err
	}

	cb := compiler.NewAnalysisCallback(cfg.Stamper, b.stamps)
	inv := compiler.NewInvocation(cfg.Backend, cfg.Instances, cfg.Logger)
	runErr := inv.Run(ctx, compiler.Request{
		Sources: compiler.OrderSources(sources, cfg.Order, cfg.ForeignExtensions),
		Changes: changes,
		Settings: compiler.Settings{
			Backend:   cfg.Backend.Name(),
			Version:   cfg.Backend.Version(),
			Classpath: cfg.Classpath,
			Options:   cfg.CompilerOptions,
		},
		Output:   cfg.Output,
		Callback: cb,
		Reporter: teeReporter{b.reporter, cfg.Reporter},
		Lookup:   b.s.lookup,
		Progress: cfg.Progress,
	})

	// Partial output is recorded even when the round failed so that
	// rollback removes it.
	if err := b.mgr.Generated(ctx, cb.Products()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	b.res.Rounds++
	for _, src := range sources {
		b.recompiled[src] = struct{}{}
	}
	recordRound(ctx, len(sources))

	if runErr != nil {
		return nil, nil, runErr
	}
	if b.reporter.HasErrors() {
		return nil, nil, ErrCompilationFailed
	}
	if err := cb.Err(); err != nil {
		return nil, nil, err
	}

	roundAnalysis := cb.Analysis()
	for _, src := range sources {
		after, ok := roundAnalysis.Source(src)
		if !ok {
			after = analysis.SourceInfo{Stamp: b.stamps[src]}
			roundAnalysis.Put(src, after)
		}
		before, had := b.current.Source(src)
		if had && before.API.Hash != after.API.Hash {
			apiChanged = append(apiChanged, src)
			b.s.differ.Log(src, before.API.Text, after.API.Text)
		}
		if after.API.Macro && (!had || before.Stamp != after.Stamp || before.API.Hash != after.API.Hash) {
			macroChanged = append(macroChanged, src)
		}
		if _, err := b.s.dumper.Dump(src, after.API.Text); err != nil {
			logger.Warn("api dump failed", slog.String("error", err.Error()))
		}
	}
	b.current.Merge(roundAnalysis)

	if cfg.Options.RelationsDebug() {
		logger.Debug("relations after round", slog.String("relations", b.current.RelationsString()))
	}
	logger.Debug("round finished",
		slog.Int("api_changed", len(apiChanged)),
		slog.Int("macro_changed", len(macroChanged)),
	)
	return apiChanged, macroChanged, nil
}

func (b *build) recompiledSorted() []string {
	out := make([]string, 0, len(b.recompiled))
	for src := range b.recompiled {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}

// teeReporter forwards diagnostics to the run's collector and to the
// caller's reporter.
type teeReporter struct {
	collect *compiler.CollectingReporter
	next    compiler.Reporter
}

func (t teeReporter) Report(p compiler.Problem) {
	t.collect.Report(p)
	if t.next != nil {
		t.next.Report(p)
	}
}
