// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy decides how far an invalidation spreads and when the
// incremental run gives up in favour of a full rebuild.
//
// Every rule reads only the immutable options; malformed options are
// rejected when the options are built, so evaluation never fails.
package policy

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/options"
)

// Decision is the outcome of the fraction rule.
type Decision int

const (
	ContinueIncremental Decision = iota
	EscalateFullRebuild
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case ContinueIncremental:
		return "continue-incremental"
	case EscalateFullRebuild:
		return "escalate-full-rebuild"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Policy applies the invalidation rules of one session.
//
// Thread Safety: Policy is immutable after construction and safe for
// concurrent use.
type Policy struct {
	opts   options.Options
	logger *slog.Logger
}

// New creates a policy over opts.
func New(opts options.Options, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{opts: opts, logger: logger.With("component", "policy.Policy")}
}

// Decide applies the fraction rule.
//
// # Description
//
// The run escalates when invalidated/total is strictly greater than the
// configured recompile-all fraction. Equality continues incrementally. A
// project with no sources never escalates.
//
// # Inputs
//
//   - invalidated: Number of distinct sources the next round would compile.
//   - total: Number of sources in the project.
//
// # Outputs
//
//   - Decision: ContinueIncremental or EscalateFullRebuild.
func (p *Policy) Decide(invalidated, total int) Decision {
	if total <= 0 || invalidated <= 0 {
		return ContinueIncremental
	}
	if float64(invalidated)/float64(total) > p.opts.RecompileAllFraction() {
		return EscalateFullRebuild
	}
	return ContinueIncremental
}

// Transitive reports whether expansion at step pulls in the full closure.
// Steps count completed rounds, starting at zero.
func (p *Policy) Transitive(step int) bool {
	return step >= p.opts.TransitiveStep()
}

// Expand returns the sources to recompile because the API of changed
// moved. Before the transitive step bound only direct dependents are
// returned; from then on the full closure is. changed itself is excluded.
func (p *Policy) Expand(a *analysis.Analysis, changed []string, step int) []string {
	if len(changed) == 0 || a == nil {
		return nil
	}
	if p.Transitive(step) {
		return a.TransitiveDependents(changed)
	}
	return a.DirectDependents(changed)
}

// MacroDependents applies the macro rule to sources that define macros and
// changed in this round.
//
// An explicit recompileOnMacroDef setting is obeyed as is. When unset the
// direct dependents are recompiled and, if logRecompileOnMacro is on, an
// informational record names them.
func (p *Policy) MacroDependents(a *analysis.Analysis, changedMacros []string) []string {
	if len(changedMacros) == 0 || a == nil {
		return nil
	}
	setting := p.opts.RecompileOnMacroDef()
	if !p.opts.ShouldRecompileOnMacroDef() {
		return nil
	}
	dependents := a.DirectDependents(changedMacros)
	if !setting.IsSet() && p.opts.LogRecompileOnMacro() && len(dependents) > 0 {
		p.logger.Info("recompiling dependents of changed macro definitions",
			slog.Any("macros", slices.Clone(changedMacros)),
			slog.Any("dependents", dependents),
		)
	}
	return dependents
}
