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
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/incremental/services/incremental/options"
)

// DependencyChanges describes what changed outside the sources since the
// previous run. Backends use it to decide per-unit work.
type DependencyChanges struct {
	ModifiedBinaries []string
	ModifiedClasses  []string
}

// IsEmpty reports whether nothing changed.
func (c DependencyChanges) IsEmpty() bool {
	return len(c.ModifiedBinaries) == 0 && len(c.ModifiedClasses) == 0
}

// OutputGroup maps one source directory to its output directory.
type OutputGroup struct {
	SourceDir string
	OutputDir string
}

// Output says where artifacts land: either a single directory, or one
// directory per source directory.
type Output struct {
	Dir    string
	Groups []OutputGroup
}

// SingleOutput returns an Output writing everything to dir.
func SingleOutput(dir string) Output { return Output{Dir: dir} }

// Dirs returns every output directory, sorted and de-duplicated.
func (o Output) Dirs() []string {
	var out []string
	if o.Dir != "" {
		out = append(out, o.Dir)
	}
	for _, g := range o.Groups {
		out = append(out, g.OutputDir)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// For returns the output directory for source. With groups, the group
// with the longest matching source directory wins; an unmatched source
// falls back to Dir.
func (o Output) For(source string) string {
	best, bestLen := o.Dir, -1
	for _, g := range o.Groups {
		rel, err := filepath.Rel(g.SourceDir, source)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if len(g.SourceDir) > bestLen {
			best, bestLen = g.OutputDir, len(g.SourceDir)
		}
	}
	return best
}

// DefaultForeignExtensions are the source extensions compiled by the
// secondary compiler of a mixed-language project.
var DefaultForeignExtensions = []string{".java"}

// OrderSources arranges sources for a compile order. Mixed keeps the input
// order; ForeignFirst moves sources with a foreign extension to the front;
// ForeignLast moves them to the back. The relative order within each group
// is preserved.
func OrderSources(sources []string, order options.CompileOrder, foreignExt []string) []string {
	if order == options.OrderMixed || order == "" {
		return slices.Clone(sources)
	}
	if len(foreignExt) == 0 {
		foreignExt = DefaultForeignExtensions
	}
	var primary, foreign []string
	for _, s := range sources {
		if slices.Contains(foreignExt, filepath.Ext(s)) {
			foreign = append(foreign, s)
		} else {
			primary = append(primary, s)
		}
	}
	if order == options.OrderForeignFirst {
		return append(foreign, primary...)
	}
	return append(primary, foreign...)
}
