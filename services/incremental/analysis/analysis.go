// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis holds the persisted dependency graph of a project: for
// every source the products it generated, the summary of the API it
// exposes and its stamp, plus source-to-source and source-to-binary
// dependency edges.
//
// # Ownership
//
// An Analysis is owned by exactly one build session. It is read at session
// start, grown additively while rounds run and written back at the end. It
// is never shared between sessions and carries no locking.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// APISummary describes the public surface of one source.
//
// Hash is always present. Text is the rendered API and may be stripped
// before persistence when API storage is disabled; change detection only
// ever compares Hash.
type APISummary struct {
	Hash string `json:"hash"`

	Text string `json:"text,omitempty"`

	// Macro is true when the source defines a macro or other construct
	// that expands inside its dependents.
	Macro bool `json:"macro,omitempty"`
}

// NewAPISummary hashes text into a summary.
func NewAPISummary(text string, macro bool) APISummary {
	sum := sha256.Sum256([]byte(text))
	return APISummary{Hash: hex.EncodeToString(sum[:]), Text: text, Macro: macro}
}

// Product is one generated artifact and its stamp at generation time.
type Product struct {
	Path  string      `json:"path"`
	Stamp stamp.Stamp `json:"stamp"`
}

// SourceInfo is everything recorded about one compiled source.
type SourceInfo struct {
	Stamp    stamp.Stamp `json:"stamp"`
	Products []Product   `json:"products,omitempty"`
	API      APISummary  `json:"api"`

	// Classes are the fully qualified names defined by the source.
	Classes []string `json:"classes,omitempty"`
}

func (s SourceInfo) clone() SourceInfo {
	s.Products = slices.Clone(s.Products)
	s.Classes = slices.Clone(s.Classes)
	return s
}

// Analysis is the dependency graph of one project.
type Analysis struct {
	// Sources maps a source path to what was recorded when it compiled.
	Sources map[string]SourceInfo `json:"sources"`

	// SourceDeps relates a source to the sources it depends on.
	SourceDeps Relation `json:"sourceDeps"`

	// BinaryDeps relates a source to the classpath binaries it depends on.
	BinaryDeps Relation `json:"binaryDeps"`

	// Binaries holds the stamp of each depended-on binary as of the run
	// that recorded the analysis.
	Binaries map[string]stamp.Stamp `json:"binaries"`
}

// New creates an empty analysis.
func New() *Analysis {
	return &Analysis{
		Sources:    make(map[string]SourceInfo),
		SourceDeps: NewRelation(),
		BinaryDeps: NewRelation(),
		Binaries:   make(map[string]stamp.Stamp),
	}
}

// UnmarshalJSON decodes an analysis and guarantees non-nil collections.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	type plain Analysis
	p := plain(*New())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Analysis(p)
	if a.Sources == nil {
		a.Sources = make(map[string]SourceInfo)
	}
	if a.Binaries == nil {
		a.Binaries = make(map[string]stamp.Stamp)
	}
	a.SourceDeps.ensure()
	a.BinaryDeps.ensure()
	return nil
}

// Empty reports whether nothing has been recorded.
func (a *Analysis) Empty() bool {
	return a == nil || len(a.Sources) == 0
}

// Put records or replaces the information for src. Edges are unchanged.
func (a *Analysis) Put(src string, info SourceInfo) {
	a.Sources[src] = info.clone()
}

// Source returns the information recorded for src.
func (a *Analysis) Source(src string) (SourceInfo, bool) {
	info, ok := a.Sources[src]
	return info, ok
}

// AddSourceDependency records that from depends on source to.
func (a *Analysis) AddSourceDependency(from, to string) {
	if from == to {
		return
	}
	a.SourceDeps.Add(from, to)
}

// AddBinaryDependency records that src depends on binary bin with stamp s.
func (a *Analysis) AddBinaryDependency(src, bin string, s stamp.Stamp) {
	a.BinaryDeps.Add(src, bin)
	a.Binaries[bin] = s
}

// Remove forgets src together with every edge that mentions it.
func (a *Analysis) Remove(src string) {
	delete(a.Sources, src)
	a.SourceDeps.RemoveFrom(src)
	a.SourceDeps.RemoveTo(src)
	a.BinaryDeps.RemoveFrom(src)
}

// SourcePaths returns every recorded source, sorted.
func (a *Analysis) SourcePaths() []string {
	if a == nil {
		return nil
	}
	out := slices.Collect(maps.Keys(a.Sources))
	slices.Sort(out)
	return out
}

// Products returns the product paths of the given sources, sorted.
func (a *Analysis) Products(srcs []string) []string {
	var out []string
	for _, src := range srcs {
		for _, p := range a.Sources[src].Products {
			out = append(out, p.Path)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// DirectDependents returns the sources that depend directly on any of srcs,
// excluding srcs themselves.
//
// Outputs:
//
//	[]string - Sorted, de-duplicated dependents.
func (a *Analysis) DirectDependents(srcs []string) []string {
	in := toSet(srcs)
	seen := make(map[string]struct{})
	for _, src := range srcs {
		for _, dep := range a.SourceDeps.Reverse(src) {
			if _, skip := in[dep]; !skip {
				seen[dep] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

// TransitiveDependents returns the full closure of sources that depend on
// any of srcs, directly or indirectly, excluding srcs themselves.
//
// Description:
//
//	Breadth-first walk over the reverse source relation. Cycles are
//	handled by the visited set.
func (a *Analysis) TransitiveDependents(srcs []string) []string {
	in := toSet(srcs)
	visited := make(map[string]struct{}, len(srcs))
	queue := slices.Clone(srcs)
	for _, s := range srcs {
		visited[s] = struct{}{}
	}

	out := make(map[string]struct{})
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range a.SourceDeps.Reverse(cur) {
			if _, ok := visited[dep]; ok {
				continue
			}
			visited[dep] = struct{}{}
			if _, skip := in[dep]; !skip {
				out[dep] = struct{}{}
			}
			queue = append(queue, dep)
		}
	}
	return sortedKeys(out)
}

// DependentsOfBinaries returns the sources that depend on any of bins.
func (a *Analysis) DependentsOfBinaries(bins []string) []string {
	seen := make(map[string]struct{})
	for _, bin := range bins {
		for _, src := range a.BinaryDeps.Reverse(bin) {
			seen[src] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ClassesOf returns the class names defined by srcs, sorted.
func (a *Analysis) ClassesOf(srcs []string) []string {
	var out []string
	for _, src := range srcs {
		out = append(out, a.Sources[src].Classes...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Merge folds the analysis of one compilation round into a.
//
// Description:
//
//	Every source present in round replaces its previous information and
//	its outgoing edges in a. Sources not mentioned by round are kept as
//	they are, which makes merging additive across rounds.
//
// Inputs:
//
//	round - The analysis produced by a single round. Not modified.
func (a *Analysis) Merge(round *Analysis) {
	if round == nil {
		return
	}
	for src, info := range round.Sources {
		a.SourceDeps.RemoveFrom(src)
		a.BinaryDeps.RemoveFrom(src)
		a.Put(src, info)
	}
	for _, from := range round.SourceDeps.Domain() {
		for _, to := range round.SourceDeps.Forward(from) {
			a.AddSourceDependency(from, to)
		}
	}
	for _, from := range round.BinaryDeps.Domain() {
		for _, bin := range round.BinaryDeps.Forward(from) {
			a.BinaryDeps.Add(from, bin)
		}
	}
	maps.Copy(a.Binaries, round.Binaries)
}

// Clone returns a deep copy.
func (a *Analysis) Clone() *Analysis {
	c := New()
	for src, info := range a.Sources {
		c.Sources[src] = info.clone()
	}
	c.SourceDeps = a.SourceDeps.Clone()
	c.BinaryDeps = a.BinaryDeps.Clone()
	maps.Copy(c.Binaries, a.Binaries)
	return c
}

// WithoutAPIText returns a copy in which every API summary keeps its hash
// but drops its rendered text.
func (a *Analysis) WithoutAPIText() *Analysis {
	c := a.Clone()
	for src, info := range c.Sources {
		info.API.Text = ""
		c.Sources[src] = info
	}
	return c
}

// Equal compares two analyses by contents.
func (a *Analysis) Equal(other *Analysis) bool {
	if a.Empty() || other.Empty() {
		return a.Empty() == other.Empty()
	}
	if len(a.Sources) != len(other.Sources) {
		return false
	}
	for src, info := range a.Sources {
		o, ok := other.Sources[src]
		if !ok || o.Stamp != info.Stamp || o.API != info.API ||
			!slices.Equal(o.Products, info.Products) || !slices.Equal(o.Classes, info.Classes) {
			return false
		}
	}
	return a.SourceDeps.Equal(other.SourceDeps) &&
		a.BinaryDeps.Equal(other.BinaryDeps) &&
		maps.Equal(a.Binaries, other.Binaries)
}

// RelationsString renders the dependency relations for debug logs.
func (a *Analysis) RelationsString() string {
	var b strings.Builder
	b.WriteString("source dependencies:\n")
	for _, from := range a.SourceDeps.Domain() {
		fmt.Fprintf(&b, "  %s -> %s\n", from, strings.Join(a.SourceDeps.Forward(from), ", "))
	}
	b.WriteString("binary dependencies:\n")
	for _, from := range a.BinaryDeps.Domain() {
		fmt.Fprintf(&b, "  %s -> %s\n", from, strings.Join(a.BinaryDeps.Forward(from), ", "))
	}
	return b.String()
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}
