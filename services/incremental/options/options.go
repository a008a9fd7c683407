// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package options

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Literal defaults for every tunable.
const (
	DefaultTransitiveStep           = 3
	DefaultRecompileAllFraction     = 0.5
	DefaultRelationsDebug           = false
	DefaultAPIDebug                 = false
	DefaultAPIDiffContextSize       = 5
	DefaultUseCustomizedFileManager = false
	DefaultUseOptimizedSealed       = false
	DefaultStoreAPIs                = true
	DefaultEnabled                  = true
	DefaultLogRecompileOnMacro      = true
	DefaultStrictMode               = false
	DefaultAllowMachinePath         = true
	DefaultPipelining               = false

	// DefaultRecompileOnMacroDefImpl is used when RecompileOnMacroDef is unset:
	// recompile every direct dependent of a changed macro definition.
	DefaultRecompileOnMacroDefImpl = true
)

// Options is the immutable configuration of the incremental compiler.
//
// Construct with Default, FromFile, or Load, then derive variants with the
// With* methods. The zero value is not meaningful; always start from Default.
//
// Thread Safety: Options is a value; concurrent reads are safe.
type Options struct {
	transitiveStep           int
	recompileAllFraction     float64
	relationsDebug           bool
	apiDebug                 bool
	apiDiffContextSize       int
	apiDumpDirectory         string
	artifactManagerMode      ArtifactManagerMode
	useCustomizedFileManager bool
	recompileOnMacroDef      Tristate
	useOptimizedSealed       bool
	storeAPIs                bool
	enabled                  bool
	extra                    map[string]string
	logRecompileOnMacro      bool
	ignoredOptions           []string
	ignoredPatterns          []*regexp.Regexp
	strictMode               bool
	allowMachinePath         bool
	pipelining               bool
}

// Default returns the options with every field at its documented default.
func Default() Options {
	return Options{
		transitiveStep:           DefaultTransitiveStep,
		recompileAllFraction:     DefaultRecompileAllFraction,
		relationsDebug:           DefaultRelationsDebug,
		apiDebug:                 DefaultAPIDebug,
		apiDiffContextSize:       DefaultAPIDiffContextSize,
		artifactManagerMode:      ModeUnset,
		useCustomizedFileManager: DefaultUseCustomizedFileManager,
		recompileOnMacroDef:      TristateUnset,
		useOptimizedSealed:       DefaultUseOptimizedSealed,
		storeAPIs:                DefaultStoreAPIs,
		enabled:                  DefaultEnabled,
		extra:                    map[string]string{},
		logRecompileOnMacro:      DefaultLogRecompileOnMacro,
		ignoredOptions:           []string{},
		strictMode:               DefaultStrictMode,
		allowMachinePath:         DefaultAllowMachinePath,
		pipelining:               DefaultPipelining,
	}
}

// =============================================================================
// Accessors
// =============================================================================

// TransitiveStep is the number of direct-dependency rounds before the next
// expansion pulls in the full transitive closure.
func (o Options) TransitiveStep() int { return o.transitiveStep }

// RecompileAllFraction is the invalidated/total ratio above which the run
// escalates to a full rebuild.
func (o Options) RecompileAllFraction() float64 { return o.recompileAllFraction }

// RelationsDebug enables dumping dependency relations after each round.
func (o Options) RelationsDebug() bool { return o.relationsDebug }

// APIDebug enables logging API diffs for changed sources.
func (o Options) APIDebug() bool { return o.apiDebug }

// APIDiffContextSize is the number of context lines in API diffs.
func (o Options) APIDiffContextSize() int { return o.apiDiffContextSize }

// APIDumpDirectory returns the directory API summaries are dumped to, and
// whether one is configured.
func (o Options) APIDumpDirectory() (string, bool) {
	return o.apiDumpDirectory, o.apiDumpDirectory != ""
}

// ArtifactManagerMode is the configured mode, possibly ModeUnset.
func (o Options) ArtifactManagerMode() ArtifactManagerMode { return o.artifactManagerMode }

// UseCustomizedFileManager selects the transactional manager when the mode
// is unset.
func (o Options) UseCustomizedFileManager() bool { return o.useCustomizedFileManager }

// RecompileOnMacroDef is the raw tri-state macro policy.
func (o Options) RecompileOnMacroDef() Tristate { return o.recompileOnMacroDef }

// UseOptimizedSealed enables the narrower invalidation of sealed hierarchies.
func (o Options) UseOptimizedSealed() bool { return o.useOptimizedSealed }

// StoreAPIs keeps full API summaries in the persisted analysis.
func (o Options) StoreAPIs() bool { return o.storeAPIs }

// Enabled turns incremental compilation on. When false every run is full.
func (o Options) Enabled() bool { return o.enabled }

// LogRecompileOnMacro emits an info record naming macro-triggered dependents.
func (o Options) LogRecompileOnMacro() bool { return o.logRecompileOnMacro }

// StrictMode forbids machine-absolute paths in persisted state.
func (o Options) StrictMode() bool { return o.strictMode }

// AllowMachinePath permits persisting analysis through the identity mapper.
func (o Options) AllowMachinePath() bool { return o.allowMachinePath }

// Pipelining enables early-output pipelining in the backend.
func (o Options) Pipelining() bool { return o.pipelining }

// Extras returns a copy of the forward-compatible option map.
func (o Options) Extras() map[string]string { return maps.Clone(o.extra) }

// Extra looks up one forward-compatible option.
func (o Options) Extra(key string) (string, bool) {
	v, ok := o.extra[key]
	return v, ok
}

// IgnoredOptions returns a copy of the ignored-option patterns.
func (o Options) IgnoredOptions() []string { return slices.Clone(o.ignoredOptions) }

// ShouldRecompileOnMacroDef resolves the tri-state macro policy against the
// implementation default.
func (o Options) ShouldRecompileOnMacroDef() bool {
	return o.recompileOnMacroDef.OrElse(DefaultRecompileOnMacroDefImpl)
}

// ResolveArtifactManagerMode returns the effective mode: the configured one,
// or transactional when the customized file manager is requested, otherwise
// delete-immediately.
func (o Options) ResolveArtifactManagerMode() ArtifactManagerMode {
	if o.artifactManagerMode != ModeUnset {
		return o.artifactManagerMode
	}
	if o.useCustomizedFileManager {
		return ModeTransactional
	}
	return ModeDeleteImmediately
}

// =============================================================================
// Withers
// =============================================================================

// clone copies the reference-typed fields so the result shares nothing
// mutable with the receiver.
func (o Options) clone() Options {
	c := o
	c.extra = maps.Clone(o.extra)
	if c.extra == nil {
		c.extra = map[string]string{}
	}
	c.ignoredOptions = slices.Clone(o.ignoredOptions)
	c.ignoredPatterns = slices.Clone(o.ignoredPatterns)
	return c
}

// WithTransitiveStep returns a copy with the transitive step bound changed.
// The step must be non-negative.
func (o Options) WithTransitiveStep(step int) (Options, error) {
	if err := optionsValidate.Var(step, "gte=0"); err != nil {
		return o, fmt.Errorf("%w: transitive step %d must be >= 0", ErrInvalidOptions, step)
	}
	c := o.clone()
	c.transitiveStep = step
	return c, nil
}

// WithRecompileAllFraction returns a copy with the recompile-all fraction
// changed. The fraction must be within [0, 1].
func (o Options) WithRecompileAllFraction(fraction float64) (Options, error) {
	if err := optionsValidate.Var(fraction, "gte=0,lte=1"); err != nil {
		return o, fmt.Errorf("%w: recompile-all fraction %v must be within [0, 1]", ErrInvalidOptions, fraction)
	}
	c := o.clone()
	c.recompileAllFraction = fraction
	return c, nil
}

// WithAPIDiffContextSize returns a copy with the API diff context changed.
// The size must be non-negative.
func (o Options) WithAPIDiffContextSize(size int) (Options, error) {
	if err := optionsValidate.Var(size, "gte=0"); err != nil {
		return o, fmt.Errorf("%w: api diff context size %d must be >= 0", ErrInvalidOptions, size)
	}
	c := o.clone()
	c.apiDiffContextSize = size
	return c, nil
}

// WithIgnoredOptions returns a copy whose ignored-option patterns are
// replaced. Each pattern is a regular expression matched against the whole
// compiler option.
func (o Options) WithIgnoredOptions(patterns ...string) (Options, error) {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return o, err
	}
	c := o.clone()
	c.ignoredOptions = slices.Clone(patterns)
	if c.ignoredOptions == nil {
		c.ignoredOptions = []string{}
	}
	c.ignoredPatterns = compiled
	return c, nil
}

// WithRelationsDebug returns a copy with relations debugging toggled.
func (o Options) WithRelationsDebug(v bool) Options {
	c := o.clone()
	c.relationsDebug = v
	return c
}

// WithAPIDebug returns a copy with API debugging toggled.
func (o Options) WithAPIDebug(v bool) Options {
	c := o.clone()
	c.apiDebug = v
	return c
}

// WithAPIDumpDirectory returns a copy with the API dump directory set.
// An empty dir clears it.
func (o Options) WithAPIDumpDirectory(dir string) Options {
	c := o.clone()
	c.apiDumpDirectory = dir
	return c
}

// WithArtifactManagerMode returns a copy with the artifact manager mode set.
func (o Options) WithArtifactManagerMode(mode ArtifactManagerMode) Options {
	c := o.clone()
	c.artifactManagerMode = mode
	return c
}

// WithUseCustomizedFileManager returns a copy with the customized file
// manager toggled.
func (o Options) WithUseCustomizedFileManager(v bool) Options {
	c := o.clone()
	c.useCustomizedFileManager = v
	return c
}

// WithRecompileOnMacroDef returns a copy with the macro policy set.
func (o Options) WithRecompileOnMacroDef(v Tristate) Options {
	c := o.clone()
	c.recompileOnMacroDef = v
	return c
}

// WithUseOptimizedSealed returns a copy with optimized sealed invalidation
// toggled.
func (o Options) WithUseOptimizedSealed(v bool) Options {
	c := o.clone()
	c.useOptimizedSealed = v
	return c
}

// WithStoreAPIs returns a copy with API storage toggled.
func (o Options) WithStoreAPIs(v bool) Options {
	c := o.clone()
	c.storeAPIs = v
	return c
}

// WithEnabled returns a copy with incremental compilation toggled.
func (o Options) WithEnabled(v bool) Options {
	c := o.clone()
	c.enabled = v
	return c
}

// WithExtras returns a copy whose extra map is replaced by a copy of extra.
func (o Options) WithExtras(extra map[string]string) Options {
	c := o.clone()
	c.extra = maps.Clone(extra)
	if c.extra == nil {
		c.extra = map[string]string{}
	}
	return c
}

// WithExtra returns a copy with one extra option added or replaced.
func (o Options) WithExtra(key, value string) Options {
	c := o.clone()
	c.extra[key] = value
	return c
}

// WithLogRecompileOnMacro returns a copy with macro logging toggled.
func (o Options) WithLogRecompileOnMacro(v bool) Options {
	c := o.clone()
	c.logRecompileOnMacro = v
	return c
}

// WithStrictMode returns a copy with strict path mode toggled.
func (o Options) WithStrictMode(v bool) Options {
	c := o.clone()
	c.strictMode = v
	return c
}

// WithAllowMachinePath returns a copy with machine paths allowed or not.
func (o Options) WithAllowMachinePath(v bool) Options {
	c := o.clone()
	c.allowMachinePath = v
	return c
}

// WithPipelining returns a copy with pipelining toggled.
func (o Options) WithPipelining(v bool) Options {
	c := o.clone()
	c.pipelining = v
	return c
}

// =============================================================================
// Equality and option filtering
// =============================================================================

// Equal reports whether every field of o and other is equal. The extra map
// and the ignored-option list are compared by contents.
func (o Options) Equal(other Options) bool {
	return o.transitiveStep == other.transitiveStep &&
		o.recompileAllFraction == other.recompileAllFraction &&
		o.relationsDebug == other.relationsDebug &&
		o.apiDebug == other.apiDebug &&
		o.apiDiffContextSize == other.apiDiffContextSize &&
		o.apiDumpDirectory == other.apiDumpDirectory &&
		o.artifactManagerMode == other.artifactManagerMode &&
		o.useCustomizedFileManager == other.useCustomizedFileManager &&
		o.recompileOnMacroDef == other.recompileOnMacroDef &&
		o.useOptimizedSealed == other.useOptimizedSealed &&
		o.storeAPIs == other.storeAPIs &&
		o.enabled == other.enabled &&
		maps.Equal(o.extra, other.extra) &&
		o.logRecompileOnMacro == other.logRecompileOnMacro &&
		slices.Equal(o.ignoredOptions, other.ignoredOptions) &&
		o.strictMode == other.strictMode &&
		o.allowMachinePath == other.allowMachinePath &&
		o.pipelining == other.pipelining
}

// IsIgnoredOption reports whether a compiler option matches any ignored
// pattern and therefore does not count as a setup change.
func (o Options) IsIgnoredOption(opt string) bool {
	for _, re := range o.ignoredPatterns {
		if re.MatchString(opt) {
			return true
		}
	}
	return false
}

// FilterOptions returns opts without the ignored ones, preserving order.
func (o Options) FilterOptions(opts []string) []string {
	out := make([]string, 0, len(opts))
	for _, opt := range opts {
		if !o.IsIgnoredOption(opt) {
			out = append(out, opt)
		}
	}
	return out
}

// SameCompilerOptions reports whether two compiler option lists are equal
// once ignored options are removed.
func (o Options) SameCompilerOptions(a, b []string) bool {
	return slices.Equal(o.FilterOptions(a), o.FilterOptions(b))
}

// String renders the options for logs in a stable order.
func (o Options) String() string {
	keys := make([]string, 0, len(o.extra))
	for k := range o.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	extras := make([]string, 0, len(keys))
	for _, k := range keys {
		extras = append(extras, k+"="+o.extra[k])
	}
	return fmt.Sprintf(
		"Options{transitiveStep=%d recompileAllFraction=%v relationsDebug=%t apiDebug=%t "+
			"apiDiffContextSize=%d apiDumpDirectory=%q artifactManagerMode=%q useCustomizedFileManager=%t "+
			"recompileOnMacroDef=%s useOptimizedSealed=%t storeAPIs=%t enabled=%t extra=[%s] "+
			"logRecompileOnMacro=%t ignoredOptions=%v strictMode=%t allowMachinePath=%t pipelining=%t}",
		o.transitiveStep, o.recompileAllFraction, o.relationsDebug, o.apiDebug,
		o.apiDiffContextSize, o.apiDumpDirectory, o.artifactManagerMode, o.useCustomizedFileManager,
		o.recompileOnMacroDef, o.useOptimizedSealed, o.storeAPIs, o.enabled, strings.Join(extras, ","),
		o.logRecompileOnMacro, o.ignoredOptions, o.strictMode, o.allowMachinePath, o.pipelining,
	)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
