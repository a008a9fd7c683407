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
	"log/slog"
	"runtime"
	"time"

	"github.com/AleutianAI/incremental/services/incremental/artifact"
	"github.com/AleutianAI/incremental/services/incremental/classpath"
	"github.com/AleutianAI/incremental/services/incremental/compiler"
	"github.com/AleutianAI/incremental/services/incremental/options"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
	"github.com/AleutianAI/incremental/services/incremental/store"
)

// DefaultMaxRounds bounds the number of compilation rounds in one run.
const DefaultMaxRounds = 64

// Hooks let a host tool replace parts of the session without wrapping it.
// Every field is optional.
type Hooks struct {
	// Lookup answers classpath analysis queries before the built-in
	// locator, for analyses the host already holds.
	Lookup classpath.AnalysisLocator

	// ArtifactManager wraps or replaces the artifact manager built for the
	// run. It receives the built-in manager.
	ArtifactManager func(base artifact.Manager) artifact.Manager
}

// Config describes a project and how to build it.
type Config struct {
	// Options are the incremental options. Zero value means
	// options.Default().
	Options options.Options

	// Root is the project root used for portable analysis paths.
	Root string

	// Sources are every source of the project.
	Sources []string

	// Classpath entries, in lookup order.
	Classpath []string

	// Output says where artifacts land.
	Output compiler.Output

	// CompilerOptions are raw flags handed to the backend.
	CompilerOptions []string

	// Order arranges mixed-language sources. Empty means mixed.
	Order options.CompileOrder

	// ForeignExtensions identify the secondary language's sources.
	ForeignExtensions []string

	// Backend is the compiler to drive.
	Backend compiler.Backend

	// Instances caches warm compiler instances across runs. Optional.
	Instances *compiler.InstanceCache

	// Blobs persist the analysis. Nil disables persistence, so every run
	// is a full build.
	Blobs store.Blobs

	// AnalysisKey names the analysis in Blobs. Defaults to "default".
	AnalysisKey string

	// Locator finds the analyses of upstream classpath entries. Optional.
	Locator classpath.AnalysisLocator

	// Scanner reads classpath entries. Defaults to classpath.FSScanner.
	Scanner classpath.Scanner

	// Stamper stamps files. Defaults to stamp.NewStamper().
	Stamper *stamp.Stamper

	// Reporter also receives every diagnostic. Optional.
	Reporter compiler.Reporter

	// Progress observes compilation and may cancel it. Optional.
	Progress compiler.Progress

	// Hooks are host overrides.
	Hooks Hooks

	// LockWait is how long to wait for another session holding the output
	// lock. Zero fails immediately.
	LockWait time.Duration

	// StampWorkers bounds parallel stamping. Defaults to GOMAXPROCS.
	StampWorkers int

	// MaxRounds defaults to DefaultMaxRounds.
	MaxRounds int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every optional field at its default.
func DefaultConfig() Config {
	return Config{
		Options:      options.Default(),
		AnalysisKey:  "default",
		Scanner:      classpath.FSScanner{},
		StampWorkers: runtime.GOMAXPROCS(0),
		MaxRounds:    DefaultMaxRounds,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Options.Equal(options.Options{}) {
		c.Options = d.Options
	}
	if c.AnalysisKey == "" {
		c.AnalysisKey = d.AnalysisKey
	}
	if c.Scanner == nil {
		c.Scanner = d.Scanner
	}
	if c.Stamper == nil {
		c.Stamper = stamp.NewStamper()
	}
	if c.StampWorkers <= 0 {
		c.StampWorkers = d.StampWorkers
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.Order == "" {
		c.Order = options.OrderMixed
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
