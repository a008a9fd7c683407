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
	"fmt"
	"sync/atomic"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/incremental/services/incremental/classpath"
)

// Bridge compatibility levels a Backend may declare.
const (
	// LevelUnsupported means the backend speaks no known protocol.
	LevelUnsupported = 0

	// LevelPerUnit backends compile one unit per call.
	LevelPerUnit = 1

	// LevelBatch backends compile a batch and checkpoint between units.
	LevelBatch = 2
)

// Backend is an adapted compiler.
type Backend interface {
	// Name identifies the backend in logs and cache keys.
	Name() string

	// Version is the backend's semantic version.
	Version() string

	// BridgeCompatibilityLevel reports which protocol the backend speaks.
	BridgeCompatibilityLevel() int

	// NewInstance starts a compiler configured by settings. The instance
	// must implement UnitInstance or BatchInstance matching the level.
	NewInstance(ctx context.Context, settings Settings) (Instance, error)
}

// Instance is a started compiler that can be reused across rounds.
type Instance interface {
	Close() error
}

// UnitInstance is the level 1 protocol.
type UnitInstance interface {
	Instance
	CompileUnit(ctx context.Context, unit Unit) error
}

// BatchInstance is the level 2 protocol.
type BatchInstance interface {
	Instance
	CompileBatch(ctx context.Context, batch *Batch) error
}

// Unit is one source handed to a level 1 backend.
type Unit struct {
	Source   string
	Changes  DependencyChanges
	Options  []string
	Output   Output
	Callback Callback
	Reporter Reporter

	// Lookup answers classpath membership queries. It may be nil.
	Lookup classpath.Lookup
}

// Batch is a whole round handed to a level 2 backend. The backend must
// call Checkpoint between units and stop when it returns an error.
type Batch struct {
	Sources  []string
	Changes  DependencyChanges
	Options  []string
	Output   Output
	Callback Callback
	Reporter Reporter

	// Lookup answers classpath membership queries from any number of
	// goroutines. It may be nil.
	Lookup classpath.Lookup

	progress  Progress
	cancelled atomic.Bool
}

// StartUnit forwards a unit start to the progress observer.
func (b *Batch) StartUnit(phase, unit string) {
	b.progress.StartUnit(phase, unit)
}

// Checkpoint reports progress and returns ErrCancelled when the observer
// or the context asked to stop. Once cancelled, every later call also
// returns ErrCancelled.
func (b *Batch) Checkpoint(current, total int, prevPhase, nextPhase string) error {
	if b.cancelled.Load() {
		return ErrCancelled
	}
	if !b.progress.Advance(current, total, prevPhase, nextPhase) {
		b.cancelled.Store(true)
		return ErrCancelled
	}
	return nil
}

// Negotiate checks the backend's declared level.
func Negotiate(b Backend) (int, error) {
	level := b.BridgeCompatibilityLevel()
	switch level {
	case LevelPerUnit, LevelBatch:
		return level, nil
	default:
		return LevelUnsupported, fmt.Errorf("%w: %s %s declares level %d",
			ErrUnsupportedBackend, b.Name(), b.Version(), level)
	}
}

// Versioned adapts a backend whose protocol follows its release line so
// that it declares LevelForVersion(b.Version()) instead of its own level.
func Versioned(b Backend) Backend { return versioned{b} }

type versioned struct{ Backend }

func (v versioned) BridgeCompatibilityLevel() int { return LevelForVersion(v.Version()) }

// LevelForVersion maps a backend version to the protocol it speaks:
// v1.x speaks the per-unit protocol, v2 and later the batch protocol.
// Pre-release v0 builds and unparsable versions are unsupported. A missing
// "v" prefix is tolerated.
func LevelForVersion(version string) int {
	if version != "" && version[0] != 'v' {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return LevelUnsupported
	}
	switch {
	case semver.Compare(version, "v1.0.0") < 0:
		return LevelUnsupported
	case semver.Major(version) == "v1":
		return LevelPerUnit
	default:
		return LevelBatch
	}
}
