// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compiler drives one compilation round through a pluggable
// backend.
//
// # Protocol
//
// An Invocation moves Idle -> Invoked -> (Reporting)* -> Completed or
// Failed. While it runs, structural facts (APIs, dependency edges,
// generated products) flow to a Callback and diagnostics flow to a
// Reporter. The two channels are separate: a diagnostic never changes
// control flow, and facts already delivered stay delivered when the round
// later fails.
//
// # Backends
//
// A Backend declares a bridge compatibility level before anything runs.
// Level 2 backends compile a whole batch and call Batch.Checkpoint between
// units. Level 1 backends compile one unit per call and the Invocation
// polls Progress between calls. Level 0 is rejected up front with
// ErrUnsupportedBackend.
package compiler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedBackend is returned before any source is touched when
	// the backend reports compatibility level 0 or an unknown level.
	ErrUnsupportedBackend = errors.New("unsupported compiler backend")

	// ErrCancelled is returned when Progress or the context asks the
	// invocation to stop.
	ErrCancelled = errors.New("compilation cancelled")

	// ErrInvalidState is returned when an Invocation is reused.
	ErrInvalidState = errors.New("invocation in invalid state")
)

// BackendError is a fatal, non-diagnostic failure inside a backend, such
// as a crash.
type BackendError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("compiler backend %s failed: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error { return e.Err }
