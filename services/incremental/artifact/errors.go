// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact controls the generated output files of one build run.
//
// # Protocol
//
// A Manager starts in StateTracking and accepts, in order, any number of
// Delete and Generated calls followed by exactly one Complete. Complete(true)
// commits; Complete(false) rolls back. Any call after Complete fails with
// ErrInvalidState.
//
// # Modes
//
// In delete-immediately mode files are removed outright and a rollback
// leaves the output tree as it is. In transactional mode deleted files are
// moved aside and generated files are remembered, so that a rollback
// removes everything the run produced and puts back everything it deleted.
//
// Rollback is best-effort: it is not atomic across a process crash.
package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned for a call the current state does not
	// allow, such as Delete after Complete.
	ErrInvalidState = errors.New("artifact manager call in invalid state")

	// ErrArtifactIO marks an output-tree I/O failure. Such failures are
	// fatal to the run and are never retried.
	ErrArtifactIO = errors.New("artifact I/O failure")
)

// IOError is an output-tree I/O failure.
//
// errors.Is(err, ErrArtifactIO) holds for every IOError; Unwrap exposes the
// underlying filesystem error.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error { return e.Err }

// Is reports whether target is ErrArtifactIO.
func (e *IOError) Is(target error) bool { return target == ErrArtifactIO }

func ioErr(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}
