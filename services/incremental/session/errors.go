// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives one incremental build of a project.
//
// # Run
//
// A run takes the output lock, loads the previous analysis through the
// portability mapper, stamps the project, and compiles in rounds. Each
// round deletes the products of the sources it is about to compile, runs
// one compiler invocation, and records what was generated with the
// artifact manager. API changes spread to dependents: direct ones first,
// the full closure once the transitive step bound is reached. When too
// large a share of the project is invalidated the run escalates to a full
// rebuild.
//
// A successful run commits the artifacts and persists the new analysis. A
// compile error or a fatal failure rolls the artifacts back and persists
// nothing.
package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a Config that cannot drive a run.
	ErrInvalidConfig = errors.New("invalid session config")

	// ErrCompilationFailed indicates that the compiler reported errors.
	// Problems are in the Result.
	ErrCompilationFailed = errors.New("compilation failed")

	// ErrTooManyRounds indicates invalidation did not converge.
	ErrTooManyRounds = errors.New("incremental compilation did not converge")
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
