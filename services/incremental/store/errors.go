// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists analysis Contents between runs.
//
// Contents are mapped to portable form, encoded as versioned JSON and
// compressed with zstd before they reach a Blobs backend. The local backend
// is an embedded BadgerDB; package remote adds shared object-store backends.
//
// A persisted analysis that cannot be decoded, or that was written by an
// incompatible format version, is treated as absent. The caller then
// rebuilds from scratch; the failure is logged, never returned.
package store

import "errors"

var (
	// ErrNotFound is returned by Blobs.Get when the key has no value.
	ErrNotFound = errors.New("analysis not found")

	// ErrIncompatibleFormat is returned by Decode for contents written by
	// another format version.
	ErrIncompatibleFormat = errors.New("incompatible analysis format")

	// ErrCorrupt is returned by Decode for data that is not a valid
	// compressed analysis.
	ErrCorrupt = errors.New("corrupt analysis data")
)
