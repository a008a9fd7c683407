// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stamp fingerprints sources, binaries and products so that a build
// can tell which of them changed since the previous run.
//
// A Stamp is a small comparable value. Two stamps are equal exactly when the
// entity is considered unchanged. Stamps are produced by a Stamper, which
// hashes file contents with SHA-256 and guards against files that change
// while being read.
package stamp

import "errors"

var (
	// ErrFileTooLarge is returned when a file exceeds the Stamper size limit.
	ErrFileTooLarge = errors.New("file too large to stamp")

	// ErrFileUnstable is returned when a file keeps changing while it is
	// hashed and every retry has been used.
	ErrFileUnstable = errors.New("file changed during stamping")

	// ErrInvalidStamp is returned when a serialized stamp cannot be parsed.
	ErrInvalidStamp = errors.New("invalid stamp")
)
