// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mapper translates between machine-local values and the portable
// form stored in a persisted analysis.
//
// The Write side turns absolute local paths, compiler options and
// path-carrying stamps into a form that no longer names the machine it was
// produced on; the Read side restores local values for a given project
// root. For any path p under root R, reading what was written yields p.
//
// Two implementations are provided: Identity, which changes nothing, and
// Relative, which rewrites values under the project root to a "$ROOT"
// marker.
package mapper

import "errors"

// ErrMachinePath is returned by a strict Relative mapper when a
// machine-absolute path would survive into persisted state.
var ErrMachinePath = errors.New("machine-specific path in portable analysis")
