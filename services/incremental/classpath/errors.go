// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classpath answers "does this classpath entry define class X" and
// "which analysis was produced for this entry" with at most one scan per
// entry.
//
// # Caching
//
// Results are keyed by entry path plus a content fingerprint, so an archive
// rebuilt at the same path is scanned again while an unchanged one never
// is. Concurrent queries for the same entry share one in-flight scan.
package classpath

import "errors"

// ErrUnsupportedEntry is returned for an entry that is neither a directory
// nor a readable archive.
var ErrUnsupportedEntry = errors.New("unsupported classpath entry")
