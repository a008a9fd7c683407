// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"slices"

	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// Changes is the difference between a recorded analysis and the current
// state of the filesystem.
type Changes struct {
	Added    []string
	Removed  []string
	Modified []string

	// ModifiedBinaries are classpath binaries whose stamp moved.
	ModifiedBinaries []string
}

// IsEmpty reports whether nothing changed.
func (c Changes) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 &&
		len(c.Modified) == 0 && len(c.ModifiedBinaries) == 0
}

// Diff compares prev with the current stamps.
//
// Description:
//
//	A source is added when prev does not know it, removed when it is not
//	in sources, and modified when its stamp differs. A recorded binary is
//	modified when its current stamp differs; a binary missing from
//	binaries counts as stamped Empty().
//
// Inputs:
//
//	prev - The recorded analysis. May be nil, in which case every source
//	       is added.
//	sources - Current stamp of every source in the project.
//	binaries - Current stamp of classpath binaries.
//
// Outputs:
//
//	Changes - Every list sorted.
func Diff(prev *Analysis, sources map[string]stamp.Stamp, binaries map[string]stamp.Stamp) Changes {
	var c Changes
	for src, s := range sources {
		info, ok := prev.source(src)
		switch {
		case !ok:
			c.Added = append(c.Added, src)
		case info.Stamp != s:
			c.Modified = append(c.Modified, src)
		}
	}
	if prev != nil {
		for src := range prev.Sources {
			if _, ok := sources[src]; !ok {
				c.Removed = append(c.Removed, src)
			}
		}
		for bin, recorded := range prev.Binaries {
			current, ok := binaries[bin]
			if !ok {
				current = stamp.Empty()
			}
			if current != recorded {
				c.ModifiedBinaries = append(c.ModifiedBinaries, bin)
			}
		}
	}
	slices.Sort(c.Added)
	slices.Sort(c.Removed)
	slices.Sort(c.Modified)
	slices.Sort(c.ModifiedBinaries)
	return c
}

func (a *Analysis) source(src string) (SourceInfo, bool) {
	if a == nil {
		return SourceInfo{}, false
	}
	return a.Source(src)
}
