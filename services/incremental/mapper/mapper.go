// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mapper

import (
	"github.com/AleutianAI/incremental/services/incremental/options"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// Kind says which part of an analysis a mapped value belongs to.
// Implementations may treat kinds differently; the standard ones do not.
type Kind int

const (
	KindSource Kind = iota
	KindBinary
	KindProduct
	KindOutputDir
	KindSourceDir
	KindClasspathEntry
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindBinary:
		return "binary"
	case KindProduct:
		return "product"
	case KindOutputDir:
		return "output-dir"
	case KindSourceDir:
		return "source-dir"
	case KindClasspathEntry:
		return "classpath-entry"
	default:
		return "unknown"
	}
}

// Writer maps local values into their portable form.
type Writer interface {
	WritePath(kind Kind, path string) (string, error)
	WriteOption(opt string) (string, error)
	WriteStamp(kind Kind, s stamp.Stamp) (stamp.Stamp, error)
}

// Reader maps portable values back into local ones.
type Reader interface {
	ReadPath(kind Kind, path string) string
	ReadOption(opt string) string
	ReadStamp(kind Kind, s stamp.Stamp) stamp.Stamp
}

// Mapper carries both directions.
type Mapper interface {
	Reader
	Writer
}

// ForOptions picks the mapper for a build rooted at root.
//
// An empty root yields Identity. Otherwise a Relative mapper is used; it
// is strict when StrictMode is on or machine paths are not allowed.
func ForOptions(o options.Options, root string) Mapper {
	if root == "" {
		return Identity()
	}
	return Relative(root, o.StrictMode() || !o.AllowMachinePath())
}

type identity struct{}

// Identity returns the mapper that leaves every value untouched.
func Identity() Mapper { return identity{} }

func (identity) WritePath(_ Kind, p string) (string, error)            { return p, nil }
func (identity) WriteOption(opt string) (string, error)                { return opt, nil }
func (identity) WriteStamp(_ Kind, s stamp.Stamp) (stamp.Stamp, error) { return s, nil }
func (identity) ReadPath(_ Kind, p string) string                      { return p }
func (identity) ReadOption(opt string) string                          { return opt }
func (identity) ReadStamp(_ Kind, s stamp.Stamp) stamp.Stamp           { return s }
