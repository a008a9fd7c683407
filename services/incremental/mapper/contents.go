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
	"fmt"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
)

// WriteContents maps every path, option and stamp of c into portable form.
//
// Description:
//
//	Applied at the persistence boundary, right before Contents are
//	encoded. The input is not modified.
//
// Outputs:
//
//	analysis.Contents - The portable copy.
//	error - The first mapping failure, e.g. ErrMachinePath.
func WriteContents(w Writer, c analysis.Contents) (analysis.Contents, error) {
	out := analysis.Contents{Version: c.Version, Analysis: analysis.New()}

	var err error
	if out.Setup, err = writeSetup(w, c.Setup); err != nil {
		return analysis.Contents{}, err
	}
	if c.Analysis == nil {
		return out, nil
	}

	for src, info := range c.Analysis.Sources {
		msrc, err := w.WritePath(KindSource, src)
		if err != nil {
			return analysis.Contents{}, err
		}
		if info.Stamp, err = w.WriteStamp(KindSource, info.Stamp); err != nil {
			return analysis.Contents{}, err
		}
		products := make([]analysis.Product, len(info.Products))
		for i, p := range info.Products {
			if products[i].Path, err = w.WritePath(KindProduct, p.Path); err != nil {
				return analysis.Contents{}, err
			}
			if products[i].Stamp, err = w.WriteStamp(KindProduct, p.Stamp); err != nil {
				return analysis.Contents{}, err
			}
		}
		info.Products = products
		out.Analysis.Put(msrc, info)
	}

	if out.Analysis.SourceDeps, err = c.Analysis.SourceDeps.Map(func(p string) (string, error) {
		return w.WritePath(KindSource, p)
	}); err != nil {
		return analysis.Contents{}, err
	}
	if out.Analysis.BinaryDeps, err = mapBinaryDeps(c.Analysis, func(k Kind, p string) (string, error) {
		return w.WritePath(k, p)
	}); err != nil {
		return analysis.Contents{}, err
	}
	for bin, s := range c.Analysis.Binaries {
		mbin, err := w.WritePath(KindBinary, bin)
		if err != nil {
			return analysis.Contents{}, err
		}
		ms, err := w.WriteStamp(KindBinary, s)
		if err != nil {
			return analysis.Contents{}, err
		}
		out.Analysis.Binaries[mbin] = ms
	}
	return out, nil
}

// ReadContents restores local paths, options and stamps in c.
func ReadContents(r Reader, c analysis.Contents) analysis.Contents {
	out := analysis.Contents{Version: c.Version, Analysis: analysis.New(), Setup: readSetup(r, c.Setup)}
	if c.Analysis == nil {
		return out
	}

	for src, info := range c.Analysis.Sources {
		info.Stamp = r.ReadStamp(KindSource, info.Stamp)
		products := make([]analysis.Product, len(info.Products))
		for i, p := range info.Products {
			products[i] = analysis.Product{
				Path:  r.ReadPath(KindProduct, p.Path),
				Stamp: r.ReadStamp(KindProduct, p.Stamp),
			}
		}
		info.Products = products
		out.Analysis.Put(r.ReadPath(KindSource, src), info)
	}

	// Read never fails, so the mapping errors below are always nil.
	out.Analysis.SourceDeps, _ = c.Analysis.SourceDeps.Map(func(p string) (string, error) {
		return r.ReadPath(KindSource, p), nil
	})
	out.Analysis.BinaryDeps, _ = mapBinaryDeps(c.Analysis, func(k Kind, p string) (string, error) {
		return r.ReadPath(k, p), nil
	})
	for bin, s := range c.Analysis.Binaries {
		out.Analysis.Binaries[r.ReadPath(KindBinary, bin)] = r.ReadStamp(KindBinary, s)
	}
	return out
}

// mapBinaryDeps maps the left side of each pair as a source and the right
// side as a binary.
func mapBinaryDeps(a *analysis.Analysis, fn func(Kind, string) (string, error)) (analysis.Relation, error) {
	rel := analysis.NewRelation()
	for _, src := range a.BinaryDeps.Domain() {
		msrc, err := fn(KindSource, src)
		if err != nil {
			return analysis.Relation{}, err
		}
		for _, bin := range a.BinaryDeps.Forward(src) {
			mbin, err := fn(KindBinary, bin)
			if err != nil {
				return analysis.Relation{}, err
			}
			rel.Add(msrc, mbin)
		}
	}
	return rel, nil
}

func writeSetup(w Writer, s analysis.Setup) (analysis.Setup, error) {
	out := s
	var err error
	if out.OutputDirs, err = writeAll(s.OutputDirs, func(p string) (string, error) { return w.WritePath(KindOutputDir, p) }); err != nil {
		return analysis.Setup{}, err
	}
	if out.SourceDirs, err = writeAll(s.SourceDirs, func(p string) (string, error) { return w.WritePath(KindSourceDir, p) }); err != nil {
		return analysis.Setup{}, err
	}
	if out.Classpath, err = writeAll(s.Classpath, func(p string) (string, error) { return w.WritePath(KindClasspathEntry, p) }); err != nil {
		return analysis.Setup{}, err
	}
	if out.CompilerOptions, err = writeAll(s.CompilerOptions, w.WriteOption); err != nil {
		return analysis.Setup{}, fmt.Errorf("compiler options: %w", err)
	}
	return out, nil
}

func readSetup(r Reader, s analysis.Setup) analysis.Setup {
	out := s
	out.OutputDirs = readAll(s.OutputDirs, func(p string) string { return r.ReadPath(KindOutputDir, p) })
	out.SourceDirs = readAll(s.SourceDirs, func(p string) string { return r.ReadPath(KindSourceDir, p) })
	out.Classpath = readAll(s.Classpath, func(p string) string { return r.ReadPath(KindClasspathEntry, p) })
	out.CompilerOptions = readAll(s.CompilerOptions, r.ReadOption)
	return out
}

func writeAll(xs []string, fn func(string) (string, error)) ([]string, error) {
	if xs == nil {
		return nil, nil
	}
	out := make([]string, len(xs))
	for i, x := range xs {
		m, err := fn(x)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func readAll(xs []string, fn func(string) string) []string {
	if xs == nil {
		return nil
	}
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = fn(x)
	}
	return out
}
