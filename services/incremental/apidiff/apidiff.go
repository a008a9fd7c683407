// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apidiff renders API changes for debugging: unified diffs of a
// source's API text between two runs, and per-source API dumps.
package apidiff

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/incremental/services/incremental/options"
)

// Change is the rendered difference between two API texts.
type Change struct {
	Source  string
	Unified string
	Added   int32
	Deleted int32
}

// Empty reports whether the texts were identical.
func (c Change) Empty() bool { return c.Unified == "" }

// Differ renders and logs API diffs with a fixed context size.
type Differ struct {
	context int
	enabled bool
	logger  *slog.Logger
}

// New creates a Differ configured by the API debug options.
func New(opts options.Options, logger *slog.Logger) *Differ {
	if logger == nil {
		logger = slog.Default()
	}
	return &Differ{
		context: opts.APIDiffContextSize(),
		enabled: opts.APIDebug(),
		logger:  logger.With("component", "apidiff.Differ"),
	}
}

// Diff compares the API text of source before and after a round.
func (d *Differ) Diff(source, before, after string) (Change, error) {
	change := Change{Source: source}
	if before == after {
		return change, nil
	}
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + source,
		ToFile:   "b/" + source,
		Context:  d.context,
	})
	if err != nil {
		return change, fmt.Errorf("diffing api of %s: %w", source, err)
	}
	if unified == "" {
		return change, nil
	}
	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return change, fmt.Errorf("parsing api diff of %s: %w", source, err)
	}
	stat := fd.Stat()
	change.Unified = unified
	change.Added = stat.Added + stat.Changed
	change.Deleted = stat.Deleted + stat.Changed
	return change, nil
}

// Log emits an Info record with the diff when API debugging is on. It is
// a no-op otherwise, or when the texts are equal.
func (d *Differ) Log(source, before, after string) {
	if !d.enabled {
		return
	}
	change, err := d.Diff(source, before, after)
	if err != nil {
		d.logger.Warn("api diff failed", slog.String("source", source), slog.String("error", err.Error()))
		return
	}
	if change.Empty() {
		return
	}
	d.logger.Info("api changed",
		slog.String("source", source),
		slog.Int("added", int(change.Added)),
		slog.Int("deleted", int(change.Deleted)),
		slog.String("diff", change.Unified),
	)
}

// Dumper writes the API text of each recompiled source to a directory.
type Dumper struct {
	dir string
}

// NewDumper returns a Dumper for the configured dump directory, or nil
// when none is set.
func NewDumper(opts options.Options) *Dumper {
	dir, ok := opts.APIDumpDirectory()
	if !ok {
		return nil
	}
	return &Dumper{dir: dir}
}

// Dump writes api to <dir>/<sanitized source>.api. A nil Dumper does
// nothing.
func (d *Dumper) Dump(source, api string) (string, error) {
	if d == nil {
		return "", nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating api dump directory: %w", err)
	}
	path := filepath.Join(d.dir, Sanitize(source)+".api")
	if err := os.WriteFile(path, []byte(api), 0o644); err != nil {
		return "", fmt.Errorf("writing api dump for %s: %w", source, err)
	}
	return path, nil
}

// Sanitize turns a source path into a flat file name.
func Sanitize(source string) string {
	s := filepath.ToSlash(source)
	s = strings.TrimLeft(s, "/")
	return strings.NewReplacer("/", "_", ":", "_", "\\", "_", " ", "_").Replace(s)
}
