// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/incremental/services/incremental/artifact"
	"github.com/AleutianAI/incremental/services/incremental/options"
)

var _ artifact.Manager = (*routedManager)(nil)

// routedManager sends each path to the file manager whose output
// directory contains it, so empty-directory pruning stays inside the
// right tree. Paths outside every directory go to the first manager.
type routedManager struct {
	dirs     []string
	managers []*artifact.FileManager
	all      artifact.Manager
}

func newArtifactManager(dirs []string, mode options.ArtifactManagerMode, runID string, cfg Config) (artifact.Manager, error) {
	r := &routedManager{}
	var all []artifact.Manager
	for _, dir := range dirs {
		m, err := artifact.New(artifact.Config{
			Mode:   mode,
			Root:   dir,
			RunID:  runID,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		abs, _ := filepath.Abs(dir)
		r.dirs = append(r.dirs, abs)
		r.managers = append(r.managers, m)
		all = append(all, m)
	}
	if len(all) == 0 {
		m, err := artifact.New(artifact.Config{Mode: mode, RunID: runID, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		r.dirs = append(r.dirs, "")
		r.managers = append(r.managers, m)
		all = append(all, m)
	}
	r.all = artifact.Multi(all...)

	var base artifact.Manager = r
	if cfg.Hooks.ArtifactManager != nil {
		base = cfg.Hooks.ArtifactManager(base)
	}
	return base, nil
}

func (r *routedManager) route(paths []string) map[int][]string {
	out := make(map[int][]string)
	for _, p := range paths {
		i := r.indexFor(p)
		out[i] = append(out[i], p)
	}
	return out
}

func (r *routedManager) indexFor(p string) int {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	best, bestLen := 0, -1
	for i, dir := range r.dirs {
		if dir == "" {
			continue
		}
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			if len(dir) > bestLen {
				best, bestLen = i, len(dir)
			}
		}
	}
	return best
}

func (r *routedManager) Delete(ctx context.Context, paths []string) error {
	var errs []error
	for i, ps := range r.route(paths) {
		if err := r.managers[i].Delete(ctx, ps); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *routedManager) Generated(ctx context.Context, paths []string) error {
	var errs []error
	for i, ps := range r.route(paths) {
		if err := r.managers[i].Generated(ctx, ps); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *routedManager) Complete(ctx context.Context, success bool) error {
	return r.all.Complete(ctx, success)
}
