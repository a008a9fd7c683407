// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/mapper"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
	"github.com/AleutianAI/incremental/services/incremental/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"-q"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	t.Run("escalates above the fraction", func(t *testing.T) {
		out, err := execute(t, "plan", "--invalidated", "6", "--total", "10")
		require.NoError(t, err)
		assert.Contains(t, out, "decision: escalate-full-rebuild")
		assert.Contains(t, out, "threshold 0.50")
		assert.Contains(t, out, "expansion at round 1: direct")
	})

	t.Run("continues at the fraction", func(t *testing.T) {
		out, err := execute(t, "plan", "--invalidated", "5", "--total", "10", "--step", "3")
		require.NoError(t, err)
		assert.Contains(t, out, "decision: continue-incremental")
		assert.Contains(t, out, "expansion at round 4: transitive")
	})

	t.Run("options file changes the threshold", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "opts.yaml")
		require.NoError(t, os.WriteFile(path, []byte("recompile_all_fraction: 0.8\nenabled: true\n"), 0o644))
		out, err := execute(t, "--options", path, "plan", "--invalidated", "6", "--total", "10")
		require.NoError(t, err)
		assert.Contains(t, out, "decision: continue-incremental")
	})

	t.Run("negative counts", func(t *testing.T) {
		_, err := execute(t, "plan", "--invalidated", "-1", "--total", "10")
		assert.Error(t, err)
	})
}

func TestOptionsCommands(t *testing.T) {
	t.Run("dump defaults", func(t *testing.T) {
		out, err := execute(t, "options", "dump")
		require.NoError(t, err)
		assert.Contains(t, out, "transitive_step: 3")
		assert.Contains(t, out, "recompile_all_fraction: 0.5")
	})

	t.Run("validate", func(t *testing.T) {
		dir := t.TempDir()
		good := filepath.Join(dir, "good.yaml")
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(good, []byte("transitive_step: 2\n"), 0o644))
		require.NoError(t, os.WriteFile(bad, []byte("recompile_all_fraction: 2\n"), 0o644))

		out, err := execute(t, "options", "validate", good)
		require.NoError(t, err)
		assert.Contains(t, out, good+": ok")

		out, err = execute(t, "options", "validate", good, bad)
		require.Error(t, err)
		assert.Contains(t, out, bad+":")
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, err := execute(t, "--log-level", "loud", "options", "dump")
		assert.Error(t, err)
	})
}

func TestAnalysisCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "db")
	src := filepath.Join(dir, "src", "A.toy")

	a := analysis.New()
	a.Put(src, analysis.SourceInfo{
		Stamp: stamp.Hash("00ff"),
		API:   analysis.NewAPISummary("api a", false),
	})
	data, err := store.NewAnalysisStore(nil, nil, nil).Export(
		analysis.NewContents(a, analysis.Setup{OutputDirs: []string{filepath.Join(dir, "out")}}))
	require.NoError(t, err)
	portable := filepath.Join(dir, "portable.bin")
	require.NoError(t, os.WriteFile(portable, data, 0o644))

	_, err = execute(t, "analysis", "show", "--db", db)
	require.Error(t, err, "empty database")

	_, err = execute(t, "--root", dir, "analysis", "import", portable, "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "--root", dir, "analysis", "show", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "sources: 1")
	assert.Contains(t, out, "store apis: false")

	exported := filepath.Join(dir, "again.bin")
	_, err = execute(t, "--root", dir, "analysis", "export", "--db", db, "-o", exported)
	require.NoError(t, err)
	again, err := os.ReadFile(exported)
	require.NoError(t, err)
	c, err := store.NewAnalysisStore(nil, mapper.Relative(dir, false), nil).Import(again)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, c.Analysis.SourcePaths())

	_, err = execute(t, "analysis", "show", "--db", db, "--key", "../escape")
	assert.ErrorContains(t, err, "invalid analysis key")

	_, err = execute(t, "analysis", "push", "--db", db)
	assert.ErrorContains(t, err, "no shared cache configured")
}
