// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apidiff

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/incremental/services/incremental/options"
)

func apiLines(n int, changeAt int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i == changeAt {
			b.WriteString("def changed(x: Int): String\n")
			continue
		}
		b.WriteString("def m")
		b.WriteByte(byte('a' + i))
		b.WriteString(": Unit\n")
	}
	return b.String()
}

func TestDiff(t *testing.T) {
	before := apiLines(20, -1)
	after := apiLines(20, 10)

	t.Run("context size bounds hunk", func(t *testing.T) {
		o, err := options.Default().WithAPIDiffContextSize(2)
		require.NoError(t, err)
		c, err := New(o, nil).Diff("src/A.scala", before, after)
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.Added)
		assert.EqualValues(t, 1, c.Deleted)
		assert.Contains(t, c.Unified, "--- a/src/A.scala")
		assert.Contains(t, c.Unified, "+def changed(x: Int): String")
		assert.Contains(t, c.Unified, " def mi: Unit")
		assert.NotContains(t, c.Unified, " def mh: Unit")
	})

	t.Run("default context", func(t *testing.T) {
		c, err := New(options.Default(), nil).Diff("A.scala", before, after)
		require.NoError(t, err)
		assert.Contains(t, c.Unified, " def mf: Unit")
		assert.NotContains(t, c.Unified, " def me: Unit")
	})

	t.Run("identical", func(t *testing.T) {
		c, err := New(options.Default(), nil).Diff("A.scala", before, before)
		require.NoError(t, err)
		assert.True(t, c.Empty())
	})
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	New(options.Default(), logger).Log("A.scala", "a\n", "b\n")
	assert.Empty(t, buf.String(), "api debug off must not log")

	New(options.Default().WithAPIDebug(true), logger).Log("A.scala", "a\n", "b\n")
	assert.Contains(t, buf.String(), "api changed")
	assert.Contains(t, buf.String(), "source=A.scala")
}

func TestDumper(t *testing.T) {
	assert.Nil(t, NewDumper(options.Default()))

	dir := filepath.Join(t.TempDir(), "apis")
	d := NewDumper(options.Default().WithAPIDumpDirectory(dir))
	require.NotNil(t, d)

	path, err := d.Dump("/proj/src/main/A.scala", "class A")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "proj_src_main_A.scala.api"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "class A", string(data))

	var nilDumper *Dumper
	p, err := nilDumper.Dump("x", "y")
	assert.NoError(t, err)
	assert.Empty(t, p)
}
