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
	"path/filepath"
	"strings"
	"unicode"

	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// RootMarker stands for the project root in portable values.
const RootMarker = "$ROOT"

// RelativeMapper rewrites values under a project root to RootMarker form.
//
// Paths outside the root are passed through unchanged, or rejected with
// ErrMachinePath when the mapper is strict. Relative paths are already
// portable and pass through in both modes.
//
// Thread Safety: immutable after construction, safe for concurrent use.
type RelativeMapper struct {
	root   string
	strict bool
}

// Relative creates a RelativeMapper for root.
func Relative(root string, strict bool) *RelativeMapper {
	return &RelativeMapper{root: filepath.Clean(root), strict: strict}
}

// Root returns the cleaned project root.
func (m *RelativeMapper) Root() string { return m.root }

// Strict reports whether machine paths are rejected.
func (m *RelativeMapper) Strict() bool { return m.strict }

// WritePath maps a local path to portable form.
//
// Outputs:
//
//	string - "$ROOT" or "$ROOT/<slash-separated relative path>" for paths
//	         under the root, otherwise the input.
//	error - ErrMachinePath in strict mode for absolute paths outside root.
func (m *RelativeMapper) WritePath(kind Kind, p string) (string, error) {
	if !filepath.IsAbs(p) {
		return p, nil
	}
	clean := filepath.Clean(p)
	rel, err := filepath.Rel(m.root, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		if m.strict {
			return "", fmt.Errorf("%w: %s %s is outside %s", ErrMachinePath, kind, p, m.root)
		}
		return p, nil
	}
	if rel == "." {
		return RootMarker, nil
	}
	return RootMarker + "/" + filepath.ToSlash(rel), nil
}

// ReadPath restores a local path from portable form.
func (m *RelativeMapper) ReadPath(_ Kind, p string) string {
	if p == RootMarker {
		return m.root
	}
	if rest, ok := strings.CutPrefix(p, RootMarker+"/"); ok {
		return filepath.Join(m.root, filepath.FromSlash(rest))
	}
	return p
}

// WriteOption replaces every occurrence of the root inside a compiler
// option. Occurrences that are only a prefix of a longer directory name
// are left alone.
//
// In strict mode an option that embeds any absolute path outside the root
// is rejected.
func (m *RelativeMapper) WriteOption(opt string) (string, error) {
	out := replaceRoot(opt, m.root, RootMarker)
	if m.strict {
		for _, field := range strings.FieldsFunc(out, isOptionDelim) {
			if filepath.IsAbs(field) {
				return "", fmt.Errorf("%w: compiler option %q embeds %q", ErrMachinePath, opt, field)
			}
		}
	}
	return out, nil
}

// isOptionDelim splits an option into the values it may embed, as in
// -Xplugin:a.jar, -classpath=a.jar:b.jar or "-d out".
func isOptionDelim(r rune) bool {
	return r == '=' || r == ':' || r == ',' || r == filepath.ListSeparator || unicode.IsSpace(r)
}

// ReadOption restores the root inside a compiler option.
func (m *RelativeMapper) ReadOption(opt string) string {
	if !strings.Contains(opt, RootMarker) {
		return opt
	}
	return replaceRoot(opt, RootMarker, m.root)
}

// WriteStamp maps the path carried by reference stamps.
func (m *RelativeMapper) WriteStamp(kind Kind, s stamp.Stamp) (stamp.Stamp, error) {
	if !s.EmbedsPath() {
		return s, nil
	}
	p, err := m.WritePath(kind, s.Value)
	if err != nil {
		return stamp.Stamp{}, err
	}
	return stamp.Stamp{Form: s.Form, Value: p}, nil
}

// ReadStamp restores the path carried by reference stamps.
func (m *RelativeMapper) ReadStamp(kind Kind, s stamp.Stamp) stamp.Stamp {
	if !s.EmbedsPath() {
		return s
	}
	return stamp.Stamp{Form: s.Form, Value: m.ReadPath(kind, s.Value)}
}

// replaceRoot replaces old with repl wherever old appears as a whole path
// prefix. The match must start the string or follow a character that
// cannot belong to a path, and must end the string or be followed by a
// separator or a character that cannot continue a file name.
func replaceRoot(s, old, repl string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	start := 0
	for {
		i := strings.Index(s[start:], old)
		if i < 0 {
			b.WriteString(s[start:])
			return b.String()
		}
		i += start
		end := i + len(old)
		b.WriteString(s[start:i])
		if startsPath(s, i) && (end == len(s) || !continuesName(s[end])) {
			b.WriteString(repl)
		} else {
			b.WriteString(old)
		}
		start = end
	}
}

func startsPath(s string, i int) bool {
	if i == 0 {
		return true
	}
	c := s[i-1]
	return c != '/' && c != filepath.Separator && !continuesName(c)
}

func continuesName(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.':
		return true
	default:
		return false
	}
}
