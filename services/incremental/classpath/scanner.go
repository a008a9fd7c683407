// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classpath

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Fingerprint identifies the contents of an entry cheaply. Equal
// fingerprints mean the cached membership is still valid.
type Fingerprint string

// Membership is the set of classes defined by one entry.
type Membership struct {
	classes map[string]struct{}
}

// NewMembership builds a membership set from class names.
func NewMembership(classNames ...string) *Membership {
	m := &Membership{classes: make(map[string]struct{}, len(classNames))}
	for _, c := range classNames {
		m.classes[c] = struct{}{}
	}
	return m
}

// Defines reports whether the entry defines className.
func (m *Membership) Defines(className string) bool {
	if m == nil {
		return false
	}
	_, ok := m.classes[className]
	return ok
}

// Len returns the number of classes.
func (m *Membership) Len() int {
	if m == nil {
		return 0
	}
	return len(m.classes)
}

// Scanner reads classpath entries.
//
// Fingerprint must be cheap relative to Scan. A missing entry yields
// fs.ErrNotExist from both.
type Scanner interface {
	Fingerprint(path string) (Fingerprint, error)
	Scan(ctx context.Context, path string) (*Membership, error)
}

// FSScanner reads directories and zip-format archives from the local
// filesystem.
type FSScanner struct{}

// Fingerprint returns size and modification time for an archive. For a
// directory it aggregates the same over every file below it.
func (FSScanner) Fingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return Fingerprint("f:" + strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10)), nil
	}

	h := sha256.New()
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(path, p)
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", filepath.ToSlash(rel), fi.Size(), fi.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return Fingerprint("d:" + hex.EncodeToString(h.Sum(nil))), nil
}

// Scan lists the classes defined by the entry.
func (FSScanner) Scan(ctx context.Context, path string) (*Membership, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return scanDir(ctx, path)
	}
	return scanArchive(ctx, path)
}

func scanDir(ctx context.Context, root string) (*Membership, error) {
	m := NewMembership()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if name, ok := ClassName(filepath.ToSlash(rel)); ok {
			m.classes[name] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan directory %s: %w", root, err)
	}
	return m, nil
}

func scanArchive(ctx context.Context, path string) (*Membership, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedEntry, path, err)
	}
	defer r.Close()

	m := NewMembership()
	for i, f := range r.File {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if name, ok := ClassName(f.Name); ok {
			m.classes[name] = struct{}{}
		}
	}
	return m, nil
}

// ClassName converts a slash-separated class file entry name such as
// "a/b/C$D.class" into "a.b.C$D". Multi-release prefixes are removed and
// module descriptors are rejected.
func ClassName(entry string) (string, bool) {
	base, ok := strings.CutSuffix(entry, ".class")
	if !ok || base == "" {
		return "", false
	}
	if rest, ok := strings.CutPrefix(base, "META-INF/versions/"); ok {
		_, after, found := strings.Cut(rest, "/")
		if !found {
			return "", false
		}
		base = after
	}
	if base == "module-info" || strings.HasSuffix(base, "/module-info") || strings.HasPrefix(base, "META-INF/") {
		return "", false
	}
	return strings.ReplaceAll(base, "/", "."), true
}
