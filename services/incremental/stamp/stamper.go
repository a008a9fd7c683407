// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stamp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

const (
	// DefaultMaxFileSize bounds the size of a hashed file.
	DefaultMaxFileSize int64 = 256 * 1024 * 1024

	// DefaultMaxRetries is the number of attempts made on a file that
	// changes while it is hashed.
	DefaultMaxRetries = 3
)

// StamperOption configures a Stamper.
type StamperOption func(*Stamper)

// WithMaxFileSize sets the size limit. Zero or less disables the limit.
func WithMaxFileSize(bytes int64) StamperOption {
	return func(s *Stamper) { s.maxFileSize = bytes }
}

// WithMaxRetries sets the attempt count for unstable files.
func WithMaxRetries(n int) StamperOption {
	return func(s *Stamper) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Stamper computes stamps for files on the local filesystem.
//
// Thread Safety: Stamper is stateless after construction and safe for
// concurrent use.
type Stamper struct {
	maxFileSize int64
	maxRetries  int
}

// NewStamper creates a Stamper with DefaultMaxFileSize and DefaultMaxRetries
// unless overridden.
func NewStamper(opts ...StamperOption) *Stamper {
	s := &Stamper{
		maxFileSize: DefaultMaxFileSize,
		maxRetries:  DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Source stamps a source file by content hash. A missing file yields Empty().
func (s *Stamper) Source(path string) (Stamp, error) {
	return s.hashOrEmpty(path)
}

// Binary stamps a classpath entry. Archives and class files are hashed;
// directories are identified by path. A missing entry yields Empty().
func (s *Stamper) Binary(path string) (Stamp, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("stamp binary %s: %w", path, err)
	}
	if info.IsDir() {
		return Reference(path), nil
	}
	return s.hashOrEmpty(path)
}

// Product stamps a generated output by modification time. Products are
// rewritten by the compiler on every run that touches them, so the cheap
// form is sufficient. A missing file yields Empty().
func (s *Stamper) Product(path string) (Stamp, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("stamp product %s: %w", path, err)
	}
	return LastModified(info.ModTime().UnixMilli()), nil
}

func (s *Stamper) hashOrEmpty(path string) (Stamp, error) {
	digest, err := s.hashStable(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Stamp{}, err
	}
	return Hash(digest), nil
}

// hashStable hashes path and re-stats it afterwards, retrying when size or
// modification time moved underneath the read.
func (s *Stamper) hashStable(path string) (string, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		before, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if s.maxFileSize > 0 && before.Size() > s.maxFileSize {
			return "", fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, before.Size())
		}

		digest, err := hashFile(path)
		if err != nil {
			return "", err
		}

		after, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if sameFileState(before, after) {
			return digest, nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrFileUnstable, path, s.maxRetries)
}

func sameFileState(a, b os.FileInfo) bool {
	return a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
