// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they become
// database keys or object names.
//
// Analysis keys end up as Badger keys and as object names in GCS and S3
// buckets, so anything that could traverse or escape a prefix is refused.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidKey is returned for a malformed analysis key.
var ErrInvalidKey = errors.New("invalid analysis key")

// MaxKeyLength bounds an analysis key.
const MaxKeyLength = 128

// keyPattern allows slash-separated segments of letters, digits, dots,
// underscores and hyphens. Each segment starts with a letter or digit.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)*$`)

// ValidateKey validates an analysis key.
//
// Valid keys:
//   - 1-128 characters
//   - Letters, digits, '.', '_', '-'
//   - '/' separating non-empty segments, e.g. "team/service"
//   - No ".." anywhere
//
// Example:
//
//	if err := validation.ValidateKey(key); err != nil {
//	    return fmt.Errorf("analysis key: %w", err)
//	}
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidKey, MaxKeyLength)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidKey, key)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// SanitizeKey trims surrounding whitespace and slashes, then validates.
func SanitizeKey(key string) (string, error) {
	normalized := strings.Trim(strings.TrimSpace(key), "/")
	if err := ValidateKey(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
