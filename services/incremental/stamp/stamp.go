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
	"fmt"
	"strings"
)

// Form identifies how a Stamp was computed.
type Form string

const (
	// FormHash is a SHA-256 digest of the file contents.
	FormHash Form = "hash"

	// FormLastModified is the modification time in Unix milliseconds.
	FormLastModified Form = "lastModified"

	// FormReference identifies an entity by its path alone. Directory
	// classpath entries use it; their membership is tracked by the
	// classpath cache.
	FormReference Form = "reference"

	// FormEmpty marks an entity that does not exist.
	FormEmpty Form = "absent"
)

// Stamp is a fingerprint of one filesystem entity.
//
// Stamp is comparable; use == to test for "unchanged".
type Stamp struct {
	Form  Form
	Value string
}

// Empty returns the stamp of a missing entity.
func Empty() Stamp { return Stamp{Form: FormEmpty} }

// Hash returns a content-hash stamp for a hex digest.
func Hash(hexDigest string) Stamp { return Stamp{Form: FormHash, Value: hexDigest} }

// LastModified returns a stamp for a modification time in Unix milliseconds.
func LastModified(unixMillis int64) Stamp {
	return Stamp{Form: FormLastModified, Value: fmt.Sprintf("%d", unixMillis)}
}

// Reference returns a path-identity stamp.
func Reference(path string) Stamp { return Stamp{Form: FormReference, Value: path} }

// IsEmpty reports whether s marks a missing entity.
func (s Stamp) IsEmpty() bool { return s.Form == FormEmpty || s.Form == "" }

// EmbedsPath reports whether the stamp value is a filesystem path and must
// therefore pass through the portability mapper before persistence.
func (s Stamp) EmbedsPath() bool { return s.Form == FormReference }

// String renders the stamp as "form:value".
func (s Stamp) String() string {
	if s.IsEmpty() {
		return string(FormEmpty)
	}
	return string(s.Form) + ":" + s.Value
}

// Parse is the inverse of String.
func Parse(text string) (Stamp, error) {
	if text == "" || text == string(FormEmpty) {
		return Empty(), nil
	}
	form, value, ok := strings.Cut(text, ":")
	if !ok {
		return Stamp{}, fmt.Errorf("%w: %q", ErrInvalidStamp, text)
	}
	switch f := Form(form); f {
	case FormHash, FormLastModified, FormReference:
		return Stamp{Form: f, Value: value}, nil
	default:
		return Stamp{}, fmt.Errorf("%w: unknown form %q", ErrInvalidStamp, form)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stamp) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stamp) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
