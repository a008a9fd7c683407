// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Settings configure a compiler instance. Two rounds with equal settings
// can share a warm instance.
type Settings struct {
	Backend   string
	Version   string
	Classpath []string
	Options   []string
}

// Key returns a stable identifier for the settings.
func (s Settings) Key() string {
	h := sha256.New()
	write := func(tag string, parts ...string) {
		h.Write([]byte(tag))
		for _, p := range parts {
			h.Write([]byte{0})
			h.Write([]byte(p))
		}
		h.Write([]byte{'\n'})
	}
	write("backend", s.Backend, s.Version)
	write("classpath", s.Classpath...)
	write("options", s.Options...)
	return s.Backend + "@" + strings.TrimPrefix(s.Version, "v") + "#" + hex.EncodeToString(h.Sum(nil))[:16]
}
