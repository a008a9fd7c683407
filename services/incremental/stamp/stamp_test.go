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
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStamper_Source(t *testing.T) {
	t.Run("known content hash", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "A.scala")
		if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		s, err := NewStamper().Source(path)
		if err != nil {
			t.Fatalf("Source: %v", err)
		}
		want := Hash("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
		if s != want {
			t.Errorf("Source = %v, want %v", s, want)
		}
	})

	t.Run("missing file is empty", func(t *testing.T) {
		s, err := NewStamper().Source(filepath.Join(t.TempDir(), "gone.scala"))
		if err != nil {
			t.Fatalf("Source: %v", err)
		}
		if !s.IsEmpty() {
			t.Errorf("Source = %v, want empty", s)
		}
	})

	t.Run("content change changes stamp", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "B.scala")
		if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		st := NewStamper()
		first, _ := st.Source(path)
		if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		second, _ := st.Source(path)
		if first == second {
			t.Errorf("stamps equal after content change: %v", first)
		}
	})

	t.Run("size limit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.scala")
		if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		_, err := NewStamper(WithMaxFileSize(50)).Source(path)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("error = %v, want ErrFileTooLarge", err)
		}
	})
}

func TestStamper_BinaryAndProduct(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStamper().Binary(dir)
	if err != nil {
		t.Fatalf("Binary(dir): %v", err)
	}
	if s != Reference(dir) {
		t.Errorf("Binary(dir) = %v, want reference", s)
	}
	if !s.EmbedsPath() {
		t.Error("reference stamp should embed a path")
	}

	jar := filepath.Join(dir, "lib.jar")
	if err := os.WriteFile(jar, []byte("PK"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err = NewStamper().Binary(jar)
	if err != nil {
		t.Fatalf("Binary(jar): %v", err)
	}
	if s.Form != FormHash {
		t.Errorf("Binary(jar).Form = %s, want hash", s.Form)
	}

	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(jar, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	s, err = NewStamper().Product(jar)
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if s != LastModified(mtime.UnixMilli()) {
		t.Errorf("Product = %v, want %v", s, LastModified(mtime.UnixMilli()))
	}
}

func TestStamp_TextForm(t *testing.T) {
	tests := []Stamp{
		Empty(),
		Hash("abc123"),
		LastModified(1700000000000),
		Reference("/proj/lib/classes"),
	}
	for _, s := range tests {
		t.Run(s.String(), func(t *testing.T) {
			back, err := Parse(s.String())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if back != s {
				t.Errorf("Parse(String()) = %v, want %v", back, s)
			}
		})
	}

	if _, err := Parse("nonsense"); !errors.Is(err, ErrInvalidStamp) {
		t.Errorf("Parse(nonsense) error = %v, want ErrInvalidStamp", err)
	}
	if _, err := Parse("crc:1"); !errors.Is(err, ErrInvalidStamp) {
		t.Errorf("Parse(crc:1) error = %v, want ErrInvalidStamp", err)
	}
}

func TestStamp_JSONMapKey(t *testing.T) {
	in := map[string]Stamp{"a": Hash("ff"), "b": Empty()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]Stamp
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["a"] != in["a"] || out["b"] != in["b"] {
		t.Errorf("decoded %v, want %v", out, in)
	}
}
