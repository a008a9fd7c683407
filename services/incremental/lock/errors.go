// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock guards an output tree against two concurrent build
// sessions.
//
// The lock is an advisory OS lock (flock on Unix, LockFileEx on Windows)
// on a hidden sibling file of the output root. The kernel releases it when
// the holding process dies, so there is no stale-lock cleanup. The file
// also carries a JSON description of the holder for error messages.
package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLocked indicates another session holds the output lock.
	ErrLocked = errors.New("output tree is locked by another session")

	// ErrNotHeld indicates Release on a lock that is not held.
	ErrNotHeld = errors.New("output lock not held")
)

// Info describes the holder of a lock.
type Info struct {
	Root     string    `json:"root"`
	PID      int       `json:"pid"`
	Host     string    `json:"host,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	LockedAt time.Time `json:"locked_at"`
}

// HeldError reports lock contention together with the holder, when the
// holder could be read.
type HeldError struct {
	Path   string
	Holder *Info
}

// Error implements the error interface.
func (e *HeldError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("%s: %v", e.Path, ErrLocked)
	}
	return fmt.Sprintf("%s: %v (pid %d, run %s, since %s)",
		e.Path, ErrLocked, e.Holder.PID, e.Holder.RunID, e.Holder.LockedAt.Format(time.RFC3339))
}

// Unwrap returns ErrLocked.
func (e *HeldError) Unwrap() error { return ErrLocked }
