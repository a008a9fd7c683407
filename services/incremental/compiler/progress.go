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

import "context"

// Progress observes compilation and may ask it to stop.
type Progress interface {
	// StartUnit is called when the backend enters a phase for a unit.
	StartUnit(phase, unit string)

	// Advance reports movement between phases. Returning false requests
	// cancellation; the invocation then fails with ErrCancelled.
	Advance(current, total int, prevPhase, nextPhase string) bool
}

// NoProgress ignores every event and never cancels.
type NoProgress struct{}

// StartUnit implements Progress.
func (NoProgress) StartUnit(string, string) {}

// Advance implements Progress.
func (NoProgress) Advance(int, int, string, string) bool { return true }

// contextProgress cancels when ctx is done, then defers to the wrapped
// Progress.
type contextProgress struct {
	ctx  context.Context
	next Progress
}

func withContext(ctx context.Context, p Progress) Progress {
	if p == nil {
		p = NoProgress{}
	}
	return contextProgress{ctx: ctx, next: p}
}

func (p contextProgress) StartUnit(phase, unit string) {
	p.next.StartUnit(phase, unit)
}

func (p contextProgress) Advance(current, total int, prevPhase, nextPhase string) bool {
	if p.ctx.Err() != nil {
		return false
	}
	return p.next.Advance(current, total, prevPhase, nextPhase)
}
