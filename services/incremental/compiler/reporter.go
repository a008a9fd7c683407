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
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Severity ranks a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Position locates a diagnostic. Line and Column are 1-based; zero means
// unknown.
type Position struct {
	Path   string `json:"path,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String renders the position as path:line:column, omitting unknown parts.
func (p Position) String() string {
	switch {
	case p.Path == "":
		return ""
	case p.Line == 0:
		return p.Path
	case p.Column == 0:
		return fmt.Sprintf("%s:%d", p.Path, p.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", p.Path, p.Line, p.Column)
	}
}

// Problem is one diagnostic reported by a backend.
type Problem struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Position Position `json:"position"`
}

// Reporter receives diagnostics. Diagnostics never change control flow;
// only the backend's own return value decides whether a round failed.
type Reporter interface {
	Report(p Problem)
}

// CollectingReporter keeps every problem and optionally logs each one.
//
// Thread Safety: Safe for concurrent use.
type CollectingReporter struct {
	mu       sync.Mutex
	problems []Problem
	logger   *slog.Logger
}

// NewCollectingReporter creates a reporter. A nil logger disables logging.
func NewCollectingReporter(logger *slog.Logger) *CollectingReporter {
	return &CollectingReporter{logger: logger}
}

// Report implements Reporter.
func (r *CollectingReporter) Report(p Problem) {
	r.mu.Lock()
	r.problems = append(r.problems, p)
	r.mu.Unlock()

	if r.logger == nil {
		return
	}
	attrs := []any{slog.String("position", p.Position.String())}
	switch p.Severity {
	case SeverityError:
		r.logger.Error(p.Message, attrs...)
	case SeverityWarning:
		r.logger.Warn(p.Message, attrs...)
	default:
		r.logger.Info(p.Message, attrs...)
	}
}

// Problems returns a copy of everything reported so far.
func (r *CollectingReporter) Problems() []Problem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.problems)
}

// HasErrors reports whether any error-severity problem was reported.
func (r *CollectingReporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.problems, func(p Problem) bool {
		return p.Severity == SeverityError
	})
}

// Reset drops collected problems.
func (r *CollectingReporter) Reset() {
	r.mu.Lock()
	r.problems = nil
	r.mu.Unlock()
}
