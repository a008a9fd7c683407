// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package options

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Tristate
// =============================================================================

// Tristate is an optional boolean: unset, true, or false.
//
// The zero value is TristateUnset, which means "use the implementation
// default" wherever a Tristate is read.
type Tristate int8

const (
	// TristateUnset defers to the implementation default.
	TristateUnset Tristate = iota
	// TristateTrue is an explicit true.
	TristateTrue
	// TristateFalse is an explicit false.
	TristateFalse
)

// TristateOf converts a plain bool into an explicit Tristate.
func TristateOf(b bool) Tristate {
	if b {
		return TristateTrue
	}
	return TristateFalse
}

// IsSet reports whether the value was explicitly chosen.
func (t Tristate) IsSet() bool {
	return t != TristateUnset
}

// OrElse returns the explicit value, or def when unset.
func (t Tristate) OrElse(def bool) bool {
	switch t {
	case TristateTrue:
		return true
	case TristateFalse:
		return false
	default:
		return def
	}
}

// String returns "unset", "true", or "false".
func (t Tristate) String() string {
	switch t {
	case TristateTrue:
		return "true"
	case TristateFalse:
		return "false"
	default:
		return "unset"
	}
}

// =============================================================================
// Artifact manager mode
// =============================================================================

// ArtifactManagerMode selects how generated artifacts are tracked for a run.
type ArtifactManagerMode string

const (
	// ModeUnset lets the caller pick (see ResolveArtifactManagerMode).
	ModeUnset ArtifactManagerMode = ""

	// ModeDeleteImmediately removes artifacts as soon as they are invalidated
	// and never rolls back.
	ModeDeleteImmediately ArtifactManagerMode = "delete-immediately"

	// ModeTransactional keeps a snapshot of removed artifacts and restores it
	// (while deleting newly generated artifacts) when the run fails.
	ModeTransactional ArtifactManagerMode = "transactional"
)

// ParseArtifactManagerMode parses a mode name. The empty string is ModeUnset.
func ParseArtifactManagerMode(s string) (ArtifactManagerMode, error) {
	switch m := ArtifactManagerMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeUnset, ModeDeleteImmediately, ModeTransactional:
		return m, nil
	default:
		return ModeUnset, fmt.Errorf("%w: artifact manager %q", ErrUnknownMode, s)
	}
}

// =============================================================================
// Compile order
// =============================================================================

// CompileOrder governs how a mixed-language project schedules its two
// compilers within a single round.
//
// The order is a performance knob. It does not guarantee cross-language
// visibility within one round: incremental compilation is a series of rounds,
// so any ordering can be observed over time.
type CompileOrder string

const (
	// OrderMixed passes both languages to the primary compiler (which only
	// parses the foreign sources), then runs the foreign compiler with the
	// primary outputs on its classpath. Default.
	OrderMixed CompileOrder = "mixed"

	// OrderForeignFirst compiles foreign sources first, then primary sources
	// against the foreign outputs.
	OrderForeignFirst CompileOrder = "foreign-first"

	// OrderForeignLast compiles primary sources without the foreign sources,
	// then runs the foreign compiler.
	//
	// Deprecated: use OrderMixed.
	OrderForeignLast CompileOrder = "foreign-last"
)

// ParseCompileOrder parses an order name. The empty string is OrderMixed.
func ParseCompileOrder(s string) (CompileOrder, error) {
	switch o := CompileOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderMixed, nil
	case OrderMixed, OrderForeignFirst, OrderForeignLast:
		return o, nil
	default:
		return OrderMixed, fmt.Errorf("%w: compile order %q", ErrUnknownMode, s)
	}
}

// Deprecated reports whether the order is kept only for compatibility.
func (o CompileOrder) Deprecated() bool {
	return o == OrderForeignLast
}

// UnmarshalYAML accepts any case and rejects unknown names.
func (o *CompileOrder) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseCompileOrder(node.Value)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
