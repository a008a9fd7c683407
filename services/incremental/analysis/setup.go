// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"fmt"
	"maps"
	"slices"

	"github.com/AleutianAI/incremental/services/incremental/options"
)

// FormatVersion is the version of the persisted Contents layout. Contents
// carrying any other version are treated as absent.
const FormatVersion = 1

// Setup is the compilation setup recorded with an analysis. A setup change
// that matters invalidates the whole analysis.
type Setup struct {
	OutputDirs      []string             `json:"outputDirs"`
	SourceDirs      []string             `json:"sourceDirs,omitempty"`
	Classpath       []string             `json:"classpath"`
	CompilerOptions []string             `json:"compilerOptions"`
	Order           options.CompileOrder `json:"order"`
	StoreAPIs       bool                 `json:"storeApis"`
	Extra           map[string]string    `json:"extra,omitempty"`
}

// Compare reports whether prev and s describe the same setup. Compiler
// options matching o's ignored patterns are disregarded.
//
// Outputs:
//
//	bool - True if an analysis recorded under prev is still usable.
//	string - Why it is not, for logs. Empty when the setups match.
func (s Setup) Compare(prev Setup, o options.Options) (bool, string) {
	switch {
	case !slices.Equal(s.OutputDirs, prev.OutputDirs):
		return false, "output directories changed"
	case !slices.Equal(s.Classpath, prev.Classpath):
		return false, "classpath changed"
	case !o.SameCompilerOptions(s.CompilerOptions, prev.CompilerOptions):
		return false, "compiler options changed"
	case orderOf(s.Order) != orderOf(prev.Order):
		return false, fmt.Sprintf("compile order changed from %s to %s", orderOf(prev.Order), orderOf(s.Order))
	case s.StoreAPIs != prev.StoreAPIs:
		return false, "store-apis setting changed"
	case !maps.Equal(s.Extra, prev.Extra):
		return false, "extra options changed"
	}
	return true, ""
}

func orderOf(o options.CompileOrder) options.CompileOrder {
	if o == "" {
		return options.OrderMixed
	}
	return o
}

// Contents is the unit persisted between runs.
type Contents struct {
	Version  int       `json:"version"`
	Analysis *Analysis `json:"analysis"`
	Setup    Setup     `json:"setup"`
}

// NewContents pairs an analysis with its setup at the current version.
func NewContents(a *Analysis, setup Setup) Contents {
	return Contents{Version: FormatVersion, Analysis: a, Setup: setup}
}
