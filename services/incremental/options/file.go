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
	"os"

	"gopkg.in/yaml.v3"
)

// File is the serialized form of Options, as stored in a YAML settings file.
//
// Every field maps one-to-one onto an Options field. RecompileOnMacroDef is a
// pointer so that "absent" stays distinct from "false".
type File struct {
	TransitiveStep           int               `yaml:"transitive_step" validate:"gte=0"`
	RecompileAllFraction     float64           `yaml:"recompile_all_fraction" validate:"gte=0,lte=1"`
	RelationsDebug           bool              `yaml:"relations_debug"`
	APIDebug                 bool              `yaml:"api_debug"`
	APIDiffContextSize       int               `yaml:"api_diff_context_size" validate:"gte=0"`
	APIDumpDirectory         string            `yaml:"api_dump_directory,omitempty"`
	ArtifactManagerMode      string            `yaml:"artifact_manager_mode,omitempty" validate:"omitempty,oneof=delete-immediately transactional"`
	UseCustomizedFileManager bool              `yaml:"use_customized_file_manager"`
	RecompileOnMacroDef      *bool             `yaml:"recompile_on_macro_def,omitempty"`
	UseOptimizedSealed       bool              `yaml:"use_optimized_sealed"`
	StoreAPIs                bool              `yaml:"store_apis"`
	Enabled                  bool              `yaml:"enabled"`
	Extra                    map[string]string `yaml:"extra,omitempty"`
	LogRecompileOnMacro      bool              `yaml:"log_recompile_on_macro"`
	IgnoredOptions           []string          `yaml:"ignored_options,omitempty"`
	StrictMode               bool              `yaml:"strict_mode"`
	AllowMachinePath         bool              `yaml:"allow_machine_path"`
	Pipelining               bool              `yaml:"pipelining"`
}

// ToFile converts Options into its serialized form.
func (o Options) ToFile() File {
	f := File{
		TransitiveStep:           o.transitiveStep,
		RecompileAllFraction:     o.recompileAllFraction,
		RelationsDebug:           o.relationsDebug,
		APIDebug:                 o.apiDebug,
		APIDiffContextSize:       o.apiDiffContextSize,
		APIDumpDirectory:         o.apiDumpDirectory,
		ArtifactManagerMode:      string(o.artifactManagerMode),
		UseCustomizedFileManager: o.useCustomizedFileManager,
		UseOptimizedSealed:       o.useOptimizedSealed,
		StoreAPIs:                o.storeAPIs,
		Enabled:                  o.enabled,
		Extra:                    o.Extras(),
		LogRecompileOnMacro:      o.logRecompileOnMacro,
		IgnoredOptions:           o.IgnoredOptions(),
		StrictMode:               o.strictMode,
		AllowMachinePath:         o.allowMachinePath,
		Pipelining:               o.pipelining,
	}
	if o.recompileOnMacroDef.IsSet() {
		v := o.recompileOnMacroDef.OrElse(false)
		f.RecompileOnMacroDef = &v
	}
	return f
}

// FromFile validates f and builds Options from it.
//
// # Outputs
//
//   - Options: the constructed options.
//   - error: wraps ErrInvalidOptions on a range violation, ErrInvalidPattern
//     on a bad ignored-option regex, or ErrUnknownMode on a bad mode name.
func FromFile(f File) (Options, error) {
	if err := optionsValidate.Struct(f); err != nil {
		return Options{}, validationError(err)
	}
	mode, err := ParseArtifactManagerMode(f.ArtifactManagerMode)
	if err != nil {
		return Options{}, err
	}

	o := Default()
	o.transitiveStep = f.TransitiveStep
	o.recompileAllFraction = f.RecompileAllFraction
	o.relationsDebug = f.RelationsDebug
	o.apiDebug = f.APIDebug
	o.apiDiffContextSize = f.APIDiffContextSize
	o.apiDumpDirectory = f.APIDumpDirectory
	o.artifactManagerMode = mode
	o.useCustomizedFileManager = f.UseCustomizedFileManager
	if f.RecompileOnMacroDef != nil {
		o.recompileOnMacroDef = TristateOf(*f.RecompileOnMacroDef)
	}
	o.useOptimizedSealed = f.UseOptimizedSealed
	o.storeAPIs = f.StoreAPIs
	o.enabled = f.Enabled
	o = o.WithExtras(f.Extra)
	o.logRecompileOnMacro = f.LogRecompileOnMacro
	o.strictMode = f.StrictMode
	o.allowMachinePath = f.AllowMachinePath
	o.pipelining = f.Pipelining

	return o.WithIgnoredOptions(f.IgnoredOptions...)
}

// Parse decodes YAML settings on top of the defaults. Keys missing from data
// keep their default values.
func Parse(data []byte) (Options, error) {
	f := Default().ToFile()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	return FromFile(f)
}

// Load reads YAML settings from path. An empty path yields Default().
func Load(path string) (Options, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options %s: %w", path, err)
	}
	o, err := Parse(data)
	if err != nil {
		return Options{}, fmt.Errorf("load %s: %w", path, err)
	}
	return o, nil
}

// MarshalYAML renders the options in their file form.
func (o Options) MarshalYAML() (any, error) {
	return o.ToFile(), nil
}
