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
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/stamp"
)

// Callback receives the structural facts a backend discovers while it
// compiles. Implementations must be safe for concurrent use; a backend may
// report from several goroutines.
type Callback interface {
	// StartSource announces that source is about to be compiled.
	StartSource(source string)

	// API records the public surface of source and the classes it defines.
	API(source string, api analysis.APISummary, classes []string)

	// SourceDependency records that from depends on source to.
	SourceDependency(from, to string)

	// BinaryDependency records that source depends on a classpath binary.
	BinaryDependency(source, binary string)

	// GeneratedProduct records an artifact written for source.
	GeneratedProduct(source, product string)
}

// AnalysisCallback builds the analysis of one compilation round.
//
// Description:
//
//	Every reported fact is stamped and folded into a fresh Analysis. Sources
//	with a stamp in the precomputed map reuse it; anything else is stamped
//	on first sight. Stamping failures do not interrupt the backend; the
//	first one is kept and returned by Err.
//
// Thread Safety: Safe for concurrent use.
type AnalysisCallback struct {
	mu       sync.Mutex
	stamper  *stamp.Stamper
	stamps   map[string]stamp.Stamp
	result   *analysis.Analysis
	products []string
	err      error
}

// NewAnalysisCallback creates a callback. sourceStamps may be nil.
func NewAnalysisCallback(stamper *stamp.Stamper, sourceStamps map[string]stamp.Stamp) *AnalysisCallback {
	if stamper == nil {
		stamper = stamp.NewStamper()
	}
	stamps := make(map[string]stamp.Stamp, len(sourceStamps))
	for k, v := range sourceStamps {
		stamps[k] = v
	}
	return &AnalysisCallback{
		stamper: stamper,
		stamps:  stamps,
		result:  analysis.New(),
	}
}

// StartSource implements Callback.
func (c *AnalysisCallback) StartSource(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureSource(source)
}

// API implements Callback.
func (c *AnalysisCallback) API(source string, api analysis.APISummary, classes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.ensureSource(source)
	info.API = api
	info.Classes = append(info.Classes, classes...)
	slices.Sort(info.Classes)
	info.Classes = slices.Compact(info.Classes)
	c.result.Put(source, info)
}

// SourceDependency implements Callback.
func (c *AnalysisCallback) SourceDependency(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureSource(from)
	c.result.AddSourceDependency(from, to)
}

// BinaryDependency implements Callback.
func (c *AnalysisCallback) BinaryDependency(source, binary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureSource(source)
	s, ok := c.result.Binaries[binary]
	if !ok {
		var err error
		s, err = c.stamper.Binary(binary)
		if err != nil {
			c.fail(fmt.Errorf("stamping binary %s: %w", binary, err))
		}
	}
	c.result.AddBinaryDependency(source, binary, s)
}

// GeneratedProduct implements Callback.
func (c *AnalysisCallback) GeneratedProduct(source, product string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.ensureSource(source)
	s, err := c.stamper.Product(product)
	if err != nil {
		c.fail(fmt.Errorf("stamping product %s: %w", product, err))
	}
	info.Products = append(info.Products, analysis.Product{Path: product, Stamp: s})
	c.result.Put(source, info)
	c.products = append(c.products, product)
}

// Analysis returns a copy of what has been recorded so far.
func (c *AnalysisCallback) Analysis() *analysis.Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Clone()
}

// Products returns every product reported so far, in report order. It is
// valid after a failed round too, so partial output can be handed to the
// artifact manager before rollback.
func (c *AnalysisCallback) Products() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.products)
}

// Err returns the first stamping failure, if any.
func (c *AnalysisCallback) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ensureSource must be called with c.mu held.
func (c *AnalysisCallback) ensureSource(source string) analysis.SourceInfo {
	if info, ok := c.result.Source(source); ok {
		return info
	}
	s, ok := c.stamps[source]
	if !ok {
		var err error
		s, err = c.stamper.Source(source)
		if err != nil {
			c.fail(fmt.Errorf("stamping source %s: %w", source, err))
		}
		c.stamps[source] = s
	}
	info := analysis.SourceInfo{Stamp: s}
	c.result.Put(source, info)
	return info
}

func (c *AnalysisCallback) fail(err error) {
	if c.err == nil {
		c.err = err
		return
	}
	c.err = errors.Join(c.err, err)
}
