// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classpath

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
)

// DefinesClassFunc reports whether a class is defined by one entry.
type DefinesClassFunc func(className string) bool

// Lookup is the per-entry query surface used while compiling.
type Lookup interface {
	// Analysis returns the analysis previously produced for entry, if any.
	Analysis(ctx context.Context, entry string) (*analysis.Analysis, bool)

	// DefinesClass returns a membership predicate for entry.
	DefinesClass(ctx context.Context, entry string) (DefinesClassFunc, error)
}

// AnalysisLocator finds the analysis that produced a classpath entry, such
// as the output directory of an upstream project.
type AnalysisLocator func(ctx context.Context, entry string) (*analysis.Analysis, bool, error)

// Config configures a Cache.
type Config struct {
	// Scanner reads entries. Defaults to FSScanner.
	Scanner Scanner

	// Locator resolves entry analyses. Nil means no entry has one.
	Locator AnalysisLocator

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type membershipEntry struct {
	fp         Fingerprint
	membership *Membership
}

type analysisEntry struct {
	fp       Fingerprint
	analysis *analysis.Analysis
	found    bool
}

// Cache is the single-computation Lookup implementation.
//
// Description:
//
//	The first query for an entry fingerprint computes the result and
//	publishes it; concurrent queries join the in-flight computation
//	through a singleflight group, and later queries read the published
//	value. A changed fingerprint replaces the published value.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Cache struct {
	scanner Scanner
	locator AnalysisLocator
	logger  *slog.Logger

	mu          sync.RWMutex
	memberships map[string]membershipEntry
	analyses    map[string]analysisEntry

	scanGroup     singleflight.Group
	analysisGroup singleflight.Group
}

// NewCache creates an empty cache.
func NewCache(cfg Config) *Cache {
	if cfg.Scanner == nil {
		cfg.Scanner = FSScanner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	_ = initMetrics()
	return &Cache{
		scanner:     cfg.Scanner,
		locator:     cfg.Locator,
		logger:      cfg.Logger.With("component", "classpath.Cache"),
		memberships: make(map[string]membershipEntry),
		analyses:    make(map[string]analysisEntry),
	}
}

// DefinesClass implements Lookup.
//
// Inputs:
//
//	ctx - Cancels a scan this caller started. Joined callers share its
//	      outcome.
//	entry - Directory or archive path.
//
// Outputs:
//
//	DefinesClassFunc - Membership predicate. A missing entry defines
//	                   nothing.
//	error - Fingerprint or scan failure.
func (c *Cache) DefinesClass(ctx context.Context, entry string) (DefinesClassFunc, error) {
	m, err := c.membership(ctx, entry)
	if err != nil {
		return nil, err
	}
	return m.Defines, nil
}

func (c *Cache) membership(ctx context.Context, entry string) (*Membership, error) {
	fp, err := c.scanner.Fingerprint(entry)
	if errors.Is(err, fs.ErrNotExist) {
		return NewMembership(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fingerprint classpath entry %s: %w", entry, err)
	}

	if m, ok := c.cachedMembership(entry, fp); ok {
		recordLookup(ctx, true)
		return m, nil
	}
	recordLookup(ctx, false)

	v, err, _ := c.scanGroup.Do(entry+"\x00"+string(fp), func() (any, error) {
		// Double-check inside singleflight: a flight that completed after
		// our miss has already published.
		if m, ok := c.cachedMembership(entry, fp); ok {
			return m, nil
		}

		m, err := c.scanner.Scan(ctx, entry)
		if errors.Is(err, fs.ErrNotExist) {
			m, err = NewMembership(), nil
		}
		if err != nil {
			return nil, err
		}
		recordScan(ctx, m.Len())
		c.logger.Debug("classpath entry scanned",
			slog.String("entry", entry),
			slog.Int("classes", m.Len()),
		)

		c.mu.Lock()
		c.memberships[entry] = membershipEntry{fp: fp, membership: m}
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan classpath entry %s: %w", entry, err)
	}
	m, ok := v.(*Membership)
	if !ok {
		return nil, fmt.Errorf("scan classpath entry %s: unexpected result %T", entry, v)
	}
	return m, nil
}

func (c *Cache) cachedMembership(entry string, fp Fingerprint) (*Membership, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.memberships[entry]
	if !ok || e.fp != fp {
		return nil, false
	}
	return e.membership, true
}

// Analysis implements Lookup. Locator failures are logged and read as "no
// analysis", which only widens invalidation.
func (c *Cache) Analysis(ctx context.Context, entry string) (*analysis.Analysis, bool) {
	if c.locator == nil {
		return nil, false
	}
	fp, err := c.scanner.Fingerprint(entry)
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.analyses[entry]
	c.mu.RUnlock()
	if ok && e.fp == fp {
		return e.analysis, e.found
	}

	v, err, _ := c.analysisGroup.Do(entry+"\x00"+string(fp), func() (any, error) {
		c.mu.RLock()
		e, ok := c.analyses[entry]
		c.mu.RUnlock()
		if ok && e.fp == fp {
			return e, nil
		}

		a, found, err := c.locator(ctx, entry)
		if err != nil {
			return nil, err
		}
		e = analysisEntry{fp: fp, analysis: a, found: found}
		c.mu.Lock()
		c.analyses[entry] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		c.logger.Warn("classpath analysis lookup failed",
			slog.String("entry", entry),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	res, ok := v.(analysisEntry)
	if !ok {
		return nil, false
	}
	return res.analysis, res.found
}

// Len returns the number of entries with a published membership.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memberships)
}

// Override returns a Lookup that answers Analysis from override when it
// has a result and defers everything else to base. It lets a host tool
// supply analyses it already holds in memory.
func Override(base Lookup, override AnalysisLocator) Lookup {
	return &overrideLookup{base: base, override: override}
}

type overrideLookup struct {
	base     Lookup
	override AnalysisLocator
}

func (o *overrideLookup) Analysis(ctx context.Context, entry string) (*analysis.Analysis, bool) {
	if a, found, err := o.override(ctx, entry); err == nil && found {
		return a, true
	}
	return o.base.Analysis(ctx, entry)
}

func (o *overrideLookup) DefinesClass(ctx context.Context, entry string) (DefinesClassFunc, error) {
	return o.base.DefinesClass(ctx, entry)
}
