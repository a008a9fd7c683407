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
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("incremental.classpath")

var (
	lookupTotal  metric.Int64Counter
	scanTotal    metric.Int64Counter
	scannedTypes metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		lookupTotal, err = meter.Int64Counter(
			"classpath_lookup_total",
			metric.WithDescription("Membership lookups by cache outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scanTotal, err = meter.Int64Counter(
			"classpath_scan_total",
			metric.WithDescription("Classpath entries scanned"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scannedTypes, err = meter.Int64Histogram(
			"classpath_scan_classes",
			metric.WithDescription("Classes found per scanned entry"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordLookup(ctx context.Context, hit bool) {
	if !metricsEnabled.Load() || lookupTotal == nil {
		return
	}
	lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func recordScan(ctx context.Context, classes int) {
	if !metricsEnabled.Load() || scanTotal == nil {
		return
	}
	scanTotal.Add(ctx, 1)
	scannedTypes.Record(ctx, int64(classes))
}
