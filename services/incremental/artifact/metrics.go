// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/incremental/services/incremental/options"
)

// Package-level meter for artifact metrics.
var meter = otel.Meter("incremental.artifact")

var (
	deletedTotal     metric.Int64Counter
	generatedTotal   metric.Int64Counter
	completeTotal    metric.Int64Counter
	runDuration      metric.Float64Histogram
	rollbackFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
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

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		deletedTotal, err = meter.Int64Counter(
			"artifact_deleted_total",
			metric.WithDescription("Artifacts removed from the output tree"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		generatedTotal, err = meter.Int64Counter(
			"artifact_generated_total",
			metric.WithDescription("Artifacts recorded as generated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		completeTotal, err = meter.Int64Counter(
			"artifact_complete_total",
			metric.WithDescription("Completed artifact runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"artifact_run_duration_seconds",
			metric.WithDescription("Time from manager creation to completion"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackFailures, err = meter.Int64Counter(
			"artifact_complete_errors_total",
			metric.WithDescription("Completions that failed with an I/O error"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func modeAttr(mode options.ArtifactManagerMode) attribute.KeyValue {
	return attribute.String("mode", string(mode))
}

func recordDeleted(ctx context.Context, n int, mode options.ArtifactManagerMode) {
	if !metricsEnabled.Load() || deletedTotal == nil || n == 0 {
		return
	}
	deletedTotal.Add(ctx, int64(n), metric.WithAttributes(modeAttr(mode)))
}

func recordGenerated(ctx context.Context, n int, mode options.ArtifactManagerMode) {
	if !metricsEnabled.Load() || generatedTotal == nil || n == 0 {
		return
	}
	generatedTotal.Add(ctx, int64(n), metric.WithAttributes(modeAttr(mode)))
}

func recordComplete(ctx context.Context, success bool, mode options.ArtifactManagerMode, d time.Duration, err error) {
	if !metricsEnabled.Load() || completeTotal == nil {
		return
	}
	outcome := "committed"
	if !success {
		outcome = "rolled_back"
	}
	attrs := metric.WithAttributes(modeAttr(mode), attribute.String("outcome", outcome))
	completeTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		rollbackFailures.Add(ctx, 1, attrs)
	}
}
