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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("incremental.compiler")

var (
	invocationsTotal   metric.Int64Counter
	invocationDuration metric.Float64Histogram
	unitsTotal         metric.Int64Counter
	instanceLookups    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		invocationsTotal, err = meter.Int64Counter(
			"compiler_invocations_total",
			metric.WithDescription("Compiler invocations by backend and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		invocationDuration, err = meter.Float64Histogram(
			"compiler_invocation_duration_seconds",
			metric.WithDescription("Wall time of one compiler invocation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unitsTotal, err = meter.Int64Counter(
			"compiler_units_total",
			metric.WithDescription("Units compiled through the per-unit protocol"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		instanceLookups, err = meter.Int64Counter(
			"compiler_instance_lookups_total",
			metric.WithDescription("Warm instance cache lookups by result"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrUnsupportedBackend):
		return "unsupported"
	default:
		return "failed"
	}
}

func recordInvocation(ctx context.Context, backend string, d time.Duration, err error) {
	if !metricsEnabled.Load() || invocationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcomeOf(err)),
	)
	invocationsTotal.Add(ctx, 1, attrs)
	invocationDuration.Record(ctx, d.Seconds(), attrs)
}

func recordUnit(ctx context.Context, backend string) {
	if !metricsEnabled.Load() || unitsTotal == nil {
		return
	}
	unitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func recordInstanceLookup(ctx context.Context, hit bool) {
	if !metricsEnabled.Load() || instanceLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	instanceLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
