// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/incremental/services/incremental/compiler"
)

var meter = otel.Meter("incremental.session")

var (
	runsTotal        metric.Int64Counter
	runDuration      metric.Float64Histogram
	roundsTotal      metric.Int64Counter
	recompiledTotal  metric.Int64Counter
	escalationsTotal metric.Int64Counter

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

		runsTotal, err = meter.Int64Counter(
			"session_runs_total",
			metric.WithDescription("Incremental runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"session_run_duration_seconds",
			metric.WithDescription("Wall time of one incremental run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		roundsTotal, err = meter.Int64Counter(
			"session_rounds_total",
			metric.WithDescription("Compilation rounds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recompiledTotal, err = meter.Int64Counter(
			"session_recompiled_sources_total",
			metric.WithDescription("Sources handed to the compiler, counted per round"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		escalationsTotal, err = meter.Int64Counter(
			"session_escalations_total",
			metric.WithDescription("Runs escalated to a full rebuild by the fraction rule"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func runOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCompilationFailed):
		return "compile_error"
	case errors.Is(err, compiler.ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}

func recordRun(ctx context.Context, res Result, d time.Duration, err error) {
	if !metricsEnabled.Load() || runsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", runOutcome(err)))
	runsTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, d.Seconds(), attrs)
	if res.Escalated {
		escalationsTotal.Add(ctx, 1)
	}
}

func recordRound(ctx context.Context, sources int) {
	if !metricsEnabled.Load() || roundsTotal == nil {
		return
	}
	roundsTotal.Add(ctx, 1)
	recompiledTotal.Add(ctx, int64(sources))
}
