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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/incremental/services/incremental/classpath"
)

var tracer = otel.Tracer("incremental.compiler")

// PhaseCompile is the phase name used for per-unit progress.
const PhaseCompile = "compile"

// State is the lifecycle position of an Invocation.
type State int

const (
	StateIdle State = iota
	StateInvoked
	StateReporting
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInvoked:
		return "invoked"
	case StateReporting:
		return "reporting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is the input of one compilation.
type Request struct {
	// Sources is the full unit set for this round, already filtered by
	// the invalidation policy.
	Sources []string

	// Changes describes what changed outside the sources.
	Changes DependencyChanges

	// Settings select and configure the compiler instance.
	Settings Settings

	// Output says where artifacts land.
	Output Output

	Callback Callback
	Reporter Reporter

	// Lookup is handed to the backend for classpath queries. Optional.
	Lookup classpath.Lookup

	// Progress is optional.
	Progress Progress
}

// Invocation is a single-use compilation.
//
// Description:
//
//	Run negotiates the backend's protocol, takes a warm instance from the
//	cache (or starts one), and drives the backend while forwarding facts
//	and diagnostics. A non-diagnostic failure moves the invocation to
//	StateFailed; the caller must then roll back its artifact manager.
//
// Thread Safety: Run must be called once. State may be read concurrently.
type Invocation struct {
	backend Backend
	cache   *InstanceCache
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

// NewInvocation prepares an invocation. cache may be nil, in which case a
// fresh instance is started and closed within Run.
func NewInvocation(backend Backend, cache *InstanceCache, logger *slog.Logger) *Invocation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invocation{
		backend: backend,
		cache:   cache,
		logger:  logger.With("component", "compiler.Invocation"),
	}
}

// State returns the current lifecycle state.
func (inv *Invocation) State() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Compile runs a one-off invocation of backend.
func Compile(ctx context.Context, backend Backend, cache *InstanceCache, req Request, logger *slog.Logger) error {
	return NewInvocation(backend, cache, logger).Run(ctx, req)
}

// Run compiles req.Sources.
//
// # Outputs
//
//   - nil when the backend finished. Diagnostics, including errors, are
//     reported through req.Reporter and do not fail Run.
//   - ErrUnsupportedBackend before any source is touched.
//   - ErrCancelled when progress or ctx stopped the run.
//   - *BackendError for a backend crash or instance start failure.
//   - ErrInvalidState when Run was already called.
func (inv *Invocation) Run(ctx context.Context, req Request) (err error) {
	inv.mu.Lock()
	if inv.state != StateIdle {
		st := inv.state
		inv.mu.Unlock()
		return fmt.Errorf("%w: run called in state %s", ErrInvalidState, st)
	}
	inv.state = StateInvoked
	inv.mu.Unlock()

	if err := initMetrics(); err != nil {
		inv.logger.Warn("compiler metrics unavailable", slog.String("error", err.Error()))
	}

	ctx, span := tracer.Start(ctx, "compiler.Invocation.Run",
		trace.WithAttributes(
			attribute.String("compiler.backend", inv.backend.Name()),
			attribute.String("compiler.version", inv.backend.Version()),
			attribute.Int("compiler.sources", len(req.Sources)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		inv.finish(err)
		recordInvocation(ctx, inv.backend.Name(), time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	level, err := Negotiate(inv.backend)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("compiler.level", level))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	inst, release, err := inv.instance(ctx, req.Settings)
	if err != nil {
		return err
	}

	req.Reporter = &stateReporter{inv: inv, next: req.Reporter}
	progress := withContext(ctx, req.Progress)

	switch level {
	case LevelBatch:
		err = inv.runBatch(ctx, inst, req, progress)
	default:
		err = inv.runUnits(ctx, inst, req, progress)
	}
	if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	release(err)
	if err != nil {
		return err
	}

	inv.logger.Debug("compilation finished",
		slog.String("backend", inv.backend.Name()),
		slog.Int("sources", len(req.Sources)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// instance returns a compiler instance and a release func. Releasing with a
// non-nil error evicts a cached instance, since its state is unknown.
func (inv *Invocation) instance(ctx context.Context, settings Settings) (Instance, func(error), error) {
	if inv.cache == nil {
		inst, err := inv.backend.NewInstance(ctx, settings)
		if err != nil {
			return nil, nil, &BackendError{Backend: inv.backend.Name(), Err: err}
		}
		return inst, func(error) {
			if cerr := inst.Close(); cerr != nil {
				inv.logger.Warn("closing compiler instance failed", slog.String("error", cerr.Error()))
			}
		}, nil
	}

	inst, hit, err := inv.cache.GetOrCreate(ctx, inv.backend, settings)
	if err != nil {
		return nil, nil, err
	}
	inv.logger.Debug("compiler instance acquired", slog.Bool("warm", hit))
	return inst, func(runErr error) {
		if runErr != nil {
			inv.cache.Remove(settings)
		}
	}, nil
}

func (inv *Invocation) runBatch(ctx context.Context, inst Instance, req Request, progress Progress) error {
	bi, ok := inst.(BatchInstance)
	if !ok {
		return &BackendError{
			Backend: inv.backend.Name(),
			Err:     fmt.Errorf("instance %T does not implement the batch protocol", inst),
		}
	}
	batch := &Batch{
		Sources:  req.Sources,
		Changes:  req.Changes,
		Options:  req.Settings.Options,
		Output:   req.Output,
		Callback: req.Callback,
		Reporter: req.Reporter,
		Lookup:   req.Lookup,
		progress: progress,
	}
	err := inv.guard(func() error { return bi.CompileBatch(ctx, batch) })
	if batch.cancelled.Load() || errors.Is(err, ErrCancelled) {
		return ErrCancelled
	}
	return err
}

func (inv *Invocation) runUnits(ctx context.Context, inst Instance, req Request, progress Progress) error {
	ui, ok := inst.(UnitInstance)
	if !ok {
		return &BackendError{
			Backend: inv.backend.Name(),
			Err:     fmt.Errorf("instance %T does not implement the per-unit protocol", inst),
		}
	}
	total := len(req.Sources)
	for i, src := range req.Sources {
		prev := PhaseCompile
		if i == 0 {
			prev = ""
		}
		if !progress.Advance(i, total, prev, PhaseCompile) {
			return ErrCancelled
		}
		progress.StartUnit(PhaseCompile, src)
		unit := Unit{
			Source:   src,
			Changes:  req.Changes,
			Options:  req.Settings.Options,
			Output:   req.Output,
			Callback: req.Callback,
			Reporter: req.Reporter,
			Lookup:   req.Lookup,
		}
		if err := inv.guard(func() error { return ui.CompileUnit(ctx, unit) }); err != nil {
			if errors.Is(err, ErrCancelled) {
				return ErrCancelled
			}
			return err
		}
		recordUnit(ctx, inv.backend.Name())
	}
	if !progress.Advance(total, total, PhaseCompile, "") {
		return ErrCancelled
	}
	return nil
}

// guard turns a backend panic or error into a BackendError.
func (inv *Invocation) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BackendError{Backend: inv.backend.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err = fn(); err == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: inv.backend.Name(), Err: err}
}

func (inv *Invocation) finish(err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if err != nil {
		inv.state = StateFailed
		return
	}
	inv.state = StateCompleted
}

func (inv *Invocation) markReporting() {
	inv.mu.Lock()
	if inv.state == StateInvoked {
		inv.state = StateReporting
	}
	inv.mu.Unlock()
}

// stateReporter moves the invocation into StateReporting on the first
// diagnostic.
type stateReporter struct {
	inv  *Invocation
	next Reporter
}

func (r *stateReporter) Report(p Problem) {
	r.inv.markReporting()
	if r.next != nil {
		r.next.Report(p)
	}
}
