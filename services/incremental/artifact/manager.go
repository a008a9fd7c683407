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
	"errors"
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateTracking State = iota
	StateCommitted
	StateRolledBack
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateTracking:
		return "tracking"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Manager tracks the artifacts of one run. See the package documentation
// for the call protocol.
type Manager interface {
	// Delete removes paths and any ancestor directory the removal leaves
	// empty. Missing paths are ignored.
	Delete(ctx context.Context, paths []string) error

	// Generated records paths as produced by the current round.
	Generated(ctx context.Context, paths []string) error

	// Complete commits on success and rolls back otherwise.
	Complete(ctx context.Context, success bool) error
}

// Multi returns a Manager that forwards every call to each of managers in
// order. All managers are called even if one fails; the failures are
// joined.
func Multi(managers ...Manager) Manager {
	return multi(managers)
}

type multi []Manager

func (m multi) Delete(ctx context.Context, paths []string) error {
	errs := make([]error, 0, len(m))
	for _, mgr := range m {
		errs = append(errs, mgr.Delete(ctx, paths))
	}
	return errors.Join(errs...)
}

func (m multi) Generated(ctx context.Context, paths []string) error {
	errs := make([]error, 0, len(m))
	for _, mgr := range m {
		errs = append(errs, mgr.Generated(ctx, paths))
	}
	return errors.Join(errs...)
}

func (m multi) Complete(ctx context.Context, success bool) error {
	errs := make([]error, 0, len(m))
	for _, mgr := range m {
		errs = append(errs, mgr.Complete(ctx, success))
	}
	return errors.Join(errs...)
}
