// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package options defines the immutable configuration of the incremental
// compiler: the invalidation policy tunables, the artifact-manager mode, and
// the path-portability switches.
//
// # Immutability
//
// Options is a value type. Every field has one default (see Default) and one
// wither that returns a modified copy; the receiver is never changed. Maps and
// slices are copied on the way in and on the way out so that no caller can
// alias internal state.
//
// # Validation
//
// Range checks happen at construction (FromFile, Load, and the validating
// withers). An Options value that exists is always valid, so the policy code
// that consumes it never has to fail.
package options

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for options construction.
var (
	// ErrInvalidOptions is returned when a field is outside its allowed range.
	ErrInvalidOptions = errors.New("invalid incremental options")

	// ErrInvalidPattern is returned when an ignored-option pattern does not
	// compile as a regular expression.
	ErrInvalidPattern = errors.New("invalid ignored option pattern")

	// ErrUnknownMode is returned when a mode or order string is not recognised.
	ErrUnknownMode = errors.New("unknown mode")
)

// optionsValidate is the validator instance for the File form.
var optionsValidate = validator.New()

// validationError flattens validator field errors into one wrapped error.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(parts, "; "))
}
