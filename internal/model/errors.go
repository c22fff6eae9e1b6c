// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// InvariantViolation reports a caller error that would otherwise corrupt
// state: a second turn started while one is in flight, a session reused, or
// an amendment with no in-flight turn. The target is left untouched.
type InvariantViolation struct {
	Op     string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Op + ": " + e.Reason
}

// IsInvariantViolation reports whether err is or wraps an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

func violation(op, reason string) error {
	return &InvariantViolation{Op: op, Reason: reason}
}
