// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"fmt"
)

// Common domain errors used across airweave subpackages.
// Following DDD principles, domain errors are defined at the package root.
// These errors should be checked using errors.Is().

var (
	// ErrNotFound indicates a requested resource (collection, connection, sync, job)
	// was not found. Lookups scoped to an organization return this for resources the
	// caller cannot see, so existence never leaks across organizations.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input: missing template config fields,
	// an unknown cursor field, an invalid cron expression. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyExists indicates a uniqueness conflict, such as a collection
	// readable id that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAuthFailed indicates authentication failure against a source API or
	// identity provider. Wrapping errors should include the underlying cause.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTokenRefresh indicates an unrecoverable token refresh failure
	// (invalid_grant, revoked credentials, provider not rotating).
	ErrTokenRefresh = errors.New("token refresh failed")

	// ErrRateLimited indicates source-side back-pressure (429) that persisted
	// through the retry budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient indicates a retriable failure: network errors, 5xx, timeouts.
	ErrTransient = errors.New("transient failure")

	// ErrGone indicates source-side deletion of a referenced object. The engine
	// treats this as a delete of the corresponding points and continues.
	ErrGone = errors.New("gone")

	// ErrQuotaExceeded indicates a numeric usage limit was hit.
	// Use AsQuotaError to recover limit and current values.
	ErrQuotaExceeded = errors.New("usage limit exceeded")

	// ErrPaymentRequired indicates the billing period status forbids the action
	// regardless of numeric usage.
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvariant indicates an internal invariant was violated: an impossible
	// route, bypassed DAG validation, a required transformer missing from the
	// cache. Fatal for the running job.
	ErrInvariant = errors.New("internal invariant violated")

	// ErrCancelled indicates an operation was cancelled.
	// Context cancellation should wrap this error.
	ErrCancelled = errors.New("operation cancelled")
)

// QuotaError reports a usage limit violation with enough detail for clients
// to render the overage. It unwraps to ErrQuotaExceeded.
type QuotaError struct {
	Action    Action
	Limit     int64
	Current   int64
	Requested int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("usage limit exceeded for %s: limit=%d current=%d requested=%d",
		e.Action, e.Limit, e.Current, e.Requested)
}

// Unwrap makes errors.Is(err, ErrQuotaExceeded) work.
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// AsQuotaError extracts a QuotaError from an error chain, if present.
func AsQuotaError(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// PaymentRequiredError reports a billing-status gate denial. Distinct from
// QuotaError so clients can prompt for payment rather than show an overage.
// It unwraps to ErrPaymentRequired.
type PaymentRequiredError struct {
	Action Action
	Status BillingPeriodStatus
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: action %s blocked in billing status %s", e.Action, e.Status)
}

// Unwrap makes errors.Is(err, ErrPaymentRequired) work.
func (e *PaymentRequiredError) Unwrap() error { return ErrPaymentRequired }
