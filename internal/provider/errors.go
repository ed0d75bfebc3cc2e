// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package provider fetches raw payloads from the upstream health APIs.
//
// Clients return response bodies unchanged; decoding into metrics is the
// normalizer's job. Every call runs through a per-provider circuit breaker
// and is timed in the provider request metrics.
package provider

import (
	"errors"
	"fmt"
	"io"
)

// ErrFetchFailed is wrapped by every FetchError.
var ErrFetchFailed = errors.New("provider fetch failed")

const maxErrorBodySize = 64 * 1024

// FetchError describes a non-success response from a provider: an HTTP
// status outside 2xx, or a Withings envelope status other than zero.
type FetchError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	APIStatus  int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.APIStatus != 0 {
		msg += fmt.Sprintf(": status %d", e.APIStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap returns ErrFetchFailed and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFetchFailed, e.Err}
	}
	return []error{ErrFetchFailed}
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	if len(body) == maxErrorBodySize {
		return string(body) + "... (truncated)"
	}
	return string(body)
}
