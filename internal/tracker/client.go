// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package tracker is a client for the wger REST API used as the
// destination of every synchronized metric.
package tracker

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 4 * 1024

// ErrTimeout means a call exceeded its per-call deadline.
var ErrTimeout = errors.New("tracker request timed out")

// StatusError is a response with a status other than 200 or 201.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Options configures per-call deadlines and transport.
type Options struct {
	// Timeout applies to lookups and category calls.
	Timeout time.Duration
	// WriteTimeout applies to measurement writes.
	WriteTimeout time.Duration
	// WeightTimeout applies to weight entry writes.
	WeightTimeout      time.Duration
	InsecureSkipVerify bool
	HTTPClient         *http.Client
}

// Client talks to one wger instance.
type Client struct {
	baseURL       string
	token         string
	client        *http.Client
	timeout       time.Duration
	writeTimeout  time.Duration
	weightTimeout time.Duration
}

// NewClient creates a Client. Zero timeouts default to 30s, weight writes to 60s.
func NewClient(baseURL, token string, opts Options) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		client:        opts.HTTPClient,
		timeout:       opts.Timeout,
		writeTimeout:  opts.WriteTimeout,
		weightTimeout: opts.WeightTimeout,
	}
	if c.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-hosted instances
		}
		c.client = &http.Client{Transport: transport}
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = 30 * time.Second
	}
	if c.weightTimeout <= 0 {
		c.weightTimeout = 60 * time.Second
	}
	return c
}

// do performs one request under its own deadline and decodes a 200/201 body
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}, timeout time.Duration) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.classify(ctx, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(readBodyForError(resp.Body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.classify(ctx, method, path, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// classify maps transport errors to ErrTimeout when the per-call deadline,
// not the caller's context, expired.
func (c *Client) classify(parent context.Context, method, path string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
	}
	return fmt.Errorf("%s %s failed: %w", method, path, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
