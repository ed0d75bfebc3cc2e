// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package authflow runs the interactive Withings OAuth authorization:
// it prints the consent URL, receives the redirect on a loopback listener
// and exchanges the code for a grant.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/tokenstore"
)

var (
	// ErrStateMismatch means the callback's state did not match the request.
	ErrStateMismatch = errors.New("authorization state mismatch")

	// ErrDenied means the user or provider refused authorization.
	ErrDenied = errors.New("authorization denied")

	// ErrTimeout means no callback arrived in time.
	ErrTimeout = errors.New("timed out waiting for authorization callback")
)

// Exchanger trades an authorization code for a grant.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (*tokenstore.Grant, error)
}

// Config describes the authorization request.
type Config struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scope        string

	// Timeout bounds the wait for the callback. Defaults to 5 minutes.
	Timeout time.Duration

	// Prompt shows the consent URL to the user. Defaults to printing on stderr.
	Prompt func(authURL string)
}

// Flow implements tokenstore.Authorizer.
type Flow struct {
	cfg       Config
	exchanger Exchanger
	listener  net.Listener
}

// Option configures a Flow.
type Option func(*Flow)

// WithListener serves the callback on l instead of binding the redirect
// URI's port.
func WithListener(l net.Listener) Option {
	return func(f *Flow) { f.listener = l }
}

// New creates a Flow.
func New(cfg Config, exchanger Exchanger, opts ...Option) *Flow {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Prompt == nil {
		cfg.Prompt = func(authURL string) {
			fmt.Fprintf(os.Stderr, "\nOpen this URL in a browser to authorize Withings access:\n\n  %s\n\n", authURL)
		}
	}
	f := &Flow{cfg: cfg, exchanger: exchanger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AuthorizeURL returns the consent URL carrying state.
func (f *Flow) AuthorizeURL(state string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {f.cfg.ClientID},
		"redirect_uri":  {f.cfg.RedirectURI},
		"scope":         {f.cfg.Scope},
		"state":         {state},
	}
	return f.cfg.AuthorizeURL + "?" + q.Encode()
}

// callback is what the redirect handler reports.
type callback struct {
	code string
	err  error
}

// handler serves the redirect path and reports exactly one callback.
// Requests that do not carry the expected state are answered with 400 and
// otherwise ignored, so a stray hit on the listener cannot end the flow.
func (f *Flow) handler(path, state string, results chan<- callback) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if q.Get("state") != state {
			log := logging.WithComponent("authflow")
			log.Warn().Str("remote", req.RemoteAddr).Msg("Ignoring callback with unexpected state")
			http.Error(w, "Authorization failed: "+ErrStateMismatch.Error(), http.StatusBadRequest)
			return
		}

		var cb callback
		switch {
		case q.Get("error") != "":
			cb.err = fmt.Errorf("%w: %s", ErrDenied, q.Get("error"))
		case q.Get("code") == "":
			cb.err = fmt.Errorf("%w: callback carries no code", ErrDenied)
		default:
			cb.code = q.Get("code")
		}

		if cb.err != nil {
			http.Error(w, "Authorization failed: "+cb.err.Error(), http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("Authorization received. You can close this window.\n"))
		}

		select {
		case results <- cb:
		default:
		}
	})
	return r
}

// callbackPort is the port the redirect URI points at, defaulting by scheme.
func callbackPort(redirect *url.URL) string {
	if port := redirect.Port(); port != "" {
		return port
	}
	if redirect.Scheme == "https" {
		return "443"
	}
	return "80"
}

// Authorize runs the flow to completion and returns the exchanged grant.
func (f *Flow) Authorize(ctx context.Context) (*tokenstore.Grant, error) {
	redirect, err := url.Parse(f.cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	state, err := generateState()
	if err != nil {
		return nil, err
	}
	log := logging.WithComponent("authflow")

	listener := f.listener
	if listener == nil {
		listener, err = net.Listen("tcp", net.JoinHostPort("127.0.0.1", callbackPort(redirect)))
		if err != nil {
			return nil, fmt.Errorf("listen for callback: %w", err)
		}
	}

	results := make(chan callback, 1)
	server := &http.Server{
		Handler:           f.handler(path, state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Callback server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx) //nolint:errcheck // best effort
	}()

	log.Info().Str("addr", listener.Addr().String()).Str("path", path).Msg("Waiting for Withings authorization callback")
	f.cfg.Prompt(f.AuthorizeURL(state))

	timer := time.NewTimer(f.cfg.Timeout)
	defer timer.Stop()

	select {
	case cb := <-results:
		if cb.err != nil {
			return nil, cb.err
		}
		grant, err := f.exchanger.ExchangeCode(ctx, cb.code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		log.Info().Str("userid", grant.UserID).Msg("Withings authorization complete")
		return grant, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
