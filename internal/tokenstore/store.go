// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package tokenstore persists the provider OAuth credential and hands out
// valid access tokens, refreshing them when they are within a minute of
// expiry.
//
// The store is not safe for use by more than one process at a time: two
// concurrent refreshes race on the persisted file and the provider may
// invalidate the refresh token used by the loser.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/metrics"
)

// expiryMargin is subtracted from expires_in when deciding expiry.
const expiryMargin = 60

var (
	// ErrAuthExpired means no credential exists and no re-authorization is possible.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrRefreshFailed means the provider rejected or failed the refresh call.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrNoCredential is returned by Load when nothing has been persisted yet.
	ErrNoCredential = errors.New("no stored credential")
)

// Credential is the persisted OAuth token set.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ObtainedAt   int64  `json:"obtained_at"`
	Scope        string `json:"scope,omitempty"`
	UserID       string `json:"userid,omitempty"`
}

// Expired reports whether the credential must be refreshed at now.
func (c *Credential) Expired(now time.Time) bool {
	lifetime := c.ExpiresIn - expiryMargin
	if lifetime < 0 {
		lifetime = 0
	}
	return now.Unix() > c.ObtainedAt+lifetime
}

// ExpiresAt returns the provider-reported expiry.
func (c *Credential) ExpiresAt() time.Time {
	return time.Unix(c.ObtainedAt+c.ExpiresIn, 0)
}

// Grant is a token set returned by the provider's token endpoint.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
	UserID       string
}

// Refresher exchanges a refresh token for a new grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Authorizer obtains a grant through an interactive authorization flow.
type Authorizer interface {
	Authorize(ctx context.Context) (*Grant, error)
}

// Option configures a Store.
type Option func(*Store)

// WithAuthorizer enables re-authorization when no credential is stored.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Store) { s.authorizer = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the credential file.
type Store struct {
	path       string
	refresher  Refresher
	authorizer Authorizer
	now        func() time.Time
	mu         sync.Mutex

	// refreshErr holds the first refresh failure. The rejected refresh
	// token is not sent again until a new grant is saved.
	refreshErr error
}

// New creates a Store persisting to path.
func New(path string, refresher Refresher, opts ...Option) *Store {
	s := &Store{path: path, refresher: refresher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted credential.
func (s *Store) Load() (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if cred.AccessToken == "" {
		return nil, ErrNoCredential
	}
	return &cred, nil
}

// Save persists grant with obtained_at set to now and returns the credential.
// A grant without a refresh token keeps the previously stored one.
func (s *Store) Save(grant *Grant) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(grant, nil)
}

func (s *Store) save(grant *Grant, previous *Credential) (*Credential, error) {
	s.refreshErr = nil

	cred := &Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresIn:    grant.ExpiresIn,
		ObtainedAt:   s.now().Unix(),
		Scope:        grant.Scope,
		UserID:       grant.UserID,
	}
	if previous != nil {
		if cred.RefreshToken == "" {
			cred.RefreshToken = previous.RefreshToken
		}
		if cred.UserID == "" {
			cred.UserID = previous.UserID
		}
	}
	if err := writeFileAtomic(s.path, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// AccessToken returns a valid access token, refreshing or re-authorizing as
// needed. On refresh failure the stored credential is left untouched and
// the same error is returned by later calls without contacting the provider.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.Load()
	if errors.Is(err, ErrNoCredential) {
		if s.authorizer == nil {
			return "", ErrAuthExpired
		}
		logging.Ctx(ctx).Info().Str("token_file", s.path).Msg("No stored credential, starting authorization")
		grant, err := s.authorizer.Authorize(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrAuthExpired, err)
		}
		cred, err = s.save(grant, nil)
		if err != nil {
			return "", err
		}
		return cred.AccessToken, nil
	}
	if err != nil {
		return "", err
	}

	now := s.now()
	if !cred.Expired(now) {
		return cred.AccessToken, nil
	}

	if s.refreshErr != nil {
		return "", s.refreshErr
	}

	logging.Ctx(ctx).Info().
		Time("expires_at", cred.ExpiresAt()).
		Msg("Access token expired, refreshing")

	grant, err := s.refresher.Refresh(ctx, cred.RefreshToken)
	metrics.RecordTokenRefresh(err)
	if err != nil {
		s.refreshErr = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		return "", s.refreshErr
	}

	refreshed, err := s.save(grant, cred)
	if err != nil {
		return "", err
	}
	logging.Ctx(ctx).Info().Time("expires_at", refreshed.ExpiresAt()).Msg("Access token refreshed")
	return refreshed.AccessToken, nil
}

// writeFileAtomic writes v as JSON to path with owner-only permissions,
// replacing any existing file in one rename.
func writeFileAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod credential: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}
