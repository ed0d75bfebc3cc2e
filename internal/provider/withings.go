// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/metrics"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/tokenstore"
)

const (
	providerWithings = "withings"

	endpointToken    = "/v2/oauth2"
	endpointActivity = "/v2/measure"
	endpointMeasure  = "/measure"

	// WithingsScope is requested during authorization.
	WithingsScope = "user.metrics,user.activity"
)

// WithingsOptions configures a WithingsClient.
type WithingsOptions struct {
	APIURL         string
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	TokenTimeout   time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// WithingsClient calls the Withings token and data endpoints.
type WithingsClient struct {
	apiURL         string
	clientID       string
	clientSecret   string
	redirectURI    string
	tokenTimeout   time.Duration
	requestTimeout time.Duration
	client         *http.Client
	breaker        *breaker[json.RawMessage]
}

// NewWithingsClient creates a client. Zero timeouts default to 30s for the
// token endpoint and 60s for data requests.
func NewWithingsClient(opts WithingsOptions) *WithingsClient {
	c := &WithingsClient{
		apiURL:         strings.TrimRight(opts.APIURL, "/"),
		clientID:       opts.ClientID,
		clientSecret:   opts.ClientSecret,
		redirectURI:    opts.RedirectURI,
		tokenTimeout:   opts.TokenTimeout,
		requestTimeout: opts.RequestTimeout,
		client:         opts.HTTPClient,
		breaker:        newBreaker[json.RawMessage]("withings-api", providerWithings),
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.tokenTimeout <= 0 {
		c.tokenTimeout = 30 * time.Second
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 60 * time.Second
	}
	return c
}

// withingsEnvelope wraps every Withings response.
type withingsEnvelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error,omitempty"`
	Body   json.RawMessage `json:"body"`
}

type tokenBody struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	Scope        string     `json:"scope"`
	UserID       flexString `json:"userid"`
}

// ExchangeCode trades an authorization code for a grant.
func (c *WithingsClient) ExchangeCode(ctx context.Context, code string) (*tokenstore.Grant, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.redirectURI},
	}
	return c.requestToken(ctx, form)
}

// Refresh trades a refresh token for a new grant. It satisfies
// tokenstore.Refresher.
func (c *WithingsClient) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Grant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.requestToken(ctx, form)
}

func (c *WithingsClient) requestToken(ctx context.Context, form url.Values) (*tokenstore.Grant, error) {
	form.Set("action", "requesttoken")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	raw, err := c.post(ctx, endpointToken, form, "", c.tokenTimeout)
	if err != nil {
		return nil, err
	}

	var env withingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	var body tokenBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, fmt.Errorf("decode token body: %w", err)
	}
	if body.AccessToken == "" {
		return nil, &FetchError{Provider: providerWithings, Endpoint: endpointToken, Err: fmt.Errorf("response carries no access token")}
	}
	return &tokenstore.Grant{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresIn:    body.ExpiresIn,
		Scope:        body.Scope,
		UserID:       string(body.UserID),
	}, nil
}

// GetActivity returns the raw getactivity response for the inclusive range.
func (c *WithingsClient) GetActivity(ctx context.Context, accessToken string, rng models.Range) (json.RawMessage, error) {
	form := url.Values{
		"action":       {"getactivity"},
		"startdateymd": {rng.Start.String()},
		"enddateymd":   {rng.End.String()},
	}
	return c.post(ctx, endpointActivity, form, accessToken, c.requestTimeout)
}

// GetMeasures returns the raw getmeas response for real measures taken
// between start and end.
func (c *WithingsClient) GetMeasures(ctx context.Context, accessToken string, start, end time.Time) (json.RawMessage, error) {
	form := url.Values{
		"action":    {"getmeas"},
		"category":  {"1"},
		"startdate": {strconv.FormatInt(start.Unix(), 10)},
		"enddate":   {strconv.FormatInt(end.Unix(), 10)},
	}
	return c.post(ctx, endpointMeasure, form, accessToken, c.requestTimeout)
}

// post sends a form request and returns the body once both the HTTP status
// and the envelope status report success.
func (c *WithingsClient) post(ctx context.Context, endpoint string, form url.Values, accessToken string, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.breaker.execute(endpoint, func() (json.RawMessage, error) {
		return c.doPost(ctx, endpoint, form, accessToken, timeout)
	})
	metrics.RecordProviderRequest(providerWithings, endpoint, time.Since(start), err)
	return raw, err
}

func (c *WithingsClient) doPost(ctx context.Context, endpoint string, form url.Values, accessToken string, timeout time.Duration) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.apiURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Provider: providerWithings, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			Provider:   providerWithings,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
		}
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, &FetchError{Provider: providerWithings, Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}
	raw := json.RawMessage(buf.Bytes())

	var env withingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &FetchError{Provider: providerWithings, Endpoint: endpoint, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.Status != 0 {
		return nil, &FetchError{
			Provider:  providerWithings,
			Endpoint:  endpoint,
			APIStatus: env.Status,
			Body:      env.Error,
		}
	}
	return raw, nil
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}
