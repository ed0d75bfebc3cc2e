// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/metrics"
	"github.com/tomtom215/healthsync/internal/models"
)

const (
	providerSleepNumber = "sleepnumber"

	endpointLogin     = "/rest/login"
	endpointSleeper   = "/rest/sleeper"
	endpointSleepData = "/rest/sleepData"
)

// ErrNoSleeper is returned when the account has no matching sleeper.
var ErrNoSleeper = errors.New("no sleeper found")

// errNotFound marks a 404 from sleepData, which means no data for the day.
var errNotFound = errors.New("not found")

// SleepNumberOptions configures a SleepNumberClient.
type SleepNumberOptions struct {
	APIURL   string
	Email    string
	Password string

	// RequestPace is the minimum spacing between requests. Defaults to 500ms.
	RequestPace time.Duration
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Sleeper is one person registered on a bed.
type Sleeper struct {
	ID        string     `json:"sleeperId"`
	FirstName string     `json:"firstName"`
	Side      flexString `json:"side"`
	BedID     string     `json:"bedId"`
}

// SleepNumberClient holds a cookie session against the SleepIQ API.
// Requests are paced by a token bucket of size one.
type SleepNumberClient struct {
	apiURL   string
	email    string
	password string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *breaker[json.RawMessage]

	mu  sync.Mutex
	key string
}

// NewSleepNumberClient creates a client. No request is made until first use.
func NewSleepNumberClient(opts SleepNumberOptions) *SleepNumberClient {
	pace := opts.RequestPace
	if pace <= 0 {
		pace = 500 * time.Millisecond
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New never fails with nil options
		copied := *client
		copied.Jar = jar
		client = &copied
	}

	return &SleepNumberClient{
		apiURL:   strings.TrimRight(opts.APIURL, "/"),
		email:    opts.Email,
		password: opts.Password,
		timeout:  timeout,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(pace), 1),
		breaker:  newBreaker[json.RawMessage]("sleepnumber-api", providerSleepNumber),
	}
}

// Login opens a session and stores its key.
func (c *SleepNumberClient) Login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{"login": c.email, "password": c.password})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}

	raw, err := c.call(ctx, http.MethodPut, endpointLogin, nil, payload)
	if err != nil {
		return err
	}

	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if resp.Key == "" {
		return &FetchError{Provider: providerSleepNumber, Endpoint: endpointLogin, Err: errors.New("no session key returned")}
	}

	c.mu.Lock()
	c.key = resp.Key
	c.mu.Unlock()
	logging.Debug().Msg("Sleep Number session opened")
	return nil
}

// Sleepers lists the sleepers on the account.
func (c *SleepNumberClient) Sleepers(ctx context.Context) ([]Sleeper, error) {
	raw, err := c.authed(ctx, endpointSleeper, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Sleepers []Sleeper `json:"sleepers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode sleepers: %w", err)
	}
	return resp.Sleepers, nil
}

// Sleeper returns the sleeper with id, or the first sleeper when id is empty.
func (c *SleepNumberClient) Sleeper(ctx context.Context, id string) (*Sleeper, error) {
	sleepers, err := c.Sleepers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sleepers {
		if id == "" || sleepers[i].ID == id {
			return &sleepers[i], nil
		}
	}
	if id != "" {
		return nil, fmt.Errorf("%w: id %s", ErrNoSleeper, id)
	}
	return nil, ErrNoSleeper
}

// SleepData returns the daily summary for one night. found is false when
// the API reports no data for the date.
func (c *SleepNumberClient) SleepData(ctx context.Context, sleeperID string, date models.Date) (raw json.RawMessage, found bool, err error) {
	query := url.Values{
		"date":          {date.String() + "T00:00:00"},
		"interval":      {"D1"},
		"sleeper":       {sleeperID},
		"includeSlices": {"false"},
	}
	raw, err = c.authed(ctx, endpointSleepData, query)
	if errors.Is(err, errNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var day struct {
		SleepData json.RawMessage `json:"sleepData"`
	}
	if err := json.Unmarshal(raw, &day); err != nil {
		return nil, false, fmt.Errorf("decode sleep data: %w", err)
	}
	switch strings.TrimSpace(string(day.SleepData)) {
	case "", "null", "[]":
		return nil, false, nil
	}
	return raw, true, nil
}

// authed performs a GET with the session key, logging in first when there
// is no session and once more if the session was rejected.
func (c *SleepNumberClient) authed(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		key, err := c.session(ctx)
		if err != nil {
			return nil, err
		}

		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("_k", key)

		raw, err := c.call(ctx, http.MethodGet, endpoint, q, nil)
		var fe *FetchError
		if attempt == 0 && errors.As(err, &fe) && fe.StatusCode == http.StatusUnauthorized {
			logging.Debug().Str("endpoint", endpoint).Msg("Sleep Number session rejected, logging in again")
			c.mu.Lock()
			if c.key == key {
				c.key = ""
			}
			c.mu.Unlock()
			continue
		}
		return raw, err
	}
}

// session returns the current session key, logging in when there is none.
func (c *SleepNumberClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()
	if key != "" {
		return key, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, nil
}

func (c *SleepNumberClient) call(ctx context.Context, method, endpoint string, query url.Values, body []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	notFound := false
	raw, err := c.breaker.execute(endpoint, func() (json.RawMessage, error) {
		raw, err := c.do(ctx, method, endpoint, query, body)
		if errors.Is(err, errNotFound) {
			// A missing night is a normal answer, not a breaker failure.
			notFound = true
			return nil, nil
		}
		return raw, err
	})
	metrics.RecordProviderRequest(providerSleepNumber, endpoint, time.Since(start), err)
	if err == nil && notFound {
		return nil, errNotFound
	}
	return raw, err
}

func (c *SleepNumberClient) do(ctx context.Context, method, endpoint string, query url.Values, body []byte) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.apiURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Provider: providerSleepNumber, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && endpoint == endpointSleepData {
		return nil, errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			Provider:   providerSleepNumber,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
		}
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, &FetchError{Provider: providerSleepNumber, Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}
	return json.RawMessage(buf.Bytes()), nil
}
