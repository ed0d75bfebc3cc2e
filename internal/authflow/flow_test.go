// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package authflow

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/healthsync/internal/tokenstore"
)

type fakeExchanger struct {
	code  string
	grant *tokenstore.Grant
	err   error
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code string) (*tokenstore.Grant, error) {
	f.code = code
	return f.grant, f.err
}

func TestAuthorizeURL(t *testing.T) {
	t.Parallel()

	f := New(Config{
		AuthorizeURL: "https://account.withings.com/oauth2_user/authorize2",
		ClientID:     "client",
		RedirectURI:  "http://localhost:8080/callback",
		Scope:        "user.metrics,user.activity",
	}, nil)

	u, err := url.Parse(f.AuthorizeURL("st4te"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	want := map[string]string{
		"response_type": "code",
		"client_id":     "client",
		"redirect_uri":  "http://localhost:8080/callback",
		"scope":         "user.metrics,user.activity",
		"state":         "st4te",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		query    string
		wantCode string
		wantErr  error
		status   int
	}{
		{"success", "code=abc&state=s1", "abc", nil, http.StatusOK},
		{"denied", "error=access_denied&state=s1", "", ErrDenied, http.StatusBadRequest},
		{"missing code", "state=s1", "", ErrDenied, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			results := make(chan callback, 1)
			h := New(Config{}, nil).handler("/callback", "s1", results)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			cb := <-results
			if cb.code != tt.wantCode {
				t.Errorf("code = %q, want %q", cb.code, tt.wantCode)
			}
			if !errors.Is(cb.err, tt.wantErr) {
				t.Errorf("err = %v, want %v", cb.err, tt.wantErr)
			}
		})
	}
}

func TestHandler_WrongStateIsIgnored(t *testing.T) {
	t.Parallel()

	for _, query := range []string{"code=abc&state=other", "error=access_denied&state=other", "code=abc"} {
		results := make(chan callback, 1)
		h := New(Config{}, nil).handler("/callback", "s1", results)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+query, nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, rec.Code)
		}
		select {
		case cb := <-results:
			t.Errorf("%s: unexpected callback %+v", query, cb)
		default:
		}
	}
}

func TestCallbackPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri  string
		want string
	}{
		{"http://localhost:8080/callback", "8080"},
		{"http://localhost/callback", "80"},
		{"https://localhost/callback", "443"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.uri)
		if err != nil {
			t.Fatal(err)
		}
		if got := callbackPort(u); got != tt.want {
			t.Errorf("callbackPort(%s) = %s, want %s", tt.uri, got, tt.want)
		}
	}
}

func TestAuthorize_EndToEnd(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	redirect := "http://" + l.Addr().String() + "/callback"
	done := make(chan struct{})
	ex := &fakeExchanger{grant: &tokenstore.Grant{AccessToken: "A", RefreshToken: "R", ExpiresIn: 10800}}

	f := New(Config{
		AuthorizeURL: "https://account.withings.com/oauth2_user/authorize2",
		ClientID:     "client",
		RedirectURI:  redirect,
		Timeout:      5 * time.Second,
		Prompt: func(authURL string) {
			// Stand in for the browser: follow the redirect the provider would issue.
			u, _ := url.Parse(authURL)
			state := u.Query().Get("state")
			go func() {
				defer close(done)
				stray, err := http.Get(redirect + "?code=evil&state=forged")
				if err != nil {
					t.Errorf("stray callback request: %v", err)
					return
				}
				stray.Body.Close()
				if stray.StatusCode != http.StatusBadRequest {
					t.Errorf("stray callback status = %d, want 400", stray.StatusCode)
				}

				resp, err := http.Get(redirect + "?code=xyz&state=" + url.QueryEscape(state))
				if err != nil {
					t.Errorf("callback request: %v", err)
					return
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				if !strings.Contains(string(body), "Authorization received") {
					t.Errorf("unexpected callback body %q", body)
				}
			}()
		},
	}, ex, WithListener(l))

	grant, err := f.Authorize(context.Background())
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	<-done
	if grant.AccessToken != "A" || ex.code != "xyz" {
		t.Errorf("grant = %+v, exchanged code = %q", grant, ex.code)
	}
}

func TestAuthorize_Timeout(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := New(Config{
		RedirectURI: "http://" + l.Addr().String() + "/callback",
		Timeout:     50 * time.Millisecond,
		Prompt:      func(string) {},
	}, &fakeExchanger{}, WithListener(l))

	if _, err := f.Authorize(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
