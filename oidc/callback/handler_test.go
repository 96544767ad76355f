// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/hashicorp/oac/oidc/session"
	"github.com/hashicorp/oac/oidc/storage/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	cfg := tp.Config("https://app.example.com/callback")
	store := memory.New()
	mgr, err := session.NewManager(session.NewMemoryStore())
	require.NoError(t, err)
	tokens := &testTokenProvider{}
	valid := Dependencies{Tokens: tokens, TokenStore: store, Users: store, Sessions: mgr}

	invalidCfg := *cfg
	invalidCfg.TokenURI = ""

	tests := []struct {
		name      string
		config    *oidc.Config
		deps      func() Dependencies
		wantIsErr error
	}{
		{name: "valid", config: cfg, deps: func() Dependencies { return valid }},
		{name: "nil-config", deps: func() Dependencies { return valid }, wantIsErr: oidc.ErrNilParameter},
		{name: "invalid-config", config: &invalidCfg, deps: func() Dependencies { return valid }, wantIsErr: oidc.ErrConfiguration},
		{name: "missing-tokens", config: cfg, deps: func() Dependencies { d := valid; d.Tokens = nil; return d }, wantIsErr: oidc.ErrNilParameter},
		{name: "missing-token-store", config: cfg, deps: func() Dependencies { d := valid; d.TokenStore = nil; return d }, wantIsErr: oidc.ErrNilParameter},
		{name: "missing-users", config: cfg, deps: func() Dependencies { d := valid; d.Users = nil; return d }, wantIsErr: oidc.ErrNilParameter},
		{name: "missing-sessions", config: cfg, deps: func() Dependencies { d := valid; d.Sessions = nil; return d }, wantIsErr: oidc.ErrNilParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			h, err := NewHandler(tt.config, tt.deps())
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(ProfilePath, h.successRedirect)
			assert.Equal("/", h.logoutRedirect)
			assert.Equal(AuthenticatePath, h.loginRedirect)
		})
	}
}

func TestHandler_Authenticate(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t)

	resp := e.get(t, AuthenticatePath)
	require.Equal(http.StatusFound, resp.status)
	u, err := url.Parse(resp.location)
	require.NoError(err)
	q := u.Query()
	assert.Equal(oidc.TestAuthorizePath, u.Path)
	assert.Equal("code", q.Get("response_type"))
	assert.Equal("openid", q.Get("scope"))
	assert.Equal("test-client-id", q.Get("client_id"))
	assert.Equal(e.srv.URL+CallbackPath, q.Get("redirect_uri"))
	assert.NotEmpty(q.Get("state"))
	assert.Equal(1, e.sessions.Len())

	again := e.get(t, AuthenticatePath)
	u2, err := url.Parse(again.location)
	require.NoError(err)
	assert.NotEqual(q.Get("state"), u2.Query().Get("state"))
	assert.Equal(1, e.sessions.Len())
}

func TestHandler_Callback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := newTestEnv(t)
		userID := e.login(t)

		tok, err := e.store.LatestUserToken(ctx, userID)
		require.NoError(err)
		assert.False(tok.HasExpired(e.clock.Now()))
		assert.True(e.tp.IsActiveRefreshToken(string(tok.RefreshToken)))
		assert.Equal(float64(1), testutil.ToFloat64(e.metrics.logins.WithLabelValues("success")))

		resp := e.get(t, ProfilePath)
		require.Equal(http.StatusOK, resp.status)
		var p Profile
		require.NoError(json.Unmarshal([]byte(resp.body), &p))
		assert.Equal(Profile{FirstName: "Alice", LastName: "Doe", Email: "alice@example.com", Username: "alice"}, p)
	})

	t.Run("repeated-logins", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := newTestEnv(t)
		first := e.login(t)
		firstTok, err := e.store.LatestUserToken(ctx, first)
		require.NoError(err)
		second := e.login(t)
		third := e.login(t)
		assert.Equal(first, second)
		assert.Equal(first, third)

		users, tokens := e.store.Len()
		assert.Equal(1, users)
		assert.Equal(1, tokens)
		latest, err := e.store.LatestUserToken(ctx, first)
		require.NoError(err)
		assert.NotEqual(firstTok.ID, latest.ID)
	})

	t.Run("replay", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := newTestEnv(t)
		callbackURL := e.startLogin(t)
		resp := e.get(t, callbackURL)
		require.Equal(http.StatusFound, resp.status)

		resp = e.get(t, callbackURL)
		assert.Equal(http.StatusBadRequest, resp.status)
		assert.Contains(resp.body, "invalid_state")
		assert.Equal(float64(1), testutil.ToFloat64(e.metrics.logins.WithLabelValues("mismatching_state")))
	})

	t.Run("state-expiry-boundary", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)

		e := newTestEnv(t)
		callbackURL := e.startLogin(t)
		e.clock.Add(299 * time.Second)
		assert.Equal(http.StatusFound, e.get(t, callbackURL).status)

		e = newTestEnv(t)
		callbackURL = e.startLogin(t)
		e.clock.Add(301 * time.Second)
		resp := e.get(t, callbackURL)
		assert.Equal(http.StatusBadRequest, resp.status)
		assert.Contains(resp.body, "expired_state")
		assert.Equal(float64(1), testutil.ToFloat64(e.metrics.logins.WithLabelValues("expired_state")))

		// the expired state was cleared, so it can't be retried
		resp = e.get(t, callbackURL)
		assert.Equal(http.StatusBadRequest, resp.status)
		assert.Contains(resp.body, "invalid_state")
	})

	t.Run("state-expiry-disabled", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		e := newTestEnv(t, oidc.WithStateExpiresIn(0))
		callbackURL := e.startLogin(t)
		// well past the state max age, within the session lifetime
		e.clock.Add(time.Hour)
		assert.Equal(http.StatusFound, e.get(t, callbackURL).status)
	})

	tests := []struct {
		name       string
		setup      func(e *testEnv)
		callback   func(t *testing.T, e *testEnv, callbackURL string) string
		wantStatus int
		wantResult string
	}{
		{
			name:       "missing-code",
			callback:   func(t *testing.T, e *testEnv, u string) string { return withQuery(t, u, "code", "") },
			wantStatus: http.StatusBadRequest,
			wantResult: "bad_request",
		},
		{
			name:       "missing-state",
			callback:   func(t *testing.T, e *testEnv, u string) string { return withQuery(t, u, "state", "") },
			wantStatus: http.StatusBadRequest,
			wantResult: "bad_request",
		},
		{
			name:       "provider-error",
			callback:   func(t *testing.T, e *testEnv, u string) string { return withQuery(t, u, "error", "access_denied") },
			wantStatus: http.StatusBadRequest,
			wantResult: "bad_request",
		},
		{
			name:       "mismatching-state",
			callback:   func(t *testing.T, e *testEnv, u string) string { return withQuery(t, u, "state", "forged") },
			wantStatus: http.StatusBadRequest,
			wantResult: "mismatching_state",
		},
		{
			name:       "no-pending-state",
			callback:   func(t *testing.T, e *testEnv, u string) string { return e.srv.URL + CallbackPath + "?code=test-code&state=forged" },
			wantStatus: http.StatusBadRequest,
			wantResult: "mismatching_state",
		},
		{
			name:       "token-endpoint-failure",
			setup:      func(e *testEnv) { e.tp.SetStatusCode(oidc.TestTokenPath, http.StatusBadGateway) },
			wantStatus: http.StatusInternalServerError,
			wantResult: "provider_error",
		},
		{
			name:       "missing-refresh-token",
			setup:      func(e *testEnv) { e.tp.OmitFields("refresh_token") },
			wantStatus: http.StatusInternalServerError,
			wantResult: "provider_error",
		},
		{
			name:       "wrong-code",
			callback:   func(t *testing.T, e *testEnv, u string) string { return withQuery(t, u, "code", "other-code") },
			wantStatus: http.StatusInternalServerError,
			wantResult: "provider_error",
		},
		{
			name: "insufficient-claims",
			setup: func(e *testEnv) {
				claims := oidc.TestDefaultClaims()
				delete(claims, "email")
				e.tp.SetClaims(claims)
			},
			wantStatus: http.StatusInternalServerError,
			wantResult: "insufficient_payload",
		},
		{
			name:       "wrong-audience",
			setup:      func(e *testEnv) { e.tp.SetCustomAudience("someone-else") },
			wantStatus: http.StatusInternalServerError,
			wantResult: "error",
		},
		{
			name:       "jwks-failure",
			setup:      func(e *testEnv) { e.tp.SetStatusCode(oidc.TestJWKSPath, http.StatusInternalServerError) },
			wantStatus: http.StatusInternalServerError,
			wantResult: "provider_error",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			e := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(e)
			}
			original := e.startLogin(t)
			callbackURL := original
			if tt.callback != nil {
				callbackURL = tt.callback(t, e, original)
			}
			resp := e.get(t, callbackURL)
			assert.Equal(tt.wantStatus, resp.status, resp.body)
			var body ErrorResponse
			require.NoError(json.Unmarshal([]byte(resp.body), &body))
			assert.NotEmpty(body.Error)
			assert.Equal(float64(1), testutil.ToFloat64(e.metrics.logins.WithLabelValues(tt.wantResult)))

			users, tokens := e.store.Len()
			assert.Equal(0, users)
			assert.Equal(0, tokens)

			// the pending state is gone whatever the outcome
			resp = e.get(t, original)
			assert.Equal(http.StatusBadRequest, resp.status)
			assert.Contains(resp.body, "invalid_state")
		})
	}
}

func withQuery(t *testing.T, raw, key, value string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	if value == "" {
		q.Del(key)
	} else {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func TestHandler_Logout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		e := newTestEnv(t)
		resp := e.get(t, LogoutPath)
		assert.Equal(http.StatusFound, resp.status)
		assert.Equal(AuthenticatePath, resp.location)
	})

	t.Run("revoked", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := newTestEnv(t)
		userID := e.login(t)
		tok, err := e.store.LatestUserToken(ctx, userID)
		require.NoError(err)

		resp := e.get(t, LogoutPath)
		assert.Equal(http.StatusFound, resp.status)
		assert.Equal("/", resp.location)
		assert.Equal([]string{string(tok.RefreshToken)}, e.tp.RevokedTokens())
		assert.Equal("refresh_token", e.tp.LastForm(oidc.TestRevokePath).Get("token_type_hint"))
		_, err = e.store.LatestUserToken(ctx, userID)
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)
		assert.Equal(float64(1), testutil.ToFloat64(e.metrics.logouts.WithLabelValues("user")))

		assert.Equal(http.StatusFound, e.get(t, ProfilePath).status)
	})

	t.Run("revoke-failure-keeps-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := newTestEnv(t)
		userID := e.login(t)
		e.tp.SetStatusCode(oidc.TestRevokePath, http.StatusServiceUnavailable)

		resp := e.get(t, LogoutPath)
		assert.Equal(http.StatusInternalServerError, resp.status)
		_, err := e.store.LatestUserToken(ctx, userID)
		require.NoError(err)
		assert.Equal(float64(1), testutil.ToFloat64(e.metrics.logouts.WithLabelValues("revoke_failed")))

		// logged out locally anyway
		resp = e.get(t, ProfilePath)
		assert.Equal(http.StatusFound, resp.status)
		assert.Equal(AuthenticatePath, resp.location)
	})

	t.Run("no-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := newTestEnv(t)
		userID := e.login(t)
		_, err := e.store.DeleteUserTokens(ctx, userID)
		require.NoError(err)

		resp := e.get(t, LogoutPath)
		assert.Equal(http.StatusFound, resp.status)
		assert.Empty(e.tp.RevokedTokens())
	})
}

func TestHandler_Profile(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t, WithLoginRedirect("/login"))
	resp := e.get(t, ProfilePath)
	assert.Equal(http.StatusFound, resp.status)
	assert.Equal("/login", resp.location)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{err: oidc.ErrProviderRequest, want: http.StatusBadRequest},
		{err: oidc.ErrMismatchingState, want: http.StatusBadRequest},
		{err: oidc.ErrExpiredState, want: http.StatusBadRequest},
		{err: oidc.ErrNoUser, want: http.StatusForbidden},
		{err: oidc.ErrConfiguration, want: http.StatusInternalServerError},
		{err: &oidc.ProviderResponseError{Op: "op", StatusCode: 502}, want: http.StatusInternalServerError},
		{err: &oidc.InsufficientPayloadError{Missing: []string{"email"}}, want: http.StatusInternalServerError},
		{err: errors.New("crypto/rsa: verification error"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestHandler_customErrorResponse(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var gotStatus int
	var gotErr error
	e := newTestEnv(t, WithErrorResponseFunc(func(status int, err error, w http.ResponseWriter, _ *http.Request) {
		gotStatus, gotErr = status, err
		w.WriteHeader(http.StatusTeapot)
	}))
	resp := e.get(t, CallbackPath)
	assert.Equal(http.StatusTeapot, resp.status)
	assert.Equal(http.StatusBadRequest, gotStatus)
	assert.Truef(errors.Is(gotErr, oidc.ErrProviderRequest), "wanted \"%s\" but got \"%s\"", oidc.ErrProviderRequest, gotErr)
}
