// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/hashicorp/oac/oidc/session"
	"github.com/hashicorp/oac/oidc/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv is an application serving the Handler's routes against a
// TestProvider, with a user agent keeping cookies and not following
// redirects.
type testEnv struct {
	tp       *oidc.TestProvider
	store    *memory.Store
	sessions *session.MemoryStore
	handler  *Handler
	metrics  *Metrics
	clock    *testClock
	srv      *httptest.Server
	client   *http.Client
}

type testResponse struct {
	status   int
	location string
	body     string
}

// newTestEnv creates a testEnv. The options are handed to both oidc.NewConfig
// and NewHandler, each picking the ones it supports.
func newTestEnv(t *testing.T, opt ...oidc.Option) *testEnv {
	t.Helper()
	require := require.New(t)

	tp := oidc.StartTestProvider(t)
	srv := httptest.NewUnstartedServer(nil)
	base := "http://" + srv.Listener.Addr().String()
	clock := &testClock{now: time.Now()}

	cfg := tp.Config(base+CallbackPath, opt...)
	store := memory.New()
	ks, err := oidc.NewKeyStore(cfg.JWKSURI, oidc.NewMemoryKeySetCache(), oidc.WithHTTPClient(tp.HTTPClient()))
	require.NoError(err)
	v, err := oidc.NewConfigVerifier(cfg, ks)
	require.NoError(err)
	r, err := oidc.NewResolver(store, store, cfg.LookupField)
	require.NoError(err)
	ex, err := oidc.NewExchangeClient(cfg)
	require.NoError(err)
	up, err := oidc.NewRegistry().UserProvider(oidc.DefaultProviderName, oidc.Dependencies{Verifier: v, Resolver: r})
	require.NoError(err)
	tokens, err := oidc.NewDefaultTokenProvider(ex, up, store, oidc.WithNow(clock.Now))
	require.NoError(err)

	sessions := session.NewMemoryStore(session.WithNow(clock.Now))
	mgr, err := session.NewManager(sessions, session.WithNow(clock.Now))
	require.NoError(err)
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(err)

	opt = append([]oidc.Option{WithNow(clock.Now), WithMetrics(m)}, opt...)
	h, err := NewHandler(cfg, Dependencies{Tokens: tokens, TokenStore: store, Users: store, Sessions: mgr}, opt...)
	require.NoError(err)
	srv.Config.Handler = h.Routes()
	srv.Start()
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(err)
	client := &http.Client{
		Transport: tp.HTTPClient().Transport,
		Jar:       jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{
		tp:       tp,
		store:    store,
		sessions: sessions,
		handler:  h,
		metrics:  m,
		clock:    clock,
		srv:      srv,
		client:   client,
	}
}

// get requests u, which is resolved against the application when it's a
// path.
func (e *testEnv) get(t *testing.T, u string) testResponse {
	t.Helper()
	if strings.HasPrefix(u, "/") {
		u = e.srv.URL + u
	}
	resp, err := e.client.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return testResponse{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(b)}
}

// startLogin starts a login attempt and returns the callback url the
// provider redirected to.
func (e *testEnv) startLogin(t *testing.T) string {
	t.Helper()
	require := require.New(t)
	resp := e.get(t, AuthenticatePath)
	require.Equal(http.StatusFound, resp.status)
	require.True(strings.HasPrefix(resp.location, e.tp.Addr()), resp.location)

	resp = e.get(t, resp.location)
	require.Equal(http.StatusFound, resp.status)
	require.True(strings.HasPrefix(resp.location, e.srv.URL+CallbackPath), resp.location)
	return resp.location
}

// login runs a whole login and returns the logged in user's id.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	require := require.New(t)
	resp := e.get(t, e.startLogin(t))
	require.Equalf(http.StatusFound, resp.status, "callback failed: %s", resp.body)
	require.Equal(ProfilePath, resp.location)
	u, err := e.store.LookupUser(context.Background(), "email", "alice@example.com")
	require.NoError(err)
	return u.ID
}
