// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		store      Store
		opts       []oidc.Option
		wantCookie string
		wantIsErr  error
	}{
		{name: "defaults", store: NewMemoryStore(), wantCookie: DefaultCookieName},
		{name: "cookie-name", store: NewMemoryStore(), opts: []oidc.Option{WithCookieName("sid")}, wantCookie: "sid"},
		{name: "nil-store", wantIsErr: oidc.ErrNilParameter},
		{name: "empty-cookie-name", store: NewMemoryStore(), opts: []oidc.Option{WithCookieName("")}, wantIsErr: oidc.ErrInvalidParameter},
		{name: "zero-ttl", store: NewMemoryStore(), opts: []oidc.Option{WithTTL(0)}, wantIsErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			m, err := NewManager(tt.store, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantCookie, m.CookieName())
		})
	}
}

func responseCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	require.FailNow(t, "missing cookie", name)
	return nil
}

func TestManager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	store := NewMemoryStore()
	m, err := NewManager(store, WithTTL(time.Hour), WithSecureCookie(true), WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	t.Run("new-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(err)
		assert.Empty(s.ID)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "ses_unknown"})
		s, err = m.Load(r)
		require.NoError(err)
		assert.Empty(s.ID)
	})

	t.Run("save-load-renew-destroy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := &Session{State: &oidc.State{Nonce: "n", IssuedAt: now}}
		w := httptest.NewRecorder()
		require.NoError(m.Save(ctx, w, s))
		assert.True(strings.HasPrefix(s.ID, "ses_"))
		assert.Equal(now, s.CreatedAt)

		c := responseCookie(t, w, DefaultCookieName)
		assert.Equal(s.ID, c.Value)
		assert.Equal(3600, c.MaxAge)
		assert.True(c.HttpOnly)
		assert.True(c.Secure)
		assert.Equal(http.SameSiteLaxMode, c.SameSite)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(c)
		loaded, err := m.Load(r)
		require.NoError(err)
		assert.Equal(s, loaded)

		oldID := loaded.ID
		loaded.Login("usr_1")
		w = httptest.NewRecorder()
		require.NoError(m.Renew(ctx, w, loaded))
		assert.NotEqual(oldID, loaded.ID)
		assert.Equal(loaded.ID, responseCookie(t, w, DefaultCookieName).Value)
		_, err = store.Get(ctx, oldID)
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

		renewedID := loaded.ID
		w = httptest.NewRecorder()
		require.NoError(m.Destroy(ctx, w, loaded))
		assert.Equal(&Session{}, loaded)
		assert.True(responseCookie(t, w, DefaultCookieName).MaxAge < 0)
		_, err = store.Get(ctx, renewedID)
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)
	})

	t.Run("nil-session", func(t *testing.T) {
		assert := assert.New(t)
		w := httptest.NewRecorder()
		for _, err := range []error{m.Save(ctx, w, nil), m.Renew(ctx, w, nil), m.Destroy(ctx, w, nil)} {
			assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrNilParameter, err)
		}
	})
}

func TestContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	_, ok := FromContext(context.Background())
	assert.False(ok)
	s := &Session{ID: "ses_1"}
	got, ok := FromContext(NewContext(context.Background(), s))
	assert.True(ok)
	assert.Same(s, got)
}
