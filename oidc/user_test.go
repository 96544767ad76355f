// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	tests := []struct {
		name      string
		users     UserStore
		tokens    TokenStore
		field     string
		wantIsErr error
	}{
		{name: "valid-email", users: s, tokens: s, field: "email"},
		{name: "valid-username", users: s, tokens: s, field: "username"},
		{name: "nil-users", tokens: s, field: "email", wantIsErr: ErrNilParameter},
		{name: "nil-tokens", users: s, field: "email", wantIsErr: ErrNilParameter},
		{name: "bad-field", users: s, tokens: s, field: "first_name", wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			r, err := NewResolver(tt.users, tt.tokens, tt.field)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.field, r.lookupField)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create-then-reuse", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := newTestStore()
		r, err := NewResolver(s, s, "email")
		require.NoError(err)

		u, created, err := r.Resolve(ctx, Claims(TestDefaultClaims()))
		require.NoError(err)
		assert.True(created)
		assert.Equal("alice", u.Username)
		assert.Equal("Alice", u.FirstName)
		assert.Equal("Doe", u.LastName)
		assert.Equal("alice@example.com", u.Email)
		assert.NotEmpty(u.ID)
		assert.False(u.CreatedAt.IsZero())

		require.NoError(s.CreateToken(ctx, &Token{ID: "tok_1", UserID: u.ID, IssuedAt: time.Now()}))
		require.NoError(s.CreateToken(ctx, &Token{ID: "tok_2", UserID: u.ID, IssuedAt: time.Now()}))
		require.NoError(s.CreateToken(ctx, &Token{ID: "tok_3", UserID: "someone-else", IssuedAt: time.Now()}))

		again, created, err := r.Resolve(ctx, Claims(TestDefaultClaims()))
		require.NoError(err)
		assert.False(created)
		assert.Equal(u.ID, again.ID)
		assert.Equal(1, s.userCount())
		assert.Equal(1, s.tokenCount())
		_, err = s.LatestUserToken(ctx, u.ID)
		assert.Truef(errors.Is(err, ErrNotFound), "wanted \"%s\" but got \"%s\"", ErrNotFound, err)
	})
	t.Run("repeated-logins", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := newTestStore()
		r, err := NewResolver(s, s, "email")
		require.NoError(err)
		for i := 0; i < 5; i++ {
			u, created, err := r.Resolve(ctx, Claims(TestDefaultClaims()))
			require.NoError(err)
			assert.Equal(i == 0, created)
			require.NoError(s.CreateToken(ctx, &Token{ID: testNewID(t), UserID: u.ID, IssuedAt: time.Now()}))
		}
		assert.Equal(1, s.userCount())
		assert.Equal(1, s.tokenCount())
	})
	t.Run("generated-username", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := newTestStore()
		r, err := NewResolver(s, s, "email")
		require.NoError(err)
		claims := Claims(TestDefaultClaims())
		delete(claims, "username")
		u, created, err := r.Resolve(ctx, claims)
		require.NoError(err)
		assert.True(created)
		assert.Len(u.Username, DefaultIDLength)
	})
	t.Run("lookup-by-username", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := newTestStore()
		r, err := NewResolver(s, s, "username")
		require.NoError(err)
		u, _, err := r.Resolve(ctx, Claims(TestDefaultClaims()))
		require.NoError(err)

		claims := Claims(TestDefaultClaims())
		claims["email"] = "alice@new.example.com"
		again, created, err := r.Resolve(ctx, claims)
		require.NoError(err)
		assert.False(created)
		assert.Equal(u.ID, again.ID)
	})
	t.Run("missing-lookup-claim", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := newTestStore()
		r, err := NewResolver(s, s, "username")
		require.NoError(err)
		claims := Claims(TestDefaultClaims())
		delete(claims, "username")
		_, _, err = r.Resolve(ctx, claims)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInsufficientPayload), "wanted \"%s\" but got \"%s\"", ErrInsufficientPayload, err)
		assert.Equal(0, s.userCount())
	})
	t.Run("store-failure", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := newTestStore()
		s.failWrite = errors.New("disk full")
		r, err := NewResolver(s, s, "email")
		require.NoError(err)
		_, _, err = r.Resolve(ctx, Claims(TestDefaultClaims()))
		require.Error(err)
		assert.Contains(err.Error(), "disk full")
	})
}

func TestUser_Field(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	u := &User{Username: "alice", Email: "alice@example.com", FirstName: "Alice"}
	assert.Equal("alice", u.Field("username"))
	assert.Equal("alice@example.com", u.Field("email"))
	assert.Equal("", u.Field("first_name"))
}

// testNewID returns a new id or fails the test.
func testNewID(t *testing.T) string {
	t.Helper()
	id, err := NewID()
	require.NoError(t, err)
	return id
}
