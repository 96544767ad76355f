// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package storagetest holds the behavior every oidc.UserStore and
// oidc.TokenStore implementation must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is a combined user and token store.
type Store interface {
	oidc.UserStore
	oidc.TokenStore
}

// TestStore runs the shared store tests against stores created by newStore.
// Each subtest gets its own store.
func TestStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	alice := func() *oidc.User {
		return &oidc.User{ID: "usr_alice", Username: "alice", FirstName: "Alice", LastName: "Doe", Email: "alice@example.com", CreatedAt: created}
	}

	t.Run("users", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newStore(t)

		_, err := s.UserByID(ctx, "usr_alice")
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

		require.NoError(s.CreateUser(ctx, alice()))
		got, err := s.UserByID(ctx, "usr_alice")
		require.NoError(err)
		assert.Equal(alice(), got)

		for _, field := range []string{"email", "username"} {
			got, err = s.LookupUser(ctx, field, alice().Field(field))
			require.NoError(err)
			assert.Equal("usr_alice", got.ID)
		}
		_, err = s.LookupUser(ctx, "email", "bob@example.com")
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)
		_, err = s.LookupUser(ctx, "first_name", "Alice")
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)

		dup := alice()
		dup.ID = "usr_other"
		err = s.CreateUser(ctx, dup)
		assert.Truef(errors.Is(err, oidc.ErrAlreadyExists), "wanted \"%s\" but got \"%s\"", oidc.ErrAlreadyExists, err)
	})

	t.Run("tokens", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newStore(t)
		require.NoError(s.CreateUser(ctx, alice()))

		_, err := s.LatestUserToken(ctx, "usr_alice")
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

		older := &oidc.Token{ID: "tok_1", UserID: "usr_alice", AccessToken: "at1", RefreshToken: "rt1", ExpiresIn: 60, IssuedAt: created}
		newer := &oidc.Token{ID: "tok_2", UserID: "usr_alice", AccessToken: "at2", RefreshToken: "rt2", ExpiresIn: 60, IssuedAt: created.Add(time.Minute)}
		require.NoError(s.CreateToken(ctx, older))
		require.NoError(s.CreateToken(ctx, newer))
		err = s.CreateToken(ctx, older)
		assert.Truef(errors.Is(err, oidc.ErrAlreadyExists), "wanted \"%s\" but got \"%s\"", oidc.ErrAlreadyExists, err)

		got, err := s.LatestUserToken(ctx, "usr_alice")
		require.NoError(err)
		assert.Equal(newer, got)

		updated := *older
		updated.AccessToken = "at3"
		updated.RefreshToken = "rt3"
		updated.ExpiresIn = 120
		updated.IssuedAt = created.Add(time.Hour)
		require.NoError(s.UpdateToken(ctx, &updated))
		got, err = s.LatestUserToken(ctx, "usr_alice")
		require.NoError(err)
		assert.Equal(&updated, got)

		missing := updated
		missing.ID = "tok_missing"
		err = s.UpdateToken(ctx, &missing)
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

		require.NoError(s.DeleteToken(ctx, "tok_1"))
		err = s.DeleteToken(ctx, "tok_1")
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

		n, err := s.DeleteUserTokens(ctx, "usr_alice")
		require.NoError(err)
		assert.Equal(1, n)
		n, err = s.DeleteUserTokens(ctx, "usr_alice")
		require.NoError(err)
		assert.Equal(0, n)
	})

	t.Run("resolver", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newStore(t)
		r, err := oidc.NewResolver(s, s, "email")
		require.NoError(err)
		claims := oidc.Claims(oidc.TestDefaultClaims())

		u, created, err := r.Resolve(ctx, claims)
		require.NoError(err)
		assert.True(created)
		require.NoError(s.CreateToken(ctx, &oidc.Token{ID: "tok_1", UserID: u.ID, IssuedAt: time.Now()}))

		again, created, err := r.Resolve(ctx, claims)
		require.NoError(err)
		assert.False(created)
		assert.Equal(u.ID, again.ID)
		_, err = s.LatestUserToken(ctx, u.ID)
		assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)
	})
}
