// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/hashicorp/oac/oidc/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "oac.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	t.Parallel()
	storagetest.TestStore(t, func(t *testing.T) storagetest.Store {
		return testOpen(t)
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()
	t.Run("missing-path", func(t *testing.T) {
		_, err := Open(context.Background(), " ")
		assert.Truef(t, errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
	})
	t.Run("reopen", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "oac.db")

		s, err := Open(ctx, path)
		require.NoError(err)
		assert.Equal(int64(1), s.SchemaVersion())
		u := &oidc.User{ID: "usr_1", Username: "alice", Email: "alice@example.com", CreatedAt: time.Now().UTC().Truncate(time.Second)}
		require.NoError(s.CreateUser(ctx, u))
		require.NoError(s.Close())

		s, err = Open(ctx, path)
		require.NoError(err)
		defer s.Close()
		assert.Equal(int64(1), s.SchemaVersion())
		got, err := s.UserByID(ctx, "usr_1")
		require.NoError(err)
		assert.Equal(u, got)
	})
}

func TestStore_cascade(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s := testOpen(t)

	require.NoError(s.CreateUser(ctx, &oidc.User{ID: "usr_1", Username: "alice", CreatedAt: time.Now()}))
	require.NoError(s.CreateToken(ctx, &oidc.Token{ID: "tok_1", UserID: "usr_1", IssuedAt: time.Now()}))
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, "usr_1")
	require.NoError(err)
	_, err = s.LatestUserToken(ctx, "usr_1")
	assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

	err = s.CreateToken(ctx, &oidc.Token{ID: "tok_2", UserID: "usr_missing", IssuedAt: time.Now()})
	assert.Error(err)
}
