// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/oac/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, client := testClient(t)
	tests := []struct {
		name       string
		client     redis.UniversalClient
		opts       []oidc.Option
		wantPrefix string
		wantIsErr  error
	}{
		{name: "defaults", client: client, wantPrefix: DefaultKeyPrefix},
		{name: "with-prefix", client: client, opts: []oidc.Option{WithKeyPrefix("app:")}, wantPrefix: "app:"},
		{name: "nil-client", wantIsErr: oidc.ErrNilParameter},
		{name: "negative-ttl", client: client, opts: []oidc.Option{WithTTL(-time.Second)}, wantIsErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c, err := New(tt.client, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantPrefix, c.prefix)
		})
	}
}

func TestKeySetCache(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	mr, client := testClient(t)
	c, err := New(client, WithTTL(time.Minute))
	require.NoError(err)

	_, err = c.Get(ctx, "k")
	assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

	require.NoError(c.Set(ctx, "k", []byte(`{"keys":[]}`)))
	got, err := c.Get(ctx, "k")
	require.NoError(err)
	assert.Equal(`{"keys":[]}`, string(got))
	assert.True(mr.Exists(DefaultKeyPrefix + "k"))
	assert.Equal(time.Minute, mr.TTL(DefaultKeyPrefix+"k"))

	require.NoError(c.Delete(ctx, "k"))
	require.NoError(c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

	require.NoError(c.Set(ctx, "k", []byte("v")))
	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.Truef(errors.Is(err, oidc.ErrNotFound), "wanted \"%s\" but got \"%s\"", oidc.ErrNotFound, err)

	mr.Close()
	_, err = c.Get(ctx, "k")
	require.Error(err)
	assert.False(errors.Is(err, oidc.ErrNotFound))
}

func TestKeySetCache_sharedKeyStores(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	_, client := testClient(t)
	cache, err := New(client)
	require.NoError(err)

	newVerifier := func() *oidc.Verifier {
		ks, err := oidc.NewKeyStore(tp.Addr()+oidc.TestJWKSPath, cache, oidc.WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
		v, err := oidc.NewVerifier(ks, "test-client-id")
		require.NoError(err)
		return v
	}
	first, second := newVerifier(), newVerifier()

	_, err = first.Verify(ctx, tp.IDToken())
	require.NoError(err)
	_, err = second.Verify(ctx, tp.IDToken())
	require.NoError(err)
	assert.Equal(1, tp.Requests(oidc.TestJWKSPath))

	tp.ReplaceSigningKey()
	_, err = second.Verify(ctx, tp.IDToken())
	require.NoError(err)
	assert.Equal(2, tp.Requests(oidc.TestJWKSPath))
	_, err = first.Verify(ctx, tp.IDToken())
	require.NoError(err)
	assert.Equal(2, tp.Requests(oidc.TestJWKSPath))
}
