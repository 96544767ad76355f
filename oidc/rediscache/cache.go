// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package rediscache provides an oidc.KeySetCache backed by Redis, so that
// several processes share one copy of a provider's key set.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is prepended to every cache key.
const DefaultKeyPrefix = "oac:jwks:"

// KeySetCache implements oidc.KeySetCache with Redis.
type KeySetCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ oidc.KeySetCache = (*KeySetCache)(nil)

// New creates a KeySetCache using client. A zero TTL (the default) keeps
// entries until they are deleted or overwritten.
//
// Supported options: WithKeyPrefix, WithTTL
func New(client redis.UniversalClient, opt ...oidc.Option) (*KeySetCache, error) {
	const op = "rediscache.New"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getCacheOpts(opt...)
	if opts.withTTL < 0 {
		return nil, fmt.Errorf("%s: ttl must not be negative: %w", op, oidc.ErrInvalidParameter)
	}
	return &KeySetCache{
		client: client,
		prefix: opts.withKeyPrefix,
		ttl:    opts.withTTL,
	}, nil
}

// Get implements oidc.KeySetCache.Get.
func (c *KeySetCache) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "rediscache.(KeySetCache).Get"
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %s: %w", op, key, oidc.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read key set: %w", op, err)
	}
	return b, nil
}

// Set implements oidc.KeySetCache.Set.
func (c *KeySetCache) Set(ctx context.Context, key string, value []byte) error {
	const op = "rediscache.(KeySetCache).Set"
	if err := c.client.Set(ctx, c.prefix+key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("%s: unable to store key set: %w", op, err)
	}
	return nil
}

// Delete implements oidc.KeySetCache.Delete.
func (c *KeySetCache) Delete(ctx context.Context, key string) error {
	const op = "rediscache.(KeySetCache).Delete"
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: unable to delete key set: %w", op, err)
	}
	return nil
}

type cacheOptions struct {
	withKeyPrefix string
	withTTL       time.Duration
}

func cacheDefaults() cacheOptions {
	return cacheOptions{withKeyPrefix: DefaultKeyPrefix}
}

func getCacheOpts(opt ...oidc.Option) cacheOptions {
	opts := cacheDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withKeyPrefix = prefix
		}
	}
}

// WithTTL sets an expiry on cached key sets.
func WithTTL(ttl time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withTTL = ttl
		}
	}
}
