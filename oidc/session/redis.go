// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/oac/oidc"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is prepended to session ids to form Redis keys.
const DefaultRedisKeyPrefix = "oac:session:"

// RedisStore is a Store shared by every replica connected to the same Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore using client.
//
// Supported options: WithKeyPrefix
func NewRedisStore(client redis.UniversalClient, opt ...oidc.Option) (*RedisStore, error) {
	const op = "session.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getStoreOpts(opt...)
	return &RedisStore{client: client, prefix: opts.withKeyPrefix}, nil
}

// Get implements Store.Get.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	const op = "RedisStore.Get"
	b, err := r.client.Get(ctx, r.prefix+id).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: session: %w", op, oidc.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to load session: %w", op, err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: unable to decode session: %w", op, err)
	}
	return &s, nil
}

// Set implements Store.Set. A zero ttl keeps the session until deleted.
func (r *RedisStore) Set(ctx context.Context, s *Session, ttl time.Duration) error {
	const op = "RedisStore.Set"
	if s == nil || s.ID == "" {
		return fmt.Errorf("%s: session id is required: %w", op, oidc.ErrInvalidParameter)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: unable to encode session: %w", op, err)
	}
	if err := r.client.Set(ctx, r.prefix+s.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("%s: unable to persist session: %w", op, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	const op = "RedisStore.Delete"
	if err := r.client.Del(ctx, r.prefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: unable to delete session: %w", op, err)
	}
	return nil
}
