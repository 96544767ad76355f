// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
)

// KeySetCache stores raw JSON web key set documents. A KeySetCache is shared
// by every KeyStore in the process (or, for networked implementations, across
// processes). Entries never expire on their own: they are overwritten when a
// KeyStore refetches the key set.
//
// Implementations must be concurrently safe.
type KeySetCache interface {
	// Get returns the cached document for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the cached document for key.
	Set(ctx context.Context, key string, payload []byte) error

	// Delete removes the cached document for key. Deleting a missing key
	// isn't an error.
	Delete(ctx context.Context, key string) error
}

// KeySetCacheKey returns the stable cache key for a JWKS URI: the hex
// encoded SHA-1 of the URI.
func KeySetCacheKey(jwksURI string) string {
	sum := sha1.Sum([]byte(jwksURI))
	return hex.EncodeToString(sum[:])
}

// MemoryKeySetCache is an in-process KeySetCache.
type MemoryKeySetCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// ensure that MemoryKeySetCache implements the KeySetCache interface
var _ KeySetCache = (*MemoryKeySetCache)(nil)

// NewMemoryKeySetCache creates an empty MemoryKeySetCache.
func NewMemoryKeySetCache() *MemoryKeySetCache {
	return &MemoryKeySetCache{m: map[string][]byte{}}
}

// Get implements KeySetCache.Get. The returned slice is a copy.
func (c *MemoryKeySetCache) Get(_ context.Context, key string) ([]byte, error) {
	const op = "MemoryKeySetCache.Get"
	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, ok := c.m[key]
	if !ok {
		return nil, fmt.Errorf("%s: key set %s: %w", op, key, ErrNotFound)
	}
	return append([]byte(nil), payload...), nil
}

// Set implements KeySetCache.Set.
func (c *MemoryKeySetCache) Set(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = append([]byte(nil), payload...)
	return nil
}

// Delete implements KeySetCache.Delete.
func (c *MemoryKeySetCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}
