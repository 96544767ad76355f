// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
)

// maxKeySetSize bounds the size of a JWKS document read from the provider.
const maxKeySetSize = 1 << 20

// KeyStore serves the provider's signing keys by key id. It caches the whole
// key set document (not individual keys) in a KeySetCache keyed by
// KeySetCacheKey(jwksURI), so documents carrying several keys during a
// rotation are handled with a single entry.
//
// A cached document is only replaced when it doesn't carry the requested kid
// or when a caller reports a signature failure with a cached key (see
// Verifier). There is no TTL.
type KeyStore struct {
	uri      string
	cacheKey string
	cache    KeySetCache
	client   *http.Client
	logger   hclog.Logger
}

// NewKeyStore creates a KeyStore for the key set published at jwksURI.
//
// Supported options: WithHTTPClient, WithLogger
func NewKeyStore(jwksURI string, cache KeySetCache, opt ...Option) (*KeyStore, error) {
	const op = "oidc.NewKeyStore"
	if jwksURI == "" {
		return nil, fmt.Errorf("%s: missing required setting \"jwks_uri\": %w", op, ErrConfiguration)
	}
	if cache == nil {
		return nil, fmt.Errorf("%s: key set cache is nil: %w", op, ErrNilParameter)
	}
	opts := getKeyStoreOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &KeyStore{
		uri:      jwksURI,
		cacheKey: KeySetCacheKey(jwksURI),
		cache:    cache,
		client:   client,
		logger:   opts.withLogger.Named("KeyStore"),
	}, nil
}

// CacheKey returns the key the store's document is cached under.
func (ks *KeyStore) CacheKey() string { return ks.cacheKey }

// URI returns the JWKS URI.
func (ks *KeyStore) URI() string { return ks.uri }

// Get returns the key matching kid. It reads the cached key set first and
// fetches a fresh one from the provider when there is no cached set or the
// cached set has no key for kid. fromCache reports whether the key came from
// the cache, in which case a signature failure with it should be retried
// using Fresh.
//
// Errors: *ProviderResponseError when the fetch fails, ErrKeyNotFound when a
// freshly fetched set has no key for kid.
func (ks *KeyStore) Get(ctx context.Context, kid string) (key *jose.JSONWebKey, fromCache bool, err error) {
	const op = "KeyStore.Get"
	payload, err := ks.cache.Get(ctx, ks.cacheKey)
	switch {
	case err == nil:
		ks.logger.Info("found cached JSON Web Key Set", "uri", ks.uri)
		set, err := parseKeySet(payload)
		if err == nil {
			if key := lookupKey(set, kid); key != nil {
				return key, true, nil
			}
			ks.logger.Info("cached JSON Web Key Set has no matching key", "uri", ks.uri, "kid", kid)
		} else {
			ks.logger.Warn("cached JSON Web Key Set is unreadable", "uri", ks.uri, "error", err)
		}
	case errors.Is(err, ErrNotFound):
	default:
		// cache read failures fall through to a fetch
		ks.logger.Warn("unable to read cached JSON Web Key Set", "uri", ks.uri, "error", err)
	}

	key, err = ks.Fresh(ctx, kid)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return key, false, nil
}

// Fresh fetches the key set from the provider, overwrites the cached copy and
// returns the key matching kid. It never reads the cache.
func (ks *KeyStore) Fresh(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	const op = "KeyStore.Fresh"
	set, err := ks.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	key := lookupKey(set, kid)
	if key == nil {
		return nil, fmt.Errorf("%s: key '%s' not found: %w", op, kid, ErrKeyNotFound)
	}
	return key, nil
}

// Refresh unconditionally fetches the key set from the provider and
// overwrites the cached copy. Concurrent refreshes are harmless: the last
// writer wins.
func (ks *KeyStore) Refresh(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "KeyStore.Refresh"
	payload, err := ks.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	set, err := parseKeySet(payload)
	if err != nil {
		return nil, &ProviderResponseError{Op: op, Msg: "JSON Web Key Set is malformed", Wrapped: err}
	}
	if err := ks.cache.Set(ctx, ks.cacheKey, payload); err != nil {
		ks.logger.Warn("unable to cache JSON Web Key Set", "uri", ks.uri, "error", err)
	} else {
		ks.logger.Info("JSON Web Key Set saved in cache", "uri", ks.uri)
	}
	return set, nil
}

// Invalidate drops the cached key set, so the next Get fetches a fresh one.
func (ks *KeyStore) Invalidate(ctx context.Context) error {
	const op = "KeyStore.Invalidate"
	if err := ks.cache.Delete(ctx, ks.cacheKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (ks *KeyStore) fetch(ctx context.Context) ([]byte, error) {
	const op = "KeyStore.fetch"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: JSON Web Key Set request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ks.logger.Error("JSON Web Key Set request failed", "uri", ks.uri, "status_code", resp.StatusCode)
		return nil, &ProviderResponseError{Op: op, StatusCode: resp.StatusCode, Msg: "JSON Web Key Set request failed"}
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, &ProviderResponseError{Op: op, Msg: "unable to read JSON Web Key Set", Wrapped: err}
	}
	ks.logger.Info("got JSON Web Key Set", "uri", ks.uri)
	return payload, nil
}

func parseKeySet(payload []byte) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func lookupKey(set *jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	keys := set.Key(kid)
	if len(keys) == 0 {
		return nil
	}
	return &keys[0]
}

// keyStoreOptions is the set of available options for KeyStore functions
type keyStoreOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

// keyStoreDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func keyStoreDefaults() keyStoreOptions {
	return keyStoreOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getKeyStoreOpts gets the KeyStore defaults and applies the opt overrides
// passed in
func getKeyStoreOpts(opt ...Option) keyStoreOptions {
	opts := keyStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
