// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
)

// Claims are the claims decoded from a verified id_token. They're only used to
// resolve a user and are never persisted as is.
type Claims map[string]interface{}

// String returns the claim's value when it's a string, and "" otherwise.
func (c Claims) String(name string) string {
	if s, ok := c[name].(string); ok {
		return s
	}
	return ""
}

// Verifier verifies id_tokens signed by the provider.
type Verifier struct {
	keys           *KeyStore
	audience       string
	requiredClaims []string
	leeway         time.Duration
	algs           []string
	now            func() time.Time
	logger         hclog.Logger
}

// NewVerifier creates a Verifier that checks id_tokens were issued for
// audience (the client id), using signing keys from keys.
//
// Supported options: WithRequiredClaims, WithLeeway, WithSigningAlgs,
// WithNow, WithLogger
func NewVerifier(keys *KeyStore, audience string, opt ...Option) (*Verifier, error) {
	const op = "oidc.NewVerifier"
	if keys == nil {
		return nil, fmt.Errorf("%s: key store is nil: %w", op, ErrNilParameter)
	}
	if audience == "" {
		return nil, fmt.Errorf("%s: audience is empty: %w", op, ErrInvalidParameter)
	}
	opts := getVerifierOpts(opt...)
	if len(opts.withSigningAlgs) == 0 {
		return nil, fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(opts.withSigningAlgs))
	for _, a := range opts.withSigningAlgs {
		if !supportedAlgorithms[a] {
			return nil, fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
		}
		algs = append(algs, string(a))
	}
	return &Verifier{
		keys:           keys,
		audience:       audience,
		requiredClaims: opts.withRequiredClaims,
		leeway:         opts.withLeeway,
		algs:           algs,
		now:            opts.withNowFunc,
		logger:         opts.withLogger.Named("Verifier"),
	}, nil
}

// NewConfigVerifier creates a Verifier with the audience, claims, leeway and
// algorithms of c.
func NewConfigVerifier(c *Config, keys *KeyStore, opt ...Option) (*Verifier, error) {
	const op = "oidc.NewConfigVerifier"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := append([]Option{
		WithRequiredClaims(c.Claims()...),
		WithLeeway(c.Leeway),
		WithSigningAlgs(c.SupportedSigningAlgs...),
	}, opt...)
	v, err := NewVerifier(keys, c.ClientID, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Verify the id_token and return its claims.
//
// The token's header is read without verification only to learn its key id.
// The signature is then checked with the matching key from the KeyStore, and
// the aud, exp, nbf and iat claims are validated with the configured leeway.
// When the signature doesn't validate with a cached key, the cached key set
// is dropped and verification is retried exactly once with a freshly fetched
// key; if that fails too, the jwt error is returned.
//
// Errors from the jwt layer (expired, malformed, invalid signature) are
// wrapped but not reinterpreted, so errors.Is works with the
// github.com/golang-jwt/jwt/v5 sentinels. Missing required claims yield an
// *InsufficientPayloadError.
func (v *Verifier) Verify(ctx context.Context, token IdToken) (Claims, error) {
	const op = "Verifier.Verify"
	if token == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algs),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	unverified, _, err := parser.ParseUnverified(string(token), jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !contains(v.algs, unverified.Method.Alg()) {
		return nil, fmt.Errorf("%s: %w: signing method %s is invalid", op, jwt.ErrTokenSignatureInvalid, unverified.Method.Alg())
	}
	kid, _ := unverified.Header["kid"].(string)

	key, fromCache, err := v.keys.Get(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := v.parse(parser, token, key.Key)
	if err != nil && fromCache && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		v.logger.Info("signature is invalid with a cached key, fetching a fresh key set", "kid", kid)
		if err := v.keys.Invalidate(ctx); err != nil {
			v.logger.Warn("unable to invalidate cached JSON Web Key Set", "error", err)
		}
		key, err = v.keys.Fresh(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		claims, err = v.parse(parser, token, key.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if missing := MissingKeys(v.requiredClaims, claims); len(missing) > 0 {
		return nil, &InsufficientPayloadError{Missing: missing}
	}
	return claims, nil
}

func (v *Verifier) parse(parser *jwt.Parser, token IdToken, key interface{}) (Claims, error) {
	mapClaims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(string(token), mapClaims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		return nil, err
	}
	return Claims(mapClaims), nil
}

// verifierOptions is the set of available options for Verifier functions
type verifierOptions struct {
	withRequiredClaims []string
	withLeeway         time.Duration
	withSigningAlgs    []Alg
	withNowFunc        func() time.Time
	withLogger         hclog.Logger
}

// verifierDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func verifierDefaults() verifierOptions {
	return verifierOptions{
		withRequiredClaims: append([]string{}, DefaultRequiredClaims...),
		withLeeway:         DefaultLeeway,
		withSigningAlgs:    []Alg{RS256},
		withNowFunc:        time.Now,
		withLogger:         hclog.NewNullLogger(),
	}
}

// getVerifierOpts gets the Verifier defaults and applies the opt overrides
// passed in
func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
