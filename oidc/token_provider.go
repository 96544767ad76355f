// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// TokenProvider owns the lifecycle of token records.
type TokenProvider interface {
	// Create exchanges an authorization code and stores a token record for
	// the resolved user.
	Create(ctx context.Context, code string) (*Token, error)

	// Refresh replaces the record's access token in place.
	Refresh(ctx context.Context, t *Token) error

	// Revoke revokes the record's refresh token and then deletes the record.
	Revoke(ctx context.Context, t *Token) error
}

// DefaultTokenProvider is the TokenProvider driving an exchange with the
// provider, id_token verification, user resolution and token persistence.
type DefaultTokenProvider struct {
	exchanger TokenExchanger
	users     UserProvider
	tokens    TokenStore
	now       func() time.Time
	logger    hclog.Logger
}

// ensure that DefaultTokenProvider implements the TokenProvider interface
var _ TokenProvider = (*DefaultTokenProvider)(nil)

// NewDefaultTokenProvider creates a DefaultTokenProvider.
//
// Supported options: WithNow, WithLogger
func NewDefaultTokenProvider(e TokenExchanger, users UserProvider, tokens TokenStore, opt ...Option) (*DefaultTokenProvider, error) {
	const op = "oidc.NewDefaultTokenProvider"
	switch {
	case e == nil:
		return nil, fmt.Errorf("%s: token exchanger is nil: %w", op, ErrNilParameter)
	case users == nil:
		return nil, fmt.Errorf("%s: user provider is nil: %w", op, ErrNilParameter)
	case tokens == nil:
		return nil, fmt.Errorf("%s: token store is nil: %w", op, ErrNilParameter)
	}
	opts := getTokenProviderOpts(opt...)
	return &DefaultTokenProvider{
		exchanger: e,
		users:     users,
		tokens:    tokens,
		now:       opts.withNowFunc,
		logger:    opts.withLogger.Named("DefaultTokenProvider"),
	}, nil
}

// Create implements TokenProvider.Create. Each step must succeed before the
// next starts: exchange, verification and resolution, then persistence. It
// returns ErrNoUser if no user was resolved.
func (p *DefaultTokenProvider) Create(ctx context.Context, code string) (*Token, error) {
	const op = "DefaultTokenProvider.Create"
	resp, err := p.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u, _, err := p.users.GetOrCreate(ctx, resp.IdToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%s: user provider returned no user: %w", op, ErrNoUser)
	}
	id, err := NewID(WithPrefix("tok"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t := &Token{
		ID:           id,
		UserID:       u.ID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		IssuedAt:     p.now(),
	}
	if err := p.tokens.CreateToken(ctx, t); err != nil {
		return nil, fmt.Errorf("%s: unable to store token: %w", op, err)
	}
	p.logger.Info("token created", "token", t.String())
	return t, nil
}

// Refresh implements TokenProvider.Refresh. The access token, refresh token,
// lifetime and IssuedAt are replaced in place. A failed refresh leaves the record untouched, and
// deciding what to do with it is up to the caller.
func (p *DefaultTokenProvider) Refresh(ctx context.Context, t *Token) error {
	const op = "DefaultTokenProvider.Refresh"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	resp, err := p.exchanger.Refresh(ctx, t.RefreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	updated := *t
	updated.AccessToken = resp.AccessToken
	updated.RefreshToken = resp.RefreshToken
	updated.ExpiresIn = resp.ExpiresIn
	updated.IssuedAt = p.now()
	if err := p.tokens.UpdateToken(ctx, &updated); err != nil {
		return fmt.Errorf("%s: unable to store token: %w", op, err)
	}
	*t = updated
	p.logger.Info("token refreshed", "token", t.String())
	return nil
}

// Revoke implements TokenProvider.Revoke. The record is deleted only after
// the provider confirmed the revocation, so a failed revoke can be retried.
// A record that's already gone isn't an error.
func (p *DefaultTokenProvider) Revoke(ctx context.Context, t *Token) error {
	const op = "DefaultTokenProvider.Revoke"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if err := p.exchanger.Revoke(ctx, t.RefreshToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.tokens.DeleteToken(ctx, t.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: unable to delete token: %w", op, err)
	}
	p.logger.Info("token revoked", "token", t.String())
	return nil
}

// tokenProviderOptions is the set of available options for
// DefaultTokenProvider functions
type tokenProviderOptions struct {
	withNowFunc func() time.Time
	withLogger  hclog.Logger
}

// tokenProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func tokenProviderDefaults() tokenProviderOptions {
	return tokenProviderOptions{
		withNowFunc: time.Now,
		withLogger:  hclog.NewNullLogger(),
	}
}

// getTokenProviderOpts gets the DefaultTokenProvider defaults and applies
// the opt overrides passed in
func getTokenProviderOpts(opt ...Option) tokenProviderOptions {
	opts := tokenProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
