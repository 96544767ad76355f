// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
)

// UserProvider turns a provider's id_token into a local user.
type UserProvider interface {
	// GetOrCreate verifies the id_token and returns the matching user.
	// created reports whether the user was just created.
	GetOrCreate(ctx context.Context, t IdToken) (u *User, created bool, err error)
}

// DefaultUserProvider verifies id_tokens with a Verifier and resolves their
// claims with a Resolver.
type DefaultUserProvider struct {
	verifier *Verifier
	resolver *Resolver
}

// ensure that DefaultUserProvider implements the UserProvider interface
var _ UserProvider = (*DefaultUserProvider)(nil)

// NewDefaultUserProvider creates a DefaultUserProvider.
func NewDefaultUserProvider(v *Verifier, r *Resolver) (*DefaultUserProvider, error) {
	const op = "oidc.NewDefaultUserProvider"
	if v == nil {
		return nil, fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: resolver is nil: %w", op, ErrNilParameter)
	}
	return &DefaultUserProvider{verifier: v, resolver: r}, nil
}

// GetOrCreate implements UserProvider.GetOrCreate. Verification errors are
// returned as is, and the user store is untouched when verification fails.
func (p *DefaultUserProvider) GetOrCreate(ctx context.Context, t IdToken) (*User, bool, error) {
	const op = "DefaultUserProvider.GetOrCreate"
	claims, err := p.verifier.Verify(ctx, t)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	u, created, err := p.resolver.Resolve(ctx, claims)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return u, created, nil
}
