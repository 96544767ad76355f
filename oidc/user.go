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

// User is the local account an identity is resolved to.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Field returns the value of a LookupFields field, and "" for any other
// name.
func (u *User) Field(name string) string {
	switch name {
	case "email":
		return u.Email
	case "username":
		return u.Username
	default:
		return ""
	}
}

// UserStore persists users. Email and Username are unique.
type UserStore interface {
	// UserByID returns the user with id, or ErrNotFound.
	UserByID(ctx context.Context, id string) (*User, error)

	// LookupUser returns the user whose field (one of LookupFields) equals
	// value, or ErrNotFound.
	LookupUser(ctx context.Context, field, value string) (*User, error)

	// CreateUser stores u. The ID and CreatedAt must already be set.
	CreateUser(ctx context.Context, u *User) error
}

// TokenStore persists token records.
type TokenStore interface {
	// CreateToken stores t. The ID must already be set.
	CreateToken(ctx context.Context, t *Token) error

	// UpdateToken overwrites the stored record with t.ID, or returns
	// ErrNotFound.
	UpdateToken(ctx context.Context, t *Token) error

	// DeleteToken deletes the record with id, or returns ErrNotFound.
	DeleteToken(ctx context.Context, id string) error

	// DeleteUserTokens deletes every record owned by userID and returns how
	// many there were.
	DeleteUserTokens(ctx context.Context, userID string) (int, error)

	// LatestUserToken returns the most recently issued record owned by
	// userID, or ErrNotFound.
	LatestUserToken(ctx context.Context, userID string) (*Token, error)
}

// Resolver maps verified claims to a local user, creating one when needed.
type Resolver struct {
	users       UserStore
	tokens      TokenStore
	lookupField string
	logger      hclog.Logger
}

// NewResolver creates a Resolver matching users on lookupField, which must be
// one of LookupFields.
//
// Supported options: WithLogger
func NewResolver(users UserStore, tokens TokenStore, lookupField string, opt ...Option) (*Resolver, error) {
	const op = "oidc.NewResolver"
	switch {
	case users == nil:
		return nil, fmt.Errorf("%s: user store is nil: %w", op, ErrNilParameter)
	case tokens == nil:
		return nil, fmt.Errorf("%s: token store is nil: %w", op, ErrNilParameter)
	case !contains(LookupFields, lookupField):
		return nil, fmt.Errorf("%s: unsupported lookup field %q: %w", op, lookupField, ErrInvalidParameter)
	}
	opts := getResolverOpts(opt...)
	return &Resolver{
		users:       users,
		tokens:      tokens,
		lookupField: lookupField,
		logger:      opts.withLogger.Named("Resolver"),
	}, nil
}

// Resolve finds the user whose lookup field matches the claim of the same
// name. An existing user has all of its token records deleted, since a new
// login supersedes them. Otherwise a user is created from the first_name,
// last_name, email and username claims, with a generated username when the
// provider didn't send one. created reports which case happened.
//
// Resolving the same claims repeatedly yields the same single user.
func (r *Resolver) Resolve(ctx context.Context, claims Claims) (u *User, created bool, err error) {
	const op = "Resolver.Resolve"
	value := claims.String(r.lookupField)
	if value == "" {
		return nil, false, fmt.Errorf("%s: %w", op, &InsufficientPayloadError{Missing: []string{r.lookupField}})
	}

	u, err = r.users.LookupUser(ctx, r.lookupField, value)
	switch {
	case err == nil:
		n, err := r.tokens.DeleteUserTokens(ctx, u.ID)
		if err != nil {
			return nil, false, fmt.Errorf("%s: unable to purge tokens of user %s: %w", op, u.ID, err)
		}
		r.logger.Info("got existing user", "lookup_value", value, "purged_tokens", n)
		return u, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("%s: unable to look up user: %w", op, err)
	}

	id, err := NewID(WithPrefix("usr"))
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	username := claims.String("username")
	if username == "" {
		if username, err = NewID(); err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}
	u = &User{
		ID:        id,
		Username:  username,
		FirstName: claims.String("first_name"),
		LastName:  claims.String("last_name"),
		Email:     claims.String("email"),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.users.CreateUser(ctx, u); err != nil {
		return nil, false, fmt.Errorf("%s: unable to create user: %w", op, err)
	}
	r.logger.Info("created new user", "lookup_value", value)
	return u, true, nil
}

// resolverOptions is the set of available options for Resolver functions
type resolverOptions struct {
	withLogger hclog.Logger
}

// resolverDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func resolverDefaults() resolverOptions {
	return resolverOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getResolverOpts gets the Resolver defaults and applies the opt overrides
// passed in
func getResolverOpts(opt ...Option) resolverOptions {
	opts := resolverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
