// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// DefaultProviderName names the default implementations in a Registry.
const DefaultProviderName = "default"

// Dependencies are handed to provider factories.
type Dependencies struct {
	Verifier  *Verifier
	Resolver  *Resolver
	Exchanger TokenExchanger
	Tokens    TokenStore

	// UserProvider is required by token provider factories.
	UserProvider UserProvider

	Logger hclog.Logger
}

// UserProviderFactory builds a UserProvider.
type UserProviderFactory func(d Dependencies) (UserProvider, error)

// TokenProviderFactory builds a TokenProvider.
type TokenProviderFactory func(d Dependencies) (TokenProvider, error)

// Registry maps names to provider factories, so the implementations used by
// an application can be picked from its configuration at startup. A new
// Registry has DefaultProviderName registered for both kinds.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]UserProviderFactory
	tokens map[string]TokenProviderFactory
}

// NewRegistry creates a Registry with the default providers registered.
func NewRegistry() *Registry {
	return &Registry{
		users: map[string]UserProviderFactory{
			DefaultProviderName: func(d Dependencies) (UserProvider, error) {
				p, err := NewDefaultUserProvider(d.Verifier, d.Resolver)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
		},
		tokens: map[string]TokenProviderFactory{
			DefaultProviderName: func(d Dependencies) (TokenProvider, error) {
				p, err := NewDefaultTokenProvider(d.Exchanger, d.UserProvider, d.Tokens, WithLogger(d.Logger))
				if err != nil {
					return nil, err
				}
				return p, nil
			},
		},
	}
}

// RegisterUserProvider registers f under name. Names can't be registered
// twice.
func (r *Registry) RegisterUserProvider(name string, f UserProviderFactory) error {
	const op = "Registry.RegisterUserProvider"
	if name == "" || f == nil {
		return fmt.Errorf("%s: name and factory are required: %w", op, ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[name]; ok {
		return fmt.Errorf("%s: user provider %q is already registered: %w", op, name, ErrInvalidParameter)
	}
	r.users[name] = f
	return nil
}

// RegisterTokenProvider registers f under name. Names can't be registered
// twice.
func (r *Registry) RegisterTokenProvider(name string, f TokenProviderFactory) error {
	const op = "Registry.RegisterTokenProvider"
	if name == "" || f == nil {
		return fmt.Errorf("%s: name and factory are required: %w", op, ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[name]; ok {
		return fmt.Errorf("%s: token provider %q is already registered: %w", op, name, ErrInvalidParameter)
	}
	r.tokens[name] = f
	return nil
}

// UserProvider builds the user provider registered under name. An unknown
// name is an ErrConfiguration.
func (r *Registry) UserProvider(name string, d Dependencies) (UserProvider, error) {
	const op = "Registry.UserProvider"
	r.mu.RLock()
	f, ok := r.users[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown user provider %q: %w", op, name, ErrConfiguration)
	}
	p, err := f(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// TokenProvider builds the token provider registered under name. An unknown
// name is an ErrConfiguration.
func (r *Registry) TokenProvider(name string, d Dependencies) (TokenProvider, error) {
	const op = "Registry.TokenProvider"
	r.mu.RLock()
	f, ok := r.tokens[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown token provider %q: %w", op, name, ErrConfiguration)
	}
	p, err := f(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// Names returns the registered user and token provider names, sorted.
func (r *Registry) Names() (users, tokens []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.users {
		users = append(users, n)
	}
	for n := range r.tokens {
		tokens = append(tokens, n)
	}
	sort.Strings(users)
	sort.Strings(tokens)
	return users, tokens
}
