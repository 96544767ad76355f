// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package memory provides an in-memory oidc.UserStore and oidc.TokenStore,
// for tests and single process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/oac/oidc"
)

// Store keeps users and tokens in maps guarded by a mutex. Records are
// copied in and out, so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*oidc.User
	tokens map[string]*oidc.Token
}

var (
	_ oidc.UserStore  = (*Store)(nil)
	_ oidc.TokenStore = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:  map[string]*oidc.User{},
		tokens: map[string]*oidc.Token{},
	}
}

// UserByID implements oidc.UserStore.UserByID.
func (s *Store) UserByID(_ context.Context, id string) (*oidc.User, error) {
	const op = "memory.(Store).UserByID"
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: user %s: %w", op, id, oidc.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// LookupUser implements oidc.UserStore.LookupUser.
func (s *Store) LookupUser(_ context.Context, field, value string) (*oidc.User, error) {
	const op = "memory.(Store).LookupUser"
	if field != "email" && field != "username" {
		return nil, fmt.Errorf("%s: unsupported lookup field %q: %w", op, field, oidc.ErrInvalidParameter)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if value != "" && u.Field(field) == value {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%s: user with %s %q: %w", op, field, value, oidc.ErrNotFound)
}

// CreateUser implements oidc.UserStore.CreateUser. The id, a non empty
// username and a non empty email must be unique.
func (s *Store) CreateUser(_ context.Context, u *oidc.User) error {
	const op = "memory.(Store).CreateUser"
	if u == nil || u.ID == "" {
		return fmt.Errorf("%s: user id is required: %w", op, oidc.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		switch {
		case existing.ID == u.ID,
			u.Username != "" && existing.Username == u.Username,
			u.Email != "" && existing.Email == u.Email:
			return fmt.Errorf("%s: user %s: %w", op, u.ID, oidc.ErrAlreadyExists)
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// CreateToken implements oidc.TokenStore.CreateToken.
func (s *Store) CreateToken(_ context.Context, t *oidc.Token) error {
	const op = "memory.(Store).CreateToken"
	if t == nil || t.ID == "" {
		return fmt.Errorf("%s: token id is required: %w", op, oidc.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return fmt.Errorf("%s: token %s: %w", op, t.ID, oidc.ErrAlreadyExists)
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

// UpdateToken implements oidc.TokenStore.UpdateToken.
func (s *Store) UpdateToken(_ context.Context, t *oidc.Token) error {
	const op = "memory.(Store).UpdateToken"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, oidc.ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; !ok {
		return fmt.Errorf("%s: token %s: %w", op, t.ID, oidc.ErrNotFound)
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

// DeleteToken implements oidc.TokenStore.DeleteToken.
func (s *Store) DeleteToken(_ context.Context, id string) error {
	const op = "memory.(Store).DeleteToken"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return fmt.Errorf("%s: token %s: %w", op, id, oidc.ErrNotFound)
	}
	delete(s.tokens, id)
	return nil
}

// DeleteUserTokens implements oidc.TokenStore.DeleteUserTokens.
func (s *Store) DeleteUserTokens(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// LatestUserToken implements oidc.TokenStore.LatestUserToken.
func (s *Store) LatestUserToken(_ context.Context, userID string) (*oidc.Token, error) {
	const op = "memory.(Store).LatestUserToken"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *oidc.Token
	for _, t := range s.tokens {
		if t.UserID != userID {
			continue
		}
		if latest == nil || t.IssuedAt.After(latest.IssuedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%s: token of user %s: %w", op, userID, oidc.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

// Len returns how many users and tokens are held.
func (s *Store) Len() (users, tokens int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.tokens)
}
