// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
)

// testStore is a minimal UserStore and TokenStore for this package's tests.
type testStore struct {
	mu        sync.Mutex
	users     map[string]*User
	tokens    map[string]*Token
	failWrite error
}

func newTestStore() *testStore {
	return &testStore{users: map[string]*User{}, tokens: map[string]*Token{}}
}

func (s *testStore) UserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *testStore) LookupUser(_ context.Context, field, value string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Field(field) == value {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s=%s: %w", field, value, ErrNotFound)
}

func (s *testStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *testStore) CreateToken(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *testStore) UpdateToken(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	if _, ok := s.tokens[t.ID]; !ok {
		return fmt.Errorf("token %s: %w", t.ID, ErrNotFound)
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *testStore) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	delete(s.tokens, id)
	return nil
}

func (s *testStore) DeleteUserTokens(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *testStore) LatestUserToken(_ context.Context, userID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Token
	for _, t := range s.tokens {
		if t.UserID == userID && (latest == nil || t.IssuedAt.After(latest.IssuedAt)) {
			latest = t
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("token of user %s: %w", userID, ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *testStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *testStore) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
