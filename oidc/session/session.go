// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package session provides the session-scoped storage used by the login flow:
// the pending oidc.State of a login attempt and the authenticated user.
// Sessions are referenced by an opaque id carried in a cookie and their
// contents live in a Store.
package session

import (
	"context"
	"time"

	"github.com/hashicorp/oac/oidc"
)

// Session is the server side state of one user agent.
type Session struct {
	// ID is the opaque session id carried in the cookie.
	ID string `json:"id"`

	// State is the pending login attempt, nil when there is none.
	State *oidc.State `json:"state,omitempty"`

	// UserID is the authenticated user, empty when anonymous.
	UserID string `json:"user_id,omitempty"`

	// CreatedAt is when the session was first saved.
	CreatedAt time.Time `json:"created_at"`
}

// IsAuthenticated returns true when the session belongs to a logged in user.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != ""
}

// ClearState drops the pending login attempt.
func (s *Session) ClearState() {
	s.State = nil
}

// Login binds the session to userID and drops any pending login attempt.
func (s *Session) Login(userID string) {
	s.UserID = userID
	s.State = nil
}

// Logout drops the authenticated user.
func (s *Session) Logout() {
	s.UserID = ""
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.State != nil {
		st := *s.State
		c.State = &st
	}
	return &c
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the session with id, or an error wrapping oidc.ErrNotFound
	// when there is none (or it expired).
	Get(ctx context.Context, id string) (*Session, error)

	// Set stores s until ttl elapses.
	Set(ctx context.Context, s *Session, ttl time.Duration) error

	// Delete removes the session with id. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, id string) error
}
