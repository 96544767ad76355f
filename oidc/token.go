// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"
)

// Token is the access/refresh token pair held for a user. There is at most
// one live Token per user: a newer login purges the older ones.
type Token struct {
	// ID is the token record's id.
	ID string `json:"id"`

	// UserID references the owning User. Empty means unknown.
	UserID string `json:"user_id"`

	AccessToken  AccessToken  `json:"access_token"`
	RefreshToken RefreshToken `json:"refresh_token"`

	// ExpiresIn is the access token lifetime in seconds, counted from
	// IssuedAt.
	ExpiresIn int64 `json:"expires_in"`

	// IssuedAt is when the access token was obtained. Refreshing resets it.
	IssuedAt time.Time `json:"issued_at"`
}

// ExpiresAt returns when the access token expires.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// HasExpired reports whether the access token has expired at now, which is
// true from IssuedAt + ExpiresIn onward.
func (t *Token) HasExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// String describes the record without exposing the tokens.
func (t *Token) String() string {
	owner := t.UserID
	if owner == "" {
		owner = "unknown"
	}
	return fmt.Sprintf("issued on %s for %s", t.IssuedAt.Format(time.RFC3339), owner)
}
