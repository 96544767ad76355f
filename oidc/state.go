// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"
)

// State represents one pending login attempt. The Nonce is sent to the
// provider as the oauth "state" parameter and must come back unchanged on the
// callback. A State is single use: the caller clears its stored copy after
// one callback attempt, successful or not.
type State struct {
	// Nonce is an unguessable opaque value with 128 bits of entropy.
	Nonce string `json:"nonce"`

	// IssuedAt is when the login attempt started.
	IssuedAt time.Time `json:"issued_at"`

	// ClientIP is the address of the user agent that started the attempt.
	ClientIP string `json:"client_ip"`
}

// NewState creates a new State for a login attempt coming from clientIP.
//
// Supported options: WithNow
func NewState(clientIP string, opt ...Option) (*State, error) {
	const op = "oidc.NewState"
	opts := getStOpts(opt...)
	nonce, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state's nonce: %w", op, err)
	}
	if clientIP == "" {
		clientIP = "unknown"
	}
	return &State{
		Nonce:    nonce,
		IssuedAt: opts.withNowFunc(),
		ClientIP: clientIP,
	}, nil
}

// Validate checks the state returned by the provider against s. See
// ValidateState.
func (s *State) Validate(returned string, maxAge time.Duration, opt ...Option) error {
	const op = "State.Validate"
	if s == nil {
		return fmt.Errorf("%s: no pending state: %w", op, ErrMismatchingState)
	}
	return ValidateState(s.Nonce, returned, s.IssuedAt, maxAge, opt...)
}

// IsExpired returns true if the state is older than maxAge. A zero maxAge
// never expires.
//
// Supported options: WithNow
func (s *State) IsExpired(maxAge time.Duration, opt ...Option) bool {
	if maxAge <= 0 {
		return false
	}
	opts := getStOpts(opt...)
	return !opts.withNowFunc().Before(s.IssuedAt.Add(maxAge))
}

// ValidateState checks a returned state nonce against the stored one. It
// returns ErrMismatchingState when there is no stored nonce or the two
// differ, and ErrExpiredState when maxAge is positive and now is at or past
// storedIssuedAt + maxAge. A zero maxAge disables the expiration check.
//
// Supported options: WithNow
func ValidateState(storedNonce, returnedNonce string, storedIssuedAt time.Time, maxAge time.Duration, opt ...Option) error {
	const op = "oidc.ValidateState"
	if storedNonce == "" {
		return fmt.Errorf("%s: no pending state: %w", op, ErrMismatchingState)
	}
	if storedNonce != returnedNonce {
		return fmt.Errorf("%s: CSRF warning, mismatching request and response states: %w", op, ErrMismatchingState)
	}
	s := State{Nonce: storedNonce, IssuedAt: storedIssuedAt}
	if s.IsExpired(maxAge, opt...) {
		return fmt.Errorf("%s: logging attempt took too long: %w", op, ErrExpiredState)
	}
	return nil
}

// stOptions is the set of available options for State functions
type stOptions struct {
	withNowFunc func() time.Time
}

// stDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func stDefaults() stOptions {
	return stOptions{
		withNowFunc: time.Now,
	}
}

// getStOpts gets the state defaults and applies the opt overrides passed in
func getStOpts(opt ...Option) stOptions {
	opts := stDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
