// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrIdGeneratorFailed = errors.New("id generation failed")

	// ErrConfiguration is returned when a required setting is missing or
	// invalid. It's never worth retrying.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderRequest is returned when the provider's redirect back to the
	// callback is malformed (missing code or state).
	ErrProviderRequest = errors.New("bad provider request")

	// ErrMismatchingState is returned when the returned state doesn't match
	// the pending one. Possible CSRF.
	ErrMismatchingState = errors.New("mismatching state")

	// ErrExpiredState is returned when the login handshake took too long.
	ErrExpiredState = errors.New("state is expired")

	// ErrProviderResponse is the kind of every *ProviderResponseError.
	ErrProviderResponse = errors.New("provider response error")

	// ErrInsufficientPayload is the kind of every *InsufficientPayloadError.
	ErrInsufficientPayload = errors.New("insufficient payload")

	// ErrKeyNotFound is returned when a freshly fetched key set has no key
	// for the requested kid.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoUser is returned when user resolution yields no user.
	ErrNoUser = errors.New("no user")
)

// ProviderResponseError is returned for any unsuccessful or malformed
// response from the provider's token, revoke or JWKS endpoints.
type ProviderResponseError struct {
	// Op is the operation that failed.
	Op string

	// StatusCode is the http status code the provider responded with. It's
	// zero when the status was fine and the body was the problem.
	StatusCode int

	// Missing lists required response keys the provider didn't send.
	Missing []string

	// Msg is an optional description.
	Msg string

	// Wrapped is an optional underlying error (a decoding error, for example).
	Wrapped error
}

func (e *ProviderResponseError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.StatusCode != 0:
		fmt.Fprintf(&b, "provider responded with code %d", e.StatusCode)
	case len(e.Missing) > 0:
		fmt.Fprintf(&b, "provider response is missing required data: %s", FormatKeys(e.Missing))
	default:
		b.WriteString(ErrProviderResponse.Error())
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Is reports whether target is ErrProviderResponse.
func (e *ProviderResponseError) Is(target error) bool {
	return target == ErrProviderResponse
}

func (e *ProviderResponseError) Unwrap() error { return e.Wrapped }

// InsufficientPayloadError is returned when a verified id_token lacks claims
// that are required to resolve a user.
type InsufficientPayloadError struct {
	Missing []string
}

func (e *InsufficientPayloadError) Error() string {
	return fmt.Sprintf("payload is missing required data: %s", FormatKeys(e.Missing))
}

// Is reports whether target is ErrInsufficientPayload.
func (e *InsufficientPayloadError) Is(target error) bool {
	return target == ErrInsufficientPayload
}

// MissingKeys returns the keys of required that aren't in given, reverse
// sorted.
func MissingKeys(required []string, given map[string]interface{}) []string {
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, k := range required {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := given[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(missing)))
	return missing
}

// FormatKeys renders keys the way error messages list them: 'b', 'a'
func FormatKeys(keys []string) string {
	quoted := make([]string, 0, len(keys))
	for _, k := range keys {
		quoted = append(quoted, fmt.Sprintf("'%s'", k))
	}
	return strings.Join(quoted, ", ")
}
