// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/oac/oidc"
)

// ErrorResponseFunc is used by the Handler to create a http response when a
// request fails. The status is the one mapped from err by StatusFor.
//
// The function should use the http.ResponseWriter to send back whatever
// content (headers, html, JSON, etc) it wishes. It must not expose raw
// provider payloads to the user agent.
type ErrorResponseFunc func(status int, err error, w http.ResponseWriter, req *http.Request)

// ErrorResponse is the body written by DefaultErrorResponse.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// DefaultErrorResponse writes an ErrorResponse as JSON. The description is a
// fixed message for the kind of err.
func DefaultErrorResponse(status int, err error, w http.ResponseWriter, _ *http.Request) {
	code, desc := describe(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{Error: code, Description: desc})
}

// StatusFor maps err to the http status of the response:
//   - 400 for a malformed callback, a mismatching or expired state
//   - 403 when no user was resolved
//   - 500 for everything else (configuration, provider and crypto failures)
func StatusFor(err error) int {
	switch {
	case errors.Is(err, oidc.ErrProviderRequest),
		errors.Is(err, oidc.ErrMismatchingState),
		errors.Is(err, oidc.ErrExpiredState):
		return http.StatusBadRequest
	case errors.Is(err, oidc.ErrNoUser):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func describe(err error) (string, string) {
	switch {
	case errors.Is(err, oidc.ErrProviderRequest):
		return "invalid_request", "The login response from the provider was malformed."
	case errors.Is(err, oidc.ErrMismatchingState):
		return "invalid_state", "The login attempt could not be verified."
	case errors.Is(err, oidc.ErrExpiredState):
		return "expired_state", "The login attempt took too long, please log in again."
	case errors.Is(err, oidc.ErrNoUser):
		return "access_denied", "No user could be found for this login."
	case errors.Is(err, oidc.ErrConfiguration):
		return "server_error", "The login service is misconfigured."
	case errors.Is(err, oidc.ErrProviderResponse):
		return "server_error", "The identity provider could not complete the request."
	default:
		return "server_error", "The login could not be completed."
	}
}
