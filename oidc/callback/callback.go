// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/oac/oidc"
)

// Callback handles the provider's redirect back after a login attempt. The
// pending state is cleared before anything else, so a code and state pair is
// accepted at most once whatever the outcome.
//
// On success the session is moved to a new id, bound to the token's user and
// the user agent is redirected to the success path.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	const op = "callback.Callback"
	ctx := r.Context()
	s, err := h.loadSession(r)
	if err != nil {
		h.logger.Error("unable to load session", "scope", op, "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	logger := h.requestLogger(r, op, s)

	pending := s.State
	s.ClearState()
	if err := h.sessions.Save(ctx, w, s); err != nil {
		logger.Error("unable to clear pending state", "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	tok, err := h.login(r, pending)
	h.metrics.login(err)
	switch {
	case errors.Is(err, oidc.ErrExpiredState):
		logger.Info("login attempt expired")
		h.fail(w, r, err)
		return
	case err != nil:
		logger.Error("login failed", "error", err)
		h.fail(w, r, err)
		return
	}

	s.Login(tok.UserID)
	if err := h.sessions.Renew(ctx, w, s); err != nil {
		logger.Error("unable to save authenticated session", "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	logger.Info("user logged in", "user_id", tok.UserID, "token", tok.String())
	http.Redirect(w, r, h.successRedirect, http.StatusFound)
}

// login validates the provider's response against the pending state and
// creates the token record.
func (h *Handler) login(r *http.Request, pending *oidc.State) (*oidc.Token, error) {
	const op = "callback.login"
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%s: provider returned %q: %w", op, e, oidc.ErrProviderRequest)
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return nil, fmt.Errorf("%s: code and state are required: %w", op, oidc.ErrProviderRequest)
	}
	if err := pending.Validate(state, h.config.StateExpiresIn, oidc.WithNow(h.now)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tok, err := h.tokens.Create(r.Context(), code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tok == nil || tok.UserID == "" {
		return nil, fmt.Errorf("%s: token has no user: %w", op, oidc.ErrNoUser)
	}
	return tok, nil
}
