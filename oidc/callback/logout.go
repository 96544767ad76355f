// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
)

// Logout revokes the user's refresh token and logs the user out. The token
// record is only deleted once the provider confirmed the revocation. The user
// is logged out locally even when the revocation fails, in which case the
// failure is rendered after the session is destroyed.
//
// Anonymous requests are redirected to the login path.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "callback.Logout"
	ctx := r.Context()
	s, err := h.loadSession(r)
	if err != nil {
		h.logger.Error("unable to load session", "scope", op, "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	if !s.IsAuthenticated() {
		http.Redirect(w, r, h.loginRedirect, http.StatusFound)
		return
	}
	logger := h.requestLogger(r, op, s)

	var revokeErr error
	tok, err := h.tokenStore.LatestUserToken(ctx, s.UserID)
	switch {
	case errors.Is(err, oidc.ErrNotFound):
		logger.Info("no token to revoke", "user_id", s.UserID)
	case err != nil:
		revokeErr = fmt.Errorf("%s: %w", op, err)
	default:
		if err := h.tokens.Revoke(ctx, tok); err != nil {
			revokeErr = fmt.Errorf("%s: %w", op, err)
		} else {
			logger.Info("token revoked", "token", tok.String())
		}
	}

	if err := h.sessions.Destroy(ctx, w, s); err != nil {
		logger.Error("unable to destroy session", "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	if revokeErr != nil {
		h.metrics.logout("revoke_failed")
		logStatus(logger, "unable to revoke token", revokeErr)
		h.fail(w, r, revokeErr)
		return
	}
	h.metrics.logout("user")
	http.Redirect(w, r, h.logoutRedirect, http.StatusFound)
}

// logStatus logs err at error level with the provider's status code when
// there is one.
func logStatus(logger hclog.Logger, msg string, err error) {
	var respErr *oidc.ProviderResponseError
	if errors.As(err, &respErr) {
		logger.Error(msg, "status_code", respErr.StatusCode, "error", err)
		return
	}
	logger.Error(msg, "error", err)
}
