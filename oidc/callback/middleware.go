// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
	"github.com/hashicorp/oac/oidc/session"
)

// TokenStatus is the state of an authenticated user's token record.
type TokenStatus int

const (
	// NoToken means the user has no token record.
	NoToken TokenStatus = iota

	// ValidToken means the access token hasn't expired.
	ValidToken

	// ExpiredToken means the access token has expired.
	ExpiredToken
)

// String returns the status name.
func (s TokenStatus) String() string {
	switch s {
	case ValidToken:
		return "VALID"
	case ExpiredToken:
		return "EXPIRED"
	default:
		return "NO_TOKEN"
	}
}

// Middleware keeps the access token of an authenticated user fresh. For each
// request it loads the session, puts it in the request context and, when the
// user is authenticated, checks the user's token record:
//   - no token: the request continues unchanged
//   - valid token: the request continues unchanged
//   - expired token: the token is refreshed and the request continues. If the
//     provider rejects the refresh, the token record is deleted, the user is
//     logged out and the request continues anonymously.
//
// Concurrent refreshes for the same user within a process are collapsed into
// one call to the provider.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "callback.Middleware"
		ctx := r.Context()
		s, err := h.sessions.Load(r)
		if err != nil {
			h.logger.Error("unable to load session", "scope", op, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if s.IsAuthenticated() {
			h.checkToken(ctx, w, r, s)
		}
		next.ServeHTTP(w, r.WithContext(session.NewContext(ctx, s)))
	})
}

// checkToken evaluates the user's token and refreshes it when expired. On a
// refresh rejected by the provider s is logged out.
func (h *Handler) checkToken(ctx context.Context, w http.ResponseWriter, r *http.Request, s *session.Session) {
	const op = "callback.Middleware"
	logger := h.requestLogger(r, op, s).With("user_id", s.UserID)

	status, tok, err := h.tokenStatus(ctx, s.UserID)
	switch {
	case err != nil:
		logger.Error("unable to read token", "error", err)
		return
	case status == NoToken:
		logger.Info("user has no token")
		return
	case status == ValidToken:
		logger.Debug("token is valid", "expires_at", tok.ExpiresAt())
		return
	}

	logger.Info("token expired, refreshing", "token", tok.String())
	err = h.refresh(ctx, s.UserID)
	h.metrics.refresh(err)
	switch {
	case err == nil:
		logger.Info("token refreshed")
	case errors.Is(err, oidc.ErrProviderResponse):
		logStatus(logger, "unable to refresh token, logging out", err)
		h.forceLogout(ctx, w, s, tok, logger)
	default:
		logger.Error("unable to refresh token", "error", err)
	}
}

// TokenStatus returns the status of the user's latest token record.
func (h *Handler) TokenStatus(ctx context.Context, userID string) (TokenStatus, error) {
	status, _, err := h.tokenStatus(ctx, userID)
	return status, err
}

func (h *Handler) tokenStatus(ctx context.Context, userID string) (TokenStatus, *oidc.Token, error) {
	const op = "callback.tokenStatus"
	tok, err := h.tokenStore.LatestUserToken(ctx, userID)
	switch {
	case errors.Is(err, oidc.ErrNotFound):
		return NoToken, nil, nil
	case err != nil:
		return NoToken, nil, fmt.Errorf("%s: %w", op, err)
	case tok.HasExpired(h.now()):
		return ExpiredToken, tok, nil
	default:
		return ValidToken, tok, nil
	}
}

// refresh refreshes the user's token unless a concurrent request already
// did. Requests for the same user share one refresh.
func (h *Handler) refresh(ctx context.Context, userID string) error {
	_, err, _ := h.refreshes.Do(userID, func() (interface{}, error) {
		status, tok, err := h.tokenStatus(ctx, userID)
		if err != nil || status != ExpiredToken {
			return nil, err
		}
		return nil, h.tokens.Refresh(ctx, tok)
	})
	return err
}

func (h *Handler) forceLogout(ctx context.Context, w http.ResponseWriter, s *session.Session, tok *oidc.Token, logger hclog.Logger) {
	if err := h.tokenStore.DeleteToken(ctx, tok.ID); err != nil && !errors.Is(err, oidc.ErrNotFound) {
		logger.Error("unable to delete token", "error", err)
	}
	if err := h.sessions.Destroy(ctx, w, s); err != nil {
		logger.Error("unable to destroy session", "error", err)
		s.Logout()
	}
	h.metrics.logout("refresh_failed")
}
