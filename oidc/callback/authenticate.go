// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/oac/oidc"
)

// Authenticate starts a login attempt: it stores a new oidc.State in the
// session and redirects the user agent to the provider's authorize endpoint.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	const op = "callback.Authenticate"
	ctx := r.Context()
	s, err := h.loadSession(r)
	if err != nil {
		h.logger.Error("unable to load session", "scope", op, "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	st, err := oidc.NewState(clientIP(r), oidc.WithNow(h.now))
	if err != nil {
		h.logger.Error("unable to create state", "scope", op, "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	s.State = st
	logger := h.requestLogger(r, op, s)
	if err := h.sessions.Save(ctx, w, s); err != nil {
		logger.Error("unable to save session", "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	logger.Debug("redirecting to the provider")
	http.Redirect(w, r, h.config.AuthURL(st.Nonce), http.StatusFound)
}
