// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Profile is the body returned by the profile endpoint.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Username  string `json:"username"`
}

// Profile writes the authenticated user's basic claims as JSON. Anonymous
// requests are redirected to the login path.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	const op = "callback.Profile"
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
	u, err := h.users.UserByID(r.Context(), s.UserID)
	if err != nil {
		h.requestLogger(r, op, s).Error("unable to read user", "user_id", s.UserID, "error", err)
		h.fail(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&Profile{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Username:  u.Username,
	})
}
