// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
	"github.com/hashicorp/oac/oidc/session"
	"golang.org/x/sync/singleflight"
)

// Paths used by Routes.
const (
	AuthenticatePath = "/authenticate"
	CallbackPath     = "/callback"
	LogoutPath       = "/logout"
	ProfilePath      = "/profile"
)

// Dependencies are the collaborators of a Handler.
type Dependencies struct {
	// Tokens drives token creation, refresh and revocation.
	Tokens oidc.TokenProvider

	// TokenStore finds the token record of an authenticated user.
	TokenStore oidc.TokenStore

	// Users finds user records for the profile endpoint.
	Users oidc.UserStore

	// Sessions holds the pending login state and the authenticated user.
	Sessions *session.Manager
}

// Handler serves the login flow for one provider configuration.
type Handler struct {
	config     *oidc.Config
	tokens     oidc.TokenProvider
	tokenStore oidc.TokenStore
	users      oidc.UserStore
	sessions   *session.Manager

	successRedirect string
	logoutRedirect  string
	loginRedirect   string
	errFn           ErrorResponseFunc
	metrics         *Metrics
	now             func() time.Time
	logger          hclog.Logger

	refreshes singleflight.Group
}

// NewHandler creates a Handler. The config is validated first.
//
// Supported options: WithSuccessRedirect, WithLogoutRedirect,
// WithLoginRedirect, WithErrorResponseFunc, WithMetrics, WithNow, WithLogger
func NewHandler(c *oidc.Config, d Dependencies, opt ...oidc.Option) (*Handler, error) {
	const op = "callback.NewHandler"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	case d.Tokens == nil:
		return nil, fmt.Errorf("%s: token provider is nil: %w", op, oidc.ErrNilParameter)
	case d.TokenStore == nil:
		return nil, fmt.Errorf("%s: token store is nil: %w", op, oidc.ErrNilParameter)
	case d.Users == nil:
		return nil, fmt.Errorf("%s: user store is nil: %w", op, oidc.ErrNilParameter)
	case d.Sessions == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, oidc.ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getHandlerOpts(opt...)
	return &Handler{
		config:          c,
		tokens:          d.Tokens,
		tokenStore:      d.TokenStore,
		users:           d.Users,
		sessions:        d.Sessions,
		successRedirect: opts.withSuccessRedirect,
		logoutRedirect:  opts.withLogoutRedirect,
		loginRedirect:   opts.withLoginRedirect,
		errFn:           opts.withErrorResponseFunc,
		metrics:         opts.withMetrics,
		now:             opts.withNowFunc,
		logger:          opts.withLogger,
	}, nil
}

// Routes returns a router serving every endpoint behind the refresh
// Middleware. The client ip is taken from X-Real-IP or X-Forwarded-For when
// present.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(h.Middleware)
	h.Register(r)
	return r
}

// Register adds the endpoints to r without any middleware, for applications
// composing their own router.
func (h *Handler) Register(r chi.Router) {
	r.Get(AuthenticatePath, h.Authenticate)
	r.Get(CallbackPath, h.Callback)
	r.Get(LogoutPath, h.Logout)
	r.Get(ProfilePath, h.Profile)
}

// loadSession returns the session put in the request context by the
// Middleware, loading it when the Middleware isn't in use.
func (h *Handler) loadSession(r *http.Request) (*session.Session, error) {
	if s, ok := session.FromContext(r.Context()); ok {
		return s, nil
	}
	return h.sessions.Load(r)
}

// requestLogger returns a logger carrying the scope of the operation and the
// "<client ip>:<state nonce>" of the request.
func (h *Handler) requestLogger(r *http.Request, scope string, s *session.Session) hclog.Logger {
	state := "n/a"
	if s != nil && s.State != nil {
		state = s.State.Nonce
	}
	return h.logger.With("scope", scope, "ip_state", clientIP(r)+":"+state)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.errFn(StatusFor(err), err, w, r)
}

// clientIP returns the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "n/a"
		}
		return r.RemoteAddr
	}
	return host
}
