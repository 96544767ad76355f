// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
)

const (
	// DefaultCookieName names the cookie carrying the session id.
	DefaultCookieName = "oac_session"

	// DefaultTTL is how long an idle session is kept.
	DefaultTTL = 24 * time.Hour
)

// Manager loads and saves sessions referenced by a cookie.
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
	logger     hclog.Logger
}

// NewManager creates a Manager backed by store.
//
// Supported options: WithCookieName, WithTTL, WithSecureCookie, WithNow,
// WithLogger
func NewManager(store Store, opt ...oidc.Option) (*Manager, error) {
	const op = "session.NewManager"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	if opts.withCookieName == "" {
		return nil, fmt.Errorf("%s: cookie name is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl must be positive: %w", op, oidc.ErrInvalidParameter)
	}
	return &Manager{
		store:      store,
		cookieName: opts.withCookieName,
		ttl:        opts.withTTL,
		secure:     opts.withSecureCookie,
		now:        opts.withNowFunc,
		logger:     opts.withLogger.Named("session"),
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Load returns the request's session. A request without a session cookie,
// or with a cookie naming an unknown or expired session, gets a new unsaved
// session with an empty ID.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	const op = "Manager.Load"
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return &Session{}, nil
	}
	s, err := m.store.Get(r.Context(), c.Value)
	switch {
	case errors.Is(err, oidc.ErrNotFound):
		m.logger.Debug("unknown session, starting a new one")
		return &Session{}, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Save stores s and writes its cookie. A session without an ID is given one.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	const op = "Manager.Save"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	if s.ID == "" {
		id, err := oidc.NewID(oidc.WithPrefix("ses"))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.ID = id
		s.CreatedAt = m.now()
	}
	if err := m.store.Set(ctx, s, m.ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	http.SetCookie(w, m.cookie(s.ID, int(m.ttl.Seconds())))
	return nil
}

// Renew moves s to a new ID and saves it. It's used when the user behind a
// session changes, so an id handed out before login can't be reused after.
func (m *Manager) Renew(ctx context.Context, w http.ResponseWriter, s *Session) error {
	const op = "Manager.Renew"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.ID = ""
	}
	if err := m.Save(ctx, w, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Destroy deletes s, expires its cookie and resets s to an anonymous session.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	const op = "Manager.Destroy"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	http.SetCookie(w, m.cookie("", -1))
	*s = Session{}
	return nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session carried by ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
