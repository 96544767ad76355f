// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
	"github.com/hashicorp/oac/oidc/callback"
	"github.com/hashicorp/oac/oidc/rediscache"
	"github.com/hashicorp/oac/oidc/session"
	"github.com/hashicorp/oac/oidc/storage/memory"
	"github.com/hashicorp/oac/oidc/storage/sqlite"
	sdkHttp "github.com/hashicorp/oac/sdk/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// store holds both users and tokens.
type store interface {
	oidc.UserStore
	oidc.TokenStore
}

// app is the wired application.
type app struct {
	router  chi.Router
	closers []func() error
	logger  hclog.Logger
}

func newApp(ctx context.Context, c *appConfig, logger hclog.Logger) (_ *app, retErr error) {
	const op = "main.newApp"
	a := &app{logger: logger}
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	cfg, err := providerConfig(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpClient, err := cfg.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		keySetCache  oidc.KeySetCache = oidc.NewMemoryKeySetCache()
		sessionStore session.Store    = session.NewMemoryStore()
	)
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%s: unable to reach redis: %w", op, err)
		}
		if keySetCache, err = rediscache.New(client); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if sessionStore, err = session.NewRedisStore(client); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var st store
	switch c.Storage {
	case storageSQLite:
		db, err := sqlite.Open(ctx, c.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, db.Close)
		st = db
	default:
		st = memory.New()
	}

	keys, err := oidc.NewKeyStore(cfg.JWKSURI, keySetCache, oidc.WithHTTPClient(httpClient), oidc.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verifier, err := oidc.NewConfigVerifier(cfg, keys, oidc.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resolver, err := oidc.NewResolver(st, st, cfg.LookupField, oidc.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	exchanger, err := oidc.NewExchangeClient(cfg, oidc.WithHTTPClient(httpClient), oidc.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	registry := oidc.NewRegistry()
	deps := oidc.Dependencies{
		Verifier:  verifier,
		Resolver:  resolver,
		Exchanger: exchanger,
		Tokens:    st,
		Logger:    logger,
	}
	if deps.UserProvider, err = registry.UserProvider(c.UserProvider, deps); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tokens, err := registry.TokenProvider(c.TokenProvider, deps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sessions, err := session.NewManager(sessionStore,
		session.WithSecureCookie(c.SecureCookie),
		session.WithTTL(c.SessionTTL),
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := callback.NewMetrics(promRegistry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	h, err := callback.NewHandler(cfg, callback.Dependencies{
		Tokens:     tokens,
		TokenStore: st,
		Users:      st,
		Sessions:   sessions,
	}, callback.WithMetrics(metrics), callback.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(h.Middleware)
		h.Register(r)
		r.Get("/", index)
	})
	a.router = r
	logger.Info("application configured",
		"storage", c.Storage,
		"redis", c.RedisAddr != "",
		"token_provider", c.TokenProvider,
		"user_provider", c.UserProvider,
	)
	return a, nil
}

// Handler returns the application's routes.
func (a *app) Handler() http.Handler { return a.router }

// Close releases the storage and redis connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("unable to close", "error", err)
		}
	}
	a.closers = nil
}

// providerConfig builds the oidc.Config, discovering the endpoints first when
// an issuer is configured.
func providerConfig(ctx context.Context, c *appConfig) (*oidc.Config, error) {
	const op = "main.providerConfig"
	pc := &oidc.ProviderConfig{}
	if c.Issuer != "" {
		client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if pc, err = oidc.Discover(ctx, c.Issuer, client); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&pc.AuthorizeURI, c.AuthorizeURI)
	override(&pc.TokenURI, c.TokenURI)
	override(&pc.RevokeURI, c.RevokeURI)
	override(&pc.JWKSURI, c.JWKSURI)

	cfg, err := oidc.NewConfig(c.ClientID, oidc.ClientSecret(c.ClientSecret), c.RedirectURI, pc,
		oidc.WithScope(c.Scope),
		oidc.WithStateExpiresIn(c.StateExpiresIn),
		oidc.WithLookupField(c.LookupField),
		oidc.WithRequiredClaims(c.RequiredClaims...),
		oidc.WithProviderCA(c.ProviderCA),
		oidc.WithTimeout(c.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s, ok := session.FromContext(r.Context()); ok && s.IsAuthenticated() {
		fmt.Fprintf(w, "logged in as %s\n\n%s\n%s\n", s.UserID, callback.ProfilePath, callback.LogoutPath)
		return
	}
	fmt.Fprintf(w, "not logged in\n\n%s\n", callback.AuthenticatePath)
}
