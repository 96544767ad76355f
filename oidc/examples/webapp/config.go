// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends for users and tokens.
const (
	storageMemory = "memory"
	storageSQLite = "sqlite"
)

// appConfig is read from OAC_* environment variables.
type appConfig struct {
	Addr     string `env:"OAC_ADDR" envDefault:":8080"`
	LogLevel string `env:"OAC_LOG_LEVEL" envDefault:"info"`

	// Issuer, when set, is used to discover the provider's endpoints. The
	// explicit endpoint settings below override discovered values.
	Issuer       string `env:"OAC_ISSUER"`
	AuthorizeURI string `env:"OAC_AUTHORIZE_URI"`
	TokenURI     string `env:"OAC_TOKEN_URI"`
	RevokeURI    string `env:"OAC_REVOKE_URI"`
	JWKSURI      string `env:"OAC_JWKS_URI"`

	ClientID       string        `env:"OAC_CLIENT_ID,required,notEmpty"`
	ClientSecret   string        `env:"OAC_CLIENT_SECRET,required,notEmpty"`
	RedirectURI    string        `env:"OAC_REDIRECT_URI,required,notEmpty"`
	Scope          string        `env:"OAC_SCOPE" envDefault:"openid"`
	StateExpiresIn time.Duration `env:"OAC_STATE_EXPIRES_IN" envDefault:"300s"`
	LookupField    string        `env:"OAC_LOOKUP_FIELD" envDefault:"email"`
	RequiredClaims []string      `env:"OAC_REQUIRED_CLAIMS" envSeparator:"," envDefault:"first_name,last_name,email"`
	ProviderCA     string        `env:"OAC_PROVIDER_CA"`
	Timeout        time.Duration `env:"OAC_TIMEOUT" envDefault:"10s"`

	TokenProvider string `env:"OAC_TOKEN_PROVIDER" envDefault:"default"`
	UserProvider  string `env:"OAC_USER_PROVIDER" envDefault:"default"`

	Storage    string `env:"OAC_STORAGE" envDefault:"memory"`
	SQLitePath string `env:"OAC_SQLITE_PATH" envDefault:"oac.db"`

	// RedisAddr, when set, shares the key set cache and the sessions
	// between replicas.
	RedisAddr string `env:"OAC_REDIS_ADDR"`

	SecureCookie bool          `env:"OAC_SECURE_COOKIE" envDefault:"true"`
	SessionTTL   time.Duration `env:"OAC_SESSION_TTL" envDefault:"24h"`
}

func loadConfig() (*appConfig, error) {
	const op = "main.loadConfig"
	var c appConfig
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch c.Storage {
	case storageMemory, storageSQLite:
	default:
		return nil, fmt.Errorf("%s: unsupported storage %q", op, c.Storage)
	}
	return &c, nil
}
