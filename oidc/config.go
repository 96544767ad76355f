// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	sdkHttp "github.com/hashicorp/oac/sdk/http"
	"golang.org/x/oauth2"
)

const (
	// DefaultScope is requested when no scope is configured.
	DefaultScope = oidc.ScopeOpenID

	// DefaultStateExpiresIn is how long a login handshake may take.
	DefaultStateExpiresIn = 300 * time.Second

	// DefaultLookupField is the claim (and user field) used to find an
	// existing user.
	DefaultLookupField = "email"

	// DefaultLeeway is the clock skew allowed when checking an id_token's
	// time based claims.
	DefaultLeeway = 30 * time.Second
)

// DefaultRequiredClaims are the id_token claims needed to create a user.
var DefaultRequiredClaims = []string{"first_name", "last_name", "email"}

// LookupFields are the user fields which are unique and can be used to find
// an existing user.
var LookupFields = []string{"email", "username"}

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// ProviderConfig holds the provider's endpoints.
type ProviderConfig struct {
	// AuthorizeURI is where users are redirected to log in.
	AuthorizeURI string

	// TokenURI is used for code exchange and refresh.
	TokenURI string

	// RevokeURI is used to revoke refresh tokens at logout.
	RevokeURI string

	// JWKSURI publishes the keys that sign id_tokens.
	JWKSURI string
}

// Config represents the configuration for the OAuth authorization code flow
// with id_token verification.
type Config struct {
	ProviderConfig

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret

	// RedirectURI is the callback the provider redirects back to.
	RedirectURI string

	// Scope is requested of the provider. Defaults to "openid".
	Scope string

	// StateExpiresIn is how long a pending login state remains valid. Zero
	// disables the expiration check.
	StateExpiresIn time.Duration

	// LookupField is the claim used to match an existing user. It must be
	// one of LookupFields.
	LookupField string

	// RequiredClaims must all be present in a verified id_token.
	RequiredClaims []string

	// Leeway is the clock skew allowed when verifying an id_token.
	Leeway time.Duration

	// SupportedSigningAlgs is a list of supported signing algorithms.
	// Defaults to RS256.
	SupportedSigningAlgs []Alg

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// Timeout bounds each request to the provider.
	Timeout time.Duration
}

// NewConfig composes a new config.
//
// Supported options:
//   - WithScope
//   - WithStateExpiresIn
//   - WithLookupField
//   - WithRequiredClaims
//   - WithLeeway
//   - WithSigningAlgs
//   - WithProviderCA
//   - WithTimeout
func NewConfig(clientID string, clientSecret ClientSecret, redirectURI string, pc *ProviderConfig, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	if pc == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrConfiguration)
	}
	opts := getConfigOpts(opt...)
	c := &Config{
		ProviderConfig:       *pc,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		RedirectURI:          redirectURI,
		Scope:                opts.withScope,
		StateExpiresIn:       opts.withStateExpiresIn,
		LookupField:          opts.withLookupField,
		RequiredClaims:       opts.withRequiredClaims,
		Leeway:               opts.withLeeway,
		SupportedSigningAlgs: opts.withSigningAlgs,
		ProviderCA:           opts.withProviderCA,
		Timeout:              opts.withTimeout,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. Every problem found is reported, each one
// wrapping ErrConfiguration. It doesn't verify the URIs are reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrConfiguration)
	}
	var result *multierror.Error
	missing := func(setting string) {
		result = multierror.Append(result, fmt.Errorf("missing required setting %q: %w", setting, ErrConfiguration))
	}
	if c.ClientID == "" {
		missing("client_id")
	}
	if c.ClientSecret == "" {
		missing("client_secret")
	}
	if strings.TrimSpace(c.Scope) == "" {
		missing("scope")
	}
	for _, u := range []struct {
		setting string
		value   string
	}{
		{"authorize_uri", c.AuthorizeURI},
		{"token_uri", c.TokenURI},
		{"revoke_uri", c.RevokeURI},
		{"redirect_uri", c.RedirectURI},
		{"jwks_uri", c.JWKSURI},
	} {
		if u.value == "" {
			missing(u.setting)
			continue
		}
		if err := validURI(u.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("setting %q seems to store invalid URI %q: %w", u.setting, u.value, err))
		}
	}
	if !contains(LookupFields, c.LookupField) {
		result = multierror.Append(result, fmt.Errorf("unsupported lookup field %q: %w", c.LookupField, ErrConfiguration))
	}
	if c.StateExpiresIn < 0 {
		result = multierror.Append(result, fmt.Errorf("state expiration is negative: %w", ErrConfiguration))
	}
	if len(c.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, fmt.Errorf("supported algorithms is empty: %w", ErrConfiguration))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %s: %w", a, ErrConfiguration))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Claims returns every claim a verified id_token must carry: the configured
// required claims plus the lookup field.
func (c *Config) Claims() []string {
	claims := append([]string{}, c.RequiredClaims...)
	if !contains(claims, c.LookupField) {
		claims = append(claims, c.LookupField)
	}
	return claims
}

// AuthURL returns the provider's authorize URL for a login attempt protected
// by the state nonce. The query carries scope, client_id, redirect_uri, state
// and response_type=code.
func (c *Config) AuthURL(state string) string {
	oauth2Config := oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthorizeURI,
			TokenURL: c.TokenURI,
		},
		Scopes: []string{c.Scope},
	}
	return oauth2Config.AuthCodeURL(state)
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

func validURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme is not http or https: %w", ErrConfiguration)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty: %w", ErrConfiguration)
	}
	return nil
}

func contains(l []string, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// configOptions is the set of available options
type configOptions struct {
	withScope          string
	withStateExpiresIn time.Duration
	withLookupField    string
	withRequiredClaims []string
	withLeeway         time.Duration
	withSigningAlgs    []Alg
	withProviderCA     string
	withTimeout        time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withScope:          DefaultScope,
		withStateExpiresIn: DefaultStateExpiresIn,
		withLookupField:    DefaultLookupField,
		withRequiredClaims: append([]string{}, DefaultRequiredClaims...),
		withLeeway:         DefaultLeeway,
		withSigningAlgs:    []Alg{RS256},
		withTimeout:        sdkHttp.DefaultTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScope provides an optional scope for the config. An empty scope is
// ignored.
func WithScope(scope string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok && scope != "" {
			o.withScope = scope
		}
	}
}

// WithStateExpiresIn provides an optional state expiration for the config.
// Zero disables the expiration check.
func WithStateExpiresIn(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withStateExpiresIn = d
		}
	}
}

// WithLookupField provides an optional lookup field for the config.
func WithLookupField(field string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok && field != "" {
			o.withLookupField = field
		}
	}
}

// WithRequiredClaims provides optional required claims for the config and
// the Verifier.
func WithRequiredClaims(claims ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withRequiredClaims = claims
		case *verifierOptions:
			v.withRequiredClaims = claims
		}
	}
}

// WithLeeway provides an optional clock skew leeway for the config and the
// Verifier.
func WithLeeway(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withLeeway = d
		case *verifierOptions:
			v.withLeeway = d
		}
	}
}

// WithSigningAlgs provides optional supported signing algorithms for the
// config and the Verifier.
func WithSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withSigningAlgs = algs
		case *verifierOptions:
			v.withSigningAlgs = algs
		}
	}
}

// WithProviderCA provides an optional CA cert for the config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithTimeout provides an optional timeout for requests to the provider.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}
