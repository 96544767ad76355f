// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for: State, Verifier and DefaultTokenProvider.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *stOptions:
			v.withNowFunc = now
		case *verifierOptions:
			v.withNowFunc = now
		case *tokenProviderOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger for: KeyStore, Verifier,
// ExchangeClient, Resolver, DefaultTokenProvider and Registry dependencies.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *keyStoreOptions:
			v.withLogger = l
		case *verifierOptions:
			v.withLogger = l
		case *exchangeOptions:
			v.withLogger = l
		case *resolverOptions:
			v.withLogger = l
		case *tokenProviderOptions:
			v.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for: KeyStore and
// ExchangeClient. When it isn't provided, a client is built from the Config's
// ProviderCA and Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keyStoreOptions:
			v.withHTTPClient = c
		case *exchangeOptions:
			v.withHTTPClient = c
		}
	}
}
