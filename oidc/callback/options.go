// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
)

// handlerOptions is the set of available options for NewHandler
type handlerOptions struct {
	withSuccessRedirect   string
	withLogoutRedirect    string
	withLoginRedirect     string
	withErrorResponseFunc ErrorResponseFunc
	withMetrics           *Metrics
	withNowFunc           func() time.Time
	withLogger            hclog.Logger
}

// handlerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func handlerDefaults() handlerOptions {
	return handlerOptions{
		withSuccessRedirect:   ProfilePath,
		withLogoutRedirect:    "/",
		withLoginRedirect:     AuthenticatePath,
		withErrorResponseFunc: DefaultErrorResponse,
		withNowFunc:           time.Now,
		withLogger:            hclog.NewNullLogger(),
	}
}

// getHandlerOpts gets the defaults and applies the opt overrides passed in.
func getHandlerOpts(opt ...oidc.Option) handlerOptions {
	opts := handlerDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithSuccessRedirect sets where the user agent goes after a successful
// login. Defaults to ProfilePath.
func WithSuccessRedirect(path string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && path != "" {
			o.withSuccessRedirect = path
		}
	}
}

// WithLogoutRedirect sets where the user agent goes after logging out.
// Defaults to "/".
func WithLogoutRedirect(path string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && path != "" {
			o.withLogoutRedirect = path
		}
	}
}

// WithLoginRedirect sets where anonymous requests to endpoints requiring a
// login are sent. Defaults to AuthenticatePath.
func WithLoginRedirect(path string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && path != "" {
			o.withLoginRedirect = path
		}
	}
}

// WithErrorResponseFunc overrides DefaultErrorResponse.
func WithErrorResponseFunc(fn ErrorResponseFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && fn != nil {
			o.withErrorResponseFunc = fn
		}
	}
}

// WithMetrics provides optional metrics.
func WithMetrics(m *Metrics) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withMetrics = m
		}
	}
}

// WithNow provides an optional func for determining the current time, used
// for state expiry and token expiry checks.
func WithNow(now func() time.Time) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
