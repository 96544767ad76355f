// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oac/oidc"
)

// storeOptions is the set of available options for the Store constructors
type storeOptions struct {
	withKeyPrefix string
	withNowFunc   func() time.Time
}

func storeDefaults() storeOptions {
	return storeOptions{
		withKeyPrefix: DefaultRedisKeyPrefix,
		withNowFunc:   time.Now,
	}
}

func getStoreOpts(opt ...oidc.Option) storeOptions {
	opts := storeDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// managerOptions is the set of available options for NewManager
type managerOptions struct {
	withCookieName   string
	withTTL          time.Duration
	withSecureCookie bool
	withNowFunc      func() time.Time
	withLogger       hclog.Logger
}

func managerDefaults() managerOptions {
	return managerOptions{
		withCookieName: DefaultCookieName,
		withTTL:        DefaultTTL,
		withNowFunc:    time.Now,
		withLogger:     hclog.NewNullLogger(),
	}
}

func getManagerOpts(opt ...oidc.Option) managerOptions {
	opts := managerDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyPrefix overrides DefaultRedisKeyPrefix for a RedisStore.
func WithKeyPrefix(prefix string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withKeyPrefix = prefix
		}
	}
}

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withCookieName = name
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withTTL = ttl
		}
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withSecureCookie = secure
		}
	}
}

// WithNow provides an optional func for determining the current time, for
// MemoryStore and Manager.
func WithNow(now func() time.Time) oidc.Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *storeOptions:
			v.withNowFunc = now
		case *managerOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger for the Manager.
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
