// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover reads the issuer's OpenID discovery document and returns the
// endpoints it publishes. The client is optional; when nil the default
// http client is used. Providers that don't publish a revocation_endpoint
// yield an empty RevokeURI, which Config.Validate reports.
func Discover(ctx context.Context, issuer string, client *http.Client) (*ProviderConfig, error) {
	const op = "oidc.Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrConfiguration)
	}
	if client != nil {
		ctx = HTTPClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer) // makes http req to issuer for discovery
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover provider: %w", op, err)
	}
	var extra struct {
		JWKSURI            string `json:"jwks_uri"`
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	endpoint := provider.Endpoint()
	return &ProviderConfig{
		AuthorizeURI: endpoint.AuthURL,
		TokenURI:     endpoint.TokenURL,
		RevokeURI:    extra.RevocationEndpoint,
		JWKSURI:      extra.JWKSURI,
	}, nil
}
