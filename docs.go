// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// oac (oauth authorization code) provides the client side of the OAuth2
// authorization code flow with OpenID Connect id_token verification: a
// state handshake protecting the redirects, a JSON Web Key Set store that
// refetches keys when the provider rotates them, code exchange, refresh and
// revocation against the provider, and user resolution from verified claims.
//
// The oidc package holds the flow's building blocks, oidc/callback their
// http surface and oidc/examples/webapp a runnable application.
package oac
