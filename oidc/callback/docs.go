// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides the http surface of the authorization
code flow: starting a login attempt, handling the provider's redirect back,
logging out, a small profile endpoint, and a middleware that keeps an
authenticated user's access token fresh.

	h, err := callback.NewHandler(cfg, callback.Dependencies{
		Tokens:     tokenProvider,
		TokenStore: store,
		Users:      store,
		Sessions:   sessions,
	})
	if err != nil {
		// handle error
	}
	http.ListenAndServe(":8080", h.Routes())
*/
package callback
