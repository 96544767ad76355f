// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestProvider paths.
const (
	TestDiscoveryPath = "/.well-known/openid-configuration"
	TestAuthorizePath = "/authorize"
	TestTokenPath     = "/token"
	TestRevokePath    = "/revoke"
	TestJWKSPath      = "/certs"
)

// TestProvider is a local TLS identity provider that supports the
// authorization code flow with refresh and revocation, which makes writing
// tests much easier. Besides the happy path it can rotate its signing key,
// fail any endpoint with a given status, omit token response fields and count
// requests per endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu               sync.Mutex
	clientID         string
	clientSecret     string
	expectedAuthCode string
	signingKey       *jose.JSONWebKey
	publishedKeys    []*jose.JSONWebKey
	claims           map[string]interface{}
	customAudience   string
	idTokenTTL       time.Duration
	expiresIn        interface{}
	omitFields       map[string]bool
	statusCodes      map[string]int
	requests         map[string]int
	refreshTokens    map[string]bool
	revoked          []string
	lastForm         map[string]url.Values
	keyCounter       int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider that's stopped when the
// test finishes. It's configured with client credentials "test-client-id" and
// "test-client-secret", auth code "test-code" and TestDefaultClaims.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:         "test-client-id",
		clientSecret:     "test-client-secret",
		expectedAuthCode: "test-code",
		claims:           TestDefaultClaims(),
		idTokenTTL:       5 * time.Minute,
		expiresIn:        3600,
		omitFields:       map[string]bool{},
		statusCodes:      map[string]int{},
		requests:         map[string]int{},
		refreshTokens:    map[string]bool{},
		lastForm:         map[string]url.Values{},
		t:                t,
	}
	p.signingKey = TestGenerateKey(t, p.nextKeyID())
	p.publishedKeys = []*jose.JSONWebKey{p.signingKey}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client that trusts the test provider.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// ProviderConfig returns the test provider's endpoints.
func (p *TestProvider) ProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		AuthorizeURI: p.Addr() + TestAuthorizePath,
		TokenURI:     p.Addr() + TestTokenPath,
		RevokeURI:    p.Addr() + TestRevokePath,
		JWKSURI:      p.Addr() + TestJWKSPath,
	}
}

// Config returns a valid Config for the test provider, with redirectURI and
// the client credentials the provider expects.
func (p *TestProvider) Config(redirectURI string, opt ...Option) *Config {
	p.t.Helper()
	p.mu.Lock()
	id, secret := p.clientID, p.clientSecret
	p.mu.Unlock()
	opt = append([]Option{WithProviderCA(p.caCert)}, opt...)
	c, err := NewConfig(id, ClientSecret(secret), redirectURI, p.ProviderConfig(), opt...)
	require.NoError(p.t, err)
	return c
}

// SetClientCreds is for configuring the client information required for the
// authorization code flow.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize
// and the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetClaims replaces the non standard claims of issued id_tokens.
func (p *TestProvider) SetClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims = claims
}

// SetCustomAudience configures what audience value to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetIDTokenTTL sets the lifetime of issued id_tokens. A negative ttl issues
// expired tokens.
func (p *TestProvider) SetIDTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenTTL = ttl
}

// SetExpiresIn sets the expires_in value of token responses. It's sent as is,
// so a string exercises providers which quote it.
func (p *TestProvider) SetExpiresIn(v interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = v
}

// OmitFields forces /token responses to leave out the named fields.
func (p *TestProvider) OmitFields(fields ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range fields {
		p.omitFields[f] = true
	}
}

// SetStatusCode forces the endpoint at path to respond with code. A zero code
// restores normal behavior.
func (p *TestProvider) SetStatusCode(path string, code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code == 0 {
		delete(p.statusCodes, path)
		return
	}
	p.statusCodes[path] = code
}

// RotateSigningKey signs id_tokens with a new key. When keepOld is true the
// previous keys stay published alongside the new one. It returns the new
// key's kid.
func (p *TestProvider) RotateSigningKey(keepOld bool) string {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	k := TestGenerateKey(p.t, p.nextKeyID())
	if keepOld {
		p.publishedKeys = append([]*jose.JSONWebKey{k}, p.publishedKeys...)
	} else {
		p.publishedKeys = []*jose.JSONWebKey{k}
	}
	p.signingKey = k
	return k.KeyID
}

// ReplaceSigningKey signs id_tokens with a new key published under the same
// kid as the current one, so a cached key set still names the kid but holds
// the wrong key.
func (p *TestProvider) ReplaceSigningKey() {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	k := TestGenerateKey(p.t, p.signingKey.KeyID)
	for i, pk := range p.publishedKeys {
		if pk.KeyID == k.KeyID {
			p.publishedKeys[i] = k
		}
	}
	p.signingKey = k
}

// SigningKey returns the private key currently signing id_tokens.
func (p *TestProvider) SigningKey() *jose.JSONWebKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signingKey
}

// IDToken signs an id_token with the provider's current key, standard claims
// and the configured claims.
func (p *TestProvider) IDToken() IdToken {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.idToken()
	require.NoError(p.t, err)
	return IdToken(raw)
}

// Requests returns how many requests the endpoint at path received.
func (p *TestProvider) Requests(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[path]
}

// LastForm returns the form of the last POST to the endpoint at path.
func (p *TestProvider) LastForm(path string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm[path]
}

// RevokedTokens returns the refresh tokens revoked so far.
func (p *TestProvider) RevokedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// IsActiveRefreshToken reports whether t was issued and not revoked or
// rotated.
func (p *TestProvider) IsActiveRefreshToken(t string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshTokens[t]
}

func (p *TestProvider) nextKeyID() string {
	p.keyCounter++
	return fmt.Sprintf("test-key-%d", p.keyCounter)
}

// idToken requires the lock to be held.
func (p *TestProvider) idToken() (string, error) {
	now := time.Now()
	aud := p.clientID
	if p.customAudience != "" {
		aud = p.customAudience
	}
	claims := jwt.Claims{
		Subject:   "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		Issuer:    p.Addr(),
		Audience:  jwt.Audience{aud},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.idTokenTTL)),
	}
	return signJWT(p.signingKey, claims, p.claims)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests[req.URL.Path]++
	w.Header().Set("Content-Type", "application/json")

	if code, ok := p.statusCodes[req.URL.Path]; ok {
		p.writeTokenErrorResponse(w, code, "server_error", "forced failure")
		return
	}

	switch req.URL.Path {
	case TestDiscoveryPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			RevocationEndpoint string   `json:"revocation_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			Algs               []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + TestAuthorizePath,
			TokenEndpoint:      p.Addr() + TestTokenPath,
			RevocationEndpoint: p.Addr() + TestRevokePath,
			JWKSURI:            p.Addr() + TestJWKSPath,
			Algs:               []string{string(RS256)},
		}
		_ = p.writeJSON(w, &reply)

	case TestAuthorizePath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !contains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("redirect_uri") == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case TestJWKSPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, publicKeySet(p.publishedKeys...))

	case TestTokenPath:
		if !p.authorizedPost(w, req) {
			return
		}
		var withIDToken bool
		switch req.PostForm.Get("grant_type") {
		case "authorization_code":
			if req.PostForm.Get("redirect_uri") == "" {
				p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing redirect_uri")
				return
			}
			if req.PostForm.Get("code") != p.expectedAuthCode {
				p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
				return
			}
			withIDToken = true
		case "refresh_token":
			rt := req.PostForm.Get("refresh_token")
			if !p.refreshTokens[rt] {
				p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
				return
			}
			if !p.omitFields["refresh_token"] {
				delete(p.refreshTokens, rt)
			}
		default:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
			return
		}
		p.writeTokens(w, withIDToken)

	case TestRevokePath:
		if !p.authorizedPost(w, req) {
			return
		}
		if req.PostForm.Get("token") == "" {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing token")
			return
		}
		delete(p.refreshTokens, req.PostForm.Get("token"))
		p.revoked = append(p.revoked, req.PostForm.Get("token"))
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// authorizedPost parses the form and checks the client credentials it
// carries. It writes the error response when it returns false.
func (p *TestProvider) authorizedPost(w http.ResponseWriter, req *http.Request) bool {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	p.lastForm[req.URL.Path] = req.PostForm
	if req.PostForm.Get("client_id") != p.clientID || req.PostForm.Get("client_secret") != p.clientSecret {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "")
		return false
	}
	return true
}

func (p *TestProvider) writeTokens(w http.ResponseWriter, withIDToken bool) {
	accessToken, err := NewID(WithPrefix("at"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	refreshToken, err := NewID(WithPrefix("rt"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	reply := map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    p.expiresIn,
		"token_type":    "Bearer",
	}
	if withIDToken {
		idToken, err := p.idToken()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		reply["id_token"] = idToken
	}
	for f := range p.omitFields {
		delete(reply, f)
	}
	if _, ok := reply["refresh_token"]; ok {
		p.refreshTokens[refreshToken] = true
	}
	_ = p.writeJSON(w, reply)
}
