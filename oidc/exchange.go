// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
)

const maxTokenResponseSize = 1 << 20

var (
	// ExchangeRequiredKeys must all be in a successful code exchange
	// response.
	ExchangeRequiredKeys = []string{"access_token", "refresh_token", "expires_in", "id_token"}

	// RefreshRequiredKeys must all be in a successful refresh response.
	RefreshRequiredKeys = []string{"access_token", "refresh_token", "expires_in"}
)

// TokenResponse is a successful response from the provider's token endpoint.
// Optional fields the provider didn't send are zero.
type TokenResponse struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IdToken      IdToken
	TokenType    string

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// TokenExchanger defines the calls made to the provider's token and revoke
// endpoints.
type TokenExchanger interface {
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)

	// Refresh trades a refresh token for a new access token.
	Refresh(ctx context.Context, t RefreshToken) (*TokenResponse, error)

	// Revoke revokes a refresh token.
	Revoke(ctx context.Context, t RefreshToken) error
}

// ExchangeClient is the TokenExchanger that talks to the configured provider.
// It holds no state beyond its configuration.
type ExchangeClient struct {
	config *Config
	client *http.Client
	logger hclog.Logger
}

// ensure that ExchangeClient implements the TokenExchanger interface
var _ TokenExchanger = (*ExchangeClient)(nil)

// NewExchangeClient creates an ExchangeClient for c. The client credentials
// are sent in the request body.
//
// Supported options: WithHTTPClient, WithLogger
func NewExchangeClient(c *Config, opt ...Option) (*ExchangeClient, error) {
	const op = "oidc.NewExchangeClient"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getExchangeOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &ExchangeClient{
		config: c,
		client: client,
		logger: opts.withLogger.Named("ExchangeClient"),
	}, nil
}

// ExchangeCode implements TokenExchanger.ExchangeCode. It posts the
// authorization_code grant to the token endpoint. Any status other than 200,
// or a body missing one of ExchangeRequiredKeys, is a
// *ProviderResponseError.
func (e *ExchangeClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	const op = "ExchangeClient.ExchangeCode"
	if code == "" {
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {e.config.ClientID},
		"client_secret": {string(e.config.ClientSecret)},
		"code":          {code},
		"redirect_uri":  {e.config.RedirectURI},
	}
	body, err := e.post(ctx, op, e.config.TokenURI, form)
	if err != nil {
		return nil, err
	}
	tr, err := decodeTokenResponse(op, body, ExchangeRequiredKeys)
	if err != nil {
		e.logger.Error("access token response is invalid", "error", err)
		return nil, err
	}
	return tr, nil
}

// Refresh implements TokenExchanger.Refresh. It posts the refresh_token grant
// to the token endpoint. Any status other than 200, or a body missing one of
// RefreshRequiredKeys, is a *ProviderResponseError.
func (e *ExchangeClient) Refresh(ctx context.Context, t RefreshToken) (*TokenResponse, error) {
	const op = "ExchangeClient.Refresh"
	if t == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {string(t)},
		"client_id":     {e.config.ClientID},
		"client_secret": {string(e.config.ClientSecret)},
	}
	body, err := e.post(ctx, op, e.config.TokenURI, form)
	if err != nil {
		return nil, err
	}
	tr, err := decodeTokenResponse(op, body, RefreshRequiredKeys)
	if err != nil {
		e.logger.Error("refresh token response is invalid", "error", err)
		return nil, err
	}
	return tr, nil
}

// Revoke implements TokenExchanger.Revoke. Any status other than 200 is a
// *ProviderResponseError.
func (e *ExchangeClient) Revoke(ctx context.Context, t RefreshToken) error {
	const op = "ExchangeClient.Revoke"
	if t == "" {
		return fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{
		"token":           {string(t)},
		"token_type_hint": {"refresh_token"},
		"client_id":       {e.config.ClientID},
		"client_secret":   {string(e.config.ClientSecret)},
	}
	_, err := e.post(ctx, op, e.config.RevokeURI, form)
	return err
}

// post sends form to uri. Transport errors are returned wrapped; a non-200
// status is a *ProviderResponseError.
func (e *ExchangeClient) post(ctx context.Context, op, uri string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request to provider failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, &ProviderResponseError{Op: op, Msg: "unable to read response", Wrapped: err}
	}
	if resp.StatusCode != http.StatusOK {
		e.logger.Error("provider request failed", "op", op, "status_code", resp.StatusCode)
		return nil, &ProviderResponseError{Op: op, StatusCode: resp.StatusCode}
	}
	return body, nil
}

func decodeTokenResponse(op string, body []byte, required []string) (*TokenResponse, error) {
	raw := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &ProviderResponseError{Op: op, Msg: "response is not a JSON object", Wrapped: err}
	}
	if missing := MissingKeys(required, raw); len(missing) > 0 {
		return nil, &ProviderResponseError{Op: op, Missing: missing}
	}

	var tr TokenResponse
	var err error
	str := func(key string) string {
		if err != nil {
			return ""
		}
		v, ok := raw[key]
		if !ok || v == nil {
			return ""
		}
		s, isString := v.(string)
		if !isString {
			err = &ProviderResponseError{Op: op, Msg: fmt.Sprintf("'%s' is not a string", key)}
		}
		return s
	}
	tr.AccessToken = AccessToken(str("access_token"))
	tr.RefreshToken = RefreshToken(str("refresh_token"))
	tr.IdToken = IdToken(str("id_token"))
	tr.TokenType = str("token_type")
	if err != nil {
		return nil, err
	}
	if v, ok := raw["expires_in"]; ok && v != nil {
		if tr.ExpiresIn, err = parseExpiresIn(v); err != nil {
			return nil, &ProviderResponseError{Op: op, Msg: "'expires_in' is invalid", Wrapped: err}
		}
	}
	return &tr, nil
}

// parseExpiresIn accepts a JSON number or a numeric string, as some providers
// send the latter.
func parseExpiresIn(v interface{}) (int64, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = t
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, err
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative lifetime %d", n)
	}
	return n, nil
}

// exchangeOptions is the set of available options for ExchangeClient
// functions
type exchangeOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

// exchangeDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func exchangeDefaults() exchangeOptions {
	return exchangeOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getExchangeOpts gets the ExchangeClient defaults and applies the opt
// overrides passed in
func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
