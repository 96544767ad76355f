// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateKey will generate a test RSA 2048 private key, identified by
// kid, for signing RS256 JWTs.
func TestGenerateKey(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()
	require := require.New(t)
	k, err := generateKey(kid)
	require.NoError(err)
	return k
}

func generateKey(kid string) (*jose.JSONWebKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &jose.JSONWebKey{
		Key:       priv,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}, nil
}

// TestJWKS returns the public JSON web key set of the provided private keys.
func TestJWKS(t *testing.T, keys ...*jose.JSONWebKey) *jose.JSONWebKeySet {
	t.Helper()
	return publicKeySet(keys...)
}

func publicKeySet(keys ...*jose.JSONWebKey) *jose.JSONWebKeySet {
	set := &jose.JSONWebKeySet{}
	for _, k := range keys {
		set.Keys = append(set.Keys, k.Public())
	}
	return set
}

// TestSignJWT will bundle the provided claims into a test RS256 signed JWT
// whose header carries the key's kid.
func TestSignJWT(t *testing.T, key *jose.JSONWebKey, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)
	raw, err := signJWT(key, claims, privateClaims)
	require.NoError(err)
	return raw
}

func signJWT(key *jose.JSONWebKey, claims jwt.Claims, privateClaims interface{}) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}
	b := jwt.Signed(sig).Claims(claims)
	if privateClaims != nil {
		b = b.Claims(privateClaims)
	}
	return b.Serialize()
}

// TestDefaultClaims returns claims sufficient to create a user with the
// default configuration.
func TestDefaultClaims() map[string]interface{} {
	return map[string]interface{}{
		"first_name": "Alice",
		"last_name":  "Doe",
		"email":      "alice@example.com",
		"username":   "alice",
	}
}

// TestIDToken signs an id_token for audience that's valid for expireIn, with
// the additional claims.
func TestIDToken(t *testing.T, key *jose.JSONWebKey, audience string, expireIn time.Duration, additionalClaims map[string]interface{}) string {
	t.Helper()
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    "https://example.com/",
		Subject:   "alice@example.com",
		Audience:  jwt.Audience{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(expireIn)),
	}
	return TestSignJWT(t, key, claims, additionalClaims)
}

// TestGenerateCA will generate a test x509 CA cert encoded in a PEM format.
func TestGenerateCA(t *testing.T, hosts []string) string {
	t.Helper()
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)

	// ECDSA, ED25519 and RSA subject keys should have the DigitalSignature
	// KeyUsage bits set in the x509.Certificate template
	keyUsage := x509.KeyUsageDigitalSignature

	validFor := 2 * time.Minute
	notBefore := time.Now()
	notAfter := notBefore.Add(validFor)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	require.NoError(err)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Acme Co"},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:              keyUsage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	template.IsCA = true
	template.KeyUsage |= x509.KeyUsageCertSign

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}
