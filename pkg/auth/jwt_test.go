// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, jwk.Set) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	return priv, set
}

func signTestToken(t *testing.T, priv *rsa.PrivateKey, issuer, audience, subject string, extra map[string]any) string {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, audience))
	require.NoError(t, token.Set(jwt.SubjectKey, subject))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	for k, v := range extra {
		require.NoError(t, token.Set(k, v))
	}

	key, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func newTestJWKSServer(t *testing.T, set jwk.Set) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(set)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestValidateTokenAcceptsWellFormedToken(t *testing.T) {
	priv, set := generateTestKeyPair(t)
	jwksURL := newTestJWKSServer(t, set)

	v, err := NewValidator(context.Background(), jwksURL, "issuer-x", "audience-y")
	require.NoError(t, err)

	tok := signTestToken(t, priv, "issuer-x", "audience-y", "user-1", map[string]any{"role": "admin"})
	claims, err := v.ValidateToken(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "admin", claims.Role)
}

func TestValidateTokenRejectsWrongAudience(t *testing.T) {
	priv, set := generateTestKeyPair(t)
	jwksURL := newTestJWKSServer(t, set)

	v, err := NewValidator(context.Background(), jwksURL, "issuer-x", "audience-y")
	require.NoError(t, err)

	tok := signTestToken(t, priv, "issuer-x", "wrong-audience", "user-1", nil)
	_, err = v.ValidateToken(context.Background(), tok)
	require.Error(t, err)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	_, set := generateTestKeyPair(t)
	jwksURL := newTestJWKSServer(t, set)
	v, err := NewValidator(context.Background(), jwksURL, "issuer-x", "audience-y")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	called := false
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAttachesClaimsOnValidToken(t *testing.T) {
	priv, set := generateTestKeyPair(t)
	jwksURL := newTestJWKSServer(t, set)
	v, err := NewValidator(context.Background(), jwksURL, "issuer-x", "audience-y")
	require.NoError(t, err)

	tok := signTestToken(t, priv, "issuer-x", "audience-y", "user-2", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	var gotSubject string
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = ClaimsFromContext(r.Context()).Subject
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-2", gotSubject)
}
