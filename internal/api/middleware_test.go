package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwksServer(t *testing.T, kid string, key *rsa.PublicKey, hits *int32) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func authProbe(auth *Authenticator, token string) (int, string) {
	var seen string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestAuthenticatorJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits int32
	srv := jwksServer(t, "key-1", &key.PublicKey, &hits)

	auth := NewAuthenticator(AuthConfig{
		JWKSURL:  srv.URL,
		Issuer:   "https://issuer.test",
		Audience: "transfer-service",
	}, nil)

	valid := jwt.RegisteredClaims{
		Subject:   "user_jwks",
		Issuer:    "https://issuer.test",
		Audience:  jwt.ClaimStrings{"transfer-service"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	code, owner := authProbe(auth, signRS256(t, key, "key-1", valid))
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, "user_jwks", owner)

	code, _ = authProbe(auth, signRS256(t, key, "key-1", valid))
	assert.Equal(t, http.StatusNoContent, code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "keys are cached between requests")

	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}
	code, _ = authProbe(auth, signRS256(t, key, "key-1", wrongAudience))
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = authProbe(auth, signRS256(t, key, "unknown-kid", valid))
	assert.Equal(t, http.StatusUnauthorized, code)

	hsToken := jwt.NewWithClaims(jwt.SigningMethodHS256, valid)
	signed, err := hsToken.SignedString([]byte("anything"))
	require.NoError(t, err)
	code, _ = authProbe(auth, signed)
	assert.Equal(t, http.StatusUnauthorized, code, "hmac tokens are refused without a shared secret")
}

func TestAuthenticatorRejectsMissingSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Secret: testSecret}, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	code, _ := authProbe(auth, signed)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = authProbe(auth, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestParseRSAPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	parsed, err := parseRSAPublicKey(
		base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsed))

	_, err = parseRSAPublicKey("!!", "AQAB")
	assert.Error(t, err)
	_, err = parseRSAPublicKey(base64.RawURLEncoding.EncodeToString(key.N.Bytes()), "")
	assert.Error(t, err)
}

func TestInternalAPIKeyMiddleware(t *testing.T) {
	handler := InternalAPIKeyMiddleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"matching key", "s3cret", http.StatusNoContent},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"missing key", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/accounts", nil)
			if tt.key != "" {
				req.Header.Set("X-Internal-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
