package handler

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestGenerateAndValidateJWT(t *testing.T) {
	h := &Handler{jwtSecret: []byte("s3cret")}

	token, err := h.generateJWT("anon-1")
	require.NoError(t, err)

	anonID, err := h.validateAndGetAnonID(token)
	require.NoError(t, err)
	assert.Equal(t, "anon-1", anonID)
}

func TestValidateAndGetAnonID_Rejects(t *testing.T) {
	h := &Handler{jwtSecret: []byte("s3cret")}
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"anon_id": "a", "iss": tokenIssuer, "exp": future})},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"anon_id": "a", "iss": tokenIssuer, "exp": time.Now().Add(-time.Minute).Unix()})},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"anon_id": "a", "iss": tokenIssuer})},
		{"foreign issuer", sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"anon_id": "a", "iss": "someone-else", "exp": future})},
		{"other algorithm", sign(t, jwt.SigningMethodHS512, []byte("s3cret"), jwt.MapClaims{"anon_id": "a", "iss": tokenIssuer, "exp": future})},
		{"no identity", sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"iss": tokenIssuer, "exp": future})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.validateAndGetAnonID(tt.token)
			assert.Error(t, err)
		})
	}
}
