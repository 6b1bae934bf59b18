package bearer

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

var signingKey = []byte("test-signing-key")

func issuedRequest() *devicegrant.TokenRequest {
	return &devicegrant.TokenRequest{
		GrantType:     devicegrant.GrantTypeURN,
		DeviceCode:    "dev-1",
		ClientID:      "tv-app",
		BoundClientID: "tv-app",
		Subject:       "user-42",
		GrantedScope:  []string{"read", "write"},
	}
}

func TestCreateTokenClaims(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return fixed }
	defer func() { NowFunc = time.Now }()

	issuer := NewIssuer(signingKey, "https://auth.example.com", time.Hour)
	token, err := issuer.CreateToken(context.Background(), issuedRequest(), false)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, 3600, token.ExpiresIn)
	assert.Equal(t, "read write", token.Scope)
	assert.Empty(t, token.RefreshToken)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token.AccessToken, claims, func(*jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return fixed }))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "https://auth.example.com", claims["iss"])
	assert.Equal(t, "user-42", claims["sub"])
	assert.Equal(t, "tv-app", claims["client_id"])
	assert.Equal(t, "read write", claims["scope"])
	assert.Equal(t, float64(fixed.Unix()), claims["iat"])
	assert.Equal(t, float64(fixed.Add(time.Hour).Unix()), claims["exp"])
	assert.NotEmpty(t, claims["jti"])
}

func TestCreateTokenRefresh(t *testing.T) {
	issuer := NewIssuer(signingKey, "https://auth.example.com", time.Hour)

	token, err := issuer.CreateToken(context.Background(), issuedRequest(), true)
	require.NoError(t, err)
	assert.Len(t, token.RefreshToken, refreshTokenBytes*2)

	again, err := issuer.CreateToken(context.Background(), issuedRequest(), true)
	require.NoError(t, err)
	assert.NotEqual(t, token.RefreshToken, again.RefreshToken)
}

func TestCreateTokenRejectsTamperedSignature(t *testing.T) {
	issuer := NewIssuer(signingKey, "https://auth.example.com", time.Hour)
	token, err := issuer.CreateToken(context.Background(), issuedRequest(), false)
	require.NoError(t, err)

	_, err = jwt.Parse(token.AccessToken, func(*jwt.Token) (any, error) {
		return []byte("wrong-key"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}
