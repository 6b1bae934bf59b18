// Package bearer mints the bearer tokens the device grant hands back on a
// successful exchange: HS256-signed JWT access tokens plus opaque refresh
// tokens.
package bearer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

// NowFunc returns the current time. It can be overridden in tests.
var NowFunc = time.Now

const refreshTokenBytes = 32

// Issuer implements devicegrant.TokenHandler.
type Issuer struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
}

// NewIssuer creates a bearer issuer. The signing key is the HS256 secret;
// issuer names the authorization server in the `iss` claim.
func NewIssuer(signingKey []byte, issuer string, accessTTL time.Duration) *Issuer {
	return &Issuer{signingKey: signingKey, issuer: issuer, accessTTL: accessTTL}
}

// CreateToken mints an access token bound to the validated request's client,
// approving subject, and granted scope. Called exactly once per successful
// exchange.
func (i *Issuer) CreateToken(_ context.Context, req *devicegrant.TokenRequest, refreshToken bool) (*devicegrant.Token, error) {
	now := NowFunc()
	scope := devicegrant.JoinScope(req.GrantedScope)

	claims := jwt.MapClaims{
		"iss":       i.issuer,
		"sub":       req.Subject,
		"client_id": req.EffectiveClientID(),
		"scope":     scope,
		"iat":       now.Unix(),
		"exp":       now.Add(i.accessTTL).Unix(),
		"jti":       uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	token := &devicegrant.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(i.accessTTL.Seconds()),
		Scope:       scope,
	}
	if refreshToken {
		refresh, err := opaqueToken()
		if err != nil {
			return nil, fmt.Errorf("generating refresh token: %w", err)
		}
		token.RefreshToken = refresh
	}
	return token, nil
}

func opaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
