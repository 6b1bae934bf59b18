package registry

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/store"
)

func testRegistry() *Registry {
	return New(
		Client{
			ID:         "tv-app",
			Public:     true,
			Scopes:     []string{"read", "write"},
			GrantTypes: []string{devicegrant.GrantTypeURN},
		},
		Client{
			ID:     "backend",
			Secret: "s3cret",
			Scopes: []string{"read"},
		},
		Client{
			ID:         "web-only",
			Public:     true,
			GrantTypes: []string{"authorization_code"},
		},
	)
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(st.Stop)
	return NewValidator(testRegistry(), st, zerolog.Nop())
}

func tokenRequest(clientID, secret string) *devicegrant.TokenRequest {
	form := url.Values{
		"grant_type":  {devicegrant.GrantTypeURN},
		"device_code": {"dev-1"},
		"client_id":   {clientID},
	}
	if secret != "" {
		form.Set("client_secret", secret)
	}
	return devicegrant.ParseTokenRequest(form)
}

func TestAuthenticateClient(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		secret   string
		want     bool
	}{
		{"public client by id", "tv-app", "", true},
		{"confidential client with secret", "backend", "s3cret", true},
		{"confidential client wrong secret", "backend", "nope", false},
		{"confidential client missing secret", "backend", "", false},
		{"unknown client", "ghost", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tokenRequest(tt.clientID, tt.secret)
			got := v.AuthenticateClient(ctx, req)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.Equal(t, tt.clientID, req.BoundClientID, "successful auth must bind the client id")
			} else {
				assert.Empty(t, req.BoundClientID)
			}
		})
	}
}

func TestClientAuthenticationRequired(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	assert.False(t, v.ClientAuthenticationRequired(ctx, tokenRequest("tv-app", "")))
	assert.True(t, v.ClientAuthenticationRequired(ctx, tokenRequest("backend", "")))
	assert.False(t, v.ClientAuthenticationRequired(ctx, tokenRequest("ghost", "")))
}

func TestValidateGrantType(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	req := tokenRequest("tv-app", "")
	req.BoundClientID = "tv-app"
	assert.NoError(t, v.ValidateGrantType(ctx, req))

	// Empty grant type list allows everything.
	req = tokenRequest("backend", "s3cret")
	req.BoundClientID = "backend"
	assert.NoError(t, v.ValidateGrantType(ctx, req))

	req = tokenRequest("web-only", "")
	req.BoundClientID = "web-only"
	err := v.ValidateGrantType(ctx, req)
	var perr *devicegrant.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicegrant.ErrorCodeUnauthorizedClient, perr.Code)
}

func TestValidateScopes(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	req := tokenRequest("tv-app", "")
	req.Scope = []string{"read"}
	assert.NoError(t, v.ValidateScopes(ctx, req))

	req.Scope = []string{"read", "admin"}
	err := v.ValidateScopes(ctx, req)
	var perr *devicegrant.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicegrant.ErrorCodeInvalidScope, perr.Code)
}

func TestValidateScopesDefaultsEmptyScope(t *testing.T) {
	v := newValidator(t)

	req := tokenRequest("tv-app", "")
	req.Scope = nil
	require.NoError(t, v.ValidateScopes(context.Background(), req))
	assert.Equal(t, []string{"read", "write"}, req.Scope)
}

func TestSetApprovalMapsStoreErrors(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	_, err := v.SetApproval(ctx, "XXXX-XXXX", devicegrant.StateApproved, "user-42")
	var perr *devicegrant.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicegrant.ErrorCodeInvalidRequest, perr.Code)
}

func TestStoreDeviceCodeUserCodeCollision(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	first := &devicegrant.DeviceCodeRecord{
		DeviceCode: "dev-1",
		UserCode:   "BCDF-GHJK",
		ClientID:   "tv-app",
		State:      devicegrant.StatePending,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, v.StoreDeviceCode(ctx, first))

	second := *first
	second.DeviceCode = "dev-2"
	err := v.StoreDeviceCode(ctx, &second)
	assert.ErrorIs(t, err, devicegrant.ErrUserCodeTaken,
		"collisions surface as the retryable sentinel")
}

func TestConsumeDeviceCodeUnknownIsNotAnError(t *testing.T) {
	v := newValidator(t)

	ok, err := v.ConsumeDeviceCode(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadClientsFile(t *testing.T) {
	path := t.TempDir() + "/clients.json"
	data := `[{"client_id":"tv-app","public":true,"scopes":["read"]}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	c, ok := r.Client("tv-app")
	require.True(t, ok)
	assert.True(t, c.Public)
	assert.Equal(t, []string{"read"}, c.Scopes)

	_, err = Load(t.TempDir() + "/missing.json")
	assert.Error(t, err)
}
