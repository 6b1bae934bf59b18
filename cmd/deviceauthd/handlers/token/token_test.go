package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/deviceauth/internal/bearer"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/registry"
	"github.com/oauthkit/deviceauth/internal/store"
)

type testClock struct{ now time.Time }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestServer(t *testing.T) (*devicegrant.Server, *testClock) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(st.Stop)

	clock := &testClock{now: time.Now()}
	clients := registry.New(registry.Client{ID: "tv-app", Public: true, Scopes: []string{"read"}})
	validator := registry.NewValidator(clients, st, zerolog.Nop())
	issuer := bearer.NewIssuer([]byte("test-key"), "https://auth.test", time.Hour)
	srv := devicegrant.NewServer(validator, issuer, "https://auth.test/device",
		func() (string, error) { return "BCDF-GHJK", nil },
		devicegrant.WithClock(func() time.Time { return clock.now }))
	return srv, clock
}

func issueAndApprove(t *testing.T, srv *devicegrant.Server) string {
	t.Helper()
	auth, err := srv.Authorize(context.Background(), &devicegrant.AuthorizationRequest{ClientID: "tv-app"})
	require.NoError(t, err)
	_, err = srv.Approve(context.Background(), auth.UserCode, "user-42")
	require.NoError(t, err)
	return auth.DeviceCode
}

func post(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestTokenHandler(t *testing.T) {
	tests := []struct {
		name          string
		form          func(deviceCode string) url.Values
		approved      bool
		wantStatus    int
		wantErrorCode string
	}{
		{
			name: "missing grant_type",
			form: func(string) url.Values {
				return url.Values{"client_id": {"tv-app"}, "device_code": {"x"}}
			},
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "invalid_request",
		},
		{
			name: "wrong grant_type",
			form: func(string) url.Values {
				return url.Values{"grant_type": {"password"}, "client_id": {"tv-app"}, "device_code": {"x"}}
			},
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "unsupported_grant_type",
		},
		{
			name: "unknown client",
			form: func(code string) url.Values {
				return url.Values{"grant_type": {devicegrant.GrantTypeURN}, "client_id": {"ghost"}, "device_code": {code}}
			},
			wantStatus:    http.StatusUnauthorized,
			wantErrorCode: "invalid_client",
		},
		{
			name: "authorization pending",
			form: func(code string) url.Values {
				return url.Values{"grant_type": {devicegrant.GrantTypeURN}, "client_id": {"tv-app"}, "device_code": {code}}
			},
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "authorization_pending",
		},
		{
			name: "approved code exchanges",
			form: func(code string) url.Values {
				return url.Values{"grant_type": {devicegrant.GrantTypeURN}, "client_id": {"tv-app"}, "device_code": {code}}
			},
			approved:   true,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			var deviceCode string
			if tt.approved {
				deviceCode = issueAndApprove(t, srv)
			} else {
				auth, err := srv.Authorize(context.Background(), &devicegrant.AuthorizationRequest{ClientID: "tv-app"})
				require.NoError(t, err)
				deviceCode = auth.DeviceCode
			}

			w := post(t, New(srv, zerolog.Nop()), tt.form(deviceCode))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			if tt.wantErrorCode != "" {
				assert.Equal(t, tt.wantErrorCode, body["error"])
				assert.NotEmpty(t, body["error_description"])
				return
			}
			assert.NotEmpty(t, body["access_token"])
			assert.Equal(t, "Bearer", body["token_type"])
			assert.Equal(t, float64(3600), body["expires_in"])
			assert.Equal(t, "read", body["scope"])
		})
	}
}

func TestTokenHandlerDuplicateAcrossQueryAndBody(t *testing.T) {
	srv, _ := newTestServer(t)
	auth, err := srv.Authorize(context.Background(), &devicegrant.AuthorizationRequest{ClientID: "tv-app"})
	require.NoError(t, err)

	form := url.Values{
		"grant_type":  {devicegrant.GrantTypeURN},
		"client_id":   {"tv-app"},
		"device_code": {auth.DeviceCode},
	}
	req := httptest.NewRequest(http.MethodPost, "/token?grant_type="+url.QueryEscape(devicegrant.GrantTypeURN),
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	New(srv, zerolog.Nop()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body["error"])
	assert.Contains(t, body["error_description"], "grant_type")
}

func TestTokenHandlerSingleUse(t *testing.T) {
	srv, clock := newTestServer(t)
	deviceCode := issueAndApprove(t, srv)
	handler := New(srv, zerolog.Nop())
	form := url.Values{
		"grant_type":  {devicegrant.GrantTypeURN},
		"client_id":   {"tv-app"},
		"device_code": {deviceCode},
	}

	first := post(t, handler, form)
	require.Equal(t, http.StatusOK, first.Code)

	clock.advance(6 * time.Second)
	second := post(t, handler, form)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "invalid_grant", body["error"])
}
