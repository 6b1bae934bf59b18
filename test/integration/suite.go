// Package integration exercises the complete device authorization stack over
// HTTP: chi router, handlers, grant core, client registry, bearer issuer, and
// the in-memory store, wired the same way the deviceauthd binary wires them.
package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/approve"
	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/device"
	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/health"
	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/token"
	"github.com/oauthkit/deviceauth/internal/bearer"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/registry"
	"github.com/oauthkit/deviceauth/internal/store"
	"github.com/oauthkit/deviceauth/internal/usercode"
)

// Clock is an advanceable time source shared by the whole stack under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Suite runs the composed server behind a real HTTP listener.
type Suite struct {
	T      *testing.T
	Server *httptest.Server
	Client *http.Client
	Clock  *Clock
}

// NewSuite boots the stack with two registered clients: the public "tv-app"
// and the confidential "backend".
func NewSuite(t *testing.T) *Suite {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(st.Stop)

	clock := &Clock{now: time.Now()}
	clients := registry.New(
		registry.Client{ID: "tv-app", Public: true, Scopes: []string{"read", "write"}},
		registry.Client{ID: "backend", Secret: "s3cret", Scopes: []string{"read"}},
	)
	validator := registry.NewValidator(clients, st, zerolog.Nop())
	issuer := bearer.NewIssuer([]byte("integration-test-key"), "https://auth.test", time.Hour)

	grant := devicegrant.NewServer(validator, issuer, "https://auth.test/device", usercode.Generate,
		devicegrant.WithInterval(5*time.Second),
		devicegrant.WithLifetime(30*time.Minute),
		devicegrant.WithClock(clock.Now),
	)

	router := chi.NewRouter()
	approval := approve.New(grant, zerolog.Nop())
	router.Post("/device_authorization", device.New(grant, zerolog.Nop()).ServeHTTP)
	router.Post("/token", token.New(grant, zerolog.Nop()).ServeHTTP)
	router.Post("/device/approve", approval.Approve)
	router.Post("/device/deny", approval.Deny)
	router.Get("/healthz", health.New(st).ServeHTTP)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &Suite{
		T:      t,
		Server: srv,
		Client: srv.Client(),
		Clock:  clock,
	}
}

// PostForm posts a form and decodes the JSON response body into out.
func (s *Suite) PostForm(path string, form url.Values, out any) *http.Response {
	s.T.Helper()
	resp, err := s.Client.Post(s.Server.URL+path, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		s.T.Fatalf("POST %s: %v", path, err)
	}
	s.decode(resp, out)
	return resp
}

// PostJSON posts a JSON body and decodes the JSON response body into out.
func (s *Suite) PostJSON(path, body string, out any) *http.Response {
	s.T.Helper()
	resp, err := s.Client.Post(s.Server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		s.T.Fatalf("POST %s: %v", path, err)
	}
	s.decode(resp, out)
	return resp
}

func (s *Suite) decode(resp *http.Response, out any) {
	s.T.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.T.Fatalf("reading response body: %v", err)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.T.Fatalf("decoding response %q: %v", data, err)
	}
}

// Authorize requests a device authorization for the given client and scope.
// Secret is empty for public clients and forwarded for confidential ones.
func (s *Suite) Authorize(clientID, secret, scope string) devicegrant.DeviceAuthorization {
	s.T.Helper()
	form := url.Values{"client_id": {clientID}}
	if secret != "" {
		form.Set("client_secret", secret)
	}
	if scope != "" {
		form.Set("scope", scope)
	}
	var auth devicegrant.DeviceAuthorization
	resp := s.PostForm("/device_authorization", form, &auth)
	if resp.StatusCode != http.StatusOK {
		s.T.Fatalf("device authorization returned status %d", resp.StatusCode)
	}
	return auth
}

// Poll performs one token request for the device code.
func (s *Suite) Poll(clientID, deviceCode string) (*http.Response, map[string]any) {
	s.T.Helper()
	form := url.Values{
		"grant_type":  {devicegrant.GrantTypeURN},
		"client_id":   {clientID},
		"device_code": {deviceCode},
	}
	var body map[string]any
	resp := s.PostForm("/token", form, &body)
	return resp, body
}

// Approve flips the record behind userCode to approved on behalf of subject.
func (s *Suite) Approve(userCode, subject string) *http.Response {
	s.T.Helper()
	return s.PostJSON("/device/approve", `{"user_code":"`+userCode+`","subject":"`+subject+`"}`, nil)
}

// Deny flips the record behind userCode to denied.
func (s *Suite) Deny(userCode string) *http.Response {
	s.T.Helper()
	return s.PostJSON("/device/deny", `{"user_code":"`+userCode+`"}`, nil)
}
