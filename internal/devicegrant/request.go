package devicegrant

import (
	"net/url"
	"strings"
)

// GrantTypeURN is the device code grant type identifier per RFC 8628
// section 3.4.
const GrantTypeURN = "urn:ietf:params:oauth:grant-type:device_code"

// AuthorizationRequest is the ephemeral wire-level request to the device
// authorization endpoint (RFC 8628 section 3.1). It is consumed synchronously
// and never stored.
type AuthorizationRequest struct {
	ClientID     string
	ClientSecret string
	Scope        []string

	// Extra holds parameters outside the known set, preserved for custom
	// validators.
	Extra url.Values

	duplicates []string
}

// TokenRequest is the ephemeral wire-level request to the token endpoint for
// the device code grant (RFC 8628 section 3.4).
type TokenRequest struct {
	GrantType    string
	DeviceCode   string
	ClientID     string
	ClientSecret string
	Scope        []string

	Extra url.Values

	// Bindings established during validation. BoundClientID is set by the
	// RequestValidator on successful client authentication. Subject and
	// GrantedScope are copied from the approved device code record before
	// token minting.
	BoundClientID string
	Subject       string
	GrantedScope  []string

	duplicates []string
}

// DuplicateParams lists the form parameters that appeared more than once in
// the request. Any duplicate is a hard validation error per RFC 8628.
func (r *TokenRequest) DuplicateParams() []string { return r.duplicates }

// HasDuplicate reports whether the named parameter was duplicated.
func (r *TokenRequest) HasDuplicate(param string) bool {
	for _, p := range r.duplicates {
		if p == param {
			return true
		}
	}
	return false
}

// EffectiveClientID resolves the client id to authorize against: the explicit
// request parameter when present, otherwise the id bound at authentication.
func (r *TokenRequest) EffectiveClientID() string {
	if r.ClientID != "" {
		return r.ClientID
	}
	return r.BoundClientID
}

// DuplicateParams lists the form parameters that appeared more than once.
func (r *AuthorizationRequest) DuplicateParams() []string { return r.duplicates }

// ParseTokenRequest builds a TokenRequest from decoded form values, recording
// duplicated parameters for later rejection.
func ParseTokenRequest(form url.Values) *TokenRequest {
	req := &TokenRequest{
		GrantType:    form.Get("grant_type"),
		DeviceCode:   form.Get("device_code"),
		ClientID:     form.Get("client_id"),
		ClientSecret: form.Get("client_secret"),
		Scope:        SplitScope(form.Get("scope")),
		Extra:        extraParams(form, "grant_type", "device_code", "client_id", "client_secret", "scope"),
		duplicates:   duplicateParams(form),
	}
	return req
}

// ParseAuthorizationRequest builds an AuthorizationRequest from decoded form
// values.
func ParseAuthorizationRequest(form url.Values) *AuthorizationRequest {
	return &AuthorizationRequest{
		ClientID:     form.Get("client_id"),
		ClientSecret: form.Get("client_secret"),
		Scope:        SplitScope(form.Get("scope")),
		Extra:        extraParams(form, "client_id", "client_secret", "scope"),
		duplicates:   duplicateParams(form),
	}
}

// SplitScope splits a space-delimited scope string per RFC 6749 section 3.3.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// JoinScope joins a scope set back to wire form.
func JoinScope(scope []string) string {
	return strings.Join(scope, " ")
}

func duplicateParams(form url.Values) []string {
	var dups []string
	for key, values := range form {
		if len(values) > 1 {
			dups = append(dups, key)
		}
	}
	return dups
}

func extraParams(form url.Values, known ...string) url.Values {
	extra := url.Values{}
	for key, values := range form {
		skip := false
		for _, k := range known {
			if key == k {
				skip = true
				break
			}
		}
		if !skip {
			extra[key] = values
		}
	}
	return extra
}
