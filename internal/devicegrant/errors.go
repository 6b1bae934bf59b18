// Package devicegrant implements the server-side protocol logic for the
// OAuth 2.0 Device Authorization Grant (RFC 8628).
package devicegrant

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// OAuth2 error codes used by the device authorization grant.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeUnsupportedGrant     = "unsupported_grant_type"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeServerError          = "server_error"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeExpiredToken         = "expired_token"
)

// SlowDownIncrement is the number of seconds a client must add to its polling
// interval after receiving a slow_down error, per RFC 8628 section 3.5.
const SlowDownIncrement = 5

// Error is a protocol error from the closed RFC 6749/8628 taxonomy. It carries
// everything the transport needs to build the response: the machine-readable
// code, an HTTP status, a human description, and extra response headers.
// Protocol errors are returned, never panicked, and are always the sole
// payload of a failed call.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`

	Status  int               `json:"-"`
	Headers map[string]string `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// JSON serializes the error body as sent on the wire.
func (e *Error) JSON() []byte {
	body, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"error":"server_error"}`)
	}
	return body
}

func newError(code string, status int, description string) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// NewInvalidRequest reports a malformed request (missing or duplicated
// parameters).
func NewInvalidRequest(description string) *Error {
	return newError(ErrorCodeInvalidRequest, http.StatusBadRequest, description)
}

// NewDuplicateParameter reports a parameter included more than once, naming
// the offending parameter.
func NewDuplicateParameter(param string) *Error {
	return NewInvalidRequest(fmt.Sprintf("Duplicate %s parameter.", param))
}

// NewInvalidClient reports failed client authentication. The 401 status and
// WWW-Authenticate challenge follow RFC 6749 section 5.2.
func NewInvalidClient(description string) *Error {
	e := newError(ErrorCodeInvalidClient, http.StatusUnauthorized, description)
	e.Headers = map[string]string{"WWW-Authenticate": `Basic realm="oauth2"`}
	return e
}

// NewInvalidGrant reports an unknown, consumed, or otherwise unusable
// device code.
func NewInvalidGrant(description string) *Error {
	return newError(ErrorCodeInvalidGrant, http.StatusBadRequest, description)
}

// NewUnauthorizedClient reports a client not authorized for the device code
// grant type.
func NewUnauthorizedClient() *Error {
	return newError(ErrorCodeUnauthorizedClient, http.StatusBadRequest,
		"The client is not authorized to use the device code grant type.")
}

// NewUnsupportedGrantType reports a grant_type other than the device code URN.
func NewUnsupportedGrantType() *Error {
	return newError(ErrorCodeUnsupportedGrant, http.StatusBadRequest,
		"The authorization grant type is not supported by the authorization server.")
}

// NewInvalidScope reports a scope outside the client's allowed set.
func NewInvalidScope(description string) *Error {
	return newError(ErrorCodeInvalidScope, http.StatusBadRequest, description)
}

// NewServerError reports an internal failure in protocol form.
func NewServerError() *Error {
	return newError(ErrorCodeServerError, http.StatusInternalServerError,
		"The authorization server encountered an unexpected condition.")
}

// NewAuthorizationPending signals the user has not yet completed verification;
// the device should continue polling at the advertised interval.
func NewAuthorizationPending() *Error {
	return newError(ErrorCodeAuthorizationPending, http.StatusBadRequest,
		"The authorization request is still pending.")
}

// NewSlowDown signals the device is polling faster than the advertised
// interval and must add SlowDownIncrement seconds to it.
func NewSlowDown() *Error {
	return newError(ErrorCodeSlowDown, http.StatusBadRequest,
		fmt.Sprintf("Polling interval must be increased by %d seconds.", SlowDownIncrement))
}

// NewExpiredToken signals the device code has expired and the flow must be
// restarted from the device authorization endpoint.
func NewExpiredToken() *Error {
	return newError(ErrorCodeExpiredToken, http.StatusBadRequest,
		"The device_code has expired.")
}

// NewAccessDenied signals the user denied the authorization request.
func NewAccessDenied() *Error {
	return newError(ErrorCodeAccessDenied, http.StatusBadRequest,
		"The user denied the authorization request.")
}

// ContractError reports an integration bug in a deployer-supplied collaborator,
// such as a RequestValidator that reports successful client authentication
// without binding a client id. It is deliberately not an *Error: transports
// must surface it as a fatal 500, never as a protocol error, so deployers
// detect the bug instead of silently issuing malformed tokens.
type ContractError struct {
	Collaborator string
	Violation    string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("collaborator contract violation: %s: %s", e.Collaborator, e.Violation)
}
