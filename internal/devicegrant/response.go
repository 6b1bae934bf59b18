package devicegrant

import "encoding/json"

// DeviceAuthorization is the device authorization endpoint response per
// RFC 8628 section 3.2. device_code is only ever sent to the polling device;
// user_code is the single value surfaced for manual entry.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Token is the opaque product of the token-issuance collaborator, minted once
// per successful validation and persisted exactly once.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Response is the transport-agnostic (status, headers, body) triple every
// grant operation resolves to. A failed operation carries the protocol
// error's own status, headers, and body; success is never mixed with an
// error payload.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// DefaultResponseHeaders are applied to every token endpoint response per
// RFC 6749 section 5.1.
func DefaultResponseHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Cache-Control": "no-store",
		"Pragma":        "no-cache",
	}
}

func errorResponse(headers map[string]string, err *Error) Response {
	for k, v := range err.Headers {
		headers[k] = v
	}
	return Response{Status: err.Status, Headers: headers, Body: err.JSON()}
}

func tokenResponse(headers map[string]string, token *Token) Response {
	body, err := json.Marshal(token)
	if err != nil {
		return errorResponse(headers, NewServerError())
	}
	return Response{Status: 200, Headers: headers, Body: body}
}
