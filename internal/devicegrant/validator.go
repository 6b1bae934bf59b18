package devicegrant

import (
	"context"
	"time"
)

// RequestValidator is the deployer-implemented capability this core consumes
// for every client, scope, and device code record decision. The core owns no
// long-lived state: all persistence and all approval-state transitions happen
// behind this interface, and the store backing it must serialize concurrent
// polls for the same device code.
type RequestValidator interface {
	// AuthenticateClient authenticates the token request's client. On success
	// the implementation must bind a client id via req.BoundClientID;
	// returning true without a binding is a contract violation.
	AuthenticateClient(ctx context.Context, req *TokenRequest) bool

	// ClientAuthenticationRequired reports whether the token endpoint demands
	// client authentication for this request (confidential clients).
	ClientAuthenticationRequired(ctx context.Context, req *TokenRequest) bool

	// ValidateGrantType fails when the authenticated client is not authorized
	// for the device code grant type.
	ValidateGrantType(ctx context.Context, req *TokenRequest) error

	// ValidateScopes fails on scopes outside the client's allowed set. It may
	// default an empty request scope onto the request.
	ValidateScopes(ctx context.Context, req *TokenRequest) error

	// ValidateClient vets the client presented to the device authorization
	// endpoint (public-client validation or full authentication).
	ValidateClient(ctx context.Context, req *AuthorizationRequest) bool

	// ValidateAuthorizationScopes fails on malformed or disallowed scopes in
	// a device authorization request.
	ValidateAuthorizationScopes(ctx context.Context, req *AuthorizationRequest) error

	// SaveToken persists an issued token. Called exactly once per successful
	// token exchange.
	SaveToken(ctx context.Context, token *Token, req *TokenRequest) error

	// StoreDeviceCode persists a freshly issued record in the pending state.
	// It returns ErrUserCodeTaken when the record's user code collides with a
	// live record, so issuance can retry with a fresh code.
	StoreDeviceCode(ctx context.Context, record *DeviceCodeRecord) error

	// LookupDeviceCode fetches a record by device code. Unknown codes return
	// (nil, nil).
	LookupDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error)

	// LookupUserCode fetches a record by normalized user code. Unknown codes
	// return (nil, nil).
	LookupUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error)

	// RecordPoll persists the time of a poll so the grant can enforce the
	// minimum interval between polls.
	RecordPoll(ctx context.Context, deviceCode string, at time.Time) error

	// SetApproval moves a pending record to approved or denied, binding the
	// approving subject. Fails when the record is not pending.
	SetApproval(ctx context.Context, userCode string, state ApprovalState, subject string) (*DeviceCodeRecord, error)

	// ConsumeDeviceCode atomically transitions a record from approved to
	// consumed, returning false when the record was not in the approved state.
	// This compare-and-swap is the exactly-once guarantee for token issuance
	// under concurrent polling.
	ConsumeDeviceCode(ctx context.Context, deviceCode string) (bool, error)
}

// TokenHandler mints tokens bound to a validated request.
type TokenHandler interface {
	CreateToken(ctx context.Context, req *TokenRequest, refreshToken bool) (*Token, error)
}

// CodeGenerator produces a human-transcribable user code. The default
// generator emits short codes from a charset without visually ambiguous
// characters.
type CodeGenerator func() (string, error)

// CustomValidator is a deployer extension point run before or after the
// built-in token request validation. Returning a *Error fails the request
// with that protocol error.
type CustomValidator func(ctx context.Context, req *TokenRequest) error

// TokenModifier transforms a freshly minted token before persistence.
// Modifiers run in registration order.
type TokenModifier func(token *Token) *Token
