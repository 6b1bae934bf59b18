package devicegrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Grant validates device access token requests and drives token issuance per
// RFC 8628 sections 3.4 and 3.5. It is stateless per call and safe for
// concurrent use provided its RequestValidator is.
type Grant struct {
	validator    RequestValidator
	refreshToken bool

	preValidators  []CustomValidator
	postValidators []CustomValidator
	modifiers      []TokenModifier

	logger zerolog.Logger
	now    func() time.Time
}

// GrantOption configures a Grant.
type GrantOption func(*Grant)

// WithRefreshTokens controls whether CreateTokenResponse asks the token
// handler for a refresh token.
func WithRefreshTokens(enabled bool) GrantOption {
	return func(g *Grant) { g.refreshToken = enabled }
}

// WithPreValidator appends a validator hook run before the built-in token
// request validation.
func WithPreValidator(v CustomValidator) GrantOption {
	return func(g *Grant) { g.preValidators = append(g.preValidators, v) }
}

// WithPostValidator appends a validator hook run after the built-in token
// request validation.
func WithPostValidator(v CustomValidator) GrantOption {
	return func(g *Grant) { g.postValidators = append(g.postValidators, v) }
}

// WithTokenModifier appends a modifier to the ordered pipeline applied to
// every minted token before persistence.
func WithTokenModifier(m TokenModifier) GrantOption {
	return func(g *Grant) { g.modifiers = append(g.modifiers, m) }
}

// WithGrantLogger sets the structured logger the grant reports through.
func WithGrantLogger(logger zerolog.Logger) GrantOption {
	return func(g *Grant) { g.logger = logger }
}

func withGrantClock(now func() time.Time) GrantOption {
	return func(g *Grant) { g.now = now }
}

// NewGrant creates a device code grant bound to the given request validator.
func NewGrant(validator RequestValidator, opts ...GrantOption) *Grant {
	g := &Grant{
		validator: validator,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateTokenRequest checks the shape and authorization of a token polling
// request. It is pure validation: no state is written and the call is safe to
// repeat. Device code approval state is checked separately by the issuance
// path so it remains an explicit, testable step.
func (g *Grant) ValidateTokenRequest(ctx context.Context, req *TokenRequest) error {
	for _, validator := range g.preValidators {
		if err := validator(ctx, req); err != nil {
			return err
		}
	}

	if req.GrantType == "" {
		return NewInvalidRequest("Request is missing grant type.")
	}
	if req.GrantType != GrantTypeURN {
		return NewUnsupportedGrantType()
	}

	for _, param := range []string{"grant_type", "scope"} {
		if req.HasDuplicate(param) {
			return NewDuplicateParameter(param)
		}
	}

	g.logger.Debug().Str("client_id", req.ClientID).Msg("authenticating client")
	if !g.validator.AuthenticateClient(ctx, req) {
		return NewInvalidClient("Client authentication failed.")
	}
	if req.BoundClientID == "" {
		return &ContractError{
			Collaborator: "RequestValidator",
			Violation:    "AuthenticateClient returned true without binding a client id",
		}
	}

	if err := g.validator.ValidateGrantType(ctx, req); err != nil {
		return err
	}

	g.logger.Debug().Str("client_id", req.EffectiveClientID()).Msg("authorizing access to client")
	if err := g.validator.ValidateScopes(ctx, req); err != nil {
		return err
	}

	for _, validator := range g.postValidators {
		if err := validator(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// validateDeviceCode resolves the polling request against the device code
// record's approval state. Expiry is checked before the poll rate, and the
// poll rate before the approval state, so a fast-polling device always sees
// slow_down first. On approval the record's subject and granted scope are
// bound into the request for the token handler.
func (g *Grant) validateDeviceCode(ctx context.Context, req *TokenRequest) error {
	if req.DeviceCode == "" {
		return NewInvalidRequest("Request is missing device code.")
	}

	record, err := g.validator.LookupDeviceCode(ctx, req.DeviceCode)
	if err != nil {
		return fmt.Errorf("looking up device code: %w", err)
	}
	if record == nil {
		return NewInvalidGrant("The device_code is not recognized.")
	}

	if record.ClientID != req.EffectiveClientID() {
		return NewInvalidGrant("The device_code was not issued to this client.")
	}

	now := g.now()
	if record.State == StateExpired || record.Expired(now) {
		return NewExpiredToken()
	}

	interval := time.Duration(record.Interval) * time.Second
	tooFast := !record.LastPolledAt.IsZero() && now.Sub(record.LastPolledAt) < interval
	if err := g.validator.RecordPoll(ctx, req.DeviceCode, now); err != nil {
		return fmt.Errorf("recording poll: %w", err)
	}
	if tooFast {
		return NewSlowDown()
	}

	switch record.State {
	case StatePending:
		return NewAuthorizationPending()
	case StateDenied:
		return NewAccessDenied()
	case StateConsumed:
		return NewInvalidGrant("The device_code has already been redeemed.")
	case StateApproved:
		req.Subject = record.Subject
		req.GrantedScope = SplitScope(record.Scope)
		return nil
	default:
		return NewInvalidGrant("The device_code is not in a redeemable state.")
	}
}

// CreateAuthorizationResponse runs the full validation pipeline and, on
// success, mints a token with refresh_token=false. Exactly one CreateToken
// call happens per validated request; failures return the protocol error's
// own headers, body, and status with no token created.
func (g *Grant) CreateAuthorizationResponse(ctx context.Context, req *TokenRequest, handler TokenHandler) (Response, error) {
	return g.issue(ctx, req, handler, false, false)
}

// CreateTokenResponse handles a device access token request end to end:
// client re-authentication when the validator requires it, request
// validation, the explicit device code state check, a single atomic claim of
// the approved code, and token minting and persistence. The success body is
// the JSON token with status 200 and no-store headers.
func (g *Grant) CreateTokenResponse(ctx context.Context, req *TokenRequest, handler TokenHandler) (Response, error) {
	return g.issue(ctx, req, handler, g.refreshToken, true)
}

func (g *Grant) issue(ctx context.Context, req *TokenRequest, handler TokenHandler, refresh, reauthenticate bool) (Response, error) {
	headers := DefaultResponseHeaders()

	if reauthenticate && g.validator.ClientAuthenticationRequired(ctx, req) {
		if !g.validator.AuthenticateClient(ctx, req) {
			return g.fail(headers, NewInvalidClient("Client authentication failed."))
		}
	}

	if err := g.ValidateTokenRequest(ctx, req); err != nil {
		return g.fail(headers, err)
	}
	if err := g.validateDeviceCode(ctx, req); err != nil {
		return g.fail(headers, err)
	}

	// Claim the code before minting: the approved -> consumed compare-and-swap
	// is what makes issuance exactly-once under concurrent polling.
	claimed, err := g.validator.ConsumeDeviceCode(ctx, req.DeviceCode)
	if err != nil {
		return g.fail(headers, fmt.Errorf("consuming device code: %w", err))
	}
	if !claimed {
		return g.fail(headers, NewInvalidGrant("The device_code has already been redeemed."))
	}

	token, err := handler.CreateToken(ctx, req, refresh)
	if err != nil {
		return g.fail(headers, fmt.Errorf("creating token: %w", err))
	}
	for _, modifier := range g.modifiers {
		token = modifier(token)
	}

	if err := g.validator.SaveToken(ctx, token, req); err != nil {
		return g.fail(headers, fmt.Errorf("saving token: %w", err))
	}

	g.logger.Info().
		Str("client_id", req.EffectiveClientID()).
		Str("subject", req.Subject).
		Msg("device code exchanged for token")
	return tokenResponse(headers, token), nil
}

// fail renders err as a protocol error response. Protocol errors pass
// through with their own status and headers; contract violations and
// internal failures render as server_error and are additionally returned so
// the caller can surface them as integration faults.
func (g *Grant) fail(headers map[string]string, err error) (Response, error) {
	var perr *Error
	if errors.As(err, &perr) {
		g.logger.Debug().Str("error", perr.Code).Msg("token request rejected")
		return errorResponse(headers, perr), nil
	}

	var cerr *ContractError
	if errors.As(err, &cerr) {
		g.logger.Error().Err(cerr).Msg("request validator contract violation")
		return errorResponse(headers, NewServerError()), err
	}

	g.logger.Error().Err(err).Msg("token request failed")
	return errorResponse(headers, NewServerError()), err
}
