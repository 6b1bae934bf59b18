package devicegrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Server is the all-in-one device grant facade: the device authorization
// endpoint and the device code token grant composed behind one configuration
// surface, bound to a single token issuer. It adds no protocol logic of its
// own beyond dependency wiring and default propagation.
type Server struct {
	authorization *AuthorizationEndpoint
	grant         *Grant
	tokens        TokenHandler
	validator     RequestValidator
	now           func() time.Time
}

// ServerOption configures the composed server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	interval      time.Duration
	lifetime      time.Duration
	userCode      CodeGenerator
	refreshTokens bool
	pre, post     []CustomValidator
	modifiers     []TokenModifier
	logger        zerolog.Logger
	now           func() time.Time
}

// WithInterval sets the polling interval propagated to the authorization
// endpoint and advertised to devices.
func WithInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.interval = d }
}

// WithLifetime sets the device/user code validity window.
func WithLifetime(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.lifetime = d }
}

// WithUserCode overrides the pluggable user code generator.
func WithUserCode(gen CodeGenerator) ServerOption {
	return func(c *serverConfig) { c.userCode = gen }
}

// WithRefresh enables refresh tokens on successful exchanges.
func WithRefresh(enabled bool) ServerOption {
	return func(c *serverConfig) { c.refreshTokens = enabled }
}

// WithServerPreValidator registers a pre-token custom validator.
func WithServerPreValidator(v CustomValidator) ServerOption {
	return func(c *serverConfig) { c.pre = append(c.pre, v) }
}

// WithServerPostValidator registers a post-token custom validator.
func WithServerPostValidator(v CustomValidator) ServerOption {
	return func(c *serverConfig) { c.post = append(c.post, v) }
}

// WithModifier registers a token modifier.
func WithModifier(m TokenModifier) ServerOption {
	return func(c *serverConfig) { c.modifiers = append(c.modifiers, m) }
}

// WithLogger sets the structured logger injected into both endpoints.
func WithLogger(logger zerolog.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServerOption {
	return func(c *serverConfig) { c.now = now }
}

// NewServer composes a device authorization server from a request validator,
// a token issuer, and the verification URI shown to users. The user code
// generator is required; deployers without a custom one pass the default from
// the usercode package.
func NewServer(validator RequestValidator, tokens TokenHandler, verificationURI string, userCode CodeGenerator, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		interval: DefaultPollInterval,
		lifetime: DefaultCodeLifetime,
		userCode: userCode,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	grantOpts := []GrantOption{
		WithRefreshTokens(cfg.refreshTokens),
		WithGrantLogger(cfg.logger),
		withGrantClock(cfg.now),
	}
	for _, v := range cfg.pre {
		grantOpts = append(grantOpts, WithPreValidator(v))
	}
	for _, v := range cfg.post {
		grantOpts = append(grantOpts, WithPostValidator(v))
	}
	for _, m := range cfg.modifiers {
		grantOpts = append(grantOpts, WithTokenModifier(m))
	}

	return &Server{
		authorization: NewAuthorizationEndpoint(validator, verificationURI, cfg.userCode,
			WithCodeLifetime(cfg.lifetime),
			WithPollInterval(cfg.interval),
			WithAuthorizationLogger(cfg.logger),
			withAuthorizationClock(cfg.now),
		),
		grant:     NewGrant(validator, grantOpts...),
		tokens:    tokens,
		validator: validator,
		now:       cfg.now,
	}
}

// Authorize issues a device_code/user_code pair for the requesting client.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (*DeviceAuthorization, error) {
	return s.authorization.IssueDeviceAuthorization(ctx, req)
}

// Token handles a device access token poll against the composed bearer
// issuer.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (Response, error) {
	return s.grant.CreateTokenResponse(ctx, req, s.tokens)
}

// Grant exposes the underlying grant for deployments that route the token
// endpoint separately or supply a per-call token handler.
func (s *Server) Grant() *Grant { return s.grant }

// Approve transitions a pending record, looked up by user code, to approved
// on behalf of subject. It stands in for the out-of-band verification flow.
func (s *Server) Approve(ctx context.Context, userCode, subject string) (*DeviceCodeRecord, error) {
	return s.decide(ctx, userCode, StateApproved, subject)
}

// Deny transitions a pending record to denied.
func (s *Server) Deny(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	return s.decide(ctx, userCode, StateDenied, "")
}

func (s *Server) decide(ctx context.Context, userCode string, state ApprovalState, subject string) (*DeviceCodeRecord, error) {
	record, err := s.validator.LookupUserCode(ctx, userCode)
	if err != nil {
		return nil, fmt.Errorf("looking up user code: %w", err)
	}
	if record == nil {
		return nil, NewInvalidRequest("The user_code is not recognized.")
	}
	if record.Expired(s.now()) {
		return nil, NewExpiredToken()
	}
	if record.State != StatePending {
		return nil, NewInvalidRequest("The user_code has already been used.")
	}

	updated, err := s.validator.SetApproval(ctx, userCode, state, subject)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, fmt.Errorf("updating approval state: %w", err)
	}
	return updated, nil
}
