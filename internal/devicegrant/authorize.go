package devicegrant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUserCodeTaken is returned by RequestValidator.StoreDeviceCode when the
// generated user code collides with a live record. Issuance retries with a
// fresh code so user codes stay unique across concurrently live records.
var ErrUserCodeTaken = errors.New("user code already in use")

const (
	// DeviceCodeBytes is the entropy of the opaque device code. The code is
	// hex encoded, so the wire form is twice this length.
	DeviceCodeBytes = 32

	// DefaultCodeLifetime is the device/user code validity window.
	DefaultCodeLifetime = 30 * time.Minute

	// DefaultPollInterval is the minimum seconds between polls, the RFC 8628
	// recommended floor.
	DefaultPollInterval = 5 * time.Second

	// userCodeAttempts bounds the retries when a generated user code collides
	// with a live record.
	userCodeAttempts = 5
)

// AuthorizationEndpoint issues device_code/user_code pairs and polling
// metadata per RFC 8628 section 3.2. Lifetime, interval, and verification URI
// are construction-time configuration, never derived from the request.
type AuthorizationEndpoint struct {
	validator       RequestValidator
	verificationURI string
	lifetime        time.Duration
	interval        time.Duration
	userCode        CodeGenerator

	logger zerolog.Logger
	now    func() time.Time
}

// AuthorizationOption configures an AuthorizationEndpoint.
type AuthorizationOption func(*AuthorizationEndpoint)

// WithCodeLifetime sets the device/user code validity window.
func WithCodeLifetime(d time.Duration) AuthorizationOption {
	return func(e *AuthorizationEndpoint) { e.lifetime = d }
}

// WithPollInterval sets the minimum interval between token polls. Values
// below the RFC 8628 recommended floor are raised to it.
func WithPollInterval(d time.Duration) AuthorizationOption {
	return func(e *AuthorizationEndpoint) { e.interval = d }
}

// WithUserCodeGenerator overrides the user code generator.
func WithUserCodeGenerator(gen CodeGenerator) AuthorizationOption {
	return func(e *AuthorizationEndpoint) { e.userCode = gen }
}

// WithAuthorizationLogger sets the structured logger the endpoint reports
// through.
func WithAuthorizationLogger(logger zerolog.Logger) AuthorizationOption {
	return func(e *AuthorizationEndpoint) { e.logger = logger }
}

func withAuthorizationClock(now func() time.Time) AuthorizationOption {
	return func(e *AuthorizationEndpoint) { e.now = now }
}

// NewAuthorizationEndpoint creates a device authorization endpoint. The user
// code generator must be supplied (the composed server wires the default).
func NewAuthorizationEndpoint(validator RequestValidator, verificationURI string, userCode CodeGenerator, opts ...AuthorizationOption) *AuthorizationEndpoint {
	e := &AuthorizationEndpoint{
		validator:       validator,
		verificationURI: verificationURI,
		lifetime:        DefaultCodeLifetime,
		interval:        DefaultPollInterval,
		userCode:        userCode,
		logger:          zerolog.Nop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.interval < DefaultPollInterval {
		e.interval = DefaultPollInterval
	}
	return e
}

// IssueDeviceAuthorization handles a device authorization request: validates
// the client and scope, generates the code pair, persists a pending record
// via the request validator, and returns the RFC-mandated response fields.
// Failures return a protocol *Error for the transport to serialize.
func (e *AuthorizationEndpoint) IssueDeviceAuthorization(ctx context.Context, req *AuthorizationRequest) (*DeviceAuthorization, error) {
	if dups := req.DuplicateParams(); len(dups) > 0 {
		return nil, NewDuplicateParameter(dups[0])
	}
	if req.ClientID == "" {
		return nil, NewInvalidRequest("Request is missing client id.")
	}
	if !e.validator.ValidateClient(ctx, req) {
		return nil, NewInvalidClient("Client validation failed.")
	}
	if err := e.validator.ValidateAuthorizationScopes(ctx, req); err != nil {
		return nil, err
	}

	deviceCode, err := generateDeviceCode()
	if err != nil {
		return nil, fmt.Errorf("generating device code: %w", err)
	}

	// A generated user code can collide with one that is still live; regenerate
	// until the store accepts it.
	now := e.now()
	for attempt := 0; attempt < userCodeAttempts; attempt++ {
		userCode, err := e.userCode()
		if err != nil {
			return nil, fmt.Errorf("generating user code: %w", err)
		}
		verificationURI, verificationURIComplete := e.buildVerificationURIs(userCode)

		record := &DeviceCodeRecord{
			ID:                      uuid.NewString(),
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			ClientID:                req.ClientID,
			Scope:                   JoinScope(req.Scope),
			VerificationURI:         verificationURI,
			VerificationURIComplete: verificationURIComplete,
			State:                   StatePending,
			Interval:                int(e.interval.Seconds()),
			CreatedAt:               now,
			ExpiresAt:               now.Add(e.lifetime),
		}
		err = e.validator.StoreDeviceCode(ctx, record)
		if errors.Is(err, ErrUserCodeTaken) {
			e.logger.Debug().Str("user_code", userCode).Msg("user code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storing device code: %w", err)
		}

		e.logger.Info().
			Str("client_id", req.ClientID).
			Str("user_code", userCode).
			Time("expires_at", record.ExpiresAt).
			Msg("device authorization issued")

		return &DeviceAuthorization{
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			VerificationURI:         verificationURI,
			VerificationURIComplete: verificationURIComplete,
			ExpiresIn:               int(e.lifetime.Seconds()),
			Interval:                record.Interval,
		}, nil
	}
	return nil, fmt.Errorf("storing device code: %w", ErrUserCodeTaken)
}

// buildVerificationURIs returns the verification_uri and, when the base URI
// parses, the verification_uri_complete carrying the user code per RFC 8628
// section 3.3.1.
func (e *AuthorizationEndpoint) buildVerificationURIs(userCode string) (string, string) {
	base, err := url.Parse(e.verificationURI)
	if err != nil {
		return e.verificationURI, ""
	}
	complete := *base
	q := complete.Query()
	q.Set("user_code", userCode)
	complete.RawQuery = q.Encode()
	return e.verificationURI, complete.String()
}

func generateDeviceCode() (string, error) {
	buf := make([]byte, DeviceCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
