package registry

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/store"
)

// Validator is the reference devicegrant.RequestValidator: client decisions
// against the registry, record and token persistence against a Store.
type Validator struct {
	registry *Registry
	store    store.Store
	logger   zerolog.Logger
}

// NewValidator builds a validator over a client registry and a store.
func NewValidator(registry *Registry, st store.Store, logger zerolog.Logger) *Validator {
	return &Validator{registry: registry, store: st, logger: logger}
}

// AuthenticateClient checks the token request's client credentials and binds
// the client id on success. Public clients authenticate by id alone;
// confidential clients must present their secret.
func (v *Validator) AuthenticateClient(_ context.Context, req *devicegrant.TokenRequest) bool {
	client, ok := v.registry.Client(req.ClientID)
	if !ok {
		return false
	}
	if !client.Public && !secretsEqual(client.Secret, req.ClientSecret) {
		v.logger.Debug().Str("client_id", req.ClientID).Msg("client secret mismatch")
		return false
	}
	req.BoundClientID = client.ID
	return true
}

// ClientAuthenticationRequired reports true for confidential clients.
func (v *Validator) ClientAuthenticationRequired(_ context.Context, req *devicegrant.TokenRequest) bool {
	client, ok := v.registry.Client(req.ClientID)
	return ok && !client.Public
}

func (v *Validator) ValidateGrantType(_ context.Context, req *devicegrant.TokenRequest) error {
	client, ok := v.registry.Client(req.EffectiveClientID())
	if !ok || !client.AllowsGrantType(devicegrant.GrantTypeURN) {
		return devicegrant.NewUnauthorizedClient()
	}
	return nil
}

// ValidateScopes checks the requested scope against the client's allowed set,
// defaulting an empty request to the full allowed set.
func (v *Validator) ValidateScopes(_ context.Context, req *devicegrant.TokenRequest) error {
	client, ok := v.registry.Client(req.EffectiveClientID())
	if !ok {
		return devicegrant.NewInvalidScope("Unknown client.")
	}
	if len(req.Scope) == 0 {
		req.Scope = client.Scopes
		return nil
	}
	if !client.AllowsScope(req.Scope) {
		return devicegrant.NewInvalidScope("The requested scope exceeds the client's allowed scopes.")
	}
	return nil
}

// ValidateClient vets the client presented to the device authorization
// endpoint.
func (v *Validator) ValidateClient(_ context.Context, req *devicegrant.AuthorizationRequest) bool {
	client, ok := v.registry.Client(req.ClientID)
	if !ok {
		return false
	}
	if !client.Public && !secretsEqual(client.Secret, req.ClientSecret) {
		return false
	}
	return true
}

func (v *Validator) ValidateAuthorizationScopes(_ context.Context, req *devicegrant.AuthorizationRequest) error {
	client, ok := v.registry.Client(req.ClientID)
	if !ok {
		return devicegrant.NewInvalidScope("Unknown client.")
	}
	if len(req.Scope) == 0 {
		req.Scope = client.Scopes
		return nil
	}
	if !client.AllowsScope(req.Scope) {
		return devicegrant.NewInvalidScope("The requested scope exceeds the client's allowed scopes.")
	}
	return nil
}

func (v *Validator) SaveToken(ctx context.Context, token *devicegrant.Token, req *devicegrant.TokenRequest) error {
	return v.store.SaveToken(ctx, req.DeviceCode, token)
}

func (v *Validator) StoreDeviceCode(ctx context.Context, record *devicegrant.DeviceCodeRecord) error {
	err := v.store.SaveDeviceCode(ctx, record)
	if errors.Is(err, store.ErrUserCodeExists) {
		return devicegrant.ErrUserCodeTaken
	}
	return err
}

func (v *Validator) LookupDeviceCode(ctx context.Context, deviceCode string) (*devicegrant.DeviceCodeRecord, error) {
	return v.store.DeviceCode(ctx, deviceCode)
}

func (v *Validator) LookupUserCode(ctx context.Context, userCode string) (*devicegrant.DeviceCodeRecord, error) {
	return v.store.DeviceCodeByUserCode(ctx, userCode)
}

func (v *Validator) RecordPoll(ctx context.Context, deviceCode string, at time.Time) error {
	err := v.store.RecordPoll(ctx, deviceCode, at)
	if errors.Is(err, store.ErrNotFound) {
		// The record expired between lookup and poll stamp; the next lookup
		// reports it.
		return nil
	}
	return err
}

func (v *Validator) SetApproval(ctx context.Context, userCode string, state devicegrant.ApprovalState, subject string) (*devicegrant.DeviceCodeRecord, error) {
	record, err := v.store.SetApproval(ctx, userCode, state, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, devicegrant.NewInvalidRequest("The user_code is not recognized.")
	}
	if errors.Is(err, store.ErrConflict) {
		return nil, devicegrant.NewInvalidRequest("The user_code has already been used.")
	}
	return record, err
}

func (v *Validator) ConsumeDeviceCode(ctx context.Context, deviceCode string) (bool, error) {
	ok, err := v.store.CompareAndSwapState(ctx, deviceCode, devicegrant.StateApproved, devicegrant.StateConsumed)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func secretsEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
