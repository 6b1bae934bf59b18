// Package store provides persistence for device code records and issued
// tokens. Implementations must serialize concurrent state transitions on the
// same record: CompareAndSwapState is the primitive the grant relies on for
// exactly-once token issuance.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

var (
	// ErrNotFound is returned for mutations against unknown codes. Plain
	// lookups return (nil, nil) instead.
	ErrNotFound = errors.New("store: device code not found")

	// ErrConflict is returned when a transition finds the record in an
	// unexpected state.
	ErrConflict = errors.New("store: approval state conflict")

	// ErrUserCodeExists is returned by SaveDeviceCode when the record's user
	// code is already indexed for a live record.
	ErrUserCodeExists = errors.New("store: user code already exists")
)

// Store is the persistence contract behind the reference RequestValidator.
type Store interface {
	// SaveDeviceCode persists a record, indexed by device code and by
	// normalized user code, expiring at the record's ExpiresAt.
	// ErrUserCodeExists when the user code is already taken by a live record.
	SaveDeviceCode(ctx context.Context, record *devicegrant.DeviceCodeRecord) error

	// DeviceCode fetches a record by device code; unknown codes return
	// (nil, nil).
	DeviceCode(ctx context.Context, deviceCode string) (*devicegrant.DeviceCodeRecord, error)

	// DeviceCodeByUserCode fetches a record by normalized user code; unknown
	// codes return (nil, nil).
	DeviceCodeByUserCode(ctx context.Context, userCode string) (*devicegrant.DeviceCodeRecord, error)

	// RecordPoll stamps the record's last poll time.
	RecordPoll(ctx context.Context, deviceCode string, at time.Time) error

	// SetApproval transitions a pending record, looked up by normalized user
	// code, to approved or denied. ErrConflict when not pending.
	SetApproval(ctx context.Context, userCode string, state devicegrant.ApprovalState, subject string) (*devicegrant.DeviceCodeRecord, error)

	// CompareAndSwapState atomically moves a record from one state to
	// another, reporting whether the swap happened.
	CompareAndSwapState(ctx context.Context, deviceCode string, from, to devicegrant.ApprovalState) (bool, error)

	// SaveToken stores the token issued for a device code.
	SaveToken(ctx context.Context, deviceCode string, token *devicegrant.Token) error

	// Token fetches the token issued for a device code; (nil, nil) when none.
	Token(ctx context.Context, deviceCode string) (*devicegrant.Token, error)

	// DeleteDeviceCode removes a record, its user code index, and any token.
	DeleteDeviceCode(ctx context.Context, deviceCode string) error

	// CheckHealth verifies the backend is reachable.
	CheckHealth(ctx context.Context) error
}
