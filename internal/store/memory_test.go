package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

func newMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(s.Stop)
	return s
}

func record(deviceCode, userCode string) *devicegrant.DeviceCodeRecord {
	now := time.Now()
	return &devicegrant.DeviceCodeRecord{
		ID:         deviceCode + "-id",
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   "tv-app",
		Scope:      "read",
		State:      devicegrant.StatePending,
		Interval:   5,
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))

	got, err := s.DeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "BCDF-GHJK", got.UserCode)

	// Lookup by user code is case-insensitive and separator-insensitive.
	for _, code := range []string{"BCDF-GHJK", "bcdf-ghjk", "BCDFGHJK"} {
		got, err = s.DeviceCodeByUserCode(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, got, "lookup by %q", code)
		assert.Equal(t, "dev-1", got.DeviceCode)
	}
}

func TestMemoryStoreUserCodeCollision(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))

	// A second record claiming the same live user code is rejected.
	err := s.SaveDeviceCode(ctx, record("dev-2", "BCDF-GHJK"))
	assert.ErrorIs(t, err, ErrUserCodeExists)

	got, err := s.DeviceCodeByUserCode(ctx, "BCDF-GHJK")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dev-1", got.DeviceCode, "the original record keeps its user code")

	// Once the original is gone the code is free again.
	require.NoError(t, s.DeleteDeviceCode(ctx, "dev-1"))
	assert.NoError(t, s.SaveDeviceCode(ctx, record("dev-2", "BCDF-GHJK")))
}

func TestMemoryStoreUnknownCodes(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	got, err := s.DeviceCode(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.DeviceCodeByUserCode(ctx, "XXXX-XXXX")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.RecordPoll(ctx, "missing", time.Now()), ErrNotFound)
	_, err = s.SetApproval(ctx, "XXXX-XXXX", devicegrant.StateApproved, "user-42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiredRecordRejected(t *testing.T) {
	s := newMemory(t)
	r := record("dev-1", "BCDF-GHJK")
	r.ExpiresAt = time.Now().Add(-time.Second)

	assert.ErrorIs(t, s.SaveDeviceCode(context.Background(), r), ErrConflict)
}

func TestMemoryStoreApproval(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))

	updated, err := s.SetApproval(ctx, "BCDF-GHJK", devicegrant.StateApproved, "user-42")
	require.NoError(t, err)
	assert.Equal(t, devicegrant.StateApproved, updated.State)
	assert.Equal(t, "user-42", updated.Subject)

	// Second decision hits a non-pending record.
	_, err = s.SetApproval(ctx, "BCDF-GHJK", devicegrant.StateDenied, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))
	_, err := s.SetApproval(ctx, "BCDF-GHJK", devicegrant.StateApproved, "user-42")
	require.NoError(t, err)

	ok, err := s.CompareAndSwapState(ctx, "dev-1", devicegrant.StateApproved, devicegrant.StateConsumed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwapState(ctx, "dev-1", devicegrant.StateApproved, devicegrant.StateConsumed)
	require.NoError(t, err)
	assert.False(t, ok, "swap must fail once consumed")
}

func TestMemoryStoreCompareAndSwapConcurrent(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))
	_, err := s.SetApproval(ctx, "BCDF-GHJK", devicegrant.StateApproved, "user-42")
	require.NoError(t, err)

	const pollers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CompareAndSwapState(ctx, "dev-1", devicegrant.StateApproved, devicegrant.StateConsumed)
			assert.NoError(t, err)
			if ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1, "exactly one concurrent poll may claim the code")
}

func TestMemoryStoreTokens(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))

	got, err := s.Token(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	token := &devicegrant.Token{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 3600}
	require.NoError(t, s.SaveToken(ctx, "dev-1", token))

	got, err = s.Token(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at", got.AccessToken)

	assert.ErrorIs(t, s.SaveToken(ctx, "missing", token), ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))
	require.NoError(t, s.SaveToken(ctx, "dev-1", &devicegrant.Token{AccessToken: "at"}))

	require.NoError(t, s.DeleteDeviceCode(ctx, "dev-1"))

	got, err := s.DeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	byUser, err := s.DeviceCodeByUserCode(ctx, "BCDF-GHJK")
	require.NoError(t, err)
	assert.Nil(t, byUser)
	token, err := s.Token(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDeviceCode(ctx, record("dev-1", "BCDF-GHJK")))

	first, err := s.DeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	first.State = devicegrant.StateConsumed

	second, err := s.DeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, devicegrant.StatePending, second.State, "callers must not mutate cached state")
}
