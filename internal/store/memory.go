package store

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/usercode"
)

// MemoryStore is a single-process Store backed by ttlcache. Entries expire
// with their device code, so abandoned flows clean themselves up. A mutex
// serializes state transitions; ttlcache's own locking is not enough for the
// read-modify-write in CompareAndSwapState.
type MemoryStore struct {
	mu      sync.Mutex
	records *ttlcache.Cache[string, *devicegrant.DeviceCodeRecord]
	users   *ttlcache.Cache[string, string]
	tokens  *ttlcache.Cache[string, *devicegrant.Token]
}

// NewMemoryStore creates an in-memory store with background expiry.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, *devicegrant.DeviceCodeRecord]()),
		users:   ttlcache.New(ttlcache.WithDisableTouchOnHit[string, string]()),
		tokens:  ttlcache.New(ttlcache.WithDisableTouchOnHit[string, *devicegrant.Token]()),
	}
	go s.records.Start()
	go s.users.Start()
	go s.tokens.Start()
	return s
}

// Stop halts the background expiry goroutines.
func (s *MemoryStore) Stop() {
	s.records.Stop()
	s.users.Stop()
	s.tokens.Stop()
}

func (s *MemoryStore) SaveDeviceCode(_ context.Context, record *devicegrant.DeviceCodeRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userKey := usercode.Normalize(record.UserCode)
	if item := s.users.Get(userKey); item != nil && s.live(item.Value()) != nil {
		return ErrUserCodeExists
	}
	clone := *record
	s.records.Set(record.DeviceCode, &clone, ttl)
	s.users.Set(userKey, record.DeviceCode, ttl)
	return nil
}

func (s *MemoryStore) DeviceCode(_ context.Context, deviceCode string) (*devicegrant.DeviceCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(deviceCode), nil
}

func (s *MemoryStore) DeviceCodeByUserCode(_ context.Context, userCode string) (*devicegrant.DeviceCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.users.Get(usercode.Normalize(userCode))
	if item == nil {
		return nil, nil
	}
	return s.get(item.Value()), nil
}

func (s *MemoryStore) RecordPoll(_ context.Context, deviceCode string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.live(deviceCode)
	if record == nil {
		return ErrNotFound
	}
	record.LastPolledAt = at
	return nil
}

func (s *MemoryStore) SetApproval(_ context.Context, userCode string, state devicegrant.ApprovalState, subject string) (*devicegrant.DeviceCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.users.Get(usercode.Normalize(userCode))
	if item == nil {
		return nil, ErrNotFound
	}
	record := s.live(item.Value())
	if record == nil {
		return nil, ErrNotFound
	}
	if record.State != devicegrant.StatePending {
		return nil, ErrConflict
	}
	record.State = state
	record.Subject = subject
	clone := *record
	return &clone, nil
}

func (s *MemoryStore) CompareAndSwapState(_ context.Context, deviceCode string, from, to devicegrant.ApprovalState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.live(deviceCode)
	if record == nil {
		return false, ErrNotFound
	}
	if record.State != from {
		return false, nil
	}
	record.State = to
	return true, nil
}

func (s *MemoryStore) SaveToken(_ context.Context, deviceCode string, token *devicegrant.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.live(deviceCode)
	if record == nil {
		return ErrNotFound
	}
	clone := *token
	s.tokens.Set(deviceCode, &clone, time.Until(record.ExpiresAt))
	return nil
}

func (s *MemoryStore) Token(_ context.Context, deviceCode string) (*devicegrant.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.tokens.Get(deviceCode)
	if item == nil {
		return nil, nil
	}
	clone := *item.Value()
	return &clone, nil
}

func (s *MemoryStore) DeleteDeviceCode(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item := s.records.Get(deviceCode); item != nil {
		s.users.Delete(usercode.Normalize(item.Value().UserCode))
	}
	s.records.Delete(deviceCode)
	s.tokens.Delete(deviceCode)
	return nil
}

func (s *MemoryStore) CheckHealth(context.Context) error { return nil }

// get returns a copy of the record so callers cannot mutate cached state.
func (s *MemoryStore) get(deviceCode string) *devicegrant.DeviceCodeRecord {
	record := s.live(deviceCode)
	if record == nil {
		return nil
	}
	clone := *record
	return &clone
}

// live returns the cached record itself; callers hold s.mu.
func (s *MemoryStore) live(deviceCode string) *devicegrant.DeviceCodeRecord {
	item := s.records.Get(deviceCode)
	if item == nil {
		return nil
	}
	return item.Value()
}
