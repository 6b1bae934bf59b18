package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/usercode"
)

const (
	devicePrefix = "device:"
	userPrefix   = "user:"
	tokenPrefix  = "token:"
)

// RedisStore implements Store on Redis. Records carry a TTL matching their
// expiry, and state transitions run inside WATCH transactions so concurrent
// polls against the same device code serialize on the server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveDeviceCode(ctx context.Context, record *devicegrant.DeviceCodeRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return ErrConflict
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling device code: %w", err)
	}

	// SetNX claims the user code index; an existing live entry means the
	// generated code collided and the caller must regenerate.
	claimed, err := s.client.SetNX(ctx, userPrefix+usercode.Normalize(record.UserCode), record.DeviceCode, ttl).Result()
	if err != nil {
		return fmt.Errorf("claiming user code: %w", err)
	}
	if !claimed {
		return ErrUserCodeExists
	}

	if err := s.client.Set(ctx, devicePrefix+record.DeviceCode, data, ttl).Err(); err != nil {
		return fmt.Errorf("saving device code: %w", err)
	}
	return nil
}

func (s *RedisStore) DeviceCode(ctx context.Context, deviceCode string) (*devicegrant.DeviceCodeRecord, error) {
	data, err := s.client.Get(ctx, devicePrefix+deviceCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting device code: %w", err)
	}

	var record devicegrant.DeviceCodeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling device code: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) DeviceCodeByUserCode(ctx context.Context, userCode string) (*devicegrant.DeviceCodeRecord, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+usercode.Normalize(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user code index: %w", err)
	}
	return s.DeviceCode(ctx, deviceCode)
}

func (s *RedisStore) RecordPoll(ctx context.Context, deviceCode string, at time.Time) error {
	return s.update(ctx, deviceCode, func(record *devicegrant.DeviceCodeRecord) error {
		record.LastPolledAt = at
		return nil
	})
}

func (s *RedisStore) SetApproval(ctx context.Context, userCode string, state devicegrant.ApprovalState, subject string) (*devicegrant.DeviceCodeRecord, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+usercode.Normalize(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user code index: %w", err)
	}

	var updated *devicegrant.DeviceCodeRecord
	err = s.update(ctx, deviceCode, func(record *devicegrant.DeviceCodeRecord) error {
		if record.State != devicegrant.StatePending {
			return ErrConflict
		}
		record.State = state
		record.Subject = subject
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) CompareAndSwapState(ctx context.Context, deviceCode string, from, to devicegrant.ApprovalState) (bool, error) {
	swapped := false
	err := s.update(ctx, deviceCode, func(record *devicegrant.DeviceCodeRecord) error {
		if record.State != from {
			return nil
		}
		record.State = to
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *RedisStore) SaveToken(ctx context.Context, deviceCode string, token *devicegrant.Token) error {
	record, err := s.DeviceCode(ctx, deviceCode)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotFound
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return ErrConflict
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	if err := s.client.Set(ctx, tokenPrefix+deviceCode, data, ttl).Err(); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

func (s *RedisStore) Token(ctx context.Context, deviceCode string) (*devicegrant.Token, error) {
	data, err := s.client.Get(ctx, tokenPrefix+deviceCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting token: %w", err)
	}

	var token devicegrant.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshaling token: %w", err)
	}
	return &token, nil
}

func (s *RedisStore) DeleteDeviceCode(ctx context.Context, deviceCode string) error {
	record, err := s.DeviceCode(ctx, deviceCode)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, devicePrefix+deviceCode)
	pipe.Del(ctx, userPrefix+usercode.Normalize(record.UserCode))
	pipe.Del(ctx, tokenPrefix+deviceCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting device code: %w", err)
	}
	return nil
}

// update applies fn to a record inside a WATCH transaction, retrying on
// contention so read-modify-write transitions stay atomic.
func (s *RedisStore) update(ctx context.Context, deviceCode string, fn func(*devicegrant.DeviceCodeRecord) error) error {
	key := devicePrefix + deviceCode

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("getting device code: %w", err)
		}

		var record devicegrant.DeviceCodeRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("unmarshaling device code: %w", err)
		}
		if err := fn(&record); err != nil {
			return err
		}

		updated, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling device code: %w", err)
		}
		ttl := time.Until(record.ExpiresAt)
		if ttl <= 0 {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("updating device code %s: too much contention", deviceCode)
}
