package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps circuit state in Redis so that multiple instances
// sharing the same providers also share breaker decisions.
//
// Updates use optimistic locking (WATCH/MULTI) and retry on contention,
// preserving the read-check/then-write contract of Store.Update.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// updateRetries bounds optimistic-lock retries before giving up.
const updateRetries = 8

// NewRedisStore creates a store over an existing Redis client.
// Keys are written as "<prefix><provider>"; prefix defaults to "capsulegen:breaker:".
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "capsulegen:breaker:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) key(provider string) string {
	return r.keyPrefix + provider
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, provider string) (Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{State: StateClosed}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("breaker state get: %w", err)
	}
	return decodeSnapshot(data)
}

// Update implements Store.
func (r *RedisStore) Update(ctx context.Context, provider string, fn func(*Snapshot)) (Snapshot, error) {
	key := r.key(provider)
	var result Snapshot

	txn := func(tx *redis.Tx) error {
		snap := Snapshot{State: StateClosed}
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if snap, err = decodeSnapshot(data); err != nil {
				return err
			}
		}

		fn(&snap)
		result = snap

		encoded, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // contended, retry
		}
		return Snapshot{}, fmt.Errorf("breaker state update: %w", err)
	}
	return Snapshot{}, fmt.Errorf("breaker state update: contention on %s", key)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("breaker state decode: %w", err)
	}
	if snap.State == "" {
		snap.State = StateClosed
	}
	return snap, nil
}
