// Package redisstore implements persistence.Adapter over
// github.com/go-redis/redis/v8 for durable rule/timer/versioning storage
// across process restarts (spec §6 "Storage adapter contract").
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ruleforge/engine/persistence"
)

// Store adapts a redis.Client to persistence.Adapter. Records are stored
// as JSON-encoded strings under keyPrefix+key so one Redis instance can be
// shared across multiple engine deployments without key collisions.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New wraps an already-configured redis client. keyPrefix is prepended to
// every key this store touches; pass "" for none.
func New(client *redis.Client, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) fullKey(key string) string {
	return s.keyPrefix + key
}

// Save implements persistence.Adapter.
func (s *Store) Save(ctx context.Context, key string, record persistence.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redisstore: encoding %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.fullKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: saving %s: %w", key, err)
	}
	return nil
}

// Load implements persistence.Adapter, returning (nil, nil) when key is
// absent.
func (s *Store) Load(ctx context.Context, key string) (*persistence.Record, error) {
	data, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: loading %s: %w", key, err)
	}
	var record persistence.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("redisstore: decoding %s: %w", key, err)
	}
	return &record, nil
}

// ListKeys implements persistence.Adapter via SCAN, matching prefix+"*" and
// stripping this store's own keyPrefix back off each result.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	match := s.fullKey(prefix) + "*"
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: scanning %q: %w", match, err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(s.keyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Delete implements persistence.Adapter. Deleting an absent key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: deleting %s: %w", key, err)
	}
	return nil
}
