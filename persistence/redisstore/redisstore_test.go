//go:build integration
// +build integration

package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleforge/engine/persistence"
)

// These tests exercise Store against a live Redis instance and only run
// under `go test -tags=integration`; set REDIS_ADDR to point at it
// (defaults to localhost:6379).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return New(client, "ruleforge-test:")
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	rec := persistence.Record{
		State: []byte(`{"id":"r1"}`),
		Metadata: persistence.Metadata{
			PersistedAt:   time.Now(),
			ServerID:      "s1",
			SchemaVersion: 1,
		},
	}

	require.NoError(t, s.Save(context.Background(), "rules:r1", rec))
	defer s.Delete(context.Background(), "rules:r1")

	got, err := s.Load(context.Background(), "rules:r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, "s1", got.Metadata.ServerID)
}

func TestStore_LoadMissingKeyReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background(), "missing-key")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ListKeysFiltersByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "rules:r1", persistence.Record{}))
	require.NoError(t, s.Save(ctx, "rules:r2", persistence.Record{}))
	require.NoError(t, s.Save(ctx, "timers:t1", persistence.Record{}))
	defer s.Delete(ctx, "rules:r1")
	defer s.Delete(ctx, "rules:r2")
	defer s.Delete(ctx, "timers:t1")

	keys, err := s.ListKeys(ctx, "rules:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rules:r1", "rules:r2"}, keys)
}

func TestStore_DeleteRemovesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "k", persistence.Record{}))
	require.NoError(t, s.Delete(ctx, "k"))

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
