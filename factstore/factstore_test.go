package factstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := New(nil)
	now := time.Unix(1000, 0)

	next, _, existed := s.Set("customer:123:age", 30, "action", now)
	assert.False(t, existed)
	assert.Equal(t, 30, next.Value)

	got, ok := s.Get("customer:123:age")
	require.True(t, ok)
	assert.Equal(t, "action", got.Source)
}

func TestSetReturnsPrevious(t *testing.T) {
	s := New(nil)
	now := time.Unix(1000, 0)
	s.Set("k", 1, "a", now)
	_, prev, existed := s.Set("k", 2, "b", now.Add(time.Second))
	assert.True(t, existed)
	assert.Equal(t, 1, prev.Value)
}

func TestDelete(t *testing.T) {
	s := New(nil)
	now := time.Now()
	s.Set("k", 1, "a", now)
	removed, ok := s.Delete("k")
	assert.True(t, ok)
	assert.Equal(t, 1, removed.Value)

	_, ok = s.Get("k")
	assert.False(t, ok)

	_, ok = s.Delete("k")
	assert.False(t, ok)
}

func TestQuery_LiteralAndWildcard(t *testing.T) {
	s := New(nil)
	now := time.Now()
	s.Set("customer:1:status", "active", "a", now)
	s.Set("customer:2:status", "inactive", "a", now)
	s.Set("customer:1:age", 30, "a", now)

	lit := s.Query("customer:1:status")
	require.Len(t, lit, 1)
	assert.Equal(t, "active", lit[0].Value)

	wild := s.Query("customer:*:status")
	require.Len(t, wild, 2)
	assert.Equal(t, "customer:1:status", wild[0].Key)
	assert.Equal(t, "customer:2:status", wild[1].Key)
}

func TestAll_SortedByKey(t *testing.T) {
	s := New(nil)
	now := time.Now()
	s.Set("b", 1, "a", now)
	s.Set("a", 1, "a", now)
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "b", all[1].Key)
}

func TestLen(t *testing.T) {
	s := New(nil)
	assert.Equal(t, 0, s.Len())
	s.Set("a", 1, "src", time.Now())
	assert.Equal(t, 1, s.Len())
}
