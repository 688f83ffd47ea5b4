package timermanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleforge/engine/domain"
)

type firedCall struct {
	name string
	t    domain.Timer
}

func collector() (OnExpire, func() []firedCall) {
	var mu sync.Mutex
	var calls []firedCall
	return func(_ context.Context, t domain.Timer) {
			mu.Lock()
			calls = append(calls, firedCall{name: t.Name, t: t})
			mu.Unlock()
		}, func() []firedCall {
			mu.Lock()
			defer mu.Unlock()
			out := make([]firedCall, len(calls))
			copy(out, calls)
			return out
		}
}

func TestSet_FiresOnceForOneShot(t *testing.T) {
	onFire, calls := collector()
	m := New(onFire, nil)

	m.Set(context.Background(), "t1", time.Now().Add(20*time.Millisecond), domain.TimerExpire{Topic: "x"}, nil, "")

	time.Sleep(100 * time.Millisecond)
	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].name)

	_, ok := m.Get("t1")
	assert.False(t, ok, "one-shot timer should be removed after firing")
}

func TestSet_CancelsPriorTimerWithSameName(t *testing.T) {
	onFire, calls := collector()
	m := New(onFire, nil)

	m.Set(context.Background(), "t1", time.Now().Add(20*time.Millisecond), domain.TimerExpire{Topic: "first"}, nil, "")
	m.Set(context.Background(), "t1", time.Now().Add(40*time.Millisecond), domain.TimerExpire{Topic: "second"}, nil, "")

	time.Sleep(100 * time.Millisecond)
	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].t.OnExpire.Topic)
}

func TestCancel_IdempotentAndReportsExistence(t *testing.T) {
	m := New(nil, nil)
	m.Set(context.Background(), "t1", time.Now().Add(time.Hour), domain.TimerExpire{}, nil, "")

	assert.True(t, m.Cancel(context.Background(), "t1"))
	assert.False(t, m.Cancel(context.Background(), "t1"))
}

func TestRepeatingTimer_HonorsMaxCount(t *testing.T) {
	onFire, calls := collector()
	m := New(onFire, nil)

	m.Set(context.Background(), "t1", time.Now().Add(10*time.Millisecond), domain.TimerExpire{Topic: "tick"},
		&domain.TimerRepeat{Interval: 15 * time.Millisecond, MaxCount: 2}, "")

	time.Sleep(200 * time.Millisecond)
	got := calls()
	assert.Len(t, got, 2)

	_, ok := m.Get("t1")
	assert.False(t, ok, "exhausted repeating timer should be removed")
}

func TestStop_ClearsAllTimers(t *testing.T) {
	onFire, calls := collector()
	m := New(onFire, nil)
	m.Set(context.Background(), "t1", time.Now().Add(10*time.Millisecond), domain.TimerExpire{}, nil, "")

	m.Stop()
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, calls())
	assert.Empty(t, m.All())
}

type memAdapter struct {
	mu     sync.Mutex
	saved  map[string]domain.Timer
}

func newMemAdapter() *memAdapter { return &memAdapter{saved: make(map[string]domain.Timer)} }

func (a *memAdapter) Save(_ context.Context, t domain.Timer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[t.Name] = t
	return nil
}

func (a *memAdapter) Delete(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.saved, name)
	return nil
}

func (a *memAdapter) LoadAll(_ context.Context) ([]domain.Timer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Timer, 0, len(a.saved))
	for _, t := range a.saved {
		out = append(out, t)
	}
	return out, nil
}

func TestStart_RehydratesPastDueTimerImmediately(t *testing.T) {
	adapter := newMemAdapter()
	past := domain.Timer{ID: "id-1", Name: "overdue", ExpiresAt: time.Now().Add(-time.Minute), OnExpire: domain.TimerExpire{Topic: "late"}}
	adapter.saved["overdue"] = past

	onFire, calls := collector()
	m := New(onFire, adapter)

	require.NoError(t, m.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "overdue", got[0].name)
}
