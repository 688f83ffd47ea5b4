// Package timermanager schedules, cancels, and fires the engine's named
// one-shot and repeating timers (spec §3 "Timer", §4.6 "Timer Manager").
package timermanager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruleforge/engine/domain"
)

// OnExpire is invoked synchronously when a timer fires: from the timer's own
// goroutine, or from Start's caller for a past-due rehydrated timer. expired
// is a snapshot of the timer at fire time (RunCount already
// incremented). Implementations must not block for long.
type OnExpire func(ctx context.Context, expired domain.Timer)

// Adapter is the optional durable-persistence seam: writes on create/
// cancel/fire, and a full load on Start for rehydration.
type Adapter interface {
	Save(ctx context.Context, t domain.Timer) error
	Delete(ctx context.Context, name string) error
	LoadAll(ctx context.Context) ([]domain.Timer, error)
}

type entry struct {
	timer  domain.Timer
	handle *time.Timer
}

// Manager owns the name-keyed timer map and their scheduled handles.
type Manager struct {
	mu      sync.Mutex
	timers  map[string]*entry
	onFire  OnExpire
	adapter Adapter
	running bool
}

// New creates a Manager. onFire is called whenever any timer fires.
// adapter may be nil to run without durable persistence.
func New(onFire OnExpire, adapter Adapter) *Manager {
	return &Manager{
		timers:  make(map[string]*entry),
		onFire:  onFire,
		adapter: adapter,
	}
}

// Start marks the manager running and, if an adapter is attached,
// rehydrates timers: those still in the future are rescheduled as-is;
// those already past-due fire immediately, in ascending ExpiresAt order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	adapter := m.adapter
	m.mu.Unlock()

	if adapter == nil {
		return nil
	}

	saved, err := adapter.LoadAll(ctx)
	if err != nil {
		return err
	}
	sortByExpiresAt(saved)

	now := time.Now()
	for _, t := range saved {
		t := t
		m.mu.Lock()
		m.timers[t.Name] = &entry{timer: t}
		m.mu.Unlock()

		if t.ExpiresAt.After(now) {
			m.scheduleLocked(ctx, t.Name, t.ExpiresAt.Sub(now))
		} else {
			m.fire(ctx, t.Name)
		}
	}
	return nil
}

func sortByExpiresAt(timers []domain.Timer) {
	sort.Slice(timers, func(i, j int) bool { return timers[i].ExpiresAt.Before(timers[j].ExpiresAt) })
}

// Set creates or replaces the named timer, canceling any prior timer of the
// same name atomically, and returns the new timer.
func (m *Manager) Set(ctx context.Context, name string, expiresAt time.Time, onExpire domain.TimerExpire, repeat *domain.TimerRepeat, correlationID string) domain.Timer {
	t := domain.Timer{
		ID:            uuid.NewString(),
		Name:          name,
		ExpiresAt:     expiresAt,
		OnExpire:      onExpire,
		Repeat:        repeat,
		CorrelationID: correlationID,
	}

	m.mu.Lock()
	if prev, ok := m.timers[name]; ok && prev.handle != nil {
		prev.handle.Stop()
	}
	m.timers[name] = &entry{timer: t}
	m.mu.Unlock()

	if m.adapter != nil {
		_ = m.adapter.Save(ctx, t)
	}

	d := time.Until(expiresAt)
	if d < 0 {
		d = 0
	}
	m.scheduleLocked(ctx, name, d)
	return t
}

// scheduleLocked arms a time.Timer that calls fire after d. Safe to call
// without m.mu held; it takes the lock internally to install the handle.
func (m *Manager) scheduleLocked(ctx context.Context, name string, d time.Duration) {
	handle := time.AfterFunc(d, func() { m.fire(ctx, name) })

	m.mu.Lock()
	if e, ok := m.timers[name]; ok {
		e.handle = handle
	} else {
		handle.Stop()
	}
	m.mu.Unlock()
}

// fire runs the on-expire callback, then reschedules repeating timers
// (honoring maxCount) or deletes one-shot timers.
func (m *Manager) fire(ctx context.Context, name string) {
	m.mu.Lock()
	e, ok := m.timers[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.timer.RunCount++
	fired := e.timer
	m.mu.Unlock()

	if m.onFire != nil {
		m.onFire(ctx, fired)
	}

	m.mu.Lock()
	e, ok = m.timers[name]
	if !ok || e.timer.ID != fired.ID {
		m.mu.Unlock()
		return
	}
	e.timer = fired

	if fired.Repeat != nil && !fired.IsExhausted() {
		next := fired
		next.ExpiresAt = time.Now().Add(fired.Repeat.Interval)
		e.timer = next
		m.mu.Unlock()

		if m.adapter != nil {
			_ = m.adapter.Save(ctx, next)
		}
		m.scheduleLocked(ctx, name, fired.Repeat.Interval)
		return
	}

	delete(m.timers, name)
	m.mu.Unlock()

	if m.adapter != nil {
		_ = m.adapter.Delete(ctx, name)
	}
}

// Cancel removes the named timer if it exists, stopping its handle.
// Idempotent; reports whether a timer existed.
func (m *Manager) Cancel(ctx context.Context, name string) bool {
	m.mu.Lock()
	e, ok := m.timers[name]
	if ok {
		if e.handle != nil {
			e.handle.Stop()
		}
		delete(m.timers, name)
	}
	m.mu.Unlock()

	if ok && m.adapter != nil {
		_ = m.adapter.Delete(ctx, name)
	}
	return ok
}

// Get returns the named timer's current state, if it exists.
func (m *Manager) Get(name string) (domain.Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[name]
	if !ok {
		return domain.Timer{}, false
	}
	return e.timer, true
}

// All returns every currently scheduled timer.
func (m *Manager) All() []domain.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Timer, 0, len(m.timers))
	for _, e := range m.timers {
		out = append(out, e.timer)
	}
	return out
}

// Stop cancels every scheduled handle and clears the name map.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.timers {
		if e.handle != nil {
			e.handle.Stop()
		}
	}
	m.timers = make(map[string]*entry)
	m.running = false
}
