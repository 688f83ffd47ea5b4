// Package reload polls one or more rule sources and atomically-or-nothing
// reconciles the live rule manager against them (spec §4.7 "Hot-Reload
// Watcher").
package reload

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/rulemgr"
)

// Hooks are the observability callbacks fired around each poll cycle,
// matching spec §4.7's hot_reload_started/completed/failed events.
type Hooks struct {
	OnStarted   func()
	OnCompleted func(added, removed, modified int, duration time.Duration)
	OnFailed    func(reason string, err error)
}

func (h Hooks) started() {
	if h.OnStarted != nil {
		h.OnStarted()
	}
}

func (h Hooks) completed(added, removed, modified int, d time.Duration) {
	if h.OnCompleted != nil {
		h.OnCompleted(added, removed, modified, d)
	}
}

func (h Hooks) failed(reason string, err error) {
	if h.OnFailed != nil {
		h.OnFailed(reason, err)
	}
}

// Config configures a Watcher.
type Config struct {
	Sources             []Source
	Interval            time.Duration
	ValidateBeforeApply bool
	AtomicReload        bool
	// Drain waits for the engine's processing queue to empty before rules
	// are swapped, so a rule is never mutated mid-evaluation (spec §4.7).
	// May be nil if there is nothing to drain (e.g. in tests).
	Drain func(ctx context.Context) error
	Hooks Hooks
}

// Watcher periodically reconciles a rulemgr.Manager against Config.Sources.
type Watcher struct {
	cfg   Config
	rules *rulemgr.Manager

	mu           sync.Mutex
	baseline     map[string]string
	reloadCount  int
	failureCount int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Watcher. The baseline starts empty, so the first
// PerformCheck treats every loaded rule as "added".
func New(rules *rulemgr.Manager, cfg Config) *Watcher {
	return &Watcher{
		cfg:      cfg,
		rules:    rules,
		baseline: make(map[string]string),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop in a goroutine; it returns immediately.
// The loop exits when ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			_ = w.PerformCheck(ctx)
		}
	}
}

// Stop ends the poll loop. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Stats reports the cumulative reload/failure counters.
func (w *Watcher) Stats() (reloadCount, failureCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloadCount, w.failureCount
}

// PerformCheck runs one reconciliation cycle: load every source, diff
// against the baseline hash map, validate-then-apply (or apply directly),
// and update the baseline for every rule successfully applied.
func (w *Watcher) PerformCheck(ctx context.Context) error {
	start := time.Now()
	w.cfg.Hooks.started()

	loaded, err := w.loadAll(ctx)
	if err != nil {
		w.recordFailure("unexpected_error", err)
		return err
	}

	byID := make(map[string]domain.Rule, len(loaded))
	newHashes := make(map[string]string, len(loaded))
	for _, r := range loaded {
		byID[r.ID] = r
		newHashes[r.ID] = hashRule(r)
	}

	w.mu.Lock()
	baseline := make(map[string]string, len(w.baseline))
	for k, v := range w.baseline {
		baseline[k] = v
	}
	w.mu.Unlock()

	added, removed, modified := diff(baseline, newHashes)
	if len(added)+len(removed)+len(modified) == 0 {
		w.cfg.Hooks.completed(0, 0, 0, time.Since(start))
		return nil
	}

	if w.cfg.ValidateBeforeApply && w.cfg.AtomicReload {
		for _, id := range append(append([]string{}, added...), modified...) {
			if err := w.rules.ValidateRule(byID[id]); err != nil {
				w.recordFailure("validation_failed", err)
				return err
			}
		}
	}

	if w.cfg.Drain != nil {
		if err := w.cfg.Drain(ctx); err != nil {
			w.recordFailure("unexpected_error", err)
			return err
		}
	}

	if err := w.apply(added, removed, modified, byID, newHashes); err != nil {
		w.recordFailure("validation_failed", err)
		return err
	}

	w.mu.Lock()
	w.reloadCount++
	w.mu.Unlock()
	w.cfg.Hooks.completed(len(added), len(removed), len(modified), time.Since(start))
	return nil
}

func (w *Watcher) apply(added, removed, modified []string, byID map[string]domain.Rule, newHashes map[string]string) error {
	for _, id := range removed {
		_ = w.rules.Unregister(id)
		w.deleteBaseline(id)
	}
	for _, id := range modified {
		_ = w.rules.Unregister(id)
		if err := w.rules.Register(byID[id]); err != nil {
			return err
		}
		w.setBaseline(id, newHashes[id])
	}
	for _, id := range added {
		if err := w.rules.Register(byID[id]); err != nil {
			return err
		}
		w.setBaseline(id, newHashes[id])
	}
	return nil
}

func (w *Watcher) setBaseline(id, hash string) {
	w.mu.Lock()
	w.baseline[id] = hash
	w.mu.Unlock()
}

func (w *Watcher) deleteBaseline(id string) {
	w.mu.Lock()
	delete(w.baseline, id)
	w.mu.Unlock()
}

func (w *Watcher) recordFailure(reason string, err error) {
	w.mu.Lock()
	w.failureCount++
	w.mu.Unlock()
	w.cfg.Hooks.failed(reason, err)
}

// loadAll reads every configured source and merges the results by rule id;
// a rule id appearing in more than one source takes the value from the
// last source it appears in, source order otherwise preserved.
func (w *Watcher) loadAll(ctx context.Context) ([]domain.Rule, error) {
	merged := make(map[string]domain.Rule)
	var order []string
	for _, src := range w.cfg.Sources {
		rules, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			if _, exists := merged[r.ID]; !exists {
				order = append(order, r.ID)
			}
			merged[r.ID] = r
		}
	}
	out := make([]domain.Rule, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, nil
}

func diff(baseline, current map[string]string) (added, removed, modified []string) {
	for id, hash := range current {
		prev, ok := baseline[id]
		if !ok {
			added = append(added, id)
		} else if prev != hash {
			modified = append(modified, id)
		}
	}
	for id := range baseline {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}
