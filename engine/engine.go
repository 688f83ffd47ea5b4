// Package engine binds every other package into the running rule engine
// described across spec §4.1 "Engine Orchestrator" and §5 "Concurrency &
// Resource Model": an ordered processing queue for externally initiated
// stimuli, a forward-chaining depth guard for action-triggered recursion,
// and bounded-fan-out rule evaluation.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/ruleforge/engine/action"
	"github.com/ruleforge/engine/backward"
	"github.com/ruleforge/engine/baseline"
	"github.com/ruleforge/engine/condition"
	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/eventstore"
	"github.com/ruleforge/engine/factstore"
	"github.com/ruleforge/engine/internal/engconfig"
	"github.com/ruleforge/engine/internal/engerrors"
	"github.com/ruleforge/engine/lookup"
	"github.com/ruleforge/engine/observability"
	"github.com/ruleforge/engine/operatoreval"
	"github.com/ruleforge/engine/pattern"
	"github.com/ruleforge/engine/reload"
	"github.com/ruleforge/engine/rulemgr"
	"github.com/ruleforge/engine/serviceregistry"
	"github.com/ruleforge/engine/timermanager"
	"github.com/ruleforge/engine/versioning"
)

// Config assembles an Engine's dependencies and tunables. Every optional
// subsystem (TimerAdapter, VersioningAdapter, ReloadSources, Recorder,
// ServiceRegistry) may be left at its zero value; the engine then runs
// that concern in pure in-memory, unobserved mode (spec §3 "Lifecycle").
type Config struct {
	MaxForwardDepth int
	MaxConcurrency  int
	QueueBuffer     int

	EventStore eventstore.Options

	Recorder        observability.Recorder
	ServiceRegistry *serviceregistry.Registry
	LookupOptions   []lookup.Option

	TimerAdapter      timermanager.Adapter
	VersioningAdapter versioning.Adapter

	// InitialRules are registered during New, before Start; used to seed
	// an engine that isn't restoring from a reload source.
	InitialRules []domain.Rule
	InitialGroups []domain.RuleGroup

	ReloadSources             []reload.Source
	ReloadInterval            time.Duration
	ReloadValidateBeforeApply bool
	ReloadAtomic              bool
	ReloadHooks               reload.Hooks

	BackwardOptions backward.Options
}

// DefaultConfig returns spec §4's documented defaults with no optional
// subsystem attached.
func DefaultConfig() Config {
	d := engconfig.Default()
	return Config{
		MaxForwardDepth: d.MaxForwardDepth,
		MaxConcurrency:  d.MaxConcurrency,
		QueueBuffer:     d.QueueBuffer,
		ReloadInterval:  d.ReloadInterval,
		BackwardOptions: backward.DefaultOptions(),
	}
}

// Stats reports the orchestrator's cumulative counters (spec §4.1
// "getStats()").
type Stats struct {
	Running               bool
	TriggersProcessed      int64
	RulesSkipped           int64
	RulesFailed            int64
	ActionsExecuted        int64
	ForwardChainLimitHits  int64
	ReloadCount            int64
	ReloadFailureCount     int64
	QueueDepth             int
}

// Handler receives events a Subscribe call matched.
type Handler func(event domain.Event)

type wildSub struct {
	pattern string
	handler Handler
}

// Engine is the running rule engine: every lower-level package wired
// together behind the orchestrator contract of spec §4.1.
type Engine struct {
	cfg Config

	patternCache *pattern.Cache
	rules        *rulemgr.Manager
	facts        *factstore.Store
	events       *eventstore.Store
	timers       *timermanager.Manager
	services     *serviceregistry.Registry
	conditions   *condition.Evaluator
	actions      *action.Executor
	lookups      *lookup.Resolver
	baselines    *baseline.Store
	chainer      *backward.Chainer
	versions     *versioning.Store
	watcher      *reload.Watcher
	recorder     observability.Recorder

	cronSched *cron.Cron
	cronMu    sync.Mutex
	cronIDs   map[string]cron.EntryID

	stateMu sync.RWMutex
	running bool

	queue   chan queueTask
	queueWG sync.WaitGroup

	subsMu   sync.RWMutex
	subs     map[string]map[string]Handler
	wildSubs map[string]wildSub

	triggersProcessed  int64
	rulesSkipped       int64
	rulesFailed        int64
	actionsExecuted    int64
	forwardLimitHits   int64
}

type queueTask struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// New wires every subsystem and registers Config.InitialRules/InitialGroups.
// It does not start anything; call Start to begin processing.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxForwardDepth <= 0 {
		cfg.MaxForwardDepth = 10
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.QueueBuffer <= 0 {
		cfg.QueueBuffer = 256
	}
	if cfg.BackwardOptions == (backward.Options{}) {
		cfg.BackwardOptions = backward.DefaultOptions()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observability.NoRecorder()
	}
	services := cfg.ServiceRegistry
	if services == nil {
		services = serviceregistry.New()
	}

	pc := pattern.NewCache()
	rules := rulemgr.New(pc)
	facts := factstore.New(pc)
	events := eventstore.New(cfg.EventStore)
	baselines := baseline.New()
	versions := versioning.New(cfg.VersioningAdapter)
	conditions := condition.New(operatoreval.New())
	lookups := lookup.New(services, cfg.LookupOptions...)
	chainer := backward.New(rules, facts, cfg.BackwardOptions)

	e := &Engine{
		cfg:          cfg,
		patternCache: pc,
		rules:        rules,
		facts:        facts,
		events:       events,
		services:     services,
		conditions:   conditions,
		lookups:      lookups,
		baselines:    baselines,
		chainer:      chainer,
		versions:     versions,
		recorder:     recorder,
		cronIDs:      make(map[string]cron.EntryID),
		queue:        make(chan queueTask, cfg.QueueBuffer),
		subs:         make(map[string]map[string]Handler),
		wildSubs:     make(map[string]wildSub),
	}
	e.timers = timermanager.New(e.onTimerFire, cfg.TimerAdapter)
	e.actions = action.New(conditions, e.timers, services, e.emitInline, nil)

	for _, g := range cfg.InitialGroups {
		if err := rules.RegisterGroup(g); err != nil {
			return nil, fmt.Errorf("engine: registering initial group %q: %w", g.ID, err)
		}
	}
	for _, r := range cfg.InitialRules {
		if _, err := e.RegisterRule(r); err != nil {
			return nil, fmt.Errorf("engine: registering initial rule %q: %w", r.ID, err)
		}
	}

	if len(cfg.ReloadSources) > 0 {
		e.watcher = reload.New(rules, reload.Config{
			Sources:             cfg.ReloadSources,
			Interval:            cfg.ReloadInterval,
			ValidateBeforeApply: cfg.ReloadValidateBeforeApply,
			AtomicReload:        cfg.ReloadAtomic,
			Drain:               e.Drain,
			Hooks:               e.wrapReloadHooks(cfg.ReloadHooks),
		})
	}

	e.cronSched = cron.New()

	return e, nil
}

// Start restores any reload-source rules, starts the timer manager, the
// ordered queue worker, the temporal (cron) scheduler, and the hot-reload
// watcher (spec §3 "Engine start restores rules ... marks itself running
// and starts optional subsystems").
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	if e.running {
		e.stateMu.Unlock()
		return nil
	}
	e.running = true
	e.stateMu.Unlock()

	// The queue worker must be running before anything calls runQueued
	// (including the reload watcher's restore-on-start check below, which
	// drains the queue as part of its atomic-apply path).
	e.queueWG.Add(1)
	go e.runQueue()

	if e.watcher != nil {
		if err := e.watcher.PerformCheck(ctx); err != nil {
			return fmt.Errorf("engine: restoring rules from reload sources: %w", err)
		}
	}

	if err := e.timers.Start(ctx); err != nil {
		return fmt.Errorf("engine: starting timer manager: %w", err)
	}

	for _, r := range e.rules.GetTemporalRules() {
		e.scheduleTemporal(*r)
	}
	e.cronSched.Start()

	if e.watcher != nil {
		e.watcher.Start(ctx)
	}

	return nil
}

// Stop implements spec §3's shutdown sequence: mark not-running, drain the
// ordered queue, stop hot-reload, flush versioning, cancel all timers and
// the temporal scheduler, clear subscribers.
func (e *Engine) Stop(ctx context.Context) error {
	e.stateMu.Lock()
	if !e.running {
		e.stateMu.Unlock()
		return nil
	}
	e.running = false
	e.stateMu.Unlock()

	close(e.queue)
	e.queueWG.Wait()

	if e.watcher != nil {
		e.watcher.Stop()
	}

	if e.versions != nil {
		if err := e.versions.Flush(ctx); err != nil {
			return fmt.Errorf("engine: flushing versioning on stop: %w", err)
		}
	}

	e.timers.Stop()
	if e.cronSched != nil {
		stopCtx := e.cronSched.Stop()
		<-stopCtx.Done()
	}

	e.subsMu.Lock()
	e.subs = make(map[string]map[string]Handler)
	e.wildSubs = make(map[string]wildSub)
	e.subsMu.Unlock()

	return nil
}

// Drain blocks until every task enqueued before this call has completed.
// It is the hot-reload watcher's wait-for-queue-to-empty hook (spec §4.7
// "must wait for the engine's processing queue to drain before swapping
// rules").
func (e *Engine) Drain(ctx context.Context) error {
	return e.runQueued(func(context.Context) {})
}

// GetStats returns the orchestrator's cumulative counters.
func (e *Engine) GetStats() Stats {
	e.stateMu.RLock()
	running := e.running
	e.stateMu.RUnlock()

	var reloadCount, failureCount int
	if e.watcher != nil {
		reloadCount, failureCount = e.watcher.Stats()
	}

	return Stats{
		Running:              running,
		TriggersProcessed:     atomic.LoadInt64(&e.triggersProcessed),
		RulesSkipped:          atomic.LoadInt64(&e.rulesSkipped),
		RulesFailed:           atomic.LoadInt64(&e.rulesFailed),
		ActionsExecuted:       atomic.LoadInt64(&e.actionsExecuted),
		ForwardChainLimitHits: atomic.LoadInt64(&e.forwardLimitHits),
		ReloadCount:           int64(reloadCount),
		ReloadFailureCount:    int64(failureCount),
		QueueDepth:            len(e.queue),
	}
}

func (e *Engine) runQueue() {
	defer e.queueWG.Done()
	for t := range e.queue {
		t.fn(context.Background())
		close(t.done)
	}
}

// runQueued enqueues fn as an ordered, depth-0 task and blocks until it
// completes, per spec §4.1's "callers await the resulting completion".
func (e *Engine) runQueued(fn func(ctx context.Context)) error {
	e.stateMu.RLock()
	if !e.running {
		e.stateMu.RUnlock()
		return engerrors.ServiceUnavailable("engine")
	}
	done := make(chan struct{})
	e.queue <- queueTask{fn: fn, done: done}
	e.stateMu.RUnlock()
	<-done
	return nil
}

type ctxKey int

const (
	depthCtxKey ctxKey = iota
	causationCtxKey
)

func depthFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(depthCtxKey).(int); ok {
		return v
	}
	return 0
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthCtxKey, depth)
}

func causationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(causationCtxKey).(string); ok {
		return v
	}
	return ""
}

func withCausation(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationCtxKey, causationID)
}
