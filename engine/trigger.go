package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ruleforge/engine/action"
	"github.com/ruleforge/engine/condition"
	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/interpolate"
	"github.com/ruleforge/engine/observability"
)

const (
	triggerKindFact  = "fact"
	triggerKindEvent = "event"
	triggerKindTimer = "timer"
)

// SetFact writes key synchronously, then processes the resulting fact
// trigger (spec §4.1 "Trigger processing contract").
func (e *Engine) SetFact(key string, value interface{}, source string) error {
	return e.runQueued(func(ctx context.Context) {
		next, prev, existed := e.facts.Set(key, value, source, time.Now())
		var previous interface{}
		if existed {
			previous = prev.Value
		}
		triggerData := map[string]interface{}{
			"fact": map[string]interface{}{
				"key": next.Key, "value": next.Value, "previous": previous, "source": next.Source,
			},
		}
		matches := e.rules.GetByFactPattern(key)
		e.processTrigger(ctx, triggerKindFact, triggerData, matches, "", "")
	})
}

// GetFact is a direct, non-triggering read.
func (e *Engine) GetFact(key string) (domain.Fact, bool) {
	return e.facts.Get(key)
}

// QueryFacts is a direct, non-triggering pattern read.
func (e *Engine) QueryFacts(pat string) []domain.Fact {
	return e.facts.Query(pat)
}

// DeleteFact removes key synchronously, then processes the resulting fact
// trigger carrying the deleted value as "previous" and a nil "value".
func (e *Engine) DeleteFact(key string) error {
	return e.runQueued(func(ctx context.Context) {
		prev, existed := e.facts.Delete(key)
		if !existed {
			return
		}
		triggerData := map[string]interface{}{
			"fact": map[string]interface{}{
				"key": key, "value": nil, "previous": prev.Value, "deleted": true,
			},
		}
		matches := e.rules.GetByFactPattern(key)
		e.processTrigger(ctx, triggerKindFact, triggerData, matches, "", "")
	})
}

// Emit publishes topic/data with no correlation, per spec §4.1's
// "emit(topic, data)".
func (e *Engine) Emit(topic string, data map[string]interface{}) (domain.Event, error) {
	return e.EmitCorrelated(topic, data, "", "")
}

// EmitCorrelated publishes topic/data carrying an explicit correlation and
// causation id, per spec §4.1's "emitCorrelated(topic, data, correlationId,
// causationId?)".
func (e *Engine) EmitCorrelated(topic string, data map[string]interface{}, correlationID, causationID string) (domain.Event, error) {
	var result domain.Event
	err := e.runQueued(func(ctx context.Context) {
		ev := domain.Event{
			ID: uuid.NewString(), Topic: topic, Data: data, Timestamp: time.Now(),
			Source: "external", CorrelationID: correlationID, CausationID: causationID,
		}
		e.events.Append(ev, ev.Timestamp)
		e.notifySubscribers(ev)
		result = ev

		matches := e.rules.GetByEventTopic(topic)
		e.processTrigger(ctx, triggerKindEvent, ev.Data, matches, correlationID, causationID)
	})
	return result, err
}

// SetTimer schedules (or replaces) a named timer. It is not an externally
// queued stimulus itself — only the timer's eventual fire is.
func (e *Engine) SetTimer(name string, expiresAt time.Time, onExpire domain.TimerExpire, repeat *domain.TimerRepeat, correlationID string) domain.Timer {
	return e.timers.Set(context.Background(), name, expiresAt, onExpire, repeat, correlationID)
}

// CancelTimer cancels the named timer, reporting whether it existed.
func (e *Engine) CancelTimer(name string) bool {
	return e.timers.Cancel(context.Background(), name)
}

// GetTimer returns the named timer's current state, if any.
func (e *Engine) GetTimer(name string) (domain.Timer, bool) {
	return e.timers.Get(name)
}

// onTimerFire is timermanager's OnExpire callback: it processes the timer
// trigger, then — if the timer declared an expire event — emits that event
// as a depth-1 cascade (spec §4.1 "On timer expiration the engine first
// processes the trigger with the timer payload, then emits the timer's
// configured event").
func (e *Engine) onTimerFire(_ context.Context, t domain.Timer) {
	_ = e.runQueued(func(ctx context.Context) {
		triggerData := map[string]interface{}{
			"timer": map[string]interface{}{"name": t.Name, "id": t.ID, "runCount": t.RunCount},
		}
		matches := e.rules.GetByTimerName(t.Name)
		e.processTrigger(ctx, triggerKindTimer, triggerData, matches, t.CorrelationID, "")

		if t.OnExpire.Topic != "" {
			nested := withDepth(ctx, 1)
			_ = e.emitInline(nested, t.OnExpire.Topic, t.OnExpire.Data, t.CorrelationID)
		}
	})
}

// emitInline is the reentrant path action.Emitter calls back into: an
// action-triggered emit_event runs inline (not through the ordered queue)
// to preserve causality within the rule execution that produced it (spec
// §4.1 "Reentrancy").
func (e *Engine) emitInline(ctx context.Context, topic string, data map[string]interface{}, correlationID string) error {
	causationID := causationFromContext(ctx)
	ev := domain.Event{
		ID: uuid.NewString(), Topic: topic, Data: data, Timestamp: time.Now(),
		Source: "action", CorrelationID: correlationID, CausationID: causationID,
	}
	e.events.Append(ev, ev.Timestamp)
	e.notifySubscribers(ev)

	matches := e.rules.GetByEventTopic(topic)
	e.processTrigger(ctx, triggerKindEvent, ev.Data, matches, correlationID, ev.ID)
	return nil
}

// processTrigger is the shared entry point for every stimulus kind, queued
// or reentrant. depth is read from ctx: 0 for an externally queued task,
// incremented by one each time an action's emit_event reenters here. The
// call at depth == MaxForwardDepth is the one that aborts (spec §8
// scenario 5: "exactly one forward_chaining_limit trace at
// depth=maxForwardDepth"), so no rule evaluation ever runs at a depth
// beyond the configured bound.
func (e *Engine) processTrigger(ctx context.Context, kind string, triggerData map[string]interface{}, matches []*domain.Rule, correlationID, causationID string) {
	atomic.AddInt64(&e.triggersProcessed, 1)

	depth := depthFromContext(ctx)
	if depth >= e.cfg.MaxForwardDepth {
		atomic.AddInt64(&e.forwardLimitHits, 1)
		e.recorder.Trace(observability.TraceForwardChainingLimit,
			map[string]interface{}{"depth": depth, "kind": kind, "trigger": triggerData},
			observability.TraceMeta{CorrelationID: correlationID, CausationID: causationID})
		return
	}

	ctx = withCausation(ctx, causationID)
	e.runRuleChunks(ctx, matches, triggerData, correlationID, depth)
}

// runRuleChunks executes matches (already filtered to effectively-enabled
// and priority-ordered by the rule manager) in chunks of at most
// MaxConcurrency; rules within a chunk run in parallel, chunks run
// sequentially (spec §4.1 "Rule selection and fan-out").
func (e *Engine) runRuleChunks(ctx context.Context, matches []*domain.Rule, triggerData map[string]interface{}, correlationID string, depth int) {
	chunkSize := e.cfg.MaxConcurrency
	for start := 0; start < len(matches); start += chunkSize {
		end := start + chunkSize
		if end > len(matches) {
			end = len(matches)
		}
		chunk := matches[start:end]

		var wg sync.WaitGroup
		wg.Add(len(chunk))
		for _, r := range chunk {
			r := r
			go func() {
				defer wg.Done()
				e.evaluateRule(ctx, r, triggerData, correlationID, depth)
			}()
		}
		wg.Wait()
	}
}

// evaluateRule runs one rule's full pipeline: resolve lookups, build the
// evaluation context, evaluate conditions, execute actions (spec §4.1
// "Rule evaluation pipeline"). A failure here never aborts sibling rules.
func (e *Engine) evaluateRule(ctx context.Context, rule *domain.Rule, triggerData map[string]interface{}, correlationID string, depth int) {
	vars := make(map[string]interface{})
	refCtx := interpolate.Context{Event: triggerData, Vars: vars}

	lookupValues, ok, err := e.lookups.ResolveAll(ctx, rule.Lookups, refCtx)
	if err != nil {
		atomic.AddInt64(&e.rulesFailed, 1)
		e.recorder.Audit(observability.AuditRuleFailed,
			map[string]interface{}{"stage": "lookup", "error": err.Error()}, rule.ID)
		return
	}
	if !ok {
		atomic.AddInt64(&e.rulesSkipped, 1)
		e.recorder.Trace(observability.TraceRuleSkipped, map[string]interface{}{"reason": "lookup_failed"},
			observability.TraceMeta{RuleID: rule.ID, RuleName: rule.Name, CorrelationID: correlationID})
		return
	}

	condCtx := condition.Context{Trigger: triggerData, Facts: e.facts, Vars: vars, Lookups: lookupValues, Baseline: e.baselines}
	passed := e.conditions.EvaluateAll(rule.Conditions, condCtx, func(r condition.Result) {
		e.recorder.Trace(observability.TraceConditionEvaluated,
			map[string]interface{}{"index": r.Index, "source": r.Source, "passed": r.Passed},
			observability.TraceMeta{RuleID: rule.ID, CorrelationID: correlationID})
	})
	if !passed {
		atomic.AddInt64(&e.rulesSkipped, 1)
		e.recorder.Trace(observability.TraceRuleSkipped, map[string]interface{}{"reason": "conditions_not_met"},
			observability.TraceMeta{RuleID: rule.ID, RuleName: rule.Name, CorrelationID: correlationID})
		return
	}

	ec := &action.EvalContext{
		Trigger: triggerData, Facts: e.facts, Vars: vars, Lookups: lookupValues,
		Baseline: e.baselines, CorrelationID: correlationID, Source: "action",
	}
	nestedCtx := withDepth(ctx, depth+1)
	nestedCtx = withCausation(nestedCtx, rule.ID)

	hooks := action.Hooks{
		OnStarted: func(a domain.Action) {
			e.recorder.Trace(observability.TraceActionStarted, map[string]interface{}{"kind": string(a.Kind)},
				observability.TraceMeta{RuleID: rule.ID, CorrelationID: correlationID})
		},
		OnCompleted: func(a domain.Action) {
			atomic.AddInt64(&e.actionsExecuted, 1)
			e.recorder.Trace(observability.TraceActionCompleted, map[string]interface{}{"kind": string(a.Kind)},
				observability.TraceMeta{RuleID: rule.ID, CorrelationID: correlationID})
		},
		OnFailed: func(a domain.Action, actErr error) {
			e.recorder.Trace(observability.TraceActionFailed,
				map[string]interface{}{"kind": string(a.Kind), "error": actErr.Error()},
				observability.TraceMeta{RuleID: rule.ID, CorrelationID: correlationID})
			e.recorder.Audit(observability.AuditRuleFailed,
				map[string]interface{}{"stage": "action", "action": string(a.Kind), "error": actErr.Error()}, rule.ID)
		},
	}
	e.actions.Execute(nestedCtx, rule.Actions, ec, hooks)
}
