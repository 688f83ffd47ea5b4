package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleforge/engine/backward"
	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/internal/engmetrics"
	"github.com/ruleforge/engine/observability"
)

// traceCapture is a test-local observability.Recorder that records every
// Trace call's type and details, so a test can assert the exact fields a
// scenario names instead of only the engine's aggregate counters.
type traceCapture struct {
	mu     sync.Mutex
	traces []capturedTrace
}

type capturedTrace struct {
	typ     observability.TraceType
	details map[string]interface{}
}

func (c *traceCapture) Trace(typ observability.TraceType, details map[string]interface{}, _ observability.TraceMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = append(c.traces, capturedTrace{typ: typ, details: details})
}
func (c *traceCapture) Audit(observability.AuditType, map[string]interface{}, string) {}
func (c *traceCapture) Metric(engmetrics.Kind, string, map[string]string, float64)    {}

func (c *traceCapture) byType(typ observability.TraceType) []capturedTrace {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedTrace
	for _, tr := range c.traces {
		if tr.typ == typ {
			out = append(out, tr)
		}
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func setFactRule(id string, priority int, key string, actions []domain.Action) domain.Rule {
	return domain.Rule{
		ID: id, Name: id, Priority: priority, Enabled: true,
		Trigger: domain.Trigger{Kind: domain.TriggerFact, Pattern: key},
		Actions: actions,
	}
}

func eventRule(id string, priority int, topic string, actions []domain.Action) domain.Rule {
	return domain.Rule{
		ID: id, Name: id, Priority: priority, Enabled: true,
		Trigger: domain.Trigger{Kind: domain.TriggerEvent, Pattern: topic},
		Actions: actions,
	}
}

func setFactAction(key, ref string) domain.Action {
	return domain.Action{Kind: domain.ActionSetFact, Key: key, Value: map[string]interface{}{"ref": ref}}
}

// TestSetFact_TriggersMatchingRule covers the "fact set runs its matching
// rule synchronously within SetFact" path: the rule's set_fact action must
// be visible to the caller by the time SetFact returns.
func TestSetFact_TriggersMatchingRule(t *testing.T) {
	e := newTestEngine(t)

	rule := setFactRule("derive-status", 0, "order:*:amount",
		[]domain.Action{setFactAction("order:status", "trigger.fact.value")})
	_, err := e.RegisterRule(rule)
	require.NoError(t, err)

	require.NoError(t, e.SetFact("order:42:amount", 100, "test"))

	got, ok := e.GetFact("order:status")
	require.True(t, ok)
	assert.EqualValues(t, 100, got.Value, "value round-trips through JSON, so an int literal surfaces as float64")
}

// TestEmit_EventTriggeredFactSet covers the six-scenario list's
// "event-triggered fact set": emitting a topic runs a rule that writes a
// fact, and the write is visible once Emit returns.
func TestEmit_EventTriggeredFactSet(t *testing.T) {
	e := newTestEngine(t)

	rule := eventRule("record-login", 0, "auth.login",
		[]domain.Action{setFactAction("session:last_user", "event.userId")})
	_, err := e.RegisterRule(rule)
	require.NoError(t, err)

	_, err = e.Emit("auth.login", map[string]interface{}{"userId": "u-1"})
	require.NoError(t, err)

	got, ok := e.GetFact("session:last_user")
	require.True(t, ok)
	assert.Equal(t, "u-1", got.Value)
}

// TestRunRuleChunks_PriorityOrderAcrossChunks asserts higher-priority rules
// run, and their side effects are visible, before lower-priority ones: this
// test pins MaxConcurrency to 1 so each rule is its own chunk and chunks
// serialize deterministically by priority.
func TestRunRuleChunks_PriorityOrderAcrossChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	var order []string
	var mu sync.Mutex
	e.Subscribe("order.seen", func(ev domain.Event) {
		mu.Lock()
		order = append(order, ev.Data["rule"].(string))
		mu.Unlock()
	})

	_, err = e.RegisterRule(eventRule("low", 1, "order.created", []domain.Action{
		{Kind: domain.ActionEmitEvent, Topic: "order.seen", Data: map[string]interface{}{"rule": "low"}},
	}))
	require.NoError(t, err)
	_, err = e.RegisterRule(eventRule("high", 10, "order.created", []domain.Action{
		{Kind: domain.ActionEmitEvent, Topic: "order.seen", Data: map[string]interface{}{"rule": "high"}},
	}))
	require.NoError(t, err)

	_, err = e.Emit("order.created", map[string]interface{}{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0], "higher priority rule's chunk runs first")
	assert.Equal(t, "low", order[1])
}

// TestFactPattern_ExposesTriggerFactValue covers the scenario list's
// "fact-pattern trigger reading trigger.fact.value".
func TestFactPattern_ExposesTriggerFactValue(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RegisterRule(setFactRule("mirror", 0, "sensor:*:reading",
		[]domain.Action{setFactAction("sensor:last_reading", "trigger.fact.value")}))
	require.NoError(t, err)

	require.NoError(t, e.SetFact("sensor:a1:reading", 73.5, "test"))

	got, ok := e.GetFact("sensor:last_reading")
	require.True(t, ok)
	assert.Equal(t, 73.5, got.Value)
}

// TestForEach_IteratesEventItems covers the scenario list's "for_each over
// event.items": each item's field is copied into a distinct fact key.
func TestForEach_IteratesEventItems(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RegisterRule(eventRule("expand-items", 0, "order.items", []domain.Action{
		{
			Kind:          domain.ActionForEach,
			Collection:    map[string]interface{}{"ref": "event.items"},
			As:            "item",
			MaxIterations: 10,
			ForEachBody: []domain.Action{
				{
					Kind:  domain.ActionSetFact,
					Key:   "item:${var.item.sku}:qty",
					Value: map[string]interface{}{"ref": "var.item.qty"},
				},
			},
		},
	}))
	require.NoError(t, err)

	_, err = e.Emit("order.items", map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"sku": "A1", "qty": 3},
			map[string]interface{}{"sku": "B2", "qty": 7},
		},
	})
	require.NoError(t, err)

	a1, ok := e.GetFact("item:A1:qty")
	require.True(t, ok)
	assert.EqualValues(t, 3, a1.Value)

	b2, ok := e.GetFact("item:B2:qty")
	require.True(t, ok)
	assert.EqualValues(t, 7, b2.Value)
}

// TestForEach_CollectionFilterSelectsWithJSONPath covers for_each sources
// that need JSONPath's filter grammar rather than a plain dotted ref path:
// only items passing the filter expression are iterated.
func TestForEach_CollectionFilterSelectsWithJSONPath(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RegisterRule(eventRule("expand-active-items", 0, "order.items", []domain.Action{
		{
			Kind:             domain.ActionForEach,
			Collection:       map[string]interface{}{"ref": "event.items"},
			CollectionFilter: "$[?(@.active==true)]",
			As:               "item",
			MaxIterations:    10,
			ForEachBody: []domain.Action{
				{
					Kind:  domain.ActionSetFact,
					Key:   "active:${var.item.sku}",
					Value: map[string]interface{}{"ref": "var.item.qty"},
				},
			},
		},
	}))
	require.NoError(t, err)

	_, err = e.Emit("order.items", map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"sku": "A1", "qty": 3, "active": true},
			map[string]interface{}{"sku": "B2", "qty": 7, "active": false},
		},
	})
	require.NoError(t, err)

	a1, ok := e.GetFact("active:A1")
	require.True(t, ok)
	assert.EqualValues(t, 3, a1.Value)

	_, ok = e.GetFact("active:B2")
	assert.False(t, ok, "the filtered-out item must not have run the for_each body")
}

// TestForwardChaining_StopsAtMaxDepth covers spec §8 scenario 5: a rule that
// re-emits its own trigger topic must stop exactly at MaxForwardDepth,
// recording exactly one forward_chaining_limit trace at
// depth=maxForwardDepth — not one level deeper.
func TestForwardChaining_StopsAtMaxDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxForwardDepth = 3
	capture := &traceCapture{}
	cfg.Recorder = capture
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	var fireCount int64
	_, err = e.RegisterRule(eventRule("echo", 0, "ping", []domain.Action{
		{Kind: domain.ActionEmitEvent, Topic: "ping", Data: map[string]interface{}{}},
	}))
	require.NoError(t, err)
	e.Subscribe("ping", func(domain.Event) { atomic.AddInt64(&fireCount, 1) })

	_, err = e.Emit("ping", map[string]interface{}{})
	require.NoError(t, err)

	stats := e.GetStats()
	require.EqualValues(t, 1, stats.ForwardChainLimitHits, "exactly one forward_chaining_limit trace, not a range")

	limitTraces := capture.byType(observability.TraceForwardChainingLimit)
	require.Len(t, limitTraces, 1)
	assert.EqualValues(t, cfg.MaxForwardDepth, limitTraces[0].details["depth"],
		"the aborting call's recorded depth must equal MaxForwardDepth exactly")

	// One notification for the externally queued Emit itself, plus one per
	// rule evaluation that ran before the guard aborted (depths 0..N-1).
	wantFires := int64(1 + cfg.MaxForwardDepth)
	assert.Equal(t, wantFires, atomic.LoadInt64(&fireCount))
}

// TestQuery_TwoRuleProofTree covers the scenario list's "backward-chaining
// two-rule proof tree": goal fact B is produced by rule2, whose own
// precondition fact A is produced by rule1, so a backward query for B
// should report it achievable by chaining through both rules.
func TestQuery_TwoRuleProofTree(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RegisterRule(eventRule("rule1", 0, "start", []domain.Action{
		{Kind: domain.ActionSetFact, Key: "fact:a", Value: true},
	}))
	require.NoError(t, err)

	_, err = e.RegisterRule(domain.Rule{
		ID: "rule2", Name: "rule2", Enabled: true,
		Trigger: domain.Trigger{Kind: domain.TriggerFact, Pattern: "fact:a"},
		Conditions: []domain.Condition{{
			Source:   domain.ConditionSource{Kind: domain.SourceFact, Pattern: "fact:a"},
			Operator: domain.OpEq,
			Value:    true,
		}},
		Actions: []domain.Action{{Kind: domain.ActionSetFact, Key: "fact:b", Value: true}},
	})
	require.NoError(t, err)

	result := e.Query(backward.Goal{Type: backward.GoalFact, Key: "fact:b"})
	assert.True(t, result.Achievable)
	assert.GreaterOrEqual(t, result.ExploredRules, 1)
}

// TestDrain_WaitsForInFlightTask ensures Drain really blocks until a
// previously enqueued task has finished, not merely until it's been
// accepted onto the queue.
func TestDrain_WaitsForInFlightTask(t *testing.T) {
	e := newTestEngine(t)

	var done int32
	go func() {
		_ = e.runQueued(func(context.Context) {
			time.Sleep(30 * time.Millisecond)
			atomic.StoreInt32(&done, 1)
		})
	}()
	time.Sleep(5 * time.Millisecond) // let the goroutine enqueue first

	require.NoError(t, e.Drain(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&done))
}

// TestStop_RejectsNewWorkAndDoesNotDeadlock exercises the Start/Stop
// lifecycle with the default config (no reload source): Start must return
// within the timeout, and once Stop has run, SetFact is rejected.
func TestStop_RejectsNewWorkAndDoesNotDeadlock(t *testing.T) {
	cfg := DefaultConfig()
	e, err := New(cfg)
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		require.NoError(t, e.Start(context.Background()))
		close(started)
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Start deadlocked")
	}

	require.NoError(t, e.Stop(context.Background()))
	err = e.SetFact("x", 1, "test")
	assert.Error(t, err, "engine rejects new work once stopped")
}

// TestSubscribe_WildcardAndLiteralBothFire checks that a literal-topic
// subscriber and a wildcard subscriber both receive a matching emit.
func TestSubscribe_WildcardAndLiteralBothFire(t *testing.T) {
	e := newTestEngine(t)

	var literalHit, wildHit int32
	e.Subscribe("order.created", func(domain.Event) { atomic.StoreInt32(&literalHit, 1) })
	e.Subscribe("order.*", func(domain.Event) { atomic.StoreInt32(&wildHit, 1) })

	_, err := e.Emit("order.created", map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&literalHit))
	assert.Equal(t, int32(1), atomic.LoadInt32(&wildHit))
}

// TestSubscribe_PanicDoesNotBlockOtherHandlers confirms a panicking
// handler is swallowed and its sibling handler still runs.
func TestSubscribe_PanicDoesNotBlockOtherHandlers(t *testing.T) {
	e := newTestEngine(t)

	var survived int32
	e.Subscribe("boom", func(domain.Event) { panic("handler exploded") })
	e.Subscribe("boom", func(domain.Event) { atomic.StoreInt32(&survived, 1) })

	assert.NotPanics(t, func() {
		_, err := e.Emit("boom", map[string]interface{}{})
		require.NoError(t, err)
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&survived))
}

// TestUnsubscribe_StopsFutureDelivery covers Subscribe's returned
// unsubscribe function.
func TestUnsubscribe_StopsFutureDelivery(t *testing.T) {
	e := newTestEngine(t)

	var hits int32
	unsub := e.Subscribe("topic.x", func(domain.Event) { atomic.AddInt32(&hits, 1) })

	_, err := e.Emit("topic.x", map[string]interface{}{})
	require.NoError(t, err)
	unsub()
	_, err = e.Emit("topic.x", map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

// TestRollbackRule_RestoresPriorVersionAndKeepsVersionsMonotonic covers the
// version-history/rollback round trip.
func TestRollbackRule_RestoresPriorVersionAndKeepsVersionsMonotonic(t *testing.T) {
	e := newTestEngine(t)

	rule := setFactRule("r1", 0, "a:*", nil)
	registered, err := e.RegisterRule(rule)
	require.NoError(t, err)
	assert.Equal(t, 1, registered.Version)

	patch := registered
	patch.Priority = 5
	updated, err := e.UpdateRule("r1", patch)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 5, updated.Priority)

	rolledBack, err := e.RollbackRule("r1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rolledBack.Version, "rollback applies as a new version, not a version rewind")
	assert.Equal(t, 0, rolledBack.Priority, "rollback restores version 1's field values")
}

// TestDisableRule_StopsFurtherMatches ensures a disabled rule no longer
// fires once disabled, without needing to unregister it.
func TestDisableRule_StopsFurtherMatches(t *testing.T) {
	e := newTestEngine(t)

	var hits int32
	_, err := e.RegisterRule(eventRule("r1", 0, "topic.y", []domain.Action{
		{Kind: domain.ActionSetFact, Key: "hit", Value: true},
	}))
	require.NoError(t, err)
	e.Subscribe("topic.y", func(domain.Event) { atomic.AddInt32(&hits, 1) })

	require.NoError(t, e.DisableRule("r1"))

	_, ok := e.GetFact("hit")
	assert.False(t, ok)

	_, err = e.Emit("topic.y", map[string]interface{}{})
	require.NoError(t, err)

	_, ok = e.GetFact("hit")
	assert.False(t, ok, "disabled rule must not run its actions")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "the subscriber still fires; only the rule is gated")
}
