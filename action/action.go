// Package action executes a rule's ordered action list, including the
// composed conditional/for_each/try_catch variants (spec §4.4 "Action
// Executor").
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/ruleforge/engine/baseline"
	"github.com/ruleforge/engine/condition"
	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/durationutil"
	"github.com/ruleforge/engine/factstore"
	"github.com/ruleforge/engine/interpolate"
	"github.com/ruleforge/engine/internal/engerrors"
	"github.com/ruleforge/engine/internal/obslog"
	"github.com/ruleforge/engine/serviceregistry"
	"github.com/ruleforge/engine/timermanager"
)

// EvalContext is the live, mutable context a rule's actions run against.
// Vars is shared and mutated across the whole action list (for_each
// bindings, try_catch error bindings) and by conditional/for_each/
// try_catch's children, per spec §4.4.
type EvalContext struct {
	Trigger       map[string]interface{}
	Facts         *factstore.Store
	Vars          map[string]interface{}
	Lookups       map[string]interface{}
	Baseline      *baseline.Store
	CorrelationID string
	Source        string // written as the fact's Source on set_fact, e.g. "action"
}

func (ec *EvalContext) refContext() interpolate.Context {
	return interpolate.Context{Event: ec.Trigger, Vars: ec.Vars, Lookups: ec.Lookups}
}

func (ec *EvalContext) condContext() condition.Context {
	return condition.Context{Trigger: ec.Trigger, Facts: ec.Facts, Vars: ec.Vars, Lookups: ec.Lookups, Baseline: ec.Baseline}
}

// Emitter is the reentrant path emit_event calls back into: the
// orchestrator's own emit, so an action-triggered event feeds forward
// chaining with depth tracking owned by the caller.
type Emitter func(ctx context.Context, topic string, data map[string]interface{}, correlationID string) error

// Hooks are the optional observability callbacks fired around each atomic
// action (composed actions fire around themselves and their children).
type Hooks struct {
	OnStarted   func(a domain.Action)
	OnCompleted func(a domain.Action)
	OnFailed    func(a domain.Action, err error)
}

func (h Hooks) started(a domain.Action) {
	if h.OnStarted != nil {
		h.OnStarted(a)
	}
}

func (h Hooks) completed(a domain.Action) {
	if h.OnCompleted != nil {
		h.OnCompleted(a)
	}
}

func (h Hooks) failed(a domain.Action, err error) {
	if h.OnFailed != nil {
		h.OnFailed(a, err)
	}
}

// Executor runs action lists against their dependencies.
type Executor struct {
	conditions *condition.Evaluator
	timers     *timermanager.Manager
	services   *serviceregistry.Registry
	emit       Emitter
	logger     *obslog.Logger
}

// New creates an Executor. logger may be nil to use obslog's default.
func New(conditions *condition.Evaluator, timers *timermanager.Manager, services *serviceregistry.Registry, emit Emitter, logger *obslog.Logger) *Executor {
	if logger == nil {
		logger = obslog.Default()
	}
	return &Executor{conditions: conditions, timers: timers, services: services, emit: emit, logger: logger}
}

// Execute runs actions sequentially; per spec §4.4, a failed atomic or
// composed action does not abort its sibling actions.
func (e *Executor) Execute(ctx context.Context, actions []domain.Action, ec *EvalContext, hooks Hooks) {
	e.runSequence(ctx, actions, ec, hooks)
}

// runSequence executes every action, swallowing each one's error after
// reporting it via hooks.OnFailed.
func (e *Executor) runSequence(ctx context.Context, actions []domain.Action, ec *EvalContext, hooks Hooks) {
	for _, a := range actions {
		_ = e.runOne(ctx, a, ec, hooks)
	}
}

// runUntilError executes actions in order, stopping at (and returning) the
// first error. Used for try_catch's try[] and catch.actions[] lists, where
// a failure must be distinguishable from success.
func (e *Executor) runUntilError(ctx context.Context, actions []domain.Action, ec *EvalContext, hooks Hooks) error {
	for _, a := range actions {
		if err := e.runOne(ctx, a, ec, hooks); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runOne(ctx context.Context, a domain.Action, ec *EvalContext, hooks Hooks) error {
	hooks.started(a)
	err := e.dispatch(ctx, a, ec, hooks)
	if err != nil {
		hooks.failed(a, err)
	} else {
		hooks.completed(a)
	}
	return err
}

func (e *Executor) dispatch(ctx context.Context, a domain.Action, ec *EvalContext, hooks Hooks) error {
	switch a.Kind {
	case domain.ActionSetFact:
		return e.setFact(a, ec)
	case domain.ActionDeleteFact:
		return e.deleteFact(a, ec)
	case domain.ActionEmitEvent:
		return e.emitEvent(ctx, a, ec)
	case domain.ActionSetTimer:
		return e.setTimer(ctx, a, ec)
	case domain.ActionCancelTimer:
		return e.cancelTimer(ctx, a, ec)
	case domain.ActionCallService:
		return e.callService(ctx, a, ec)
	case domain.ActionLog:
		return e.log(a, ec)
	case domain.ActionConditional:
		return e.conditional(ctx, a, ec, hooks)
	case domain.ActionForEach:
		return e.forEach(ctx, a, ec, hooks)
	case domain.ActionTryCatch:
		return e.tryCatch(ctx, a, ec, hooks)
	default:
		return engerrors.BadRequest(fmt.Sprintf("unrecognized action kind %q", a.Kind))
	}
}

func (e *Executor) setFact(a domain.Action, ec *EvalContext) error {
	if ec.Facts == nil {
		return engerrors.ServiceUnavailable("fact store")
	}
	key := interpolate.Resolve(a.Key, ec.refContext())
	keyStr, ok := key.(string)
	if !ok {
		return engerrors.BadRequest("set_fact: key did not resolve to a string")
	}
	value := interpolate.Resolve(a.Value, ec.refContext())
	source := ec.Source
	if source == "" {
		source = "action"
	}
	ec.Facts.Set(keyStr, value, source, time.Now())
	return nil
}

func (e *Executor) deleteFact(a domain.Action, ec *EvalContext) error {
	if ec.Facts == nil {
		return engerrors.ServiceUnavailable("fact store")
	}
	key := interpolate.Resolve(a.Key, ec.refContext())
	keyStr, ok := key.(string)
	if !ok {
		return engerrors.BadRequest("delete_fact: key did not resolve to a string")
	}
	ec.Facts.Delete(keyStr)
	return nil
}

func (e *Executor) emitEvent(ctx context.Context, a domain.Action, ec *EvalContext) error {
	if e.emit == nil {
		return engerrors.ServiceUnavailable("event emitter")
	}
	topic := interpolate.Resolve(a.Topic, ec.refContext())
	topicStr, ok := topic.(string)
	if !ok {
		return engerrors.BadRequest("emit_event: topic did not resolve to a string")
	}
	data, _ := interpolate.Resolve(a.Data, ec.refContext()).(map[string]interface{})
	return e.emit(ctx, topicStr, data, ec.CorrelationID)
}

func (e *Executor) setTimer(ctx context.Context, a domain.Action, ec *EvalContext) error {
	if e.timers == nil {
		return engerrors.ServiceUnavailable("timer manager")
	}
	name := interpolate.Resolve(a.Name, ec.refContext())
	nameStr, ok := name.(string)
	if !ok {
		return engerrors.BadRequest("set_timer: name did not resolve to a string")
	}
	durationRaw := interpolate.Resolve(a.Duration, ec.refContext())
	durationStr, ok := durationRaw.(string)
	if !ok {
		return engerrors.BadRequest("set_timer: duration did not resolve to a string")
	}
	d, err := durationutil.Parse(durationStr)
	if err != nil {
		return engerrors.Wrap(engerrors.CodeBadRequest, "set_timer: invalid duration", 400, err)
	}

	var onExpire domain.TimerExpire
	if a.OnExpire != nil {
		topic, _ := interpolate.Resolve(a.OnExpire.Topic, ec.refContext()).(string)
		data, _ := interpolate.Resolve(a.OnExpire.Data, ec.refContext()).(map[string]interface{})
		onExpire = domain.TimerExpire{Topic: topic, Data: data}
	}

	e.timers.Set(ctx, nameStr, time.Now().Add(d), onExpire, a.Repeat, ec.CorrelationID)
	return nil
}

func (e *Executor) cancelTimer(ctx context.Context, a domain.Action, ec *EvalContext) error {
	if e.timers == nil {
		return engerrors.ServiceUnavailable("timer manager")
	}
	name := interpolate.Resolve(a.Name, ec.refContext())
	nameStr, ok := name.(string)
	if !ok {
		return engerrors.BadRequest("cancel_timer: name did not resolve to a string")
	}
	e.timers.Cancel(ctx, nameStr)
	return nil
}

func (e *Executor) callService(ctx context.Context, a domain.Action, ec *EvalContext) error {
	if e.services == nil {
		return engerrors.ServiceUnavailable("service registry")
	}
	args := make([]interface{}, len(a.Args))
	for i, arg := range a.Args {
		args[i] = interpolate.Resolve(arg, ec.refContext())
	}
	_, err := e.services.Invoke(ctx, a.Service, a.Method, args)
	return err
}

func (e *Executor) log(a domain.Action, ec *EvalContext) error {
	message := interpolate.Resolve(a.Message, ec.refContext())
	entry := e.logger.WithFields(map[string]interface{}{"action": "log"})
	switch a.Level {
	case "warn", "warning":
		entry.Warn(message)
	case "error":
		entry.Error(message)
	case "debug":
		entry.Debug(message)
	default:
		entry.Info(message)
	}
	return nil
}

func (e *Executor) conditional(ctx context.Context, a domain.Action, ec *EvalContext, hooks Hooks) error {
	if e.conditions.EvaluateAll(a.Conditions, ec.condContext(), nil) {
		e.runSequence(ctx, a.Then, ec, hooks)
	} else {
		e.runSequence(ctx, a.Else, ec, hooks)
	}
	return nil
}

func (e *Executor) forEach(ctx context.Context, a domain.Action, ec *EvalContext, hooks Hooks) error {
	collectionVal := interpolate.Resolve(a.Collection, ec.refContext())
	if a.CollectionFilter != "" {
		filtered, err := interpolate.ResolveJSONPath(collectionVal, a.CollectionFilter)
		if err != nil {
			return engerrors.BadRequest("for_each: collectionFilter: " + err.Error())
		}
		collectionVal = filtered
	}
	items, ok := toSlice(collectionVal)
	if !ok {
		return engerrors.BadRequest("for_each: collection did not resolve to a sequence")
	}

	max := len(items)
	if a.MaxIterations > 0 && a.MaxIterations < max {
		max = a.MaxIterations
	}

	for i := 0; i < max; i++ {
		ec.Vars[a.As] = items[i]
		ec.Vars[a.As+"_index"] = i
		e.runSequence(ctx, a.ForEachBody, ec, hooks)
	}
	return nil
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}

func (e *Executor) tryCatch(ctx context.Context, a domain.Action, ec *EvalContext, hooks Hooks) error {
	tryErr := e.runUntilError(ctx, a.Try, ec, hooks)

	var result error
	if tryErr != nil && a.Catch != nil {
		if a.Catch.As != "" {
			ec.Vars[a.Catch.As] = tryErr.Error()
		}
		result = e.runUntilError(ctx, a.Catch.Actions, ec, hooks)
	} else {
		result = tryErr
	}

	if len(a.Finally) > 0 {
		e.runSequence(ctx, a.Finally, ec, hooks)
	}
	return result
}
