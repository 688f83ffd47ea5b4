// Package condition evaluates a rule's ordered condition list with
// short-circuit AND semantics (spec §4.3 "Condition Evaluator").
package condition

import (
	"github.com/ruleforge/engine/baseline"
	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/factstore"
	"github.com/ruleforge/engine/interpolate"
	"github.com/ruleforge/engine/operatoreval"
)

// Context is the evaluation context a rule's conditions are tested
// against: the triggering payload, the live fact store, the rule's
// variable map, any resolved lookup results, and the optional baseline
// store for anomaly conditions.
type Context struct {
	Trigger  map[string]interface{}
	Facts    *factstore.Store
	Vars     map[string]interface{}
	Lookups  map[string]interface{}
	Baseline *baseline.Store
}

// Result records the outcome of evaluating one condition, for the optional
// onConditionEvaluated observability hook.
type Result struct {
	Index   int
	Source  domain.ConditionSource
	Actual  interface{}
	Passed  bool
}

// Hook is called after each condition is evaluated, in list order, up to
// and including the first failure.
type Hook func(Result)

// Evaluator evaluates ordered condition lists.
type Evaluator struct {
	ops *operatoreval.Evaluator
}

// New creates a condition Evaluator.
func New(ops *operatoreval.Evaluator) *Evaluator {
	if ops == nil {
		ops = operatoreval.New()
	}
	return &Evaluator{ops: ops}
}

// EvaluateAll scans conditions left to right, stopping at the first false.
// Returns true iff every condition passed (vacuously true for an empty
// list).
func (e *Evaluator) EvaluateAll(conditions []domain.Condition, ctx Context, hook Hook) bool {
	for i, c := range conditions {
		passed, actual := e.evaluateOne(c, ctx)
		if hook != nil {
			hook(Result{Index: i, Source: c.Source, Actual: actual, Passed: passed})
		}
		if !passed {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(c domain.Condition, ctx Context) (bool, interface{}) {
	if c.Source.Kind == domain.SourceBaseline {
		return e.evaluateBaseline(c, ctx), nil
	}

	actual := e.resolveSource(c.Source, ctx)
	expected := interpolate.Resolve(c.Value, e.refContext(ctx))
	return e.ops.Evaluate(c.Operator, actual, expected), actual
}

func (e *Evaluator) evaluateBaseline(c domain.Condition, ctx Context) bool {
	if ctx.Baseline == nil {
		return false
	}
	observed := interpolate.Resolve(c.Value, e.refContext(ctx))
	value, ok := toFloat(observed)
	if !ok {
		return false
	}

	src := c.Source
	return ctx.Baseline.Probe(
		src.Metric,
		value,
		baseline.Method(stringOr(src.Method, string(baseline.ZScore))),
		baseline.Comparison(src.Comparison),
		src.Sensitivity,
		src.MinSamples,
	)
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// resolveSource fetches the actual value a condition probes, from the
// context slot its source.Kind names.
func (e *Evaluator) resolveSource(src domain.ConditionSource, ctx Context) interface{} {
	switch src.Kind {
	case domain.SourceFact:
		return e.resolveFact(src.Pattern, ctx)
	case domain.SourceEvent:
		val, _ := interpolate.Lookup("event."+src.Field, e.refContext(ctx))
		return val
	case domain.SourceContext:
		val, ok := ctx.Vars[src.Key]
		if !ok {
			return nil
		}
		return val
	case domain.SourceLookup:
		path := "lookup." + src.LookupName
		if src.Field != "" {
			path += "." + src.Field
		}
		val, _ := interpolate.Lookup(path, e.refContext(ctx))
		return val
	default:
		return nil
	}
}

func (e *Evaluator) resolveFact(pat string, ctx Context) interface{} {
	if ctx.Facts == nil {
		return nil
	}
	matches := ctx.Facts.Query(pat)
	if len(matches) == 0 {
		return nil
	}
	return matches[0].Value
}

func (e *Evaluator) refContext(ctx Context) interpolate.Context {
	return interpolate.Context{
		Event:   ctx.Trigger,
		Vars:    ctx.Vars,
		Lookups: ctx.Lookups,
	}
}
