// Package observability defines the engine's structured record hooks
// (spec §6 "Observability hooks": trace/audit/metrics) and a default
// in-process sink wiring them to internal/obslog, internal/engmetrics, and
// an optional OpenTelemetry tracer.
package observability

import (
	"context"

	"github.com/ruleforge/engine/internal/engmetrics"
	"github.com/ruleforge/engine/internal/obslog"
	"github.com/ruleforge/engine/observability/tracing"
)

// TraceType is the closed set of trace record types named across spec
// §4/§7/§8. Subsystems must use one of these, never an ad-hoc string.
type TraceType string

const (
	TraceRuleSkipped          TraceType = "rule_skipped"
	TraceActionStarted        TraceType = "action_started"
	TraceActionCompleted      TraceType = "action_completed"
	TraceActionFailed         TraceType = "action_failed"
	TraceForwardChainingLimit TraceType = "forward_chaining_limit"
	TraceHotReloadStarted     TraceType = "hot_reload_started"
	TraceHotReloadCompleted   TraceType = "hot_reload_completed"
	TraceHotReloadFailed      TraceType = "hot_reload_failed"
	TraceConditionEvaluated   TraceType = "condition_evaluated"
	TraceBackwardQuery        TraceType = "backward_query"
)

// AuditType is the closed set of audit record types. Audit entries mark a
// durable, attributable fact about engine state ("this rule failed, here
// is why") as distinct from a trace entry's lighter-weight diagnostic
// timeline (spec §7 "Lookup/action failures ... logged and the rule is
// skipped with audit entry rule_failed").
type AuditType string

const (
	AuditRuleFailed    AuditType = "rule_failed"
	AuditRuleRegistered AuditType = "rule_registered"
	AuditRuleUpdated    AuditType = "rule_updated"
	AuditRuleDeleted    AuditType = "rule_deleted"
	AuditRolledBack     AuditType = "rule_rolled_back"
)

// TraceMeta carries the optional correlation fields spec §6 names for a
// trace record.
type TraceMeta struct {
	RuleID        string
	RuleName      string
	CorrelationID string
	CausationID   string
	DurationMs    int64
}

// Recorder is the structured record surface every engine subsystem emits
// into. The Recorder returned by NoRecorder() is safe to call and records
// nothing, so wiring observability is always optional per spec §2's
// "Observability hooks ... each optional".
type Recorder interface {
	Trace(typ TraceType, details map[string]interface{}, meta TraceMeta)
	Audit(typ AuditType, details map[string]interface{}, attribution string)
	Metric(kind engmetrics.Kind, name string, labels map[string]string, value float64)
}

// noop implements Recorder with no-op methods.
type noop struct{}

func (noop) Trace(TraceType, map[string]interface{}, TraceMeta)     {}
func (noop) Audit(AuditType, map[string]interface{}, string)        {}
func (noop) Metric(engmetrics.Kind, string, map[string]string, float64) {}

// NoRecorder returns a Recorder that discards every record.
func NoRecorder() Recorder { return noop{} }

// Sink is the default Recorder: structured log lines via internal/obslog,
// Prometheus collectors via internal/engmetrics, and spans via an optional
// tracing.Tracer.
type Sink struct {
	logger  *obslog.Logger
	metrics *engmetrics.Registry
	tracer  tracing.Tracer
}

// NewSink builds a Sink. metrics and tracer may be nil to disable that
// channel while still logging.
func NewSink(logger *obslog.Logger, metrics *engmetrics.Registry, tracer tracing.Tracer) *Sink {
	return &Sink{logger: logger, metrics: metrics, tracer: tracer}
}

// Trace implements Recorder.
func (s *Sink) Trace(typ TraceType, details map[string]interface{}, meta TraceMeta) {
	if s.logger != nil {
		fields := traceFields(details, meta)
		s.logger.WithFields(fields).Debug(string(typ))
	}
	if s.tracer != nil {
		attrs := make(map[string]string, 2)
		if meta.RuleID != "" {
			attrs["rule_id"] = meta.RuleID
		}
		if meta.CorrelationID != "" {
			attrs["correlation_id"] = meta.CorrelationID
		}
		_, finish := s.tracer.StartSpan(context.Background(), string(typ), attrs)
		finish(nil)
	}
}

// Audit implements Recorder.
func (s *Sink) Audit(typ AuditType, details map[string]interface{}, attribution string) {
	if s.logger == nil {
		return
	}
	fields := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		fields[k] = v
	}
	fields["attribution"] = attribution
	s.logger.WithFields(fields).Info(string(typ))
}

// Metric implements Recorder.
func (s *Sink) Metric(kind engmetrics.Kind, name string, labels map[string]string, value float64) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Observe(kind, name, labels, value); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("observability: metric observe failed")
	}
}

func traceFields(details map[string]interface{}, meta TraceMeta) map[string]interface{} {
	fields := make(map[string]interface{}, len(details)+5)
	for k, v := range details {
		fields[k] = v
	}
	if meta.RuleID != "" {
		fields["rule_id"] = meta.RuleID
	}
	if meta.RuleName != "" {
		fields["rule_name"] = meta.RuleName
	}
	if meta.CorrelationID != "" {
		fields["correlation_id"] = meta.CorrelationID
	}
	if meta.CausationID != "" {
		fields["causation_id"] = meta.CausationID
	}
	if meta.DurationMs != 0 {
		fields["duration_ms"] = meta.DurationMs
	}
	return fields
}
