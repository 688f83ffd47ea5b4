package engine

import (
	"context"
	"time"

	"github.com/ruleforge/engine/backward"
	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/internal/engerrors"
	"github.com/ruleforge/engine/observability"
	"github.com/ruleforge/engine/reload"
	"github.com/ruleforge/engine/versioning"
)

// RegisterRule registers rule, records its "created" version entry, audits
// the registration, and — for a temporal trigger — schedules its cron job.
func (e *Engine) RegisterRule(rule domain.Rule) (domain.Rule, error) {
	if rule.Version == 0 {
		rule.Version = 1
	}
	if err := e.rules.Register(rule); err != nil {
		return domain.Rule{}, err
	}
	if e.versions != nil {
		_ = e.versions.Record(versioning.ChangeCreated, rule)
	}
	e.recorder.Audit(observability.AuditRuleRegistered, map[string]interface{}{"rule_id": rule.ID}, "api")

	if rule.Trigger.Kind == domain.TriggerTemporal {
		e.scheduleTemporal(rule)
	}

	got, _ := e.rules.Get(rule.ID)
	return *got, nil
}

// UpdateRule unregisters and re-registers id atomically (rulemgr.Update),
// records exactly one "updated" version entry, and reschedules its cron
// job if its trigger is (or was) temporal.
func (e *Engine) UpdateRule(id string, patch domain.Rule) (domain.Rule, error) {
	updated, err := e.rules.Update(id, patch)
	if err != nil {
		return domain.Rule{}, err
	}
	if e.versions != nil {
		_ = e.versions.Record(versioning.ChangeUpdated, updated)
	}
	e.recorder.Audit(observability.AuditRuleUpdated, map[string]interface{}{"rule_id": id}, "api")

	e.unscheduleTemporal(id)
	if updated.Trigger.Kind == domain.TriggerTemporal {
		e.scheduleTemporal(updated)
	}
	return updated, nil
}

// UnregisterRule removes id, records a "deleted" version entry one version
// past its last known version, audits the removal, and cancels any cron job.
func (e *Engine) UnregisterRule(id string) error {
	rule, ok := e.rules.Get(id)
	if !ok {
		return engerrors.NotFound("rule", id)
	}
	if err := e.rules.Unregister(id); err != nil {
		return err
	}
	if e.versions != nil {
		deleted := *rule
		deleted.Version = rule.Version + 1
		_ = e.versions.Record(versioning.ChangeDeleted, deleted)
	}
	e.recorder.Audit(observability.AuditRuleDeleted, map[string]interface{}{"rule_id": id}, "api")
	e.unscheduleTemporal(id)
	return nil
}

// EnableRule and DisableRule toggle a rule's own enabled flag.
func (e *Engine) EnableRule(id string) error  { return e.rules.Enable(id) }
func (e *Engine) DisableRule(id string) error { return e.rules.Disable(id) }

// GetRule returns a defensive clone of the rule registered under id.
func (e *Engine) GetRule(id string) (*domain.Rule, bool) { return e.rules.Get(id) }

// GetAllRules returns every registered rule, priority-ordered.
func (e *Engine) GetAllRules() []*domain.Rule { return e.rules.GetAll() }

// RuleHistory returns id's full version history, oldest first.
func (e *Engine) RuleHistory(id string) ([]versioning.Entry, error) {
	if e.versions == nil {
		return nil, engerrors.ServiceUnavailable("versioning")
	}
	return e.versions.History(id)
}

// DiffRuleVersions reports the top-level fields that differ between two
// recorded versions of id.
func (e *Engine) DiffRuleVersions(id string, fromVersion, toVersion int) ([]versioning.FieldDiff, error) {
	if e.versions == nil {
		return nil, engerrors.ServiceUnavailable("versioning")
	}
	return e.versions.Diff(id, fromVersion, toVersion)
}

// RollbackRule reverts id to the snapshot recorded at version, applying it
// as a new live version and recording the rollback as a first-class
// version entry (versioning.Store.Rollback already does the latter).
func (e *Engine) RollbackRule(id string, version int) (domain.Rule, error) {
	if e.versions == nil {
		return domain.Rule{}, engerrors.ServiceUnavailable("versioning")
	}
	rolledBack, err := e.versions.Rollback(id, version)
	if err != nil {
		return domain.Rule{}, err
	}
	updated, err := e.rules.Update(id, rolledBack)
	if err != nil {
		return domain.Rule{}, err
	}
	e.recorder.Audit(observability.AuditRolledBack,
		map[string]interface{}{"rule_id": id, "to_version": version}, "api")

	e.unscheduleTemporal(id)
	if updated.Trigger.Kind == domain.TriggerTemporal {
		e.scheduleTemporal(updated)
	}
	return updated, nil
}

// RegisterGroup, SetGroupEnabled, and GetGroup delegate directly to the
// rule manager's group CRUD.
func (e *Engine) RegisterGroup(g domain.RuleGroup) error      { return e.rules.RegisterGroup(g) }
func (e *Engine) SetGroupEnabled(id string, enabled bool) error { return e.rules.SetGroupEnabled(id, enabled) }
func (e *Engine) GetGroup(id string) (domain.RuleGroup, bool) { return e.rules.GetGroup(id) }

// Query runs a read-only backward-chaining proof search for goal (spec
// §4.8 "Backward Chainer").
func (e *Engine) Query(goal backward.Goal) backward.Result {
	result := e.chainer.Query(goal)
	e.recorder.Trace(observability.TraceBackwardQuery,
		map[string]interface{}{"achievable": result.Achievable, "explored_rules": result.ExploredRules, "max_depth_reached": result.MaxDepthReached},
		observability.TraceMeta{DurationMs: int64(result.DurationMs)})
	return result
}

// scheduleTemporal registers rule's cron expression with the temporal
// scheduler. Each firing evaluates this one rule as a queued, depth-0
// stimulus (see fireTemporal).
func (e *Engine) scheduleTemporal(rule domain.Rule) {
	if e.cronSched == nil || rule.Trigger.Cron == "" {
		return
	}
	id, err := e.cronSched.AddFunc(rule.Trigger.Cron, func() { e.fireTemporal(rule.ID) })
	if err != nil {
		e.recorder.Audit(observability.AuditRuleFailed,
			map[string]interface{}{"stage": "schedule_temporal", "error": err.Error()}, rule.ID)
		return
	}
	e.cronMu.Lock()
	e.cronIDs[rule.ID] = id
	e.cronMu.Unlock()
}

func (e *Engine) unscheduleTemporal(ruleID string) {
	e.cronMu.Lock()
	id, ok := e.cronIDs[ruleID]
	if ok {
		delete(e.cronIDs, ruleID)
	}
	e.cronMu.Unlock()
	if ok && e.cronSched != nil {
		e.cronSched.Remove(id)
	}
}

// fireTemporal processes a cron firing as a queued, depth-0 stimulus
// against the single rule it was scheduled for.
func (e *Engine) fireTemporal(ruleID string) {
	_ = e.runQueued(func(ctx context.Context) {
		rule, ok := e.rules.Get(ruleID)
		if !ok {
			return
		}
		triggerData := map[string]interface{}{
			"temporal": map[string]interface{}{"ruleId": ruleID, "firedAt": time.Now().Format(time.RFC3339)},
		}
		e.evaluateRule(ctx, rule, triggerData, "", 0)
	})
}

// wrapReloadHooks layers observability recording (spec §4.7
// hot_reload_started/completed/failed) around any user-supplied hooks.
func (e *Engine) wrapReloadHooks(user reload.Hooks) reload.Hooks {
	return reload.Hooks{
		OnStarted: func() {
			e.recorder.Trace(observability.TraceHotReloadStarted, nil, observability.TraceMeta{})
			if user.OnStarted != nil {
				user.OnStarted()
			}
		},
		OnCompleted: func(added, removed, modified int, d time.Duration) {
			e.recorder.Trace(observability.TraceHotReloadCompleted,
				map[string]interface{}{"added": added, "removed": removed, "modified": modified, "duration_ms": d.Milliseconds()},
				observability.TraceMeta{})
			if user.OnCompleted != nil {
				user.OnCompleted(added, removed, modified, d)
			}
		},
		OnFailed: func(reason string, err error) {
			e.recorder.Trace(observability.TraceHotReloadFailed,
				map[string]interface{}{"reason": reason, "error": err.Error()}, observability.TraceMeta{})
			if user.OnFailed != nil {
				user.OnFailed(reason, err)
			}
		},
	}
}
