// Package rulemgr registers rules and groups, indexes rules by trigger
// kind for fast dispatch, and enforces enable/disable and group gating
// (spec §4.2 "Rule Manager").
package rulemgr

import (
	"sort"
	"sync"

	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/internal/engerrors"
	"github.com/ruleforge/engine/pattern"
)

// Manager owns the rule/group registry and the per-trigger-kind inverted
// indexes (exact-pattern map + wildcard bucket) described in spec §3
// "Trigger kinds".
type Manager struct {
	mu      sync.RWMutex
	rules   map[string]*domain.Rule
	groups  map[string]*domain.RuleGroup
	nextSeq uint64
	pattern *pattern.Cache

	factExact map[string][]string // literal fact pattern -> rule ids
	factWild  []string            // rule ids whose fact pattern has a wildcard

	eventExact map[string][]string // literal event topic -> rule ids
	eventWild  []string

	timerExact map[string][]string // literal timer name -> rule ids
	timerWild  []string

	temporalRules []string // rule ids with a temporal trigger
}

// New creates an empty rule manager.
func New(pc *pattern.Cache) *Manager {
	if pc == nil {
		pc = pattern.NewCache()
	}
	return &Manager{
		rules:      make(map[string]*domain.Rule),
		groups:     make(map[string]*domain.RuleGroup),
		pattern:    pc,
		factExact:  make(map[string][]string),
		eventExact: make(map[string][]string),
		timerExact: make(map[string][]string),
	}
}

// RegisterGroup adds a rule group, rejecting a duplicate id.
func (m *Manager) RegisterGroup(g domain.RuleGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.groups[g.ID]; exists {
		return engerrors.Conflict("rule group", g.ID)
	}
	group := g
	m.groups[g.ID] = &group
	return nil
}

// SetGroupEnabled toggles a group's enabled flag in place; individual rules
// are left untouched, their effective-enabled status changing implicitly.
func (m *Manager) SetGroupEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return engerrors.NotFound("rule group", id)
	}
	g.Enabled = enabled
	return nil
}

// GetGroup returns the named group, if it exists.
func (m *Manager) GetGroup(id string) (domain.RuleGroup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return domain.RuleGroup{}, false
	}
	return *g, true
}

// groupEnabled adapts the group map to the signature Rule.EffectivelyEnabled
// expects. Caller must hold m.mu (read or write).
func (m *Manager) groupEnabled(id string) (bool, bool) {
	g, ok := m.groups[id]
	if !ok {
		return false, false
	}
	return g.Enabled, true
}

// Register validates and indexes rule, rejecting a duplicate id, a missing
// required field, or a dangling group reference.
func (m *Manager) Register(rule domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validate(&rule); err != nil {
		return err
	}

	if _, exists := m.rules[rule.ID]; exists {
		return engerrors.Conflict("rule", rule.ID)
	}

	m.nextSeq++
	rule.InsertionSeq = m.nextSeq
	r := rule
	m.rules[rule.ID] = &r
	m.indexLocked(&r)
	return nil
}

// ValidateRule runs the same checks Register performs, without registering
// the rule or requiring a duplicate-id check against itself. Used by the
// hot-reload watcher's validateBeforeApply step to pre-flight a whole
// source's rules before committing any of them (spec §4.7).
func (m *Manager) ValidateRule(rule domain.Rule) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validate(&rule)
}

func (m *Manager) validate(rule *domain.Rule) error {
	var issues []engerrors.Issue
	if rule.ID == "" {
		issues = append(issues, engerrors.Issue{Field: "id", Message: "id is required", Severity: engerrors.SeverityError})
	}
	if rule.Name == "" {
		issues = append(issues, engerrors.Issue{Field: "name", Message: "name is required", Severity: engerrors.SeverityError})
	}
	if !rule.Trigger.Kind.Valid() {
		issues = append(issues, engerrors.Issue{Field: "trigger.kind", Message: "unrecognized trigger kind", Severity: engerrors.SeverityError})
	}
	if rule.Trigger.Kind == domain.TriggerTemporal {
		if rule.Trigger.Cron == "" {
			issues = append(issues, engerrors.Issue{Field: "trigger.cron", Message: "cron is required for a temporal trigger", Severity: engerrors.SeverityError})
		}
	} else if rule.Trigger.Kind.Valid() && rule.Trigger.Pattern == "" {
		issues = append(issues, engerrors.Issue{Field: "trigger.pattern", Message: "pattern is required", Severity: engerrors.SeverityError})
	}
	for _, c := range rule.Conditions {
		if !c.Operator.Valid() {
			issues = append(issues, engerrors.Issue{Field: "conditions.operator", Message: "unrecognized operator", Severity: engerrors.SeverityError})
		}
	}
	if rule.Group != "" {
		if _, exists := m.groups[rule.Group]; !exists {
			issues = append(issues, engerrors.Issue{Field: "group", Message: "referenced group does not exist", Severity: engerrors.SeverityError})
		}
	}

	if len(issues) > 0 {
		return engerrors.Validation("rule failed validation", issues...)
	}
	return nil
}

// indexLocked adds r's trigger to the appropriate inverted index. Caller
// must hold m.mu for writing.
func (m *Manager) indexLocked(r *domain.Rule) {
	switch r.Trigger.Kind {
	case domain.TriggerFact:
		addToIndex(m.factExact, &m.factWild, r.Trigger.Pattern, r.ID)
	case domain.TriggerEvent:
		addToIndex(m.eventExact, &m.eventWild, r.Trigger.Pattern, r.ID)
	case domain.TriggerTimer:
		addToIndex(m.timerExact, &m.timerWild, r.Trigger.Pattern, r.ID)
	case domain.TriggerTemporal:
		m.temporalRules = append(m.temporalRules, r.ID)
	}
}

func addToIndex(exact map[string][]string, wild *[]string, pat, ruleID string) {
	if pattern.IsLiteral(pat) {
		exact[pat] = append(exact[pat], ruleID)
	} else {
		*wild = append(*wild, ruleID)
	}
}

// unindexLocked removes r's trigger from its inverted index. Caller must
// hold m.mu for writing.
func (m *Manager) unindexLocked(r *domain.Rule) {
	switch r.Trigger.Kind {
	case domain.TriggerFact:
		removeFromIndex(m.factExact, &m.factWild, r.Trigger.Pattern, r.ID)
	case domain.TriggerEvent:
		removeFromIndex(m.eventExact, &m.eventWild, r.Trigger.Pattern, r.ID)
	case domain.TriggerTimer:
		removeFromIndex(m.timerExact, &m.timerWild, r.Trigger.Pattern, r.ID)
	case domain.TriggerTemporal:
		m.temporalRules = removeID(m.temporalRules, r.ID)
	}
}

func removeFromIndex(exact map[string][]string, wild *[]string, pat, ruleID string) {
	if pattern.IsLiteral(pat) {
		exact[pat] = removeID(exact[pat], ruleID)
		if len(exact[pat]) == 0 {
			delete(exact, pat)
		}
	} else {
		*wild = removeID(*wild, ruleID)
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Unregister removes a rule by id, returning engerrors.NotFound if absent.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return engerrors.NotFound("rule", id)
	}
	m.unindexLocked(r)
	delete(m.rules, id)
	return nil
}

// Update replaces the rule registered under id with patch, preserving id
// and incrementing the version. Implemented as an atomic unindex+validate+
// reindex: on validation failure the original rule remains registered.
func (m *Manager) Update(id string, patch domain.Rule) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[id]
	if !ok {
		return domain.Rule{}, engerrors.NotFound("rule", id)
	}

	patch.ID = id
	if err := m.validate(&patch); err != nil {
		return domain.Rule{}, err
	}

	m.unindexLocked(existing)
	patch.InsertionSeq = existing.InsertionSeq
	patch.Version = existing.Version + 1
	patch.CreatedAt = existing.CreatedAt
	r := patch
	m.rules[id] = &r
	m.indexLocked(&r)
	return r, nil
}

// Enable sets a rule's own enabled flag to true.
func (m *Manager) Enable(id string) error { return m.setEnabled(id, true) }

// Disable sets a rule's own enabled flag to false. The rule remains
// registered and indexed but is filtered out at selection time.
func (m *Manager) Disable(id string) error { return m.setEnabled(id, false) }

func (m *Manager) setEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return engerrors.NotFound("rule", id)
	}
	r.Enabled = enabled
	return nil
}

// Get returns a defensive clone of the rule registered under id.
func (m *Manager) Get(id string) (*domain.Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetAll returns a defensive clone of every registered rule, ordered by
// descending priority then ascending insertion order.
func (m *Manager) GetAll() []*domain.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	sortByPriority(out)
	return out
}

// GetByFactPattern returns effectively-enabled rules whose fact trigger
// matches key, via an exact probe plus a scan of the wildcard bucket,
// sorted by descending priority with insertion-order tiebreak.
func (m *Manager) GetByFactPattern(key string) []*domain.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(m.factExact[key], m.factWild, func(r *domain.Rule) bool {
		return m.pattern.MatchSegmented(r.Trigger.Pattern, key)
	})
}

// GetByEventTopic returns effectively-enabled rules whose event trigger
// matches topic.
func (m *Manager) GetByEventTopic(topic string) []*domain.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(m.eventExact[topic], m.eventWild, func(r *domain.Rule) bool {
		return m.pattern.MatchTopic(r.Trigger.Pattern, topic)
	})
}

// GetByTimerName returns effectively-enabled rules whose timer trigger
// matches name.
func (m *Manager) GetByTimerName(name string) []*domain.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(m.timerExact[name], m.timerWild, func(r *domain.Rule) bool {
		return m.pattern.MatchSegmented(r.Trigger.Pattern, name)
	})
}

// GetTemporalRules returns every effectively-enabled rule with a temporal
// trigger.
func (m *Manager) GetTemporalRules() []*domain.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool, len(m.temporalRules))
	var out []*domain.Rule
	for _, id := range m.temporalRules {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := m.rules[id]; ok && m.effectivelyEnabledLocked(r) {
			out = append(out, r.Clone())
		}
	}
	sortByPriority(out)
	return out
}

func (m *Manager) lookupLocked(exactIDs, wildIDs []string, matches func(*domain.Rule) bool) []*domain.Rule {
	seen := make(map[string]bool, len(exactIDs)+len(wildIDs))
	var out []*domain.Rule

	for _, id := range exactIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := m.rules[id]; ok && m.effectivelyEnabledLocked(r) {
			out = append(out, r.Clone())
		}
	}
	for _, id := range wildIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		r, ok := m.rules[id]
		if !ok || !m.effectivelyEnabledLocked(r) || !matches(r) {
			continue
		}
		out = append(out, r.Clone())
	}

	sortByPriority(out)
	return out
}

func (m *Manager) effectivelyEnabledLocked(r *domain.Rule) bool {
	return r.EffectivelyEnabled(m.groupEnabled)
}

func sortByPriority(rules []*domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].InsertionSeq < rules[j].InsertionSeq
	})
}
