package domain

import "time"

// RuleGroup gates a collection of rules as a unit without modifying the
// individual rules. A rule is effectively enabled iff it is enabled AND
// (it has no group OR its group is enabled).
type RuleGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool    `json:"enabled"`
}

// Rule is the engine's unit of reactive behavior.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	Version     int       `json:"version"`
	Tags        []string  `json:"tags,omitempty"`
	Group       string    `json:"group,omitempty"`
	Trigger     Trigger   `json:"trigger"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Actions     []Action  `json:"actions,omitempty"`
	Lookups     []Lookup  `json:"lookups,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// insertionSeq breaks priority ties deterministically in the order
	// rules were registered. Not part of the public wire shape.
	InsertionSeq uint64 `json:"-"`
}

// EffectivelyEnabled reports whether the rule should be considered for
// selection, accounting for group gating (spec §3 "Rule" invariants).
func (r *Rule) EffectivelyEnabled(groupEnabled func(groupID string) (enabled bool, exists bool)) bool {
	if r == nil || !r.Enabled {
		return false
	}
	if r.Group == "" {
		return true
	}
	enabled, exists := groupEnabled(r.Group)
	return exists && enabled
}

// Clone returns a deep-enough copy of the rule so that callers holding a
// reference into the rule manager's index cannot mutate a rule that is
// mid-evaluation (spec invariant 6).
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Tags = append([]string(nil), r.Tags...)
	clone.Conditions = append([]Condition(nil), r.Conditions...)
	clone.Actions = append([]Action(nil), r.Actions...)
	clone.Lookups = append([]Lookup(nil), r.Lookups...)
	return &clone
}
