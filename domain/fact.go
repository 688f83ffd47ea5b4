// Package domain holds the engine's core data types: facts, events, timers,
// rules, rule groups, triggers, conditions, and actions.
package domain

import "time"

// Fact is a keyed value in the fact store. Keys are conventionally
// colon-delimited (e.g. "customer:123:age") though the key itself is opaque.
type Fact struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Source    string      `json:"source"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
