package reload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ruleforge/engine/domain"
)

// hashableRule is the canonicalized top-level projection of a rule that
// hot-reload diffing hashes: id, name, description, priority, enabled,
// version, tags, group, trigger, and lookups. Conditions and actions are
// deliberately excluded — spec §4.7 calls for a hash "canonicalized over
// top-level fields of the rule input", and nested condition/action trees
// are reserved for a future widening of this projection.
type hashableRule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
	Version     int             `json:"version"`
	Tags        []string        `json:"tags"`
	Group       string          `json:"group"`
	Trigger     domain.Trigger  `json:"trigger"`
	Lookups     []domain.Lookup `json:"lookups"`
}

// hashRule computes the stable hex digest hot-reload uses to detect
// added/removed/modified rules across polling cycles.
func hashRule(r domain.Rule) string {
	h := hashableRule{
		ID: r.ID, Name: r.Name, Description: r.Description,
		Priority: r.Priority, Enabled: r.Enabled, Version: r.Version,
		Tags: r.Tags, Group: r.Group, Trigger: r.Trigger, Lookups: r.Lookups,
	}
	b, _ := json.Marshal(h)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
