package domain

// ConditionSourceKind enumerates where a condition pulls its actual value from.
type ConditionSourceKind string

const (
	SourceFact     ConditionSourceKind = "fact"
	SourceEvent    ConditionSourceKind = "event"
	SourceContext  ConditionSourceKind = "context"
	SourceLookup   ConditionSourceKind = "lookup"
	SourceBaseline ConditionSourceKind = "baseline"
)

// Operator enumerates the closed set of condition comparison operators.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpNotContain Operator = "not_contains"
	OpMatches    Operator = "matches"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// Valid reports whether op is one of the recognized operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
		OpContains, OpNotContain, OpMatches, OpExists, OpNotExists:
		return true
	default:
		return false
	}
}

// ConditionSource identifies where a condition reads its actual value.
// Exactly one of the namespaced fields is meaningful, selected by Kind.
type ConditionSource struct {
	Kind ConditionSourceKind `json:"kind"`

	// fact / event / context
	Pattern string `json:"pattern,omitempty"` // fact pattern
	Field   string `json:"field,omitempty"`   // event field / lookup field
	Key     string `json:"key,omitempty"`     // context key

	// lookup
	LookupName string `json:"lookupName,omitempty"`

	// baseline
	Metric      string  `json:"metric,omitempty"`
	Comparison  string  `json:"comparison,omitempty"` // above|below|outside
	Sensitivity float64 `json:"sensitivity,omitempty"`
	Method      string  `json:"method,omitempty"` // zscore|percentile
	Percentile  float64 `json:"percentile,omitempty"`
	MinSamples  int     `json:"minSamples,omitempty"`
}

// Condition is one entry of a rule's ordered, AND-with-short-circuit list.
type Condition struct {
	Source   ConditionSource `json:"source"`
	Operator Operator        `json:"operator"`
	Value    interface{}     `json:"value"` // literal, or {"ref": "..."} map
}
