// Package operatoreval evaluates a single (operator, actual, expected)
// triple per spec §4.3's operator semantics table.
package operatoreval

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/ruleforge/engine/domain"
)

// Evaluator evaluates operators, caching compiled "matches" regexes.
type Evaluator struct {
	mu     sync.RWMutex
	regexes map[string]*regexp.Regexp
}

// New creates an Evaluator with an empty regex cache.
func New() *Evaluator {
	return &Evaluator{regexes: make(map[string]*regexp.Regexp)}
}

// Evaluate applies op to (actual, expected) and returns the boolean result.
func (e *Evaluator) Evaluate(op domain.Operator, actual, expected interface{}) bool {
	switch op {
	case domain.OpEq:
		return looseEqual(actual, expected)
	case domain.OpNeq:
		return !looseEqual(actual, expected)
	case domain.OpGt:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a > b
	case domain.OpGte:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a >= b
	case domain.OpLt:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a < b
	case domain.OpLte:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a <= b
	case domain.OpIn:
		return e.memberOf(actual, expected)
	case domain.OpNotIn:
		return !e.memberOf(actual, expected)
	case domain.OpContains:
		return e.contains(actual, expected)
	case domain.OpNotContain:
		return !e.contains(actual, expected)
	case domain.OpMatches:
		return e.matches(actual, expected)
	case domain.OpExists:
		return isDefined(actual)
	case domain.OpNotExists:
		return !isDefined(actual)
	default:
		return false
	}
}

func isDefined(v interface{}) bool {
	return v != nil
}

func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func bothNumeric(a, b interface{}) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, 0, false
	}
	return af, bf, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// memberOf reports whether actual appears in the ordered sequence expected.
func (e *Evaluator) memberOf(actual, expected interface{}) bool {
	seq, ok := toSlice(expected)
	if !ok {
		return false
	}
	for _, item := range seq {
		if looseEqual(actual, item) {
			return true
		}
	}
	return false
}

// contains accepts strings and sequences with strict element equality.
func (e *Evaluator) contains(actual, expected interface{}) bool {
	switch a := actual.(type) {
	case string:
		s, ok := expected.(string)
		if !ok {
			return false
		}
		return containsSubstring(a, s)
	default:
		seq, ok := toSlice(actual)
		if !ok {
			return false
		}
		for _, item := range seq {
			if looseEqual(item, expected) {
				return true
			}
		}
		return false
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
}

// matches compiles (and caches) expected as a regex and tests actual against
// it. Returns false if actual isn't a string or the regex fails to compile.
func (e *Evaluator) matches(actual, expected interface{}) bool {
	s, ok := actual.(string)
	if !ok {
		return false
	}
	pat, ok := expected.(string)
	if !ok {
		return false
	}

	re, err := e.compile(pat)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (e *Evaluator) compile(pat string) (*regexp.Regexp, error) {
	e.mu.RLock()
	if re, ok := e.regexes[pat]; ok {
		e.mu.RUnlock()
		return re, nil
	}
	e.mu.RUnlock()

	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("operatoreval: compile %q: %w", pat, err)
	}

	e.mu.Lock()
	e.regexes[pat] = re
	e.mu.Unlock()
	return re, nil
}

// ClearCache empties the compiled-regex cache. Exposed for tests.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regexes = make(map[string]*regexp.Regexp)
}
