// Package interpolate resolves the two forms of dynamic substitution the
// action executor and lookup resolver support (spec §4.4): "${path}" string
// interpolation and {"ref": "path"} whole-value replacement. Reference
// paths are namespaced: event.<field>, trigger.<field> (alias of event),
// fact.<key>, var.<name.path>, lookup.<name.field>, matched.<index>.<field>.
package interpolate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
)

// Context is the namespaced lookup surface a reference path resolves
// against. Any field may be nil/empty if not applicable to the call site.
type Context struct {
	Event    map[string]interface{}
	Fact     map[string]interface{} // keyed by fact key
	Vars     map[string]interface{}
	Lookups  map[string]interface{} // keyed by lookup name
	Matched  []map[string]interface{}
}

var refPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// IsRefMap reports whether v is a whole-value reference of the shape
// {"ref": "path"}.
func IsRefMap(v interface{}) (string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return "", false
	}
	raw, ok := m["ref"]
	if !ok {
		return "", false
	}
	path, ok := raw.(string)
	return path, ok
}

// Resolve resolves v against ctx: a {"ref": path} map resolves to the
// referenced value unchanged (any type); a string containing "${path}"
// tokens has each token replaced by the path's string form; any other
// value (including strings with no tokens) is returned unchanged. Maps and
// slices are resolved recursively.
func Resolve(v interface{}, ctx Context) interface{} {
	if path, ok := IsRefMap(v); ok {
		val, _ := Lookup(path, ctx)
		return val
	}

	switch typed := v.(type) {
	case string:
		return interpolateString(typed, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, elem := range typed {
			out[k] = Resolve(elem, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, elem := range typed {
			out[i] = Resolve(elem, ctx)
		}
		return out
	default:
		return v
	}
}

// interpolateString replaces every ${path} token in s with the string form
// of its resolved value. A string consisting of exactly one whole token
// with nothing else around it returns the resolved value's native string
// form without additional quoting; undefined references interpolate as "".
func interpolateString(s string, ctx Context) string {
	return refPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "${"), "}")
		val, defined := Lookup(path, ctx)
		if !defined {
			return ""
		}
		return stringify(val)
	})
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Lookup resolves a namespaced reference path against ctx. The second
// return value is false when the path's namespace or field is undefined.
func Lookup(path string, ctx Context) (interface{}, bool) {
	namespace, rest, _ := strings.Cut(path, ".")

	switch namespace {
	case "event", "trigger":
		return lookupJSON(ctx.Event, rest)
	case "fact":
		key, field, hasField := strings.Cut(rest, ".")
		val, ok := ctx.Fact[key]
		if !ok {
			return nil, false
		}
		if !hasField {
			return val, true
		}
		return lookupJSONValue(val, field)
	case "var":
		return lookupVar(ctx.Vars, rest)
	case "lookup":
		name, field, hasField := strings.Cut(rest, ".")
		val, ok := ctx.Lookups[name]
		if !ok {
			return nil, false
		}
		if !hasField {
			return val, true
		}
		return lookupJSONValue(val, field)
	case "matched":
		return lookupMatched(ctx.Matched, rest)
	default:
		return nil, false
	}
}

func lookupVar(vars map[string]interface{}, rest string) (interface{}, bool) {
	if rest == "" {
		return nil, false
	}
	name, field, hasField := strings.Cut(rest, ".")
	val, ok := vars[name]
	if !ok {
		return nil, false
	}
	if !hasField {
		return val, true
	}
	return lookupJSONValue(val, field)
}

func lookupMatched(matched []map[string]interface{}, rest string) (interface{}, bool) {
	idxStr, field, hasField := strings.Cut(rest, ".")
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(matched) {
		return nil, false
	}
	entry := matched[idx]
	if !hasField {
		return entry, true
	}
	return lookupJSONValue(entry, field)
}

// lookupJSON probes m with a gjson dot path. gjson reports existence
// separately from value, so absence is distinguishable from a stored null.
func lookupJSON(m map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return m, m != nil
	}
	return lookupJSONValue(m, path)
}

func lookupJSONValue(v interface{}, path string) (interface{}, bool) {
	if path == "" {
		return v, true
	}
	b, err := marshalCompact(v)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(b, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// ResolveJSONPath evaluates a full JSONPath expression (e.g.
// "$[?(@.active==true)]") against v using PaesslerAG/jsonpath. action.Executor
// calls this from for_each when the action declares a CollectionFilter,
// applying it to the already-ref-resolved Collection value for filter/
// wildcard selection beyond for_each's plain dotted ref path (spec §4.4
// "for_each").
func ResolveJSONPath(v interface{}, expr string) (interface{}, error) {
	result, err := jsonpath.Get(expr, v)
	if err != nil {
		return nil, fmt.Errorf("interpolate: jsonpath %q: %w", expr, err)
	}
	return result, nil
}

func marshalCompact(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
