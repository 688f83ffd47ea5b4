package interpolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseContext() Context {
	return Context{
		Event: map[string]interface{}{
			"topic": "order.created",
			"data": map[string]interface{}{
				"orderId": "o-1",
				"amount":  42.5,
			},
		},
		Fact: map[string]interface{}{
			"customer:123:status": "active",
		},
		Vars: map[string]interface{}{
			"item":       "widget",
			"item_index": 0,
		},
		Lookups: map[string]interface{}{
			"pricing": map[string]interface{}{"tier": "gold"},
		},
		Matched: []map[string]interface{}{
			{"field": "age", "value": 42},
		},
	}
}

func TestResolve_StringInterpolation(t *testing.T) {
	ctx := baseContext()
	got := Resolve("order ${event.data.orderId} costs ${event.data.amount}", ctx)
	assert.Equal(t, "order o-1 costs 42.5", got)
}

func TestResolve_UndefinedInterpolatesEmpty(t *testing.T) {
	ctx := baseContext()
	got := Resolve("value=${event.data.missing}", ctx)
	assert.Equal(t, "value=", got)
}

func TestResolve_RefMapWholeValue(t *testing.T) {
	ctx := baseContext()
	got := Resolve(map[string]interface{}{"ref": "event.data"}, ctx)
	m, ok := got.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "o-1", m["orderId"])
}

func TestResolve_FactAndVarAndLookupAndMatched(t *testing.T) {
	ctx := baseContext()
	assert.Equal(t, "active", Resolve("${fact.customer:123:status}", ctx))
	assert.Equal(t, "widget", Resolve("${var.item}", ctx))
	assert.Equal(t, "gold", Resolve("${lookup.pricing.tier}", ctx))
	assert.Equal(t, "age", Resolve("${matched.0.field}", ctx))
}

func TestResolve_TriggerAliasesEvent(t *testing.T) {
	ctx := baseContext()
	assert.Equal(t, "o-1", Resolve("${trigger.data.orderId}", ctx))
}

func TestResolve_NestedMapsAndSlices(t *testing.T) {
	ctx := baseContext()
	input := map[string]interface{}{
		"id":    "${event.data.orderId}",
		"items": []interface{}{"${var.item}", "static"},
	}
	got := Resolve(input, ctx).(map[string]interface{})
	assert.Equal(t, "o-1", got["id"])
	assert.Equal(t, []interface{}{"widget", "static"}, got["items"])
}

func TestLookup_UndefinedNamespaceField(t *testing.T) {
	ctx := baseContext()
	_, ok := Lookup("event.data.nope", ctx)
	assert.False(t, ok)
	_, ok = Lookup("bogusns.x", ctx)
	assert.False(t, ok)
}

func TestIsRefMap(t *testing.T) {
	path, ok := IsRefMap(map[string]interface{}{"ref": "a.b.c"})
	assert.True(t, ok)
	assert.Equal(t, "a.b.c", path)

	_, ok = IsRefMap(map[string]interface{}{"ref": "a", "extra": 1})
	assert.False(t, ok)

	_, ok = IsRefMap("not a map")
	assert.False(t, ok)
}

func TestResolveJSONPath(t *testing.T) {
	data := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "a"},
			map[string]interface{}{"id": "b"},
		},
	}
	got, err := ResolveJSONPath(data, "$.items[*].id")
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, got)
}
