package domain

import "time"

// LookupErrorStrategy controls what happens when a lookup invocation fails.
type LookupErrorStrategy string

const (
	LookupOnErrorSkip LookupErrorStrategy = "skip"
	LookupOnErrorFail LookupErrorStrategy = "fail"
)

// LookupCacheConfig configures the per-lookup TTL cache.
type LookupCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// Lookup declares a call to an external service whose result joins the
// evaluation context for conditions and actions. Args may be literals or
// {"ref": "event.field"} references resolved at call time.
type Lookup struct {
	Name    string              `json:"name"`
	Service string              `json:"service"`
	Method  string              `json:"method"`
	Args    []interface{}       `json:"args,omitempty"`
	Cache   *LookupCacheConfig  `json:"cache,omitempty"`
	OnError LookupErrorStrategy `json:"onError"`
}
