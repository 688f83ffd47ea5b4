// Package lookup resolves a rule's declared external-data lookups against
// the service registry, with TTL caching and a per-lookup error strategy
// (spec §4.5 "Lookup Resolver and Cache").
package lookup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/interpolate"
	"github.com/ruleforge/engine/internal/engerrors"
	"github.com/ruleforge/engine/internal/resilience"
	"github.com/ruleforge/engine/internal/ttlcache"
	"github.com/ruleforge/engine/serviceregistry"
)

// Result is the outcome of resolving one rule lookup.
type Result struct {
	Name  string
	Value interface{}
	Err   error
}

// Resolver resolves a rule's lookups[] concurrently against the service
// registry, with a TTL cache keyed on (service, method, args) and optional
// circuit breaking / retry around each uncached invocation.
type Resolver struct {
	registry *serviceregistry.Registry
	cache    *ttlcache.Cache
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCircuitBreaker wraps each uncached service call with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Resolver) { r.breaker = cb }
}

// WithRetry retries each uncached service call per cfg.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Resolver) { r.retry = cfg }
}

// New creates a Resolver backed by registry, with its own TTL cache.
func New(registry *serviceregistry.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		cache:    ttlcache.New(ttlcache.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAll resolves every declared lookup concurrently against refCtx
// (used to resolve {ref} args), returning a name->value map merged for the
// evaluation context, plus an error if any lookup with onError=fail
// failed. If any lookup with onError=skip failed, ok is false and the
// caller should skip the rule as a whole (spec §4.5).
func (r *Resolver) ResolveAll(ctx context.Context, lookups []domain.Lookup, refCtx interpolate.Context) (values map[string]interface{}, ok bool, err error) {
	ok = true
	results := make([]Result, len(lookups))

	var wg sync.WaitGroup
	for i, l := range lookups {
		wg.Add(1)
		go func(i int, l domain.Lookup) {
			defer wg.Done()
			results[i] = r.resolveOne(ctx, l, refCtx)
		}(i, l)
	}
	wg.Wait()

	values = make(map[string]interface{}, len(lookups))
	for i, l := range lookups {
		res := results[i]
		if res.Err == nil {
			values[l.Name] = res.Value
			continue
		}
		if l.OnError == domain.LookupOnErrorFail {
			return nil, true, res.Err
		}
		// skip (default): the whole rule is skipped, no later lookup's
		// success or failure changes that outcome.
		ok = false
	}
	if !ok {
		return nil, false, nil
	}
	return values, ok, nil
}

func (r *Resolver) resolveOne(ctx context.Context, l domain.Lookup, refCtx interpolate.Context) Result {
	args := make([]interface{}, len(l.Args))
	for i, a := range l.Args {
		args[i] = interpolate.Resolve(a, refCtx)
	}

	key := cacheKey(l.Service, l.Method, args)
	if l.Cache != nil {
		if cached, found := r.cache.Get(key); found {
			return Result{Name: l.Name, Value: cached}
		}
	}

	value, err := r.invoke(ctx, l.Service, l.Method, args)
	if err != nil {
		return Result{Name: l.Name, Err: err}
	}

	if l.Cache != nil {
		r.cache.Set(key, value, l.Cache.TTL)
	}
	return Result{Name: l.Name, Value: value}
}

func (r *Resolver) invoke(ctx context.Context, service, method string, args []interface{}) (interface{}, error) {
	call := func() (interface{}, error) {
		return r.registry.Invoke(ctx, service, method, args)
	}

	if r.breaker == nil && r.retry.MaxAttempts == 0 {
		return call()
	}

	var result interface{}
	wrapped := func() error {
		v, err := call()
		if err != nil {
			return err
		}
		result = v
		return nil
	}

	exec := wrapped
	if r.breaker != nil {
		inner := exec
		exec = func() error { return r.breaker.Execute(ctx, inner) }
	}

	var err error
	if r.retry.MaxAttempts > 0 {
		err = resilience.Retry(ctx, r.retry, exec)
	} else {
		err = exec()
	}
	if err != nil {
		return nil, engerrors.Wrap(engerrors.CodeServiceUnavailable, fmt.Sprintf("lookup %s.%s failed", service, method), 503, err)
	}
	return result, nil
}

// cacheKey computes hash(service, method, args) per spec §4.5.
func cacheKey(service, method string, args []interface{}) string {
	b, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(service+"\x00"+method+"\x00"), b...))
	return hex.EncodeToString(sum[:])
}
