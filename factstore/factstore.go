// Package factstore is the engine's keyed fact store: a mapping from fact
// key to fact, queryable by colon-delimited glob pattern, with every write
// tagged by its change source (spec §3 "Fact").
package factstore

import (
	"sort"
	"sync"
	"time"

	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/pattern"
)

// Store is a concurrency-safe, in-memory fact store.
type Store struct {
	mu      sync.RWMutex
	facts   map[string]domain.Fact
	pattern *pattern.Cache
}

// New creates an empty fact store using pc for pattern compilation/caching.
// If pc is nil, a private cache is created.
func New(pc *pattern.Cache) *Store {
	if pc == nil {
		pc = pattern.NewCache()
	}
	return &Store{facts: make(map[string]domain.Fact), pattern: pc}
}

// Set writes key=value tagged with source, returning the new fact and the
// previous fact (zero-value, false if none existed).
func (s *Store) Set(key string, value interface{}, source string, now time.Time) (domain.Fact, domain.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.facts[key]
	next := domain.Fact{Key: key, Value: value, Source: source, UpdatedAt: now}
	s.facts[key] = next
	return next, prev, existed
}

// Get returns the fact stored under key, if any.
func (s *Store) Get(key string) (domain.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	return f, ok
}

// Delete removes key, returning the removed fact if it existed.
func (s *Store) Delete(key string) (domain.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[key]
	if ok {
		delete(s.facts, key)
	}
	return f, ok
}

// Query returns every fact whose key matches pat (a ":"-delimited glob, or
// a literal key), ordered by key for deterministic output.
func (s *Store) Query(pat string) []domain.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pattern.IsLiteral(pat) {
		if f, ok := s.facts[pat]; ok {
			return []domain.Fact{f}
		}
		return nil
	}

	var out []domain.Fact
	for key, f := range s.facts {
		if s.pattern.MatchSegmented(pat, key) {
			out = append(out, f)
		}
	}
	sortFacts(out)
	return out
}

// All returns every fact currently stored, ordered by key.
func (s *Store) All() []domain.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	sortFacts(out)
	return out
}

// Len returns the number of facts currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

func sortFacts(facts []domain.Fact) {
	sort.Slice(facts, func(i, j int) bool { return facts[i].Key < facts[j].Key })
}
