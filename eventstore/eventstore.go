// Package eventstore is the engine's bounded event archive: a ring of the
// most recent events, indexed by topic and by correlation id, evicting the
// oldest entries once a count or age bound is exceeded (spec §3 "Event").
package eventstore

import (
	"sync"
	"time"

	"github.com/ruleforge/engine/domain"
)

// Options bounds the archive. A zero value for either field disables that
// bound.
type Options struct {
	MaxEntries int
	MaxAge     time.Duration
}

// Store is a concurrency-safe bounded event archive.
type Store struct {
	mu      sync.RWMutex
	opts    Options
	events  []domain.Event // append-only order, oldest first
	byTopic map[string][]int
	byCorr  map[string][]int
}

// New creates an empty event store bounded by opts.
func New(opts Options) *Store {
	return &Store{
		opts:    opts,
		byTopic: make(map[string][]int),
		byCorr:  make(map[string][]int),
	}
}

// Append records e, then evicts entries exceeding the count/age bounds.
func (s *Store) Append(e domain.Event, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	idx := len(s.events) - 1
	s.byTopic[e.Topic] = append(s.byTopic[e.Topic], idx)
	if e.CorrelationID != "" {
		s.byCorr[e.CorrelationID] = append(s.byCorr[e.CorrelationID], idx)
	}

	s.evictLocked(now)
}

// evictLocked drops the oldest events past MaxEntries or MaxAge, then
// rebuilds the indexes (eviction is rare relative to appends, so a full
// rebuild keeps the indexing logic simple and correct).
func (s *Store) evictLocked(now time.Time) {
	cut := 0

	if s.opts.MaxEntries > 0 && len(s.events) > s.opts.MaxEntries {
		cut = len(s.events) - s.opts.MaxEntries
	}

	if s.opts.MaxAge > 0 {
		threshold := now.Add(-s.opts.MaxAge)
		for cut < len(s.events) && s.events[cut].Timestamp.Before(threshold) {
			cut++
		}
	}

	if cut == 0 {
		return
	}

	s.events = append([]domain.Event(nil), s.events[cut:]...)
	s.rebuildIndexesLocked()
}

func (s *Store) rebuildIndexesLocked() {
	s.byTopic = make(map[string][]int)
	s.byCorr = make(map[string][]int)
	for i, e := range s.events {
		s.byTopic[e.Topic] = append(s.byTopic[e.Topic], i)
		if e.CorrelationID != "" {
			s.byCorr[e.CorrelationID] = append(s.byCorr[e.CorrelationID], i)
		}
	}
}

// ByTopic returns every archived event with an exact topic match, oldest
// first.
func (s *Store) ByTopic(topic string) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byTopic[topic]
	out := make([]domain.Event, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.events[i])
	}
	return out
}

// ByCorrelation returns every archived event sharing correlationID, oldest
// first.
func (s *Store) ByCorrelation(correlationID string) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byCorr[correlationID]
	out := make([]domain.Event, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.events[i])
	}
	return out
}

// All returns every archived event, oldest first.
func (s *Store) All() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of archived events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
