package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/internal/obslog"
	"github.com/ruleforge/engine/pattern"
)

// Subscribe registers handler against topicPattern and returns a function
// that removes it. Literal patterns are indexed exactly; patterns
// containing a wildcard segment are matched at emit time (spec §4.1
// "Subscribers").
func (e *Engine) Subscribe(topicPattern string, handler Handler) (unsubscribe func()) {
	id := uuid.NewString()

	e.subsMu.Lock()
	if pattern.IsLiteral(topicPattern) {
		if e.subs[topicPattern] == nil {
			e.subs[topicPattern] = make(map[string]Handler)
		}
		e.subs[topicPattern][id] = handler
	} else {
		e.wildSubs[id] = wildSub{pattern: topicPattern, handler: handler}
	}
	e.subsMu.Unlock()

	return func() { e.unsubscribe(topicPattern, id) }
}

func (e *Engine) unsubscribe(topicPattern, id string) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if pattern.IsLiteral(topicPattern) {
		delete(e.subs[topicPattern], id)
		if len(e.subs[topicPattern]) == 0 {
			delete(e.subs, topicPattern)
		}
		return
	}
	delete(e.wildSubs, id)
}

// notifySubscribers runs every handler matching ev's topic in parallel;
// exact-topic handlers are gathered first, then wildcard handlers (spec
// §4.1: "exact matches are appended first, then wildcard patterns are
// tested"). A handler panic is recovered, logged, and otherwise swallowed.
func (e *Engine) notifySubscribers(ev domain.Event) {
	e.subsMu.RLock()
	handlers := make([]Handler, 0, len(e.subs[ev.Topic])+len(e.wildSubs))
	for _, h := range e.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	for _, ws := range e.wildSubs {
		if e.patternCache.MatchTopic(ws.pattern, ev.Topic) {
			handlers = append(handlers, ws.handler)
		}
	}
	e.subsMu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer wg.Done()
			defer e.recoverSubscriberPanic(ev)
			h(ev)
		}()
	}
	wg.Wait()
}

// recoverSubscriberPanic recovers a panicking handler so one bad
// subscriber can't take down emit's other handlers or the caller. There is
// no dedicated trace/audit vocabulary entry for this (spec §6/§7's closed
// sets don't name one), so the panic is written as an error line to the
// package-level obslog logger and otherwise swallowed.
func (e *Engine) recoverSubscriberPanic(ev domain.Event) {
	if r := recover(); r != nil {
		obslog.Default().WithFields(map[string]interface{}{"topic": ev.Topic, "event_id": ev.ID}).
			Errorf("subscriber handler panicked: %v", r)
	}
}
