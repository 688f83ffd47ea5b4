// Package pattern compiles and caches the engine's two glob grammars:
// colon-delimited fact-key/timer-name patterns (where "*" matches exactly
// one segment) and dot-delimited topic patterns (where "*" matches exactly
// one segment and "**" matches zero or more segments). Compiled matchers are
// memoized per distinct pattern and retained across calls (spec §9).
package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// Cache compiles and memoizes pattern -> compiled matcher.
type Cache struct {
	mu       sync.RWMutex
	segments map[string]*regexp.Regexp // ":" delimited, single-segment "*"
	topics   map[string][]string       // "." delimited parts, "*" and "**"
}

// NewCache creates an empty pattern cache.
func NewCache() *Cache {
	return &Cache{
		segments: make(map[string]*regexp.Regexp),
		topics:   make(map[string][]string),
	}
}

// ClearCache removes all compiled patterns. Exposed for tests (spec §9).
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = make(map[string]*regexp.Regexp)
	c.topics = make(map[string][]string)
}

// MatchSegmented reports whether value matches a ":"-delimited pattern,
// used for fact keys and timer names. "*" matches exactly one segment.
func (c *Cache) MatchSegmented(pat, value string) bool {
	return c.compileSegmented(pat).MatchString(value)
}

// MatchTopic reports whether value matches a "."-delimited topic pattern.
// "*" matches exactly one segment; "**" matches zero or more segments.
func (c *Cache) MatchTopic(pat, value string) bool {
	return matchTopicParts(c.topicParts(pat), strings.Split(value, "."))
}

// IsLiteral reports whether pat contains no wildcard segment, i.e. it can be
// used directly as an exact-match index key.
func IsLiteral(pat string) bool {
	return !strings.Contains(pat, "*")
}

func (c *Cache) compileSegmented(pat string) *regexp.Regexp {
	c.mu.RLock()
	if re, ok := c.segments[pat]; ok {
		c.mu.RUnlock()
		return re
	}
	c.mu.RUnlock()

	re := compileSegments(pat, ":")

	c.mu.Lock()
	c.segments[pat] = re
	c.mu.Unlock()
	return re
}

func (c *Cache) topicParts(pat string) []string {
	c.mu.RLock()
	if parts, ok := c.topics[pat]; ok {
		c.mu.RUnlock()
		return parts
	}
	c.mu.RUnlock()

	parts := strings.Split(pat, ".")

	c.mu.Lock()
	c.topics[pat] = parts
	c.mu.Unlock()
	return parts
}

// compileSegments builds a regex where each delim-separated segment is
// either a literal or, if exactly "*", matches one non-empty run of
// non-delimiter characters.
func compileSegments(pat, delim string) *regexp.Regexp {
	parts := strings.Split(pat, delim)
	escDelim := regexp.QuoteMeta(delim)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "*" {
			out = append(out, "[^"+escDelim+"]+")
		} else {
			out = append(out, regexp.QuoteMeta(p))
		}
	}
	expr := "^" + strings.Join(out, escDelim) + "$"
	return regexp.MustCompile(expr)
}

// matchTopicParts matches dot-split pattern parts against dot-split value
// parts, where "*" matches exactly one part and "**" matches zero or more
// consecutive parts. Standard glob-with-double-star recursion.
func matchTopicParts(pat, val []string) bool {
	if len(pat) == 0 {
		return len(val) == 0
	}

	if pat[0] == "**" {
		// Try consuming zero, one, two, ... value parts for "**".
		for i := 0; i <= len(val); i++ {
			if matchTopicParts(pat[1:], val[i:]) {
				return true
			}
		}
		return false
	}

	if len(val) == 0 {
		return false
	}

	if pat[0] != "*" && pat[0] != val[0] {
		return false
	}

	return matchTopicParts(pat[1:], val[1:])
}
