// Package durationutil parses the engine's duration literal grammar:
// ^\d+(ms|s|m|h|d|w|y)$, or a plain integer interpreted as milliseconds.
package durationutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var unitMultiplier = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

var literalPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d|w|y)$`)
var plainIntPattern = regexp.MustCompile(`^\d+$`)

// Parse parses a duration literal. Accepts a bare non-negative integer
// (milliseconds) or digits followed by one of ms|s|m|h|d|w|y.
func Parse(literal string) (time.Duration, error) {
	s := strings.TrimSpace(literal)
	if s == "" {
		return 0, fmt.Errorf("durationutil: empty literal")
	}

	if plainIntPattern.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("durationutil: invalid duration literal %q: %w", literal, err)
		}
		return time.Duration(n) * time.Millisecond, nil
	}

	m := literalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("durationutil: invalid duration literal %q", literal)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("durationutil: invalid duration literal %q: %w", literal, err)
	}
	return time.Duration(n) * unitMultiplier[m[2]], nil
}

// MustParse parses literal and panics on error. Intended for constant
// literals constructed in code, not for untrusted input.
func MustParse(literal string) time.Duration {
	d, err := Parse(literal)
	if err != nil {
		panic(err)
	}
	return d
}
