// Package textmatch evaluates user supplied regular expressions with a hard
// time limit so a hostile pattern cannot stall event processing.
package textmatch

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dlclark/regexp2"
)

const DefaultTimeout = 10 * time.Millisecond

var compiled *ristretto.Cache[string, *regexp2.Regexp]

func init() {
	c, err := ristretto.NewCache(&ristretto.Config[string, *regexp2.Regexp]{
		NumCounters:        10_000,
		MaxCost:            1_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		panic(fmt.Sprintf("textmatch: regex cache: %v", err))
	}
	compiled = c
}

// compile returns a program for pattern bound to timeout. Programs are
// shared, so MatchTimeout is fixed before one is published to the cache.
func compile(pattern string, timeout time.Duration) (*regexp2.Regexp, error) {
	key := timeout.String() + "\x00" + pattern
	if re, ok := compiled.Get(key); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	re.MatchTimeout = timeout
	compiled.Set(key, re, 1)
	return re, nil
}

// Validate reports whether pattern compiles.
func Validate(pattern string) error {
	_, err := compile(pattern, DefaultTimeout)
	return err
}

// Result is the outcome of a bounded match.
type Result struct {
	Matched  bool
	TimedOut bool
}

// Match evaluates pattern against text within timeout. A timeout counts as
// a match and is reported through TimedOut.
func Match(pattern, text string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	re, err := compile(pattern, timeout)
	if err != nil {
		return Result{}, err
	}
	ok, err := re.MatchString(text)
	if err != nil {
		return Result{Matched: true, TimedOut: true}, nil
	}
	return Result{Matched: ok}, nil
}
