// Package ratelimit maintains per-fingerprint request counters over fixed
// windows. A fingerprint is a one-way hash of the caller's address, agent,
// and presented key, so counters survive neither key rotation nor address
// churn, which is the point: they describe a single client presenting a
// single credential.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// noKeySentinel stands in for an absent API key so that keyless clients
// share one counter per address/agent rather than producing hash collisions
// with the empty string of some other field.
const noKeySentinel = "no-key"

const shardCount = 32

// Policy is one admission quota: at most MaxRequests per Window.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// Decision is the outcome of one admit check. RetryAfter is only meaningful
// when Allowed is false, and reports the time left in the current window.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Fingerprint derives the counter key for a request. Same inputs always map
// to the same key; the raw inputs are not recoverable from it.
func Fingerprint(
	clientIP string,
	userAgent string,
	apiKey string,
) string {
	if apiKey == "" {
		apiKey = noKeySentinel
	}
	h := sha256.New()
	h.Write([]byte(clientIP))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(apiKey))
	return hex.EncodeToString(h.Sum(nil))
}

type counter struct {
	count       int
	windowStart time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// Limiter applies a single Policy across many fingerprints. Counters live in
// sharded maps so concurrent admits for unrelated fingerprints don't
// serialize on one lock; the read-increment-compare for a given fingerprint
// is atomic under its shard's mutex.
type Limiter struct {
	policy Policy
	grace  time.Duration
	shards [shardCount]*shard
	now    func() time.Time
}

func NewLimiter(policy Policy) *Limiter {
	l := &Limiter{
		policy: policy,
		grace:  policy.Window,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{counters: make(map[string]*counter)}
	}
	return l
}

func (l *Limiter) shardFor(fingerprint string) *shard {
	// fingerprints are uniformly distributed hex, so the first byte is as
	// good a shard selector as any
	if fingerprint == "" {
		return l.shards[0]
	}
	return l.shards[int(fingerprint[0])%shardCount]
}

// Admit counts one request against the fingerprint and decides whether it is
// within quota. Every call counts, including ones that are ultimately
// rejected downstream: failed auth attempts burn quota too.
func (l *Limiter) Admit(fingerprint string) Decision {
	now := l.now()
	s := l.shardFor(fingerprint)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[fingerprint]
	if !ok {
		c = &counter{windowStart: now}
		s.counters[fingerprint] = c
	} else if now.Sub(c.windowStart) >= l.policy.Window {
		c.count = 0
		c.windowStart = now
	}

	c.count++
	if c.count > l.policy.MaxRequests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: c.windowStart.Add(l.policy.Window).Sub(now),
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: l.policy.MaxRequests - c.count,
	}
}

// Sweep evicts counters whose window closed more than a grace period ago.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for fingerprint, c := range s.counters {
			if now.Sub(c.windowStart) >= l.policy.Window+l.grace {
				delete(s.counters, fingerprint)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
