// Package ratelimit provides the per-connection inbound message limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive refills deterministically.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// A token is stored as one second's worth of nanoseconds so that a rate of
// N tokens/sec refills exactly N units per elapsed nanosecond.
const unitsPerToken = int64(time.Second)

// TokenBucket allows bursts of up to burst messages and refills at perSecond
// messages per second. It is safe for concurrent use.
type TokenBucket struct {
	clock     Clock
	burst     int64
	perSecond int64

	mu    sync.Mutex
	units int64
	last  time.Time
}

// NewTokenBucket returns a full bucket. A non-positive perSecond disables
// refills; a non-positive burst denies everything.
func NewTokenBucket(clock Clock, burst, perSecond int) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	b := &TokenBucket{
		clock:     clock,
		burst:     int64(max(burst, 0)),
		perSecond: int64(max(perSecond, 0)),
		last:      clock.Now(),
	}
	b.units = b.capacity()
	return b
}

func (b *TokenBucket) capacity() int64 {
	return b.burst * unitsPerToken
}

// Allow takes one token if available.
func (b *TokenBucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN takes n tokens if all of them are available. n <= 0 always
// succeeds.
func (b *TokenBucket) AllowN(n int) bool {
	if n <= 0 {
		return true
	}
	if int64(n) > b.burst {
		return false
	}
	cost := int64(n) * unitsPerToken

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.units < cost {
		return false
	}
	b.units -= cost
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	b.last = now
	if elapsed <= 0 || b.perSecond == 0 {
		return
	}
	missing := b.capacity() - b.units
	if missing <= 0 {
		return
	}
	// elapsed*perSecond can overflow for long idle periods; anything past
	// the time needed to fill up just fills up.
	if int64(elapsed) >= missing/b.perSecond+1 {
		b.units = b.capacity()
		return
	}
	b.units += int64(elapsed) * b.perSecond
	if b.units > b.capacity() {
		b.units = b.capacity()
	}
}
