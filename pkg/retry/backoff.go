package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnection defaults.
const (
	DefaultBase           = time.Second
	DefaultMax            = 30 * time.Second
	DefaultJitterFraction = 0.1
)

// Backoff is the reconnection policy: the delay before attempt n is
// min(Base*2^n + jitter, Max) with jitter drawn from [0, JitterFraction*Base*2^n).
// It implements backoff.BackOff so it can drive backoff.Retry or be stepped
// manually. Safe for concurrent use.
type Backoff struct {
	Base           time.Duration
	Max            time.Duration
	JitterFraction float64
	// MaxAttempts stops the policy after that many delays. Zero is unlimited.
	MaxAttempts int

	mu      sync.Mutex
	attempt int
	rnd     func() float64
}

var _ backoff.BackOff = (*Backoff)(nil)

// NewBackoff returns a policy with the given base and cap and the default jitter.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBase
	}
	if max < base {
		max = base
	}
	return &Backoff{
		Base:           base,
		Max:            max,
		JitterFraction: DefaultJitterFraction,
		rnd:            rand.Float64,
	}
}

// Delay computes the delay for attempt n given a jitter sample r in [0,1).
func (b *Backoff) Delay(n int, r float64) time.Duration {
	if n < 0 {
		n = 0
	}
	exp := b.Base
	for i := 0; i < n && exp < b.Max; i++ {
		exp *= 2
	}
	if exp > b.Max {
		exp = b.Max
	}
	jitter := time.Duration(float64(exp) * b.JitterFraction * r)
	if d := exp + jitter; d < b.Max {
		return d
	}
	return b.Max
}

// NextBackOff returns the delay for the current attempt and advances the counter.
func (b *Backoff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return backoff.Stop
	}
	r := 0.0
	if b.rnd != nil {
		r = b.rnd()
	}
	d := b.Delay(b.attempt, r)
	b.attempt++
	return d
}

// Reset clears the attempt counter, typically after a stable connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
