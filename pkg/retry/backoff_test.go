package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_DelayBounds(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	for n := 0; n < 10; n++ {
		exp := time.Duration(1000*(1<<n)) * time.Millisecond
		lower := exp
		if lower > 30*time.Second {
			lower = 30 * time.Second
		}
		upper := time.Duration(float64(exp) * (1 + DefaultJitterFraction))
		if upper > 30*time.Second {
			upper = 30 * time.Second
		}

		assert.Equal(t, lower, b.Delay(n, 0), "attempt %d without jitter", n)
		got := b.Delay(n, 0.999)
		assert.GreaterOrEqual(t, got, lower, "attempt %d", n)
		assert.LessOrEqual(t, got, upper, "attempt %d", n)
	}
}

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)
	b.rnd = func() float64 { return 0 }

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempt())
}

func TestBackoff_ResetRestartsSequence(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)
	b.rnd = func() float64 { return 0 }

	b.NextBackOff()
	b.NextBackOff()
	b.NextBackOff()
	require.Equal(t, 3, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestBackoff_MaxAttempts(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 100*time.Millisecond)
	b.MaxAttempts = 2

	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, DefaultBase, b.Base)
	assert.Equal(t, DefaultBase, b.Max)

	huge := NewBackoff(time.Minute, time.Hour)
	assert.Equal(t, time.Hour, huge.Delay(200, 0))
}
