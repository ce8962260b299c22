// Package retry provides the gateway reconnection policy and a generic retry helper.
//
// # Reconnection policy
//
// Backoff computes the delay before reconnect attempt n as
//
//	min(Base*2^n + jitter, Max)
//
// with Base 1s, Max 30s and jitter bounded by JitterFraction of the
// exponential term. Reset sets n back to zero; the connection manager calls
// it once a connection has stayed up long enough to count as stable.
// Backoff implements backoff.BackOff from github.com/cenkalti/backoff/v4.
//
// # Retrying operations
//
// Do retries a function with exponential backoff until it succeeds, the
// attempts run out, ctx ends, or the function returns an error wrapped with
// NonRetryable:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return publisher.Connect(ctx)
//	})
//
// DoWithResult is the same for functions that return a value.
package retry
