package command

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/ctcgateway/metric"
)

// DefaultTimeout bounds a command round trip when no per-call timeout is set.
const DefaultTimeout = 30 * time.Second

// RouterOption configures a Router
type RouterOption func(*Router) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithMetrics registers router metrics under name
func WithMetrics(registry *metric.MetricsRegistry, name string) RouterOption {
	return func(r *Router) error {
		r.metrics = newMetrics(registry, name)
		return nil
	}
}

// WithDefaultTimeout overrides DefaultTimeout
func WithDefaultTimeout(d time.Duration) RouterOption {
	return func(r *Router) error {
		if d <= 0 {
			return fmt.Errorf("default timeout must be positive, got %s", d)
		}
		r.defaultTimeout = d
		return nil
	}
}

// WithRateLimit caps outbound commands per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) RouterOption {
	return func(r *Router) error {
		if perSecond <= 0 {
			r.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

type sendOptions struct {
	timeout time.Duration
	target  string
}

// Option adjusts a single Send call
type Option func(*sendOptions)

// WithTimeout sets the response deadline for one command
func WithTimeout(d time.Duration) Option {
	return func(o *sendOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTarget sets the envelope Target field
func WithTarget(target string) Option {
	return func(o *sendOptions) {
		o.target = target
	}
}
