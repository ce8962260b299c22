package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransportError reports a socket-level failure: dial, read, write or close.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorClass implements classification for IsTransient and friends.
func (e *TransportError) ErrorClass() ErrorClass { return ErrorTransient }

// AuthenticationError is returned when login is refused or cannot be confirmed.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %v", e.Err)
	case e.Reason != "":
		return "authentication failed: " + e.Reason
	default:
		return "authentication failed"
	}
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ErrorClass implements classification; a refused login is not retried.
func (e *AuthenticationError) ErrorClass() ErrorClass { return ErrorFatal }

// CommandTimeoutError is returned when no correlated response arrived in time.
type CommandTimeoutError struct {
	Command       string
	CorrelationID string
	Timeout       time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %s (%s) timed out after %s", e.Command, e.CorrelationID, e.Timeout)
}

// ErrorClass implements classification.
func (e *CommandTimeoutError) ErrorClass() ErrorClass { return ErrorTransient }

// CommandRejectedError carries the gateway's RTN_ERR reply.
type CommandRejectedError struct {
	Command string
	Attempt string
	Reason  string
}

func (e *CommandRejectedError) Error() string {
	attempt := e.Attempt
	if attempt == "" {
		attempt = e.Command
	}
	return fmt.Sprintf("gateway rejected %s: %s", attempt, e.Reason)
}

// ErrorClass implements classification.
func (e *CommandRejectedError) ErrorClass() ErrorClass { return ErrorInvalid }

// AcquisitionTimeoutError is returned when a reading stage did not complete.
type AcquisitionTimeoutError struct {
	Serial  string
	Stage   string
	Timeout time.Duration
}

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("acquisition for sensor %s timed out waiting for %s after %s", e.Serial, e.Stage, e.Timeout)
}

// ErrorClass implements classification.
func (e *AcquisitionTimeoutError) ErrorClass() ErrorClass { return ErrorTransient }

// AcquisitionFailedError is returned when the gateway reports that a reading
// could not be started.
type AcquisitionFailedError struct {
	Serial string
	Reason string
}

func (e *AcquisitionFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("acquisition for sensor %s failed to start", e.Serial)
	}
	return fmt.Sprintf("acquisition for sensor %s failed to start: %s", e.Serial, e.Reason)
}

// ErrorClass implements classification.
func (e *AcquisitionFailedError) ErrorClass() ErrorClass { return ErrorInvalid }

// StrategyFailure records why one decoding strategy was rejected.
type StrategyFailure struct {
	Strategy string
	Axis     string
	Reason   string
}

// WaveformDecodeError lists every strategy attempted and why each failed.
type WaveformDecodeError struct {
	Failures []StrategyFailure
}

func (e *WaveformDecodeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Axis != "" {
			parts = append(parts, fmt.Sprintf("%s: axis %s: %s", f.Strategy, f.Axis, f.Reason))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", f.Strategy, f.Reason))
	}
	return "waveform decode failed (" + strings.Join(parts, "; ") + ")"
}

// Strategies returns the attempted strategy names in order.
func (e *WaveformDecodeError) Strategies() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Strategy)
	}
	return names
}

// Is lets errors.Is(err, ErrInvalidData) match decode failures.
func (e *WaveformDecodeError) Is(target error) bool {
	return target == ErrInvalidData
}

// ErrorClass implements classification.
func (e *WaveformDecodeError) ErrorClass() ErrorClass { return ErrorInvalid }

// IsRejected reports whether err carries a gateway RTN_ERR and returns it.
func IsRejected(err error) (*CommandRejectedError, bool) {
	var rejected *CommandRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
