package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockPublisher is an in-memory stand-in for a NATS or MQTT connection.
// It satisfies sink.Publisher and stores every payload by subject.
// Thread-safe for concurrent use from multiple goroutines.
type MockPublisher struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	failWith error
	calls    int
	closed   bool
}

// NewMockPublisher creates an empty publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][][]byte)}
}

// Publish records data under subject, or returns the injected failure.
func (p *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}
	if p.failWith != nil {
		return p.failWith
	}

	// Copy so callers cannot mutate what was recorded
	buf := make([]byte, len(data))
	copy(buf, data)
	p.messages[subject] = append(p.messages[subject], buf)
	return nil
}

// FailWith makes every following Publish return err. nil restores success.
func (p *MockPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Calls returns how many times Publish reached the publisher.
func (p *MockPublisher) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

// GetMessages returns a copy of the payloads recorded for subject.
func (p *MockPublisher) GetMessages(subject string) [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msgs := p.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// Subjects returns every subject that received a payload.
func (p *MockPublisher) Subjects() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	subjects := make([]string, 0, len(p.messages))
	for s := range p.messages {
		subjects = append(subjects, s)
	}
	return subjects
}

// Close implements sink.Publisher.
func (p *MockPublisher) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (p *MockPublisher) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// WaitForMessage polls until subject has a payload and returns the latest.
func WaitForMessage(t *testing.T, p *MockPublisher, subject string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for message on subject %s", subject)
			return nil
		case <-ticker.C:
			if msgs := p.GetMessages(subject); len(msgs) > 0 {
				return msgs[len(msgs)-1]
			}
		}
	}
}
