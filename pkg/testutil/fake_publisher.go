// Package testutil provides testing utilities for the bridge and its
// plugins: a recording publisher, an event recorder and a test environment
// that runs a complete server in memory.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homebridge/pkg/hap"
)

// FirstPort is the port the fake publisher reports for the first accessory
// published with port 0.
const FirstPort = 51826

// FakePublisher records publish requests instead of touching the network.
type FakePublisher struct {
	mu          sync.Mutex
	calls       []PublishCall
	unpublished []string
	published   map[string]bool
	nextPort    int
	failures    map[string]error
	gate        <-chan struct{}
}

// NewFakePublisher creates a publisher that accepts every accessory.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{
		published: make(map[string]bool),
		nextPort:  FirstPort,
		failures:  make(map[string]error),
	}
}

// FailFor makes publishing the accessory with the given name fail with err.
func (p *FakePublisher) FailFor(displayName string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[displayName] = err
}

// HoldUnpublish makes Unpublish block until release is closed.
func (p *FakePublisher) HoldUnpublish(release <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = release
}

// Publish implements hap.Publisher.
func (p *FakePublisher) Publish(_ context.Context, acc *hap.Accessory, info hap.PublishInfo) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failures[acc.DisplayName]; ok {
		return 0, err
	}
	if p.published[acc.UUID] {
		return 0, fmt.Errorf("%w: %s", hap.ErrAlreadyPublished, acc.DisplayName)
	}

	port := info.Port
	if port == 0 {
		port = p.nextPort
		p.nextPort++
	}
	p.published[acc.UUID] = true
	p.calls = append(p.calls, PublishCall{
		Timestamp:   time.Now(),
		UUID:        acc.UUID,
		DisplayName: acc.DisplayName,
		Info:        info,
		Port:        port,
	})
	return port, nil
}

// Unpublish implements hap.Publisher.
func (p *FakePublisher) Unpublish(acc *hap.Accessory) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.published[acc.UUID] {
		return fmt.Errorf("%s is not published", acc.DisplayName)
	}
	delete(p.published, acc.UUID)
	p.unpublished = append(p.unpublished, acc.DisplayName)
	return nil
}

// Calls returns every successful publish in order.
func (p *FakePublisher) Calls() []PublishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// PublishCount returns the number of successful publishes.
func (p *FakePublisher) PublishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Unpublished returns the names of unpublished accessories in order.
func (p *FakePublisher) Unpublished() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.unpublished))
	copy(out, p.unpublished)
	return out
}

// WaitForPublishes polls until at least n publishes happened or timeout
// elapsed, and reports whether the count was reached.
func (p *FakePublisher) WaitForPublishes(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if p.PublishCount() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
