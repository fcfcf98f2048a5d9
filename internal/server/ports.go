package server

import (
	"sync"

	"homebridge/internal/config"
)

// PortAllocator hands out ports for external accessories from a closed
// range. Ports are handed out in ascending order and never reused. Zero
// means "let the operating system choose".
type PortAllocator struct {
	mu      sync.Mutex
	enabled bool
	next    int
	end     int
}

// NewPortAllocator creates an allocator for r. A nil or inverted range
// disables the pool.
func NewPortAllocator(r *config.PortRange) *PortAllocator {
	if r == nil || r.Start > r.End || r.Start <= 0 {
		return &PortAllocator{}
	}
	return &PortAllocator{enabled: true, next: r.Start, end: r.End}
}

// Enabled reports whether a range is configured.
func (p *PortAllocator) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Next returns the next free port, or 0 when the pool is disabled or
// exhausted.
func (p *PortAllocator) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || p.next > p.end {
		return 0
	}
	port := p.next
	p.next++
	return port
}
