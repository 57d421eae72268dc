package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/your-org/scanforge/internal/plan"
	"golang.org/x/sync/semaphore"
)

// Pools holds one weighted counting permit set per resource class. A task
// runs only while holding a permit from its class; permits are released on
// every exit path so the effective pool never shrinks over a long run.
type Pools struct {
	sems  map[plan.ResourceClass]*semaphore.Weighted
	sizes map[plan.ResourceClass]int64

	mu      sync.Mutex
	running map[plan.ResourceClass]int
	peak    map[plan.ResourceClass]int
}

// NewPools sizes the discovery and enumeration pools.
func NewPools(discovery, enumeration int) *Pools {
	return &Pools{
		sems: map[plan.ResourceClass]*semaphore.Weighted{
			plan.ClassDiscovery:   semaphore.NewWeighted(int64(discovery)),
			plan.ClassEnumeration: semaphore.NewWeighted(int64(enumeration)),
		},
		sizes: map[plan.ResourceClass]int64{
			plan.ClassDiscovery:   int64(discovery),
			plan.ClassEnumeration: int64(enumeration),
		},
		running: make(map[plan.ResourceClass]int),
		peak:    make(map[plan.ResourceClass]int),
	}
}

// Acquire blocks until a permit for the class is available or the context
// ends.
func (p *Pools) Acquire(ctx context.Context, class plan.ResourceClass) error {
	sem, ok := p.sems[class]
	if !ok {
		return fmt.Errorf("unknown resource class %q", class)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.mu.Lock()
	p.running[class]++
	if p.running[class] > p.peak[class] {
		p.peak[class] = p.running[class]
	}
	p.mu.Unlock()
	return nil
}

// Release returns a permit to the class pool.
func (p *Pools) Release(class plan.ResourceClass) {
	p.mu.Lock()
	p.running[class]--
	p.mu.Unlock()
	p.sems[class].Release(1)
}

// Running returns the number of currently held permits for a class.
func (p *Pools) Running(class plan.ResourceClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[class]
}

// Peak returns the highest simultaneous permit count observed for a class.
func (p *Pools) Peak(class plan.ResourceClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak[class]
}

// Idle reports whether every permit of every class is back in its pool.
// Used after a run to verify permit conservation.
func (p *Pools) Idle() bool {
	for class, sem := range p.sems {
		if !sem.TryAcquire(p.sizes[class]) {
			return false
		}
		sem.Release(p.sizes[class])
	}
	return true
}
