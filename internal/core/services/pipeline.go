package services

import (
	"context"
	"sync"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

// Runner is any long-running pipeline service with blocking Start and
// idempotent Stop.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
}

// Pipeline runs a set of services as one unit. Start launches each service
// in its own goroutine and blocks until the context is cancelled or Stop is
// called, then waits for every service to wind down.
type Pipeline struct {
	runners []Runner

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline over the given services. Order matters only
// for log readability; services are independent.
func NewPipeline(runners ...Runner) *Pipeline {
	return &Pipeline{runners: runners}
}

// Start runs every service until the context is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	for _, r := range p.runners {
		p.wg.Add(1)
		go func(r Runner) {
			defer p.wg.Done()
			if err := r.Start(ctx); err != nil {
				logger.Error("pipeline service exited: %v", err)
			}
		}(r)
	}

	select {
	case <-ctx.Done():
	case <-p.stopCh:
	}
	for _, r := range p.runners {
		r.Stop()
	}
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// Stop shuts the pipeline down and waits for every service.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}
