package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

// Sweeper periodically returns expired in-flight items to the ready state on
// every queue it watches. Without it a crashed worker's claims would stay
// invisible forever.
type Sweeper struct {
	queues    map[string]driven.DurableQueue
	metrics   driven.MetricsSink
	interval  time.Duration
	batchSize int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper over the named queues. The interval should be
// a fraction of the visibility timeout so redelivery latency stays bounded.
func NewSweeper(queues map[string]driven.DurableQueue, metrics driven.MetricsSink, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		queues:    queues,
		metrics:   metrics,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Stop signals the sweep loop to exit and waits for it.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one sweep pass over every queue, draining each queue's
// expired items in batches.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for name, queue := range s.queues {
		for {
			n, err := queue.SweepExpired(ctx, s.batchSize)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("sweeping queue %s: %v", name, err)
				}
				break
			}
			if n > 0 {
				s.metrics.Count("queue.swept", float64(n), "queue:"+name)
				logger.Info("requeued %d expired items on %s", n, name)
			}
			if n < s.batchSize {
				break
			}
		}
	}
}
