package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

const defaultGatePoll = time.Second

// Gate applies backpressure to producers feeding a queue. It pauses when the
// ready depth reaches the pause threshold and reopens once depth drains to
// the resume threshold. The spread between the two thresholds stops the gate
// from flapping around a single boundary value.
type Gate struct {
	name    string
	queue   driven.DurableQueue
	opts    domain.GateOptions
	metrics driven.MetricsSink

	mu     sync.Mutex
	paused bool
}

// NewGate creates a gate over the queue's ready depth. A zero pause threshold
// disables the gate: Wait always returns immediately.
func NewGate(name string, queue driven.DurableQueue, opts domain.GateOptions, metrics driven.MetricsSink) *Gate {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultGatePoll
	}
	if opts.ResumeThreshold > opts.PauseThreshold {
		opts.ResumeThreshold = opts.PauseThreshold
	}
	return &Gate{name: name, queue: queue, opts: opts, metrics: metrics}
}

// Wait blocks until the gate is open, polling the queue depth between checks.
// Returns the context error if the caller is cancelled while waiting.
func (g *Gate) Wait(ctx context.Context) error {
	if g.opts.PauseThreshold <= 0 {
		return nil
	}
	for {
		open, err := g.check(ctx)
		if err != nil {
			return err
		}
		if open {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.opts.PollInterval):
		}
	}
}

// Paused reports the gate's current state without touching the queue.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// check refreshes the pause state from the current depth and reports whether
// the gate is open. Transitions are edge-triggered: one log line and one
// metric per state change, not per poll.
func (g *Gate) check(ctx context.Context) (bool, error) {
	depth, err := g.queue.Depth(ctx)
	if err != nil {
		return false, fmt.Errorf("reading queue depth: %w", err)
	}
	g.metrics.Gauge("queue.depth", float64(depth), "queue:"+g.name)

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.paused && depth >= g.opts.PauseThreshold:
		g.paused = true
		g.metrics.Count("gate.paused", 1, "queue:"+g.name)
		logger.Warn("gate %s paused at depth %d", g.name, depth)
	case g.paused && depth <= g.opts.ResumeThreshold:
		g.paused = false
		g.metrics.Count("gate.resumed", 1, "queue:"+g.name)
		logger.Info("gate %s resumed at depth %d", g.name, depth)
	}
	return !g.paused, nil
}
