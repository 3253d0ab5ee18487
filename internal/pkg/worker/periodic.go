// Package worker runs background jobs on a fixed interval.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// Periodic runs a Task once on Start and then on every tick until Stop.
type Periodic struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewPeriodic creates a job. Each run gets its own context bounded by timeout.
func NewPeriodic(name string, interval, timeout time.Duration, task Task) *Periodic {
	if interval <= 0 {
		interval = time.Hour
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Periodic{
		name:     name,
		interval: interval,
		timeout:  timeout,
		task:     task,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop
func (p *Periodic) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	log.Info().Str("worker", p.name).Dur("interval", p.interval).Msg("Starting worker")
	go p.loop()
}

// Stop signals the loop and waits for the in-flight run to finish
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() {
		log.Info().Str("worker", p.name).Msg("Stopping worker")
		close(p.stopCh)
	})
	if p.started.Load() {
		<-p.doneCh
	}
}

func (p *Periodic) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunOnce()
	for {
		select {
		case <-ticker.C:
			p.RunOnce()
		case <-p.stopCh:
			return
		}
	}
}

// RunOnce executes the task synchronously.
func (p *Periodic) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.task(ctx); err != nil {
		log.Error().Err(err).Str("worker", p.name).Msg("Worker run failed")
		return
	}
	log.Debug().Str("worker", p.name).Dur("took", time.Since(start)).Msg("Worker run finished")
}
