// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/faultlineio/faultline/pkg/logging"
	"github.com/faultlineio/faultline/services/incident"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("dispatch pool is closed")

// Pool fans incidents out to a fixed set of workers over a bounded
// queue. Incident failures are isolated: one incident failing (or even
// every stage of it failing) never stops the workers or affects other
// queued incidents.
type Pool struct {
	coord     *Coordinator
	jobs      chan *incident.Incident
	workers   int
	log       *logging.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewPool sizes a dispatch pool. workers and queueSize must be positive.
func NewPool(coord *Coordinator, workers, queueSize int, log *logging.Logger) (*Pool, error) {
	if workers < 1 {
		return nil, errors.New("workers must be at least 1")
	}
	if queueSize < 1 {
		return nil, errors.New("queue size must be at least 1")
	}
	if log == nil {
		log = logging.Default()
	}
	return &Pool{
		coord:   coord,
		jobs:    make(chan *incident.Incident, queueSize),
		workers: workers,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

// Submit queues an incident for processing. Blocks when the queue is
// full until a worker frees a slot or ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, inc *incident.Incident) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobs <- inc:
		queueDepth.Inc()
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake. Workers drain what was already queued. Safe to
// call from multiple goroutines.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Run processes queued incidents until Close is called and the queue
// drains, or ctx is cancelled. Blocks until all workers exit.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	err := g.Wait()

	// Cancellation abandons whatever is still queued; take those jobs
	// off the depth gauge.
	for {
		select {
		case <-p.jobs:
			queueDepth.Dec()
		default:
			return err
		}
	}
}

func (p *Pool) work(ctx context.Context, worker int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case inc := <-p.jobs:
			p.handle(ctx, worker, inc)
		case <-p.done:
			// Drain remaining jobs, then exit.
			for {
				select {
				case inc := <-p.jobs:
					p.handle(ctx, worker, inc)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, worker int, inc *incident.Incident) {
	queueDepth.Dec()
	if _, err := p.coord.Process(ctx, inc); err != nil {
		p.log.Error("incident processing failed", "worker", worker, "incident", inc.ID, "error", err)
	}
}

// ProcessBatch pushes a set of incidents through the pool and waits for
// all of them to finish. Used by the one-shot batch command.
func (p *Pool) ProcessBatch(ctx context.Context, incidents []*incident.Incident) error {
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	for _, inc := range incidents {
		if err := p.Submit(ctx, inc); err != nil {
			p.Close()
			<-runErr
			return fmt.Errorf("submit %s: %w", inc.ID, err)
		}
	}
	p.Close()

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
