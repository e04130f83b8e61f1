// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultConcurrency = 4
)

var (
	// ErrPoolClosed is returned from Submit when the pool is not running.
	ErrPoolClosed = errors.New("jobloop: pool closed")
)

// task is a job body queued for a worker.
type task struct {
	id JobID
	p  Processor
}

// Pool is an Offloader that runs job bodies on a fixed number of worker
// goroutines. Create a new pool via NewPool and start it with Start.
//
// The pool hands out concurrency+queueSize credits. Submit takes one and
// a worker gives it back once the body has returned, so a caller that
// submits faster than the workers can run is held up in Submit.
// For a Loop this means that a saturated pool stops polling: the loop
// waits in Submit, and neither polls, rejects duplicates nor backs off
// until a body finishes or the context is done. Raise the queue size
// with SetQueueSize to absorb bursts.
//
// Every finished job is reported on Results. Callers must drain Results,
// e.g. with a Collector; workers wait for the result to be taken.
type Pool struct {
	logger       Logger
	concurrency  int
	queueSize    int
	resultBuffer int
	resultc      chan Result

	mu        sync.RWMutex // guards the following block
	started   bool
	closed    bool
	taskc     chan task
	credits   *semaphore.Weighted
	workers   []*worker
	workersWg sync.WaitGroup
	ctx       context.Context // passed to job bodies
	cancel    context.CancelFunc

	submitted atomic.Int64
	working   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	testPoolStopped  func() // testing hook
	testJobQueued    func() // testing hook
	testJobStarted   func() // testing hook
	testJobSucceeded func() // testing hook
	testJobFailed    func() // testing hook
}

// NewPool creates a new pool. Pass options to configure it.
func NewPool(options ...PoolOption) *Pool {
	p := &Pool{
		logger:           stdLogger{},
		concurrency:      defaultConcurrency,
		testPoolStopped:  nop,
		testJobQueued:    nop,
		testJobStarted:   nop,
		testJobSucceeded: nop,
		testJobFailed:    nop,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.resultBuffer <= 0 {
		p.resultBuffer = p.concurrency + p.queueSize
	}
	p.resultc = make(chan Result, p.resultBuffer)
	return p
}

// -- Configuration --

// PoolOption is the signature of an options provider.
type PoolOption func(*Pool)

// SetPoolLogger specifies the logger to use when reporting job outcomes.
func SetPoolLogger(logger Logger) PoolOption {
	return func(p *Pool) {
		if logger == nil {
			logger = nopLogger{}
		}
		p.logger = logger
	}
}

// SetConcurrency sets the number of workers. Concurrency must be greater
// or equal to 1 and is 4 by default.
func SetConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n < 1 {
			n = 1
		}
		p.concurrency = n
	}
}

// SetQueueSize sets how many jobs may wait for a free worker before
// Submit starts to block. It is 0 by default.
func SetQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n < 0 {
			n = 0
		}
		p.queueSize = n
	}
}

// SetResultBuffer sets the capacity of the Results channel. It defaults
// to concurrency plus queue size.
func SetResultBuffer(n int) PoolOption {
	return func(p *Pool) {
		p.resultBuffer = n
	}
}

// -- Start and Stop --

// Start spins up the workers. Use Close or CloseWithTimeout to stop them.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("jobloop: pool already started")
	}

	capacity := p.concurrency + p.queueSize
	p.credits = semaphore.NewWeighted(int64(capacity))
	p.taskc = make(chan task, capacity)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.workers = make([]*worker, p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.workersWg.Add(1)
		p.workers[i] = newWorker(i, p, p.taskc)
	}
	p.started = true
	return nil
}

// Close stops accepting jobs and waits for queued and working jobs to
// finish. The Results channel is closed afterwards.
func (p *Pool) Close() error {
	return p.CloseWithTimeout(-1 * time.Second)
}

// CloseWithTimeout stops the pool. It waits for the specified timeout,
// then cancels the context passed to job bodies and returns, even if
// there are still jobs working. If the timeout is negative, it waits
// forever for all working jobs to end.
func (p *Pool) CloseWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.taskc)
	p.mu.Unlock()

	complete := make(chan struct{})
	go func() {
		p.workersWg.Wait()
		close(p.resultc)
		close(complete)
	}()

	var err error
	if timeout < 0 {
		<-complete
	} else {
		select {
		case <-complete:
		case <-time.After(timeout):
			err = errors.New("jobloop: close timed out")
		}
	}
	p.cancel()
	p.testPoolStopped() // testing hook
	return err
}

// -- Submit --

// Submit queues p to run with id on one of the workers and returns
// without waiting for p. If all credits are taken, Submit waits until a
// worker finishes a job or ctx is done.
func (p *Pool) Submit(ctx context.Context, id JobID, proc Processor) error {
	if proc == nil {
		return errors.New("jobloop: no processor specified")
	}
	p.mu.RLock()
	running := p.started && !p.closed
	p.mu.RUnlock()
	if !running {
		return ErrPoolClosed
	}

	if err := p.credits.Acquire(ctx, 1); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.credits.Release(1)
		return ErrPoolClosed
	}
	// Never blocks: the channel holds as many tasks as there are credits.
	p.taskc <- task{id: id, p: proc}
	p.submitted.Add(1)
	p.testJobQueued() // testing hook
	return nil
}

// Results returns the channel on which workers report finished jobs.
// It is closed when the pool has been closed and all workers are done.
func (p *Pool) Results() <-chan Result {
	return p.resultc
}

// Stats returns current statistics about the pool.
func (p *Pool) Stats() *PoolStats {
	return &PoolStats{
		Submitted: p.submitted.Load(),
		Working:   p.working.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}
