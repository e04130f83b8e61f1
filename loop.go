// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
)

var (
	// ErrStartup wraps the error of the startup collaborator. Run returns
	// it before the first poll.
	ErrStartup = errors.New("jobloop: startup failed")

	// ErrAlreadyRunning is returned from Run if the loop is already running.
	ErrAlreadyRunning = errors.New("jobloop: loop already running")
)

func nop() {}

// Loop polls a Source, filters identifiers through a Gate and hands
// admitted jobs to an Offloader. Create a new loop via New.
type Loop struct {
	logger       Logger
	observer     Observer
	src          Source
	off          Offloader
	proc         Processor
	gate         Gate // nil means a fresh MemoryGate per run
	connect      func(context.Context) error
	idle         backoff.BackOff
	paceCount    int
	paceInterval time.Duration

	mu      sync.Mutex // guards the following block
	running bool
	runID   string

	polls    atomic.Int64
	admitted atomic.Int64
	rejected atomic.Int64
	idles    atomic.Int64
	errs     atomic.Int64

	testLoopStarted func() // testing hook
	testLoopStopped func() // testing hook
	testPolled      func() // testing hook
	testAdmitted    func() // testing hook
	testRejected    func() // testing hook
	testIdle        func() // testing hook
	testPaced       func() // testing hook
}

// New creates a new loop that reads from src and runs p on off for every
// admitted job. Pass options to configure it.
//
// If src implements Starter, its Start method is the startup collaborator
// called at the beginning of Run. Use SetConnect to override it.
func New(src Source, off Offloader, p Processor, options ...LoopOption) *Loop {
	l := &Loop{
		logger:          stdLogger{},
		observer:        nopObserver{},
		src:             src,
		off:             off,
		proc:            p,
		idle:            ConstantIdleBackoff(defaultIdleBackoff),
		paceCount:       defaultPaceCount,
		paceInterval:    defaultPaceInterval,
		testLoopStarted: nop,
		testLoopStopped: nop,
		testPolled:      nop,
		testAdmitted:    nop,
		testRejected:    nop,
		testIdle:        nop,
		testPaced:       nop,
	}
	if s, ok := src.(Starter); ok {
		l.connect = s.Start
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// -- Configuration --

// LoopOption is the signature of an options provider.
type LoopOption func(*Loop)

// SetLogger specifies the logger to use for transitions and errors.
func SetLogger(logger Logger) LoopOption {
	return func(l *Loop) {
		if logger == nil {
			logger = nopLogger{}
		}
		l.logger = logger
	}
}

// SetObserver registers an observer that receives one Event per transition.
func SetObserver(o Observer) LoopOption {
	return func(l *Loop) {
		if o == nil {
			o = nopObserver{}
		}
		l.observer = o
	}
}

// SetGate specifies the gate to use. The same gate is then shared by all
// runs of the loop. By default, every run starts with an empty MemoryGate.
func SetGate(g Gate) LoopOption {
	return func(l *Loop) {
		l.gate = g
	}
}

// SetConnect specifies the startup collaborator. Run calls fn before the
// first poll and fails with ErrStartup if fn returns an error.
func SetConnect(fn func(context.Context) error) LoopOption {
	return func(l *Loop) {
		l.connect = fn
	}
}

// SetIdleBackoff specifies the backoff to apply when the source is
// exhausted. It is reset whenever the source returns a job. By default,
// the loop waits 5 seconds after every exhausted poll.
func SetIdleBackoff(b backoff.BackOff) LoopOption {
	return func(l *Loop) {
		if b == nil {
			b = ConstantIdleBackoff(defaultIdleBackoff)
		}
		l.idle = b
	}
}

// SetPacing specifies the pauses after each admitted job: count pauses
// of interval each. The default is 4 pauses of 500ms. Use SetPacing(0, 0)
// to rely on the offloader's capacity alone.
func SetPacing(count int, interval time.Duration) LoopOption {
	return func(l *Loop) {
		if count < 0 {
			count = 0
		}
		l.paceCount = count
		l.paceInterval = interval
	}
}

// -- Run --

// Run connects, then polls the source until ctx is done. It returns
// ctx.Err() on cancellation and an error wrapping ErrStartup if the
// startup collaborator fails. Run never returns because there is no work.
func (l *Loop) Run(ctx context.Context) error {
	if l.src == nil || l.off == nil || l.proc == nil {
		return errors.New("jobloop: source, offloader and processor must be specified")
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.runID = uuid.New().String()
	gate := l.gate
	if gate == nil {
		gate = NewMemoryGate()
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	if l.connect != nil {
		l.logger.Printf("jobloop: connecting")
		if err := l.connect(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStartup, err)
		}
		l.logger.Printf("jobloop: connected")
	}

	l.testLoopStarted()       // testing hook
	defer l.testLoopStopped() // testing hook

	l.idle.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.poll(ctx, gate); err != nil {
			return err
		}
	}
}

// poll runs one cycle of the loop. It only returns an error if ctx is done.
func (l *Loop) poll(ctx context.Context, gate Gate) error {
	l.polls.Add(1)
	l.emit(Event{Type: Polled})
	l.testPolled() // testing hook

	id, err := l.src.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrExhausted) {
			return l.backoff(ctx, Exhausted, "no more jobs")
		}
		l.errs.Add(1)
		l.logger.Printf("jobloop: error polling for jobs: %v", err)
		return l.backoff(ctx, SourceError, err.Error())
	}
	l.idle.Reset()

	if !gate.TryAdmit(id) {
		l.rejected.Add(1)
		l.logger.Printf("jobloop: skipping job %v: already dispatched", id)
		l.emit(Event{Type: Rejected, JobID: id})
		l.testRejected() // testing hook
		return nil
	}

	if err := l.off.Submit(ctx, id, l.proc); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.errs.Add(1)
		l.logger.Printf("jobloop: error submitting job %v: %v", id, err)
		return nil
	}
	l.admitted.Add(1)
	l.logger.Printf("jobloop: dispatched job %v", id)
	l.emit(Event{Type: Admitted, JobID: id})
	l.testAdmitted() // testing hook

	for i := 0; i < l.paceCount; i++ {
		l.logger.Printf("jobloop: pause %d after job %v", i, id)
		if err := sleep(ctx, l.paceInterval); err != nil {
			return err
		}
	}
	l.testPaced() // testing hook
	return nil
}

// backoff waits for the next idle interval.
func (l *Loop) backoff(ctx context.Context, typ, reason string) error {
	d := nextDelay(l.idle, defaultIdleBackoff)
	l.idles.Add(1)
	l.logger.Printf("jobloop: %s, waiting %v", reason, d)
	l.emit(Event{Type: typ, Delay: d, Message: reason})
	l.testIdle() // testing hook
	return sleep(ctx, d)
}

func (l *Loop) emit(e Event) {
	l.mu.Lock()
	e.RunID = l.runID
	l.mu.Unlock()
	e.Time = time.Now().UnixNano()
	l.observer.Observe(e)
}

// -- Stats --

// RunID returns the identifier of the current (or last) run.
func (l *Loop) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// Stats returns current statistics about the loop.
func (l *Loop) Stats() *Stats {
	return &Stats{
		Polls:    l.polls.Load(),
		Admitted: l.admitted.Load(),
		Rejected: l.rejected.Load(),
		Idle:     l.idles.Load(),
		Errors:   l.errs.Load(),
	}
}
