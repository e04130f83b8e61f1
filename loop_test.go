// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
)

type stringLogger struct {
	mu    sync.Mutex
	Lines []string
}

func (l *stringLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Lines = append(l.Lines, fmt.Sprintf(format, v...))
}

// notify returns a testing hook that signals c without ever blocking.
func notify(c chan struct{}) func() {
	return func() {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// recorder is an Offloader that remembers submitted ids and never runs
// the job body.
type recorder struct {
	mu  sync.Mutex
	ids []JobID
}

func (r *recorder) Submit(ctx context.Context, id JobID, p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recorder) IDs() []JobID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JobID(nil), r.ids...)
}

func nopProcessor(ctx context.Context, id JobID) error { return nil }

// runLoop starts l in a goroutine and returns a function that stops it
// and returns the error from Run.
func runLoop(t *testing.T, l *Loop) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- l.Run(ctx)
	}()
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestLoopDefaults(t *testing.T) {
	l := New(NewSliceSource(), &recorder{}, nopProcessor)
	if l.logger == nil {
		t.Fatal("Logger is nil")
	}
	if have, want := l.paceCount, defaultPaceCount; have != want {
		t.Fatalf("paceCount = %d, want %d", have, want)
	}
	if have, want := l.paceInterval, defaultPaceInterval; have != want {
		t.Fatalf("paceInterval = %v, want %v", have, want)
	}
	if have, want := nextDelay(l.idle, 0), defaultIdleBackoff; have != want {
		t.Fatalf("idle backoff = %v, want %v", have, want)
	}
	if l.connect != nil {
		t.Fatal("expected no startup collaborator for a SliceSource")
	}
}

// TestLoopDispatchesEachIDOnce feeds [5, 7, 5, 9] into the loop and
// expects 5, 7 and 9 to be submitted once each, in that order.
func TestLoopDispatchesEachIDOnce(t *testing.T) {
	idle := make(chan struct{}, 1)
	off := &recorder{}
	l := New(
		NewSliceSource("5", "7", "5", "9"),
		off,
		nopProcessor,
		SetLogger(&stringLogger{}),
		SetPacing(1, time.Millisecond),
		SetIdleBackoff(ConstantIdleBackoff(10*time.Millisecond)),
	)
	l.testIdle = notify(idle)

	stop := runLoop(t, l)
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never reached idle backoff")
	}
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want %v", err, context.Canceled)
	}

	if have, want := off.IDs(), []JobID{"5", "7", "9"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("submitted %v, want %v", have, want)
	}
	stats := l.Stats()
	if have, want := stats.Admitted, int64(3); have != want {
		t.Fatalf("Admitted = %d, want %d", have, want)
	}
	if have, want := stats.Rejected, int64(1); have != want {
		t.Fatalf("Rejected = %d, want %d", have, want)
	}
}

// TestLoopRejectedJobsAreNotPaced checks that a duplicate id goes back to
// polling right away, without the pauses that follow an admitted job.
func TestLoopRejectedJobsAreNotPaced(t *testing.T) {
	idle := make(chan struct{}, 1)
	var mu sync.Mutex
	var paced int
	l := New(
		NewSliceSource("1", "1", "1", "1"),
		&recorder{},
		nopProcessor,
		SetLogger(NopLogger()),
		SetPacing(2, 100*time.Millisecond),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testIdle = notify(idle)
	l.testPaced = func() {
		mu.Lock()
		paced++
		mu.Unlock()
	}

	start := time.Now()
	stop := runLoop(t, l)
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never reached idle backoff")
	}
	elapsed := time.Since(start)
	stop()

	mu.Lock()
	defer mu.Unlock()
	if have, want := paced, 1; have != want {
		t.Fatalf("paced = %d, want %d", have, want)
	}
	if have, want := l.Stats().Rejected, int64(3); have != want {
		t.Fatalf("Rejected = %d, want %d", have, want)
	}
	// One admitted job pauses 2 x 100ms; rejections add nothing.
	if elapsed >= 400*time.Millisecond {
		t.Fatalf("reached idle after %v; rejected jobs were paced", elapsed)
	}
}

// TestLoopExhaustedSourceBacksOffForever never submits anything and keeps
// backing off until it is cancelled.
func TestLoopExhaustedSourceBacksOffForever(t *testing.T) {
	idle := make(chan struct{}, 10)
	off := &recorder{}
	l := New(
		NewSliceSource(),
		off,
		nopProcessor,
		SetLogger(NopLogger()),
		SetIdleBackoff(ConstantIdleBackoff(5*time.Millisecond)),
	)
	l.testIdle = notify(idle)

	stop := runLoop(t, l)
	for i := 0; i < 5; i++ {
		select {
		case <-idle:
		case <-time.After(2 * time.Second):
			t.Fatalf("idle backoff %d timed out", i)
		}
	}
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want %v", err, context.Canceled)
	}
	if have := off.IDs(); len(have) != 0 {
		t.Fatalf("submitted %v, want nothing", have)
	}
	stats := l.Stats()
	if stats.Idle < 5 {
		t.Fatalf("Idle = %d, want >= 5", stats.Idle)
	}
	if have, want := stats.Polls, stats.Idle; have < want {
		t.Fatalf("Polls = %d, want >= %d", have, want)
	}
}

// TestLoopDoesNotWaitForJobBodies runs bodies that block until the test
// releases them. Both jobs must be admitted while the first one is still
// running.
func TestLoopDoesNotWaitForJobBodies(t *testing.T) {
	release := make(chan struct{})
	admitted := make(chan struct{}, 2)

	pool := NewPool(SetConcurrency(2), SetPoolLogger(NopLogger()))
	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	collector := NewCollector(pool.Results(), SetCollectorLogger(NopLogger()))
	collected := make(chan struct{})
	go func() {
		collector.Run()
		close(collected)
	}()

	body := func(ctx context.Context, id JobID) error {
		<-release
		return nil
	}
	l := New(
		NewSliceSource("1", "2"),
		pool,
		body,
		SetLogger(NopLogger()),
		SetPacing(1, 10*time.Millisecond),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testAdmitted = func() { admitted <- struct{}{} }

	stop := runLoop(t, l)
	for i := 0; i < 2; i++ {
		select {
		case <-admitted:
		case <-time.After(time.Second):
			t.Fatalf("job %d was not admitted while job bodies were blocked", i+1)
		}
	}
	if have, want := pool.Stats().Submitted, int64(2); have != want {
		t.Fatalf("Submitted = %d, want %d", have, want)
	}
	stop()

	close(release)
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed with %v", err)
	}
	<-collected
	if have, want := pool.Stats().Succeeded, int64(2); have != want {
		t.Fatalf("Succeeded = %d, want %d", have, want)
	}
}

func TestLoopStartupFailure(t *testing.T) {
	off := &recorder{}
	l := New(
		NewSliceSource("1"),
		off,
		nopProcessor,
		SetLogger(NopLogger()),
		SetConnect(func(context.Context) error { return errors.New("connection refused") }),
	)
	err := l.Run(context.Background())
	if !errors.Is(err, ErrStartup) {
		t.Fatalf("Run returned %v, want %v", err, ErrStartup)
	}
	if have, want := l.Stats().Polls, int64(0); have != want {
		t.Fatalf("Polls = %d, want %d", have, want)
	}
	if have := off.IDs(); len(have) != 0 {
		t.Fatalf("submitted %v, want nothing", have)
	}
}

type startingSource struct {
	*SliceSource
	mu      sync.Mutex
	started int
}

func (s *startingSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func TestLoopStartsSource(t *testing.T) {
	started := make(chan struct{}, 1)
	src := &startingSource{SliceSource: NewSliceSource()}
	l := New(src, &recorder{}, nopProcessor,
		SetLogger(NopLogger()),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testLoopStarted = notify(started)

	stop := runLoop(t, l)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("loop did not start")
	}
	stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	if have, want := src.started, 1; have != want {
		t.Fatalf("Start called %d times, want %d", have, want)
	}
}

func TestLoopAlreadyRunning(t *testing.T) {
	started := make(chan struct{}, 1)
	l := New(NewSliceSource(), &recorder{}, nopProcessor,
		SetLogger(NopLogger()),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testLoopStarted = notify(started)

	stop := runLoop(t, l)
	defer stop()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("loop did not start")
	}
	if err := l.Run(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("Run returned %v, want %v", err, ErrAlreadyRunning)
	}
}

type failingSource struct{}

func (failingSource) Next(ctx context.Context) (JobID, error) {
	return "", errors.New("connection reset")
}

func TestLoopBacksOffOnSourceErrors(t *testing.T) {
	idle := make(chan struct{}, 1)
	l := New(failingSource{}, &recorder{}, nopProcessor,
		SetLogger(NopLogger()),
		SetIdleBackoff(ConstantIdleBackoff(time.Millisecond)),
	)
	l.testIdle = notify(idle)

	stop := runLoop(t, l)
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("loop did not back off")
	}
	stop()
	if l.Stats().Errors == 0 {
		t.Fatal("expected source errors to be counted")
	}
}

func TestLoopEmitsEvents(t *testing.T) {
	idle := make(chan struct{}, 1)
	var mu sync.Mutex
	var types []string
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.RunID == "" {
			t.Errorf("event %s without run id", e.Type)
		}
		types = append(types, e.Type)
	})
	l := New(NewSliceSource("5", "5"), &recorder{}, nopProcessor,
		SetLogger(NopLogger()),
		SetObserver(obs),
		SetPacing(0, 0),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testIdle = notify(idle)

	stop := runLoop(t, l)
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("loop never reached idle backoff")
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{Polled, Admitted, Polled, Rejected, Polled, Exhausted}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestLoopSharedGateAcrossRuns(t *testing.T) {
	gate := NewMemoryGate()
	gate.TryAdmit("5")

	idle := make(chan struct{}, 1)
	off := &recorder{}
	l := New(NewSliceSource("5", "6"), off, nopProcessor,
		SetLogger(NopLogger()),
		SetGate(gate),
		SetPacing(0, 0),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testIdle = notify(idle)

	stop := runLoop(t, l)
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("loop never reached idle backoff")
	}
	stop()

	if have, want := off.IDs(), []JobID{"6"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("submitted %v, want %v", have, want)
	}
}

// scriptedSource returns its steps in order; an empty step and the end
// of the script mean ErrExhausted.
type scriptedSource struct {
	mu    sync.Mutex
	steps []JobID
}

func (s *scriptedSource) Next(ctx context.Context) (JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return "", ErrExhausted
	}
	id := s.steps[0]
	s.steps = s.steps[1:]
	if id == "" {
		return "", ErrExhausted
	}
	return id, nil
}

// waitFor polls cond until it holds or two seconds have passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestLoopResetsIdleBackoffAfterJob grows the idle backoff over two
// exhausted polls, then returns a job. The next exhausted poll must wait
// the initial interval again.
func TestLoopResetsIdleBackoffAfterJob(t *testing.T) {
	b := ExponentialIdleBackoff(10*time.Millisecond, time.Second).(*backoff.ExponentialBackOff)
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.Reset()

	done := make(chan struct{}, 1)
	var mu sync.Mutex
	var delays []time.Duration
	obs := ObserverFunc(func(e Event) {
		if e.Type != Exhausted {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, e.Delay)
		if len(delays) == 3 {
			notify(done)()
		}
	})
	l := New(&scriptedSource{steps: []JobID{"", "", "1"}}, &recorder{}, nopProcessor,
		SetLogger(NopLogger()),
		SetObserver(obs),
		SetPacing(0, 0),
		SetIdleBackoff(b),
	)

	stop := runLoop(t, l)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not back off three times")
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 10 * time.Millisecond}
	if have := delays[:3]; !reflect.DeepEqual(have, want) {
		t.Fatalf("delays = %v, want %v", have, want)
	}
}

func TestLoopReportsSourceErrors(t *testing.T) {
	idle := make(chan struct{}, 1)
	var mu sync.Mutex
	var events []Event
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	l := New(failingSource{}, &recorder{}, nopProcessor,
		SetLogger(NopLogger()),
		SetObserver(obs),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)
	l.testIdle = notify(idle)

	stop := runLoop(t, l)
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("loop did not back off")
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if have, want := len(events), 2; have != want {
		t.Fatalf("len(events) = %d, want %d", have, want)
	}
	e := events[1]
	if have, want := e.Type, SourceError; have != want {
		t.Fatalf("event = %s, want %s", have, want)
	}
	if have, want := e.Delay, time.Hour; have != want {
		t.Fatalf("Delay = %v, want %v", have, want)
	}
	if have, want := e.Message, "connection reset"; have != want {
		t.Fatalf("Message = %q, want %q", have, want)
	}
}

// TestLoopWaitsForSaturatedPool runs a single worker that blocks. The
// loop must admit the first job, then wait in Submit without polling
// again until the worker is free.
func TestLoopWaitsForSaturatedPool(t *testing.T) {
	pool := NewPool(SetConcurrency(1), SetPoolLogger(NopLogger()))
	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	collected := make(chan struct{})
	go func() {
		NewCollector(pool.Results(), SetCollectorLogger(NopLogger())).Run()
		close(collected)
	}()

	release := make(chan struct{})
	body := func(ctx context.Context, id JobID) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	l := New(NewSliceSource("1", "2", "3"), pool, body,
		SetLogger(NopLogger()),
		SetPacing(0, 0),
		SetIdleBackoff(ConstantIdleBackoff(time.Hour)),
	)

	stop := runLoop(t, l)
	waitFor(t, "second poll", func() bool {
		return l.Stats().Polls == 2 && pool.Stats().Working == 1
	})
	time.Sleep(50 * time.Millisecond)
	stats := l.Stats()
	if have, want := stats.Polls, int64(2); have != want {
		t.Fatalf("Polls = %d, want %d", have, want)
	}
	if have, want := stats.Admitted, int64(1); have != want {
		t.Fatalf("Admitted = %d, want %d", have, want)
	}

	close(release)
	waitFor(t, "all jobs admitted", func() bool { return l.Stats().Admitted == 3 })
	stop()
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed with %v", err)
	}
	<-collected
	if have, want := pool.Stats().Succeeded, int64(3); have != want {
		t.Fatalf("Succeeded = %d, want %d", have, want)
	}
}
