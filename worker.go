package jobloop

import (
	"fmt"
	"time"
)

// worker is a single goroutine running job bodies.
type worker struct {
	id    int
	p     *Pool
	taskc <-chan task
}

// newWorker creates a new worker. It spins up a new goroutine that waits
// on taskc for new jobs to process.
func newWorker(id int, p *Pool, taskc <-chan task) *worker {
	w := &worker{id: id, p: p, taskc: taskc}
	go w.run()
	return w
}

// run is the main goroutine in the worker. It picks up jobs until taskc
// is closed and reports every outcome on the pool's result channel.
func (w *worker) run() {
	defer w.p.workersWg.Done()
	for t := range w.taskc {
		w.p.resultc <- w.process(t)
	}
}

// process runs a single job body. A panic in the body is turned into
// a failed result.
func (w *worker) process(t task) (res Result) {
	start := time.Now()
	res = Result{ID: t.id, WorkerID: w.id, Started: start.UnixNano()}
	w.p.working.Add(1)

	defer func() {
		if r := recover(); r != nil {
			res.Err = &JobFailed{ID: t.id, Cause: fmt.Errorf("panic: %v", r)}
		}
		res.Duration = time.Since(start)
		w.p.working.Add(-1)
		w.p.credits.Release(1)

		if res.Err != nil {
			w.p.failed.Add(1)
			w.p.logger.Printf("jobloop: %v", res.Err)
			w.p.testJobFailed() // testing hook
			return
		}
		w.p.succeeded.Add(1)
		w.p.logger.Printf("jobloop: finished job %v in %v", t.id, res.Duration)
		w.p.testJobSucceeded() // testing hook
	}()

	w.p.logger.Printf("jobloop: processing job %v on worker %d", t.id, w.id)
	w.p.testJobStarted() // testing hook

	if err := t.p(w.p.ctx, t.id); err != nil {
		res.Err = &JobFailed{ID: t.id, Cause: err}
	}
	return res
}
