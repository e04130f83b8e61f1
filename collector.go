// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"errors"
	"time"
)

// Collector drains the results of a Pool. It logs failed jobs, passes
// every result to an optional handler and tells the observer about it.
type Collector struct {
	logger   Logger
	observer Observer
	handler  func(Result)
	results  <-chan Result

	testResult func() // testing hook
}

// NewCollector creates a collector reading from results, typically
// Pool.Results().
func NewCollector(results <-chan Result, options ...CollectorOption) *Collector {
	c := &Collector{
		logger:     stdLogger{},
		observer:   nopObserver{},
		handler:    func(Result) {},
		results:    results,
		testResult: nop,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// CollectorOption is the signature of an options provider.
type CollectorOption func(*Collector)

// SetCollectorLogger specifies the logger for failed jobs.
func SetCollectorLogger(logger Logger) CollectorOption {
	return func(c *Collector) {
		if logger == nil {
			logger = nopLogger{}
		}
		c.logger = logger
	}
}

// SetCollectorObserver registers an observer that receives a Succeeded
// or Failed event per result.
func SetCollectorObserver(o Observer) CollectorOption {
	return func(c *Collector) {
		if o == nil {
			o = nopObserver{}
		}
		c.observer = o
	}
}

// SetResultHandler registers fn to be called for every result.
func SetResultHandler(fn func(Result)) CollectorOption {
	return func(c *Collector) {
		if fn != nil {
			c.handler = fn
		}
	}
}

// Run reads results until the channel is closed, i.e. until the pool has
// been closed and all its workers are done.
func (c *Collector) Run() {
	for r := range c.results {
		e := Event{Type: Succeeded, JobID: r.ID, Time: time.Now().UnixNano()}
		if r.Err != nil {
			e.Type = Failed
			e.Message = r.Err.Error()
			var failed *JobFailed
			if errors.As(r.Err, &failed) {
				e.Message = failed.Cause.Error()
			}
			c.logger.Printf("jobloop: collected failure of job %v: %v", r.ID, e.Message)
		}
		c.handler(r)
		c.observer.Observe(e)
		c.testResult() // testing hook
	}
}
