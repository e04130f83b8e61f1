// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import "time"

const (
	// Polled is emitted before every call to Source.Next.
	Polled string = "POLLED"
	// Admitted is emitted when a job passed the Gate and was submitted.
	Admitted string = "ADMITTED"
	// Rejected is emitted for a job that was already admitted in this run.
	Rejected string = "REJECTED"
	// Exhausted is emitted when the source has no more jobs.
	Exhausted string = "EXHAUSTED"
	// SourceError is emitted when the source failed. The loop backs off
	// as if it were exhausted.
	SourceError string = "SOURCE_ERROR"
	// Succeeded is emitted by the Collector for a job body without errors.
	Succeeded string = "SUCCEEDED"
	// Failed is emitted by the Collector for a failed job body.
	Failed string = "FAILED"
)

// Event describes a single transition of the loop or the outcome of a job.
type Event struct {
	Type    string        `json:"type"`
	RunID   string        `json:"run,omitempty"`
	JobID   JobID         `json:"id,omitempty"`
	Time    int64         `json:"time"`            // in UnixNano
	Delay   time.Duration `json:"delay,omitempty"` // idle backoff applied after Exhausted or SourceError
	Message string        `json:"message,omitempty"`
}

// Observer receives events. Observers are called synchronously from the
// loop goroutine, so they must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
