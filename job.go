// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"fmt"
	"time"
)

// JobID is an opaque identifier for a unit of work. Sources make no
// uniqueness guarantees; the Gate enforces them.
type JobID string

// String returns the identifier as a string.
func (id JobID) String() string {
	return string(id)
}

// Result is what a worker reports after running a job body.
type Result struct {
	ID       JobID         `json:"id"`       // job identifier
	Err      error         `json:"-"`        // *JobFailed if the body failed
	WorkerID int           `json:"worker"`   // worker that ran the body
	Started  int64         `json:"started"`  // time the body started (in UnixNano)
	Duration time.Duration `json:"duration"` // time spent in the body
}

// Failed returns true if the job body failed or panicked.
func (r Result) Failed() bool {
	return r.Err != nil
}

// JobFailed is reported on the results channel when a job body returns
// an error or panics.
type JobFailed struct {
	ID    JobID
	Cause error
}

// Error implements the error interface.
func (e *JobFailed) Error() string {
	return fmt.Sprintf("jobloop: job %v failed: %v", e.ID, e.Cause)
}

// Unwrap returns the error returned by the job body.
func (e *JobFailed) Unwrap() error {
	return e.Cause
}
