// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

// Stats returns statistics about the loop.
type Stats struct {
	Polls    int64 `json:"polls"`    // number of calls to Source.Next
	Admitted int64 `json:"admitted"` // number of jobs handed to the offloader
	Rejected int64 `json:"rejected"` // number of duplicates skipped
	Idle     int64 `json:"idle"`     // number of idle backoffs
	Errors   int64 `json:"errors"`   // number of source or submit errors
}

// PoolStats returns statistics about a worker pool.
type PoolStats struct {
	Submitted int64 `json:"submitted"` // number of jobs accepted by Submit
	Working   int64 `json:"working"`   // number of jobs currently being executed
	Succeeded int64 `json:"succeeded"` // number of successfully completed jobs
	Failed    int64 `json:"failed"`    // number of failed jobs
}
