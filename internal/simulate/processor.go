// Package simulate provides job bodies for demos and end-to-end runs.
package simulate

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/olivere/jobloop"
)

// ErrSimulated is returned by bodies that were chosen to fail.
var ErrSimulated = errors.New("simulate: processor failed")

// Processor returns a job body that runs for a random duration in
// [min,max] and fails with probability failureRate. It returns early
// with ctx.Err() when ctx is done.
func Processor(logger jobloop.Logger, min, max time.Duration, failureRate float64) jobloop.Processor {
	if max < min {
		max = min
	}
	return func(ctx context.Context, id jobloop.JobID) error {
		d := min
		if span := int64(max - min); span > 0 {
			d += time.Duration(rand.Int63n(span + 1))
		}
		logger.Printf("job %v: running for %v", id, d)

		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if rand.Float64() < failureRate {
			return ErrSimulated
		}
		logger.Printf("job %v: done", id)
		return nil
	}
}
