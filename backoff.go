// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	defaultIdleBackoff  = 5 * time.Second
	defaultPaceCount    = 4
	defaultPaceInterval = 500 * time.Millisecond
)

// ConstantIdleBackoff waits the same time after every exhausted poll.
// This is the default with a 5 second interval.
func ConstantIdleBackoff(d time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(d)
}

// ExponentialIdleBackoff grows the wait after consecutive exhausted polls
// from initial up to max. It never gives up. The loop resets it as soon
// as the source returns a job again.
func ExponentialIdleBackoff(initial, max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextDelay asks b for the next interval. A backoff that says Stop
// falls back to the given duration: the loop never terminates on its own.
func nextDelay(b backoff.BackOff, fallback time.Duration) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d < 0 {
		return fallback
	}
	return d
}

// sleep pauses for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
