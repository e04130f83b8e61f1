// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import "context"

// Offloader runs job bodies away from the loop goroutine.
type Offloader interface {
	// Submit schedules p to run with id and returns without waiting for
	// it to complete. The outcome of p is never returned to the caller.
	// Submit may wait for capacity; it must give up when ctx is done.
	Submit(ctx context.Context, id JobID, p Processor) error
}

// OffloaderFunc adapts a function to the Offloader interface.
type OffloaderFunc func(ctx context.Context, id JobID, p Processor) error

// Submit calls f(ctx, id, p).
func (f OffloaderFunc) Submit(ctx context.Context, id JobID, p Processor) error {
	return f(ctx, id, p)
}
