// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
)

var (
	// ErrExhausted must be returned from Source.Next when there are no
	// more jobs. It is not a failure: the loop backs off and polls again.
	ErrExhausted = errors.New("jobloop: source exhausted")
)

// Source produces job identifiers on demand.
type Source interface {
	// Next returns the next job identifier, or ErrExhausted if there is
	// none. Calling Next after exhaustion must keep returning ErrExhausted.
	Next(ctx context.Context) (JobID, error)
}

// Starter is implemented by sources that need to connect to something
// before the first poll. The loop calls Start once per run.
type Starter interface {
	Start(ctx context.Context) error
}

// SliceSource is a finite, ordered batch of job identifiers.
// Once exhausted it stays exhausted. It is safe for concurrent use.
type SliceSource struct {
	mu     sync.Mutex
	ids    []JobID
	cursor int
}

// NewSliceSource returns a source that yields ids in order.
func NewSliceSource(ids ...JobID) *SliceSource {
	s := &SliceSource{ids: make([]JobID, len(ids))}
	copy(s.ids, ids)
	return s
}

// NewRandomSource generates n random integer identifiers in [min, max)
// up front. If rnd is nil, the global source of math/rand is used.
// A negative n yields an empty source.
func NewRandomSource(n, min, max int, rnd *rand.Rand) *SliceSource {
	if n < 0 {
		n = 0
	}
	if max <= min {
		max = min + 1
	}
	intn := rand.Intn
	if rnd != nil {
		intn = rnd.Intn
	}
	ids := make([]JobID, n)
	for i := range ids {
		ids[i] = JobID(strconv.Itoa(min + intn(max-min)))
	}
	return &SliceSource{ids: ids}
}

// Next returns the next identifier or ErrExhausted.
func (s *SliceSource) Next(ctx context.Context) (JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.ids) {
		return "", ErrExhausted
	}
	id := s.ids[s.cursor]
	s.cursor++
	return id, nil
}

// Len returns the total number of identifiers in the batch.
func (s *SliceSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Remaining returns the number of identifiers not yet returned by Next.
func (s *SliceSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids) - s.cursor
}
