// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultShards = 16
)

// Gate decides whether a job may be admitted into execution.
type Gate interface {
	// TryAdmit returns true and records id the first time it is called
	// with that id. It returns false, without changing anything, on every
	// later call with the same id. It must be safe for concurrent use.
	TryAdmit(id JobID) bool
}

// MemoryGate is a Gate backed by a map guarded by a single mutex.
type MemoryGate struct {
	mu   sync.Mutex
	seen map[JobID]struct{}
}

// NewMemoryGate creates an empty MemoryGate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{seen: make(map[JobID]struct{})}
}

// TryAdmit implements Gate.
func (g *MemoryGate) TryAdmit(id JobID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, found := g.seen[id]; found {
		return false
	}
	g.seen[id] = struct{}{}
	return true
}

// Len returns the number of admitted identifiers.
func (g *MemoryGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// ShardedGate spreads identifiers over a fixed number of MemoryGates,
// picked by the hash of the identifier. An identifier always hashes to
// the same shard, so admission stays exactly-once.
type ShardedGate struct {
	shards []*MemoryGate
}

// NewShardedGate creates a gate with n shards. If n is less than 1, a
// default of 16 shards is used.
func NewShardedGate(n int) *ShardedGate {
	if n < 1 {
		n = defaultShards
	}
	g := &ShardedGate{shards: make([]*MemoryGate, n)}
	for i := range g.shards {
		g.shards[i] = NewMemoryGate()
	}
	return g
}

func (g *ShardedGate) shard(id JobID) *MemoryGate {
	h := xxhash.Sum64String(string(id))
	return g.shards[h%uint64(len(g.shards))]
}

// TryAdmit implements Gate.
func (g *ShardedGate) TryAdmit(id JobID) bool {
	return g.shard(id).TryAdmit(id)
}

// Len returns the number of admitted identifiers over all shards.
func (g *ShardedGate) Len() int {
	var n int
	for _, s := range g.shards {
		n += s.Len()
	}
	return n
}
