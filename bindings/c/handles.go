package main

import (
	"sync"
	"sync/atomic"
)

const numShards = 64

// sessionShard is one shard of the session handle table, following
// tinyrange-cc's bindings/c sharded handle table: a fixed shard count keyed
// by handle value, each with its own lock, so concurrent opens/frees across
// unrelated handles never contend on one mutex.
type sessionShard struct {
	mu       sync.RWMutex
	sessions map[uint64]*session
}

var (
	shards     [numShards]sessionShard
	nextHandle atomic.Uint64
)

func init() {
	for i := range shards {
		shards[i].sessions = make(map[uint64]*session)
	}
	// Start handles at 1 so 0 can be "invalid".
	nextHandle.Store(1)
}

// getShard returns the shard for a given handle.
func getShard(h uint64) *sessionShard {
	return &shards[h%numShards]
}

// newHandle allocates a new handle for s.
func newHandle(s *session) uint64 {
	h := nextHandle.Add(1) - 1
	shard := getShard(h)
	shard.mu.Lock()
	shard.sessions[h] = s
	shard.mu.Unlock()
	return h
}

// getHandle retrieves the session for a handle. ok is false for handle 0 or
// an unknown handle.
func getHandle(h uint64) (s *session, ok bool) {
	if h == 0 {
		return nil, false
	}
	shard := getShard(h)
	shard.mu.RLock()
	s, ok = shard.sessions[h]
	shard.mu.RUnlock()
	return s, ok
}

// freeHandle removes a handle from the table, returning the session that
// was stored there, if any.
func freeHandle(h uint64) (s *session, ok bool) {
	if h == 0 {
		return nil, false
	}
	shard := getShard(h)
	shard.mu.Lock()
	s, ok = shard.sessions[h]
	delete(shard.sessions, h)
	shard.mu.Unlock()
	return s, ok
}
