// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe maps backing the session registry tables.

package session

import (
	"hash/fnv"
	"sync"
)

// shardedMap spreads keys over power-of-two shards, each with its own lock,
// so that unrelated users and channels never contend on one mutex.
type shardedMap[K comparable, V any] struct {
	shards []*shard[K, V]
	mask   uint32
	hash   func(K) uint32
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// newShardedMap constructs a map with shardCount shards (rounded up to a power of two).
func newShardedMap[K comparable, V any](shardCount int, hash func(K) uint32) *shardedMap[K, V] {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[K, V], n)
	for i := range shards {
		shards[i] = &shard[K, V]{m: make(map[K]V)}
	}
	return &shardedMap[K, V]{shards: shards, mask: n - 1, hash: hash}
}

// shard picks the correct shard for a given key.
func (s *shardedMap[K, V]) shard(key K) *shard[K, V] {
	return s.shards[s.hash(key)&s.mask]
}

// Load fetches a value if present.
func (s *shardedMap[K, V]) Load(key K) (V, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.m[key]
	return v, ok
}

// Store sets key to v unconditionally.
func (s *shardedMap[K, V]) Store(key K, v V) {
	sh := s.shard(key)
	sh.mu.Lock()
	sh.m[key] = v
	sh.mu.Unlock()
}

// LoadOrCreate returns the existing value for key, or stores and returns
// create(). created reports which branch was taken.
func (s *shardedMap[K, V]) LoadOrCreate(key K, create func() V) (v V, created bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if existing, ok := sh.m[key]; ok {
		return existing, false
	}
	v = create()
	sh.m[key] = v
	return v, true
}

// LoadAndDelete removes key, returning the previous value.
func (s *shardedMap[K, V]) LoadAndDelete(key K) (V, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	return v, ok
}

// DeleteIf removes key only when match approves the current value.
func (s *shardedMap[K, V]) DeleteIf(key K, match func(V) bool) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.m[key]; ok && match(v) {
		delete(sh.m, key)
		return true
	}
	return false
}

// Range applies fn to all entries until fn returns false.
// fn runs under the shard read lock and must not call back into the map.
func (s *shardedMap[K, V]) Range(fn func(K, V) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, v := range sh.m {
			if !fn(k, v) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Len counts entries across all shards.
func (s *shardedMap[K, V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// idHash spreads sequential connection ids over shards.
func idHash(id int64) uint32 {
	return uint32(id) ^ uint32(id>>32)
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
