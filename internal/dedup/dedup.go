// Package dedup implements the shared "have we already emitted this hash" set
// (spec.md §3 Invariant 4, §4.D/§4.E). The source never evicts; spec.md §9 allows
// a bounded LRU or time-window eviction so a long-running process does not grow
// the set unboundedly. This uses hashicorp/golang-lru (a direct dependency of
// MetalBlockchain-coreth and luxfi-evm) for the bounded container and layers a
// retention-window check on top, so an entry is only treated as "seen" while it
// is both present and within its retention window.
package dedup

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/evmwatch/evmwatch/internal/model"
)

// Capacity bounds the number of hashes retained regardless of age; it exists as
// a hard backstop behind the time-based retention window.
const Capacity = 200_000

// Set is a concurrency-safe "check-and-insert" set of transaction hashes.
type Set struct {
	mu        sync.Mutex
	cache     *lru.Cache
	retention time.Duration
	now       func() time.Time
}

// New builds a Set that treats entries older than retention as absent, even if
// they are still LRU-resident.
func New(retention time.Duration) *Set {
	cache, err := lru.New(Capacity)
	if err != nil {
		// Capacity is a positive compile-time constant; lru.New only errors on
		// size <= 0.
		panic(err)
	}
	return &Set{cache: cache, retention: retention, now: time.Now}
}

// AddIfAbsent inserts h and returns true if it was not already present (and not
// expired). This is the atomic check-and-insert spec.md §5 requires.
func (s *Set) AddIfAbsent(h model.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(h); ok {
		if !s.expired(v.(time.Time)) {
			return false
		}
	}
	s.cache.Add(h, s.now())
	return true
}

// Contains reports whether h is present and unexpired, without inserting.
func (s *Set) Contains(h model.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Peek(h)
	if !ok {
		return false
	}
	return !s.expired(v.(time.Time))
}

// Len reports the current LRU-resident size, which may include expired-but-not-
// yet-evicted entries.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

func (s *Set) expired(insertedAt time.Time) bool {
	if s.retention <= 0 {
		return false
	}
	return s.now().Sub(insertedAt) > s.retention
}
