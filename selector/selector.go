// Package selector maintains the rotation ring of active upstream
// keys: an immutable snapshot plus an atomic cursor, handing out
// candidates in strict round-robin order and rebuilding the snapshot
// whenever the active set changes.
package selector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Inblac/gpt-proxy/keypool"
)

// Selector holds the active ring and hands out the next candidate
// under concurrency.
type Selector struct {
	repo  keypool.Repository
	limit int

	mu     sync.RWMutex
	ring   []keypool.UpstreamKey
	cursor uint64

	lock Locker
}

// Locker is an optional distributed leader lock guarding concurrent
// rebuilds across gateway processes sharing one Repository. A nil
// Locker (the default) makes rebuild purely process-local, which is
// always correct, just possibly redundant when run with N replicas.
type Locker interface {
	// TryLock attempts to acquire the lock, returning a release func
	// and true on success, or a no-op func and false if already held.
	TryLock(ctx context.Context) (release func(), ok bool)
}

// New returns a Selector with an empty ring; call Rebuild (or let the
// first Next call trigger it) before use.
func New(repo keypool.Repository, limit int) *Selector {
	if limit <= 0 {
		limit = 100
	}
	return &Selector{repo: repo, limit: limit}
}

// WithLock attaches an optional distributed leader lock used to
// serialize Rebuild across processes sharing one repository.
func (s *Selector) WithLock(l Locker) *Selector {
	s.lock = l
	return s
}

// Rebuild fetches ListActive from the repository and atomically swaps
// the ring. The ring preserves the repository's coldest-first order at
// the moment of rebuild; subsequent Next calls do not re-sort.
func (s *Selector) Rebuild(ctx context.Context) error {
	if s.lock != nil {
		release, ok := s.lock.TryLock(ctx)
		if !ok {
			// Another process is rebuilding; our stale ring is still
			// safe to use until the next empty-ring trigger.
			return nil
		}
		defer release()
	}

	active, err := s.repo.ListActive(ctx, s.limit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ring = active
	atomic.StoreUint64(&s.cursor, 0)
	s.mu.Unlock()
	return nil
}

// Next advances the cursor by one and returns the candidate at that
// position. When the ring is empty, it calls Rebuild once and retries
// once; it returns (zero, false) if still empty after that.
func (s *Selector) Next(ctx context.Context) (keypool.UpstreamKey, bool) {
	if k, ok := s.next(); ok {
		return k, true
	}

	if err := s.Rebuild(ctx); err != nil {
		return keypool.UpstreamKey{}, false
	}

	return s.next()
}

// next reads the current ring snapshot and atomically advances the
// cursor. The ring swap in Rebuild means concurrent callers here never
// observe a torn ring; they may observe a key a parallel request just
// deactivated, which the dispatch retry loop tolerates.
func (s *Selector) next() (keypool.UpstreamKey, bool) {
	s.mu.RLock()
	ring := s.ring
	s.mu.RUnlock()

	n := len(ring)
	if n == 0 {
		return keypool.UpstreamKey{}, false
	}

	idx := atomic.AddUint64(&s.cursor, 1) - 1
	return ring[int(idx%uint64(n))], true
}

// Len reports the current ring length, for tests and diagnostics.
func (s *Selector) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ring)
}
