package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces a fresh value for a snapshot
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot holds the last known value of an upstream collection together with
// the time it was fetched. The value is only ever replaced whole.
type Snapshot[T any] struct {
	mu         sync.RWMutex
	value      T
	lastUpdate time.Time
	generation uint64

	lifetime time.Duration
	fetch    FetchFunc[T]
	flight   singleflight.Group
	now      func() time.Time
}

// NewSnapshot creates an empty, stale snapshot
func NewSnapshot[T any](lifetime time.Duration, fetch FetchFunc[T]) *Snapshot[T] {
	return &Snapshot[T]{
		lifetime: lifetime,
		fetch:    fetch,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests
func (s *Snapshot[T]) WithClock(now func() time.Time) *Snapshot[T] {
	s.now = now
	return s
}

// Get returns the current value and when it was fetched
func (s *Snapshot[T]) Get() (T, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.value, s.lastUpdate
}

// LastUpdate returns when the value was last replaced
func (s *Snapshot[T]) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastUpdate
}

// Lifetime returns the staleness window
func (s *Snapshot[T]) Lifetime() time.Duration {
	return s.lifetime
}

// IsStale reports whether now is past LastUpdate + lifetime
func (s *Snapshot[T]) IsStale() bool {
	return IsStale(s.LastUpdate(), s.lifetime, s.now())
}

// IsStale is the staleness policy shared by every snapshot
func IsStale(lastUpdate time.Time, lifetime time.Duration, now time.Time) bool {
	return now.After(lastUpdate.Add(lifetime))
}

// Refresh fetches unconditionally and swaps the result in. No lock is held
// while fetching; on error the previous value is kept. A fetch that an
// Invalidate overtook is stored but stays stale.
func (s *Snapshot[T]) Refresh(ctx context.Context) error {
	s.mu.RLock()
	generation := s.generation
	s.mu.RUnlock()

	value, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.value = value
	if s.generation == generation {
		s.lastUpdate = s.now()
	} else {
		s.lastUpdate = time.Time{}
	}
	s.mu.Unlock()

	return nil
}

// RefreshIfStale refreshes only when the staleness window has passed.
// Concurrent callers share a single upstream fetch.
func (s *Snapshot[T]) RefreshIfStale(ctx context.Context) error {
	if !s.IsStale() {
		return nil
	}

	ch := s.flight.DoChan("refresh", func() (any, error) {
		// Another flight may have completed between the check above and now.
		if !s.IsStale() {
			return nil, nil
		}
		return nil, s.Refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load refreshes if stale and returns the current value
func (s *Snapshot[T]) Load(ctx context.Context) (T, error) {
	if err := s.RefreshIfStale(ctx); err != nil {
		var zero T
		return zero, err
	}
	value, _ := s.Get()
	return value, nil
}

// Invalidate marks the snapshot stale without discarding the value
func (s *Snapshot[T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUpdate = time.Time{}
	s.generation++
}
