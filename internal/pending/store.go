// Package pending keeps PKCE verifiers between the authorization redirect and
// the callback.
package pending

import (
	"context"
	"sync"
	"time"
)

const DefaultTTL = 10 * time.Minute

// Store holds one verifier per state. Take removes the entry it returns, so a
// verifier is handed out at most once.
type Store interface {
	Put(ctx context.Context, state, verifier string) error
	Take(ctx context.Context, state string) (string, bool, error)
}

type entry struct {
	verifier string
	expires  time.Time
}

// MemoryStore is an in-process Store with TTL expiry. Expired entries are
// dropped on access and by a janitor goroutine that runs until Close.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithoutJanitor disables the background sweep; expiry still applies on access.
func WithoutJanitor() Option {
	return func(s *MemoryStore) { s.done = nil }
}

func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.done != nil {
		go s.janitor(sweepInterval(ttl))
	}
	return s
}

// Put stores verifier under state, replacing any earlier one.
func (s *MemoryStore) Put(_ context.Context, state, verifier string) error {
	s.mu.Lock()
	s.entries[state] = entry{verifier: verifier, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Take returns and removes the verifier for state. Expired entries are
// removed and reported as absent.
func (s *MemoryStore) Take(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[state]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, state)
	if !s.now().Before(e.expires) {
		return "", false, nil
	}
	return e.verifier, true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Close stops the janitor. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.done != nil {
			<-s.done
		}
	})
	return nil
}

func (s *MemoryStore) janitor(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	every := ttl / 2
	if every < time.Second {
		every = time.Second
	}
	return every
}
