// Package policy implements the chained policy store. Backends are
// consulted in a fixed order (in-process config, remote HTTP behind a
// circuit breaker, distributed cache, compiled-in defaults) and the
// first non-empty result wins. Results are cached with a TTL keyed by
// (name, canonicalized context).
package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crestline/advisor/pkg/canonical"
)

// DefaultCacheTTL is the default policy result cache TTL.
const DefaultCacheTTL = 30 * time.Second

// Backend resolves a named policy for a lookup context. An empty map
// with a nil error means "no opinion"; the chain falls through.
type Backend interface {
	Name() string
	Get(ctx context.Context, name string, pctx map[string]any) (map[string]any, error)
}

// Store is the chained policy store.
type Store struct {
	backends []Backend
	ttl      time.Duration
	clock    func() time.Time
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	// OnBackendFailure is invoked (if set) whenever one backend errors
	// and the chain falls through. Used to feed the
	// policy_backend_failures_total counter.
	OnBackendFailure func(backend string)
}

type cacheEntry struct {
	value     map[string]any
	expiresAt time.Time
}

// NewStore builds a store over the given backend chain.
func NewStore(ttl time.Duration, backends ...Backend) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		backends: backends,
		ttl:      ttl,
		clock:    time.Now,
		logger:   slog.Default().With("component", "policy"),
		cache:    make(map[string]cacheEntry),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// GetPolicy resolves the named policy. Lookups never fail: backend
// errors are logged, counted, and skipped; if every backend is silent
// the result is an empty map.
func (s *Store) GetPolicy(ctx context.Context, name string, pctx map[string]any) map[string]any {
	key := s.cacheKey(name, pctx)
	now := s.clock()

	s.mu.RLock()
	if e, ok := s.cache[key]; ok && e.expiresAt.After(now) {
		s.mu.RUnlock()
		return clone(e.value)
	}
	s.mu.RUnlock()

	for _, b := range s.backends {
		result, err := b.Get(ctx, name, pctx)
		if err != nil {
			s.logger.WarnContext(ctx, "policy backend failed",
				"backend", b.Name(), "policy", name, "error", err)
			if s.OnBackendFailure != nil {
				s.OnBackendFailure(b.Name())
			}
			continue
		}
		if len(result) == 0 {
			continue
		}
		s.mu.Lock()
		s.cache[key] = cacheEntry{value: clone(result), expiresAt: now.Add(s.ttl)}
		s.mu.Unlock()
		return result
	}
	return map[string]any{}
}

// Invalidate drops all cached results. Intended for tests and for
// config hot-reload paths.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

func (s *Store) cacheKey(name string, pctx map[string]any) string {
	if len(pctx) == 0 {
		return name
	}
	h, err := canonical.Hash(pctx)
	if err != nil {
		// Uncacheable context: key on name only so lookups still work.
		return name
	}
	return name + "|" + h
}

func clone(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
