package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubBackend is a scriptable chain link for store tests.
type stubBackend struct {
	name   string
	result map[string]any
	err    error
	calls  int
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Get(context.Context, string, map[string]any) (map[string]any, error) {
	b.calls++
	return b.result, b.err
}

func TestGetPolicyFirstNonEmptyWins(t *testing.T) {
	first := &stubBackend{name: "first", result: map[string]any{"min_confidence": 0.5}}
	second := &stubBackend{name: "second", result: map[string]any{"min_confidence": 0.9}}
	s := NewStore(time.Minute, first, second)

	got := s.GetPolicy(context.Background(), PolicySignalFilter, nil)
	assert.Equal(t, 0.5, got["min_confidence"])
	assert.Zero(t, second.calls, "chain stops at the first non-empty result")
}

func TestGetPolicyFallsThroughOnErrorAndEmpty(t *testing.T) {
	failing := &stubBackend{name: "failing", err: errors.New("connection refused")}
	silent := &stubBackend{name: "silent"}
	terminal := &stubBackend{name: "terminal", result: map[string]any{"mode": "default"}}
	s := NewStore(time.Minute, failing, silent, terminal)

	var failures []string
	s.OnBackendFailure = func(backend string) { failures = append(failures, backend) }

	got := s.GetPolicy(context.Background(), PolicyReasoning, nil)
	assert.Equal(t, "default", got["mode"])
	assert.Equal(t, []string{"failing"}, failures)
}

func TestGetPolicyNeverFails(t *testing.T) {
	failing := &stubBackend{name: "failing", err: errors.New("down")}
	s := NewStore(time.Minute, failing)

	got := s.GetPolicy(context.Background(), "unknown_policy", nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetPolicyCachesByNameAndContext(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	backend := &stubBackend{name: "b", result: map[string]any{"v": 1}}
	s := NewStore(30*time.Second, backend).WithClock(func() time.Time { return now })

	pctx := map[string]any{"event_type": "price_alert"}
	s.GetPolicy(context.Background(), PolicyCooldown, pctx)
	s.GetPolicy(context.Background(), PolicyCooldown, pctx)
	assert.Equal(t, 1, backend.calls, "second lookup served from cache")

	// Different context misses the cache.
	s.GetPolicy(context.Background(), PolicyCooldown, map[string]any{"event_type": "volume_spike"})
	assert.Equal(t, 2, backend.calls)

	// TTL expiry forces a refetch.
	now = now.Add(31 * time.Second)
	s.GetPolicy(context.Background(), PolicyCooldown, pctx)
	assert.Equal(t, 3, backend.calls)
}

func TestGetPolicyReturnsCopies(t *testing.T) {
	backend := &stubBackend{name: "b", result: map[string]any{"v": 1}}
	s := NewStore(time.Minute, backend)

	got := s.GetPolicy(context.Background(), PolicyRisk, nil)
	got["v"] = 999

	again := s.GetPolicy(context.Background(), PolicyRisk, nil)
	assert.Equal(t, 1, again["v"], "caller mutation must not poison the cache")
}

func TestInvalidateDropsCache(t *testing.T) {
	backend := &stubBackend{name: "b", result: map[string]any{"v": 1}}
	s := NewStore(time.Minute, backend)

	s.GetPolicy(context.Background(), PolicyRisk, nil)
	s.Invalidate()
	s.GetPolicy(context.Background(), PolicyRisk, nil)
	assert.Equal(t, 2, backend.calls)
}

func TestDefaultBackendKnownPolicies(t *testing.T) {
	b := NewDefaultBackend()

	for _, name := range []string{
		PolicyCooldown, PolicySessionWindow, PolicySignalFilter,
		PolicyReasoning, PolicyNotifications, PolicyRisk,
	} {
		got, err := b.Get(context.Background(), name, nil)
		assert.NoError(t, err)
		assert.NotEmpty(t, got, name)
	}

	got, err := b.Get(context.Background(), "unheard_of", nil)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestTypedReaders(t *testing.T) {
	m := map[string]any{
		"i_float": float64(42),
		"i_int":   7,
		"f":       0.25,
		"s":       "hello",
		"list":    []any{"a", "b", 3},
		"nested":  map[string]any{"k": "v"},
	}

	assert.Equal(t, int64(42), Int64(m, "i_float", 0))
	assert.Equal(t, int64(7), Int64(m, "i_int", 0))
	assert.Equal(t, int64(9), Int64(m, "missing", 9))
	assert.Equal(t, 0.25, Float64(m, "f", 0))
	assert.Equal(t, "hello", String(m, "s", ""))
	assert.Equal(t, []string{"a", "b"}, Strings(m, "list"))
	assert.Equal(t, map[string]any{"k": "v"}, Sub(m, "nested"))
	assert.Empty(t, Sub(m, "missing"))
}
