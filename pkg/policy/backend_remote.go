package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// Remote backend defaults.
const (
	DefaultRemoteTimeout    = 2 * time.Second
	DefaultFailureThreshold = 5
	DefaultCoolOff          = 60 * time.Second
)

// RemoteBackend resolves policies from an HTTP policy service. It is
// wrapped in a circuit breaker: after FailureThreshold consecutive
// failures the backend is skipped for CoolOff, then probed once.
type RemoteBackend struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// RemoteConfig tunes the remote backend.
type RemoteConfig struct {
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold uint32
	CoolOff          time.Duration

	// OnStateChange, if set, is called with true when the circuit opens
	// and false when it leaves the open state. Feeds the
	// circuit_breaker_open gauge.
	OnStateChange func(open bool)
}

// NewRemoteBackend builds a remote backend. Zero config values fall
// back to the package defaults.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = DefaultCoolOff
	}
	threshold := cfg.FailureThreshold
	onState := cfg.OnStateChange
	return &RemoteBackend{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "policy-remote",
			MaxRequests: 1, // half-open permits exactly one probe
			Timeout:     cfg.CoolOff,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
				if onState != nil {
					onState(to == gobreaker.StateOpen)
				}
			},
		}),
	}
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return "remote" }

// Open reports whether the circuit is currently open. Feeds the
// circuit_breaker_open gauge.
func (b *RemoteBackend) Open() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// Get implements Backend. An open circuit surfaces as an error so the
// chain falls through to the next backend.
func (b *RemoteBackend) Get(ctx context.Context, name string, pctx map[string]any) (map[string]any, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.fetch(ctx, name, pctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]any), nil
}

func (b *RemoteBackend) fetch(ctx context.Context, name string, pctx map[string]any) (map[string]any, error) {
	body, err := json.Marshal(pctx)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/policies/%s", b.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The service has no opinion; not a backend failure.
		return map[string]any{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("policy service returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode policy %q: %w", name, err)
	}
	return out, nil
}
