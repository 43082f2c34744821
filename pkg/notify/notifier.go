// Package notify fans decision summaries out to webhook channels.
// Delivery is best-effort and non-blocking: a global semaphore caps
// parallel outbound requests across all channels and events, each
// channel gets bounded retries with exponential backoff, and failures
// are logged and counted without ever touching the event result.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/crestline/advisor/pkg/contracts"
)

// Fanout defaults.
const (
	DefaultMaxConcurrency = 10
	DefaultRetries        = 3
	DefaultBackoffBase    = 1 * time.Second
	DefaultBackoffMult    = 2.0
	DefaultHTTPTimeout    = 30 * time.Second
)

// Severity levels a channel can filter on.
const (
	SeverityInfo = "info"
	SeverityWarn = "warn"
	SeverityAll  = "all"
)

// Channel is one webhook destination.
type Channel struct {
	Name           string  `yaml:"name" json:"name"`
	URL            string  `yaml:"url" json:"url"`
	SeverityFilter string  `yaml:"severity_filter" json:"severity_filter"` // info|warn|all
	MinConfidence  float64 `yaml:"min_confidence" json:"min_confidence"`
}

// Summary is the JSON body posted to each channel.
type Summary struct {
	CorrelationID   string                     `json:"correlation_id"`
	Symbol          string                     `json:"symbol"`
	Timeframe       string                     `json:"timeframe,omitempty"`
	Signal          map[string]any             `json:"signal"`
	Confidence      float64                    `json:"confidence"`
	AdvisorySignals []contracts.AdvisorySignal `json:"advisory_signals"`
	TsMs            int64                      `json:"ts_ms"`

	// Severity is computed by the orchestrator: warn when the decision
	// carries risk flags or reasoning faults, info otherwise. Not part
	// of the posted body.
	Severity string `json:"-"`
}

// Hooks feed the notification metrics. All optional.
type Hooks struct {
	OnError     func(channel string)
	OnDelivered func(channel string, elapsed time.Duration)
}

// Config tunes the fanout.
type Config struct {
	MaxConcurrency    int64
	Retries           int
	BackoffBase       time.Duration
	BackoffMult       float64
	HTTPTimeout       time.Duration
	NotifyLevel       string  // coarse filter: info|warn|all
	MinWarnConfidence float64 // promotes info decisions to warn channels
}

func (c *Config) normalize() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMult < 1.0 {
		c.BackoffMult = DefaultBackoffMult
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.NotifyLevel == "" {
		c.NotifyLevel = SeverityAll
	}
}

// Notifier dispatches summaries to a channel set.
type Notifier struct {
	channels []Channel
	cfg      Config
	client   *http.Client
	sem      *semaphore.Weighted
	hooks    Hooks
	logger   *slog.Logger
	wg       sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error // test seam
}

// New creates a notifier over the given channels.
func New(channels []Channel, cfg Config, hooks Hooks) *Notifier {
	cfg.normalize()
	return &Notifier{
		channels: channels,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
		hooks:    hooks,
		logger:   slog.Default().With("component", "notify"),
		sleep:    sleepContext,
	}
}

// Dispatch fans the summary out to all eligible channels and returns
// immediately. Channel order is not observable. Deliveries outlive the
// caller's context: cancelling it (an HTTP server does so the moment
// the handler returns) must not kill in-flight fanout, so only values
// are carried over and Wait bounds delivery lifetime instead.
func (n *Notifier) Dispatch(ctx context.Context, s *Summary) {
	body, err := json.Marshal(s)
	if err != nil {
		n.logger.WarnContext(ctx, "summary encode failed", "correlation_id", s.CorrelationID, "error", err)
		return
	}
	dctx := context.WithoutCancel(ctx)
	for _, ch := range n.channels {
		if !n.eligible(ch, s) {
			continue
		}
		n.wg.Add(1)
		go func(ch Channel) {
			defer n.wg.Done()
			if err := n.sem.Acquire(dctx, 1); err != nil {
				return
			}
			defer n.sem.Release(1)
			n.deliver(dctx, ch, body)
		}(ch)
	}
}

// Wait blocks until all in-flight deliveries finish. Used at shutdown
// and in tests.
func (n *Notifier) Wait() { n.wg.Wait() }

// eligible applies the coarse notify_level filter, the per-channel
// severity filter, and the per-channel confidence floor.
func (n *Notifier) eligible(ch Channel, s *Summary) bool {
	if n.cfg.NotifyLevel != SeverityAll && s.Severity != n.cfg.NotifyLevel {
		return false
	}
	if s.Confidence < ch.MinConfidence {
		return false
	}
	switch ch.SeverityFilter {
	case SeverityAll, "":
		return true
	case SeverityWarn:
		// Warn channels also take high-confidence info decisions.
		return s.Severity == SeverityWarn || s.Confidence >= n.cfg.MinWarnConfidence
	case SeverityInfo:
		return s.Severity == SeverityInfo
	}
	return false
}

func (n *Notifier) deliver(ctx context.Context, ch Channel, body []byte) {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(n.cfg.BackoffBase) * math.Pow(n.cfg.BackoffMult, float64(attempt-1)))
			if err := n.sleep(ctx, backoff); err != nil {
				return
			}
		}
		lastErr = n.post(ctx, ch.URL, body)
		if lastErr == nil {
			if n.hooks.OnDelivered != nil {
				n.hooks.OnDelivered(ch.Name, time.Since(start))
			}
			return
		}
	}
	n.logger.WarnContext(ctx, "notification delivery failed",
		"channel", ch.Name, "attempts", n.cfg.Retries+1, "error", lastErr)
	if n.hooks.OnError != nil {
		n.hooks.OnError(ch.Name)
	}
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// sleepContext waits for d, returning early when ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Code)
}
