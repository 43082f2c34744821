package dlq

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/crestline/advisor/pkg/contracts"
)

// Sink re-attempts the primary insert for one decision.
type Sink func(ctx context.Context, d *contracts.Decision) error

// WorkerConfig shapes the retry loop.
type WorkerConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMult float64
	BackoffCap  time.Duration
	// PollInterval is how often the worker checks for due entries when
	// the queue is idle.
	PollInterval time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMult < 1.0 {
		c.BackoffMult = DefaultBackoffMult
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// Worker is the single background retry task for one queue. It holds no
// locks across sleeps.
type Worker struct {
	queue  *Queue
	sink   Sink
	cfg    WorkerConfig
	logger *slog.Logger
}

// NewWorker binds a queue to a persistence sink.
func NewWorker(queue *Queue, sink Sink, cfg WorkerConfig) *Worker {
	cfg.normalize()
	return &Worker{
		queue:  queue,
		sink:   sink,
		cfg:    cfg,
		logger: slog.Default().With("component", "dlq"),
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for w.RetryOnce(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// RetryOnce attempts the head entry if it is due. It returns true when
// an entry was attempted (successfully or not), so callers can drain in
// a loop. Exposed for deterministic tests.
func (w *Worker) RetryOnce(ctx context.Context) bool {
	entry := w.queue.popDue(w.queue.clock())
	if entry == nil {
		return false
	}
	if w.queue.hooks.OnRetry != nil {
		w.queue.hooks.OnRetry()
	}

	err := w.sink(ctx, entry.Decision)
	if err == nil {
		if w.queue.hooks.OnPersisted != nil {
			w.queue.hooks.OnPersisted(w.queue.Size())
		}
		return true
	}

	entry.Attempts++
	if entry.Attempts >= w.cfg.MaxAttempts {
		w.logger.WarnContext(ctx, "decision dropped after max retry attempts",
			"decision_id", entry.Decision.DecisionID, "attempts", entry.Attempts)
		if w.queue.hooks.OnDropTerminal != nil {
			w.queue.hooks.OnDropTerminal()
		}
		return true
	}

	entry.NotBefore = w.queue.clock().Add(w.backoff(entry.Attempts))
	w.queue.requeue(entry)
	w.logger.InfoContext(ctx, "decision reinsert failed, backing off",
		"decision_id", entry.Decision.DecisionID, "attempts", entry.Attempts, "error", err)
	return true
}

// backoff computes base · multiplierⁿ capped at the configured maximum.
func (w *Worker) backoff(attempts int) time.Duration {
	d := time.Duration(float64(w.cfg.BackoffBase) * math.Pow(w.cfg.BackoffMult, float64(attempts-1)))
	if d > w.cfg.BackoffCap || d < 0 {
		return w.cfg.BackoffCap
	}
	return d
}
