// Package reasoning dispatches events to host-supplied reasoning
// functions under a wall-clock deadline. The invoker is non-throwing:
// panics, errors, timeouts, and malformed outputs all come back as
// synthetic advisory signals, never as failures of the event.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crestline/advisor/pkg/contracts"
)

// Timeout bounds per §reasoning.timeout_ms.
const (
	DefaultTimeoutMs = 500
	MaxTimeoutMs     = 5000
)

// Memory is the read-only accessor handed to reasoning functions. It
// queries persisted decisions and outcomes and never writes.
type Memory interface {
	ByCorrelationID(ctx context.Context, correlationID string) (*contracts.Decision, error)
	BySymbolSince(ctx context.Context, symbol string, sinceMs int64) ([]contracts.Decision, error)
	LastN(ctx context.Context, n int) ([]contracts.Decision, error)
}

// Func is a host-supplied reasoning function. It receives a read-only
// snapshot of the event and must not mutate its inputs. The context
// carries the reasoning deadline.
type Func func(ctx context.Context, ev *contracts.Event, mem Memory) ([]contracts.AdvisorySignal, error)

// Invoker holds the mode registry. It carries no per-call state.
type Invoker struct {
	mu          sync.RWMutex
	funcs       map[string]Func
	defaultMode string
	logger      *slog.Logger
}

// NewInvoker creates an invoker whose fallback mode is defaultMode.
func NewInvoker(defaultMode string) *Invoker {
	if defaultMode == "" {
		defaultMode = "default"
	}
	return &Invoker{
		funcs:       make(map[string]Func),
		defaultMode: defaultMode,
		logger:      slog.Default().With("component", "reasoning"),
	}
}

// Register installs fn under mode, replacing any previous registration.
func (i *Invoker) Register(mode string, fn Func) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.funcs[mode] = fn
}

// Result is the outcome of one bounded invocation.
type Result struct {
	Signals  []contracts.AdvisorySignal
	TimedOut bool
	Elapsed  time.Duration
}

// Invoke runs the reasoning function for mode against a snapshot of ev,
// bounded by timeoutMs wall clock. The returned signals are clamped and
// sanitized; at least one signal is returned on any fault.
func (i *Invoker) Invoke(ctx context.Context, ev *contracts.Event, mode string, timeoutMs int64, mem Memory) Result {
	start := time.Now()
	if mode == "" {
		mode = i.defaultMode
	}
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}
	if timeoutMs > MaxTimeoutMs {
		timeoutMs = MaxTimeoutMs
	}

	i.mu.RLock()
	fn, ok := i.funcs[mode]
	i.mu.RUnlock()
	if !ok {
		return Result{
			Signals: []contracts.AdvisorySignal{errorSignal(mode, "unknown_reasoning_mode:"+mode, contracts.SignalError)},
			Elapsed: time.Since(start),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	type outcome struct {
		signals []contracts.AdvisorySignal
		err     error
	}
	done := make(chan outcome, 1)
	snapshot := ev.Clone()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("reasoning panic: %v", r)}
			}
		}()
		signals, err := fn(callCtx, snapshot, mem)
		done <- outcome{signals: signals, err: err}
	}()

	select {
	case <-callCtx.Done():
		// Wall-clock bound: a misbehaving function is abandoned, its
		// goroutine left to observe the cancelled context.
		i.logger.WarnContext(ctx, "reasoning timed out", "mode", mode, "timeout_ms", timeoutMs)
		return Result{
			Signals:  []contracts.AdvisorySignal{errorSignal(mode, "reasoning_timeout_exceeded", contracts.SignalTimeout)},
			TimedOut: true,
			Elapsed:  time.Since(start),
		}
	case out := <-done:
		if out.err != nil {
			return Result{
				Signals: []contracts.AdvisorySignal{errorSignal(mode, out.err.Error(), contracts.SignalError)},
				Elapsed: time.Since(start),
			}
		}
		return Result{Signals: sanitize(out.signals, mode), Elapsed: time.Since(start)}
	}
}

// sanitize applies output hygiene: clamp confidences, stamp mode and
// timestamps, and collapse malformed signals into a single error signal
// while preserving well-formed siblings.
func sanitize(signals []contracts.AdvisorySignal, mode string) []contracts.AdvisorySignal {
	now := time.Now().UnixMilli()
	kept := make([]contracts.AdvisorySignal, 0, len(signals))
	malformed := false
	for _, s := range signals {
		if !contracts.KnownSignalType(s.SignalType) {
			malformed = true
			continue
		}
		s.ClampConfidence()
		if s.ReasoningMode == "" {
			s.ReasoningMode = mode
		}
		if s.TsMs == 0 {
			s.TsMs = now
		}
		kept = append(kept, s)
	}
	if malformed {
		kept = append(kept, errorSignal(mode, "signal_construction_failed", contracts.SignalError))
	}
	return kept
}

func errorSignal(mode, msg string, t contracts.SignalType) contracts.AdvisorySignal {
	return contracts.AdvisorySignal{
		SignalType:    t,
		ReasoningMode: mode,
		Error:         msg,
		TsMs:          time.Now().UnixMilli(),
	}
}
