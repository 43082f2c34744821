// Package filter applies policy-driven keep/drop rules to advisory
// signals. Rules come from the "signal_filter" policy: a global and
// per-type minimum confidence, a blocked-type list, and an optional CEL
// veto expression. Signals are never mutated; every accept and drop is
// recorded as a PolicyDecision audit row.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/crestline/advisor/pkg/contracts"
	"github.com/crestline/advisor/pkg/policy"
)

const policyName = "signal_filter"

// Filter evaluates signal-filter policies. CEL programs are compiled
// once per expression and cached.
type Filter struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates a filter with a CEL environment exposing the signal under
// evaluation and the event type.
func New() (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("signal", cel.DynType),
		cel.Variable("event_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: cel env: %w", err)
	}
	return &Filter{
		env:      env,
		prgCache: make(map[string]cel.Program),
		logger:   slog.Default().With("component", "filter"),
		clock:    time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (f *Filter) WithClock(clock func() time.Time) *Filter {
	f.clock = clock
	return f
}

// Apply filters signals under pol. The returned audit list carries one
// PolicyDecision per input signal: Applied=true means the filter acted
// on (dropped) the signal.
func (f *Filter) Apply(ctx context.Context, signals []contracts.AdvisorySignal, eventType string, pol map[string]any) (kept []contracts.AdvisorySignal, audit []contracts.PolicyDecision) {
	minConf := policy.Float64(pol, "min_confidence", 0.0)
	perType := policy.Sub(pol, "per_type")
	blocked := make(map[string]bool)
	for _, t := range policy.Strings(pol, "blocked_types") {
		blocked[t] = true
	}
	veto := policy.String(pol, "veto_expr", "")

	now := f.clock().UnixMilli()
	kept = make([]contracts.AdvisorySignal, 0, len(signals))
	audit = make([]contracts.PolicyDecision, 0, len(signals))

	for _, s := range signals {
		if reason, dropped := f.drop(ctx, &s, eventType, minConf, perType, blocked, veto); dropped {
			audit = append(audit, contracts.PolicyDecision{
				PolicyName: policyName, Applied: true, Reason: reason, TsMs: now,
			})
			continue
		}
		kept = append(kept, s)
		audit = append(audit, contracts.PolicyDecision{
			PolicyName: policyName, Applied: false, Reason: "accepted", TsMs: now,
		})
	}
	return kept, audit
}

func (f *Filter) drop(ctx context.Context, s *contracts.AdvisorySignal, eventType string, minConf float64, perType map[string]any, blocked map[string]bool, veto string) (string, bool) {
	if blocked[string(s.SignalType)] {
		return "blocked_type:" + string(s.SignalType), true
	}
	// Absent confidence means the signal is kept regardless of threshold.
	if s.Confidence != nil {
		threshold := policy.Float64(perType, string(s.SignalType), minConf)
		if *s.Confidence < threshold {
			return fmt.Sprintf("below_min_confidence:%.2f<%.2f", *s.Confidence, threshold), true
		}
	}
	if veto != "" {
		vetoed, err := f.evalVeto(veto, s, eventType)
		if err != nil {
			// A broken veto expression never drops signals.
			f.logger.WarnContext(ctx, "veto expression failed", "error", err)
		} else if vetoed {
			return "veto_expr", true
		}
	}
	return "", false
}

func (f *Filter) evalVeto(expr string, s *contracts.AdvisorySignal, eventType string) (bool, error) {
	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}
	sigMap := map[string]any{
		"signal_type": string(s.SignalType),
		"payload":     s.Payload,
	}
	if s.Confidence != nil {
		sigMap["confidence"] = *s.Confidence
	}
	out, _, err := prg.Eval(map[string]any{
		"signal":     sigMap,
		"event_type": eventType,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("veto expression did not yield bool")
	}
	return v, nil
}

func (f *Filter) program(expr string) (cel.Program, error) {
	f.mu.RLock()
	prg, hit := f.prgCache[expr]
	f.mu.RUnlock()
	if hit {
		return prg, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prg, hit = f.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := f.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	f.prgCache[expr] = p
	return p, nil
}
