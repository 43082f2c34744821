// Package orchestrator runs the event pipeline: validation, admission
// gates, bounded reasoning, signal filtering, append-only persistence,
// and best-effort notification fanout. HandleEvent never returns an
// error; every outcome, including internal faults, is encoded in the
// EventResult.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/advisor/pkg/admission"
	"github.com/crestline/advisor/pkg/canonical"
	"github.com/crestline/advisor/pkg/contracts"
	"github.com/crestline/advisor/pkg/dlq"
	"github.com/crestline/advisor/pkg/event"
	"github.com/crestline/advisor/pkg/filter"
	"github.com/crestline/advisor/pkg/lifecycle"
	"github.com/crestline/advisor/pkg/notify"
	"github.com/crestline/advisor/pkg/observability"
	"github.com/crestline/advisor/pkg/policy"
	"github.com/crestline/advisor/pkg/reasoning"
	"github.com/crestline/advisor/pkg/store"
)

// DefaultSummaryTTL bounds the lifetime of cached decision summaries.
const DefaultSummaryTTL = 5 * time.Minute

// Config carries the orchestrator's tunables.
type Config struct {
	// DefaultReasoningTimeoutMs applies when the reasoning policy names
	// no timeout. Clamped to the invoker's maximum.
	DefaultReasoningTimeoutMs int64
	// SummaryTTL is the decision summary cache TTL.
	SummaryTTL time.Duration
}

func (c *Config) normalize() {
	if c.DefaultReasoningTimeoutMs <= 0 {
		c.DefaultReasoningTimeoutMs = reasoning.DefaultTimeoutMs
	}
	if c.SummaryTTL <= 0 {
		c.SummaryTTL = DefaultSummaryTTL
	}
}

// Deps are the pipeline collaborators. Validator, Dedup, Cooldown,
// Policies, Invoker, Filter, and Decisions are required; the rest are
// optional and degrade to no-ops.
type Deps struct {
	Validator *event.Validator
	Dedup     *admission.DedupCache
	Cooldown  *admission.Cooldown
	Policies  *policy.Store
	Invoker   *reasoning.Invoker
	Filter    *filter.Filter
	Decisions store.DecisionStore
	Memory    reasoning.Memory
	DLQ       *dlq.Queue
	Notifier  *notify.Notifier
	Summaries store.SummaryCache
	Metrics   *observability.Metrics
	Audit     *observability.PolicyAuditRing
}

// Orchestrator is the event handler. Safe for concurrent use; the
// persistence step is serialized so decision ordering follows the
// admission order of causally related events.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	writes sync.Mutex
	clock  func() time.Time
	logger *slog.Logger
}

// New builds an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.normalize()
	if deps.Metrics == nil {
		deps.Metrics = &observability.Metrics{}
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		clock:  time.Now,
		logger: slog.Default().With("component", "orchestrator"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// HandleEvent processes one raw event end to end. It always returns a
// result in a terminal state; panics in any stage are converted to a
// discarded result.
func (o *Orchestrator) HandleEvent(ctx context.Context, raw []byte) (res *contracts.EventResult) {
	start := o.clock()
	machine := lifecycle.NewMachine().WithClock(o.clock)
	correlationID := ""

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "event processing panicked",
				"correlation_id", correlationID, "panic", r)
			reason := fmt.Sprintf("internal_error:%T", r)
			if machine.State() == contracts.StatePending {
				_ = machine.Transition(contracts.StateDiscarded, reason)
			}
			res = o.finish(ctx, machine, start, correlationID, "", nil, map[string]any{
				"error": reason,
			})
		}
	}()

	// Validation.
	ev, verr := o.deps.Validator.Validate(raw)
	if verr != nil {
		// The single-line validation reason doubles as the discard reason.
		_ = machine.Transition(contracts.StateDiscarded, verr.Reason)
		return o.finish(ctx, machine, start, "", "", nil, map[string]any{
			"validation_error": verr.Reason,
		})
	}
	correlationID = ev.CorrelationID

	// Deduplication. The fingerprint is recorded before any further
	// processing so concurrent repeats are rejected too.
	duplicate, err := o.deps.Dedup.CheckAndRecord(ev)
	if err != nil {
		_ = machine.Transition(contracts.StateDiscarded, "fingerprint_failed")
		return o.finish(ctx, machine, start, correlationID, "", nil, map[string]any{
			"error": err.Error(),
		})
	}
	if duplicate {
		o.deps.Metrics.Deduplicated(ctx)
		_ = machine.Transition(contracts.StateDiscarded, "duplicate_event")
		return o.finish(ctx, machine, start, correlationID, "", nil, nil)
	}

	pctx := map[string]any{"event_type": ev.EventType, "symbol": ev.Symbol}
	now := o.clock().UnixMilli()

	// Cooldown gate.
	coolPol := o.deps.Policies.GetPolicy(ctx, policy.PolicyCooldown, pctx)
	cooldownMs := policy.Int64(policy.Sub(coolPol, "per_type"), ev.EventType,
		policy.Int64(coolPol, "default_ms", 0))
	if ok, retryAfter := o.deps.Cooldown.Admit(ev.EventType, cooldownMs); !ok {
		_ = machine.Transition(contracts.StateDeferred, "cooldown_active")
		return o.finish(ctx, machine, start, correlationID, "", []contracts.PolicyDecision{{
			PolicyName: policy.PolicyCooldown,
			Applied:    true,
			Reason:     fmt.Sprintf("cooldown_active:%dms_remaining", retryAfter),
			TsMs:       now,
		}}, map[string]any{"retry_after_ms": retryAfter})
	}

	// Session window gate.
	sessPol := o.deps.Policies.GetPolicy(ctx, policy.PolicySessionWindow, pctx)
	windows := policy.Sub(sessPol, "windows")
	ranges := admission.ParseHourRanges(windows[ev.EventType])
	if len(ranges) == 0 {
		ranges = admission.ParseHourRanges(windows["default"])
	}
	if !admission.SessionAllowed(ranges, o.clock()) {
		_ = machine.Transition(contracts.StateDeferred, "outside_session_window")
		return o.finish(ctx, machine, start, correlationID, "", []contracts.PolicyDecision{{
			PolicyName: policy.PolicySessionWindow,
			Applied:    true,
			Reason:     "outside_session_window",
			TsMs:       now,
		}}, nil)
	}

	// Bounded reasoning. The mode hint on the event wins over policy.
	reasonPol := o.deps.Policies.GetPolicy(ctx, policy.PolicyReasoning, pctx)
	mode := ev.ReasoningModeHint()
	if mode == "" {
		mode = policy.String(reasonPol, "mode", "default")
	}
	timeoutMs := policy.Int64(reasonPol, "timeout_ms", o.cfg.DefaultReasoningTimeoutMs)
	rres := o.deps.Invoker.Invoke(ctx, ev, mode, timeoutMs, o.deps.Memory)
	o.deps.Metrics.ReasoningDone(ctx, mode, float64(rres.Elapsed.Milliseconds()), rres.TimedOut)

	// Signal filter.
	filterPol := o.deps.Policies.GetPolicy(ctx, policy.PolicySignalFilter, pctx)
	kept, audit := o.deps.Filter.Apply(ctx, rres.Signals, ev.EventType, filterPol)

	// Assemble the decision record.
	decision := o.buildDecision(ev, mode, rres, kept, audit)

	// Persist. Serialized so later events observe earlier decisions.
	o.writes.Lock()
	persistErr := o.deps.Decisions.AppendDecision(ctx, decision)
	o.writes.Unlock()

	meta := map[string]any{
		"advisory_signals": kept,
	}
	if errs := errorSignals(rres.Signals); len(errs) > 0 {
		meta["advisory_errors"] = errs
	}

	if persistErr != nil {
		o.logger.ErrorContext(ctx, "decision persistence failed",
			"correlation_id", correlationID, "decision_id", decision.DecisionID, "error", persistErr)
		if o.deps.DLQ != nil {
			o.deps.DLQ.Enqueue(decision)
		}
		_ = machine.Transition(contracts.StateEscalated, "persistence_failed")
		meta["error"] = persistErr.Error()
		return o.finish(ctx, machine, start, correlationID, decision.DecisionID, audit, meta)
	}

	_ = machine.Transition(contracts.StateProcessed, "decision_persisted")
	o.deps.Metrics.DecisionPersisted(ctx)
	o.cacheSummary(ctx, decision)
	o.notifyAsync(ctx, ev, decision)

	return o.finish(ctx, machine, start, correlationID, decision.DecisionID, audit, meta)
}

// buildDecision stamps IDs, derives the aggregate confidence from the
// kept signals, and computes the content hash.
func (o *Orchestrator) buildDecision(ev *contracts.Event, mode string, rres reasoning.Result, kept []contracts.AdvisorySignal, audit []contracts.PolicyDecision) *contracts.Decision {
	decisionID := uuid.New().String()
	confidence := 0.0
	for i := range kept {
		kept[i].DecisionID = decisionID
		if kept[i].Confidence != nil && *kept[i].Confidence > confidence {
			confidence = *kept[i].Confidence
		}
	}

	d := &contracts.Decision{
		DecisionID:      decisionID,
		CorrelationID:   ev.CorrelationID,
		Symbol:          ev.Symbol,
		Timeframe:       ev.Timeframe,
		Signal:          ev.Signal,
		ReasoningMode:   mode,
		Confidence:      confidence,
		ReasoningTimeMs: rres.Elapsed.Milliseconds(),
		AdvisorySignals: kept,
		PolicyDecisions: audit,
		TsMs:            o.clock().UnixMilli(),
	}
	hash, err := canonical.Hash(d.Hashable())
	if err != nil {
		// The hashable projection is built from JSON-decoded values, so
		// this only fires on host-supplied unencodable payloads.
		o.logger.Warn("decision hash failed", "decision_id", decisionID, "error", err)
		hash = ""
	}
	d.DecisionHash = hash
	return d
}

func (o *Orchestrator) cacheSummary(ctx context.Context, d *contracts.Decision) {
	if o.deps.Summaries == nil {
		return
	}
	body, err := canonical.Marshal(d)
	if err != nil {
		return
	}
	if err := o.deps.Summaries.PutSummary(ctx, d.DecisionID, body, o.cfg.SummaryTTL); err != nil {
		o.logger.WarnContext(ctx, "summary cache write failed",
			"decision_id", d.DecisionID, "error", err)
	}
}

func (o *Orchestrator) notifyAsync(ctx context.Context, ev *contracts.Event, d *contracts.Decision) {
	if o.deps.Notifier == nil {
		return
	}
	severity := notify.SeverityInfo
	for i := range d.AdvisorySignals {
		s := &d.AdvisorySignals[i]
		if s.SignalType == contracts.SignalRiskFlag || s.IsErrorSignal() {
			severity = notify.SeverityWarn
			break
		}
	}
	o.deps.Notifier.Dispatch(ctx, &notify.Summary{
		CorrelationID:   d.CorrelationID,
		Symbol:          d.Symbol,
		Timeframe:       d.Timeframe,
		Signal:          ev.Signal,
		Confidence:      d.Confidence,
		AdvisorySignals: d.AdvisorySignals,
		TsMs:            d.TsMs,
		Severity:        severity,
	})
}

// finish records metrics and audit, then assembles the terminal result.
func (o *Orchestrator) finish(ctx context.Context, m *lifecycle.Machine, start time.Time, correlationID, decisionID string, decisions []contracts.PolicyDecision, meta map[string]any) *contracts.EventResult {
	elapsed := o.clock().Sub(start).Milliseconds()
	state := m.State()

	o.deps.Metrics.EventProcessed(ctx, string(state), float64(elapsed))
	if o.deps.Audit != nil && len(decisions) > 0 {
		o.deps.Audit.Record(correlationID, decisions)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return &contracts.EventResult{
		CorrelationID:    correlationID,
		EventState:       state,
		DecisionID:       decisionID,
		ProcessingTimeMs: elapsed,
		PolicyDecisions:  decisions,
		StateTransitions: m.Transitions(),
		Metadata:         meta,
	}
}

func errorSignals(signals []contracts.AdvisorySignal) []contracts.AdvisorySignal {
	var out []contracts.AdvisorySignal
	for _, s := range signals {
		if s.IsErrorSignal() {
			out = append(out, s)
		}
	}
	return out
}
