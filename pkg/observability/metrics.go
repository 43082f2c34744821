package observability

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the pipeline instrument set. The zero value is usable:
// every record method no-ops when the instrument is nil, so callers
// never guard and tests never need a meter provider.
type Metrics struct {
	decisionsProcessed  metric.Int64Counter
	eventsTerminal      metric.Int64Counter
	deduplicated        metric.Int64Counter
	dlqRetries          metric.Int64Counter
	dlqDropped          metric.Int64Counter
	notificationErrors  metric.Int64Counter
	reasoningTimeouts   metric.Int64Counter
	policyBackendErrors metric.Int64Counter

	processingTime metric.Float64Histogram
	reasoningTime  metric.Float64Histogram
	deliveryTime   metric.Float64Histogram

	dlqSize metric.Int64UpDownCounter

	// circuitOpen is observed asynchronously; backends flip their flag
	// via RegisterCircuitState.
	circuitOpen   metric.Int64ObservableGauge
	circuitStates []*circuitState
}

type circuitState struct {
	backend string
	open    *atomic.Bool
}

// NewMetrics builds the instrument set on a meter. The provider and
// tests with a manual reader both construct through here.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	if err := m.init(meter); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) init(meter metric.Meter) error {
	var err error

	if m.decisionsProcessed, err = meter.Int64Counter("advisor.decisions_processed.total",
		metric.WithDescription("Decisions durably persisted, in the pipeline or by a dead-letter reinsert"),
		metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if m.eventsTerminal, err = meter.Int64Counter("advisor.events_processed.total",
		metric.WithDescription("Events reaching a terminal state"),
		metric.WithUnit("{event}")); err != nil {
		return err
	}
	if m.deduplicated, err = meter.Int64Counter("advisor.deduplicated_decisions.total",
		metric.WithDescription("Events discarded as duplicates"),
		metric.WithUnit("{event}")); err != nil {
		return err
	}
	if m.dlqRetries, err = meter.Int64Counter("advisor.dlq_retries.total",
		metric.WithDescription("Dead-letter reinsert attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return err
	}
	if m.dlqDropped, err = meter.Int64Counter("advisor.dlq_dropped.total",
		metric.WithDescription("Decisions dropped from the dead-letter queue"),
		metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if m.notificationErrors, err = meter.Int64Counter("advisor.notification_errors.total",
		metric.WithDescription("Notification deliveries that exhausted retries"),
		metric.WithUnit("{delivery}")); err != nil {
		return err
	}
	if m.reasoningTimeouts, err = meter.Int64Counter("advisor.reasoning_timeouts.total",
		metric.WithDescription("Reasoning invocations cut off at the deadline"),
		metric.WithUnit("{invocation}")); err != nil {
		return err
	}
	if m.policyBackendErrors, err = meter.Int64Counter("advisor.policy_backend_failures.total",
		metric.WithDescription("Policy backend lookups that failed"),
		metric.WithUnit("{lookup}")); err != nil {
		return err
	}

	if m.processingTime, err = meter.Float64Histogram("advisor.decision_processing_time",
		metric.WithDescription("End-to-end event processing time"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000)); err != nil {
		return err
	}
	if m.reasoningTime, err = meter.Float64Histogram("advisor.reasoning_time",
		metric.WithDescription("Reasoning invocation time"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000)); err != nil {
		return err
	}
	if m.deliveryTime, err = meter.Float64Histogram("advisor.notification_delivery_time",
		metric.WithDescription("Webhook delivery time including retries"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000)); err != nil {
		return err
	}

	if m.dlqSize, err = meter.Int64UpDownCounter("advisor.dlq_size",
		metric.WithDescription("Current dead-letter queue depth"),
		metric.WithUnit("{decision}")); err != nil {
		return err
	}

	if m.circuitOpen, err = meter.Int64ObservableGauge("advisor.circuit_breaker_open",
		metric.WithDescription("1 when a policy backend circuit is open"),
		metric.WithInt64Callback(m.observeCircuits)); err != nil {
		return err
	}
	return nil
}

func (m *Metrics) observeCircuits(_ context.Context, obs metric.Int64Observer) error {
	for _, cs := range m.circuitStates {
		var v int64
		if cs.open.Load() {
			v = 1
		}
		obs.Observe(v, metric.WithAttributes(attribute.String("backend", cs.backend)))
	}
	return nil
}

// RegisterCircuitState registers a backend's circuit flag. Returned
// bool is flipped by the backend on state changes. Must be called
// before the first metric export; not safe concurrently with exports.
func (m *Metrics) RegisterCircuitState(backend string) *atomic.Bool {
	flag := &atomic.Bool{}
	m.circuitStates = append(m.circuitStates, &circuitState{backend: backend, open: flag})
	return flag
}

// EventProcessed counts a terminal event with its final state. Deferred
// and discarded events land here too; only DecisionPersisted feeds the
// decision counter.
func (m *Metrics) EventProcessed(ctx context.Context, state string, elapsedMs float64) {
	if m.eventsTerminal != nil {
		m.eventsTerminal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	}
	if m.processingTime != nil {
		m.processingTime.Record(ctx, elapsedMs)
	}
}

// DecisionPersisted counts one durably persisted decision. Called on a
// successful pipeline write and again when a dead-lettered decision is
// finally reinserted.
func (m *Metrics) DecisionPersisted(ctx context.Context) {
	if m.decisionsProcessed != nil {
		m.decisionsProcessed.Add(ctx, 1)
	}
}

// Deduplicated counts a duplicate discard.
func (m *Metrics) Deduplicated(ctx context.Context) {
	if m.deduplicated != nil {
		m.deduplicated.Add(ctx, 1)
	}
}

// DLQRetry counts one reinsert attempt.
func (m *Metrics) DLQRetry(ctx context.Context) {
	if m.dlqRetries != nil {
		m.dlqRetries.Add(ctx, 1)
	}
}

// DLQDropped counts a dropped decision with the drop cause.
func (m *Metrics) DLQDropped(ctx context.Context, cause string) {
	if m.dlqDropped != nil {
		m.dlqDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	}
}

// DLQSize adjusts the queue depth gauge by delta.
func (m *Metrics) DLQSize(ctx context.Context, delta int64) {
	if m.dlqSize != nil {
		m.dlqSize.Add(ctx, delta)
	}
}

// NotificationError counts an exhausted delivery for a channel.
func (m *Metrics) NotificationError(ctx context.Context, channel string) {
	if m.notificationErrors != nil {
		m.notificationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
	}
}

// NotificationDelivered records a successful delivery's latency.
func (m *Metrics) NotificationDelivered(ctx context.Context, channel string, elapsedMs float64) {
	if m.deliveryTime != nil {
		m.deliveryTime.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("channel", channel)))
	}
}

// ReasoningDone records an invocation's latency and whether it timed out.
func (m *Metrics) ReasoningDone(ctx context.Context, mode string, elapsedMs float64, timedOut bool) {
	if m.reasoningTime != nil {
		m.reasoningTime.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("mode", mode)))
	}
	if timedOut && m.reasoningTimeouts != nil {
		m.reasoningTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// PolicyBackendFailure counts a failed policy lookup per backend.
func (m *Metrics) PolicyBackendFailure(ctx context.Context, backend string) {
	if m.policyBackendErrors != nil {
		m.policyBackendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}
