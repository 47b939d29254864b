package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cuvejm/stockengine"

// EngineMetrics records order and stock counters through the global OpenTelemetry meter provider.
// Without a configured provider the instruments are no-ops.
type EngineMetrics struct {
	sequenceDegraded metric.Int64Counter
	movements        metric.Int64Counter
	itemFailures     metric.Int64Counter
	transitions      metric.Int64Counter
	verifications    metric.Float64Histogram
}

// NewEngineMetrics registers the engine instruments on meter, defaulting to the global provider.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	degraded, err := meter.Int64Counter("engine.sequence.degraded",
		metric.WithDescription("Identifiers allocated from the timestamp fallback"))
	if err != nil {
		return nil, err
	}
	movements, err := meter.Int64Counter("engine.ledger.movements",
		metric.WithDescription("Stock movements committed to the ledger"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("engine.ledger.item_failures",
		metric.WithDescription("Per item stock effects that failed inside a multi item operation"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("engine.order.transitions",
		metric.WithDescription("Committed order status changes"))
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Float64Histogram("engine.auth.verification_duration",
		metric.WithDescription("Service token verification latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &EngineMetrics{
		sequenceDegraded: degraded,
		movements:        movements,
		itemFailures:     failures,
		transitions:      transitions,
		verifications:    verifications,
	}, nil
}

// SequenceDegraded counts a fallback allocation for prefix.
func (m *EngineMetrics) SequenceDegraded(ctx context.Context, prefix string) {
	if m == nil {
		return
	}
	m.sequenceDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("prefix", prefix)))
}

// MovementRecorded counts a committed ledger movement by type.
func (m *EngineMetrics) MovementRecorded(ctx context.Context, movementType string) {
	if m == nil {
		return
	}
	m.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("type", movementType)))
}

// ItemFailed counts a failed per item effect for operation.
func (m *EngineMetrics) ItemFailed(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.itemFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// OrderTransitioned counts a committed status change.
func (m *EngineMetrics) OrderTransitioned(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordVerification records a service token check for the internal routes.
func (m *EngineMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verifications.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	))
}
