package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/odera-store/api/orders"

// OrderMetrics records order lifecycle counters. The zero value is a no-op.
type OrderMetrics struct {
	created       metric.Int64Counter
	statusChanges metric.Int64Counter
	expired       metric.Int64Counter
	sweepFailures metric.Int64Counter
	txRetries     metric.Int64Counter
}

// NewOrderMetrics registers counters on the global meter provider.
func NewOrderMetrics() (*OrderMetrics, error) {
	return NewOrderMetricsWithMeter(otel.Meter(meterName))
}

// NewOrderMetricsWithMeter registers counters on the supplied meter.
func NewOrderMetricsWithMeter(meter metric.Meter) (*OrderMetrics, error) {
	m := &OrderMetrics{}
	var err error
	if m.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed with a stock reservation")); err != nil {
		return nil, err
	}
	if m.statusChanges, err = meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Manual order status transitions")); err != nil {
		return nil, err
	}
	if m.expired, err = meter.Int64Counter("orders.sweep.expired",
		metric.WithDescription("Orders expired by the reservation sweeper")); err != nil {
		return nil, err
	}
	if m.sweepFailures, err = meter.Int64Counter("orders.sweep.failed",
		metric.WithDescription("Orders the sweeper failed to expire")); err != nil {
		return nil, err
	}
	if m.txRetries, err = meter.Int64Counter("orders.tx.retries",
		metric.WithDescription("Transaction attempts retried after a write conflict")); err != nil {
		return nil, err
	}
	return m, nil
}

// OrderCreated counts a committed order.
func (m *OrderMetrics) OrderCreated(ctx context.Context, shippingType string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("shipping_type", shippingType)))
}

// StatusChanged counts a manual transition.
func (m *OrderMetrics) StatusChanged(ctx context.Context, from, to string) {
	if m == nil || m.statusChanges == nil {
		return
	}
	m.statusChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// SweepResult counts expired and failed orders for one sweep run.
func (m *OrderMetrics) SweepResult(ctx context.Context, expired, failed int) {
	if m == nil {
		return
	}
	if m.expired != nil && expired > 0 {
		m.expired.Add(ctx, int64(expired))
	}
	if m.sweepFailures != nil && failed > 0 {
		m.sweepFailures.Add(ctx, int64(failed))
	}
}

// TxRetried counts one retried transaction attempt.
func (m *OrderMetrics) TxRetried(ctx context.Context, store string) {
	if m == nil || m.txRetries == nil {
		return
	}
	m.txRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("store", store)))
}
