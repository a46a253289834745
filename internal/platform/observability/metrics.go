package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const metricNamespace = "github.com/motomarket/api"

// OrderMetrics records order lifecycle counters through OpenTelemetry.
type OrderMetrics struct {
	created            metric.Int64Counter
	createdEnabled     bool
	transitions        metric.Int64Counter
	transitionsEnabled bool
	inventory          metric.Int64Counter
	inventoryEnabled   bool
}

// MetricsOption customises OrderMetrics construction.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	meter  metric.Meter
	logger *zap.Logger
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.meter = m
	}
}

// WithMetricsLogger sets the logger used to report registration failures.
func WithMetricsLogger(logger *zap.Logger) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.logger = logger
	}
}

// NewOrderMetrics registers the order instruments. Instruments that fail to register are disabled.
func NewOrderMetrics(opts ...MetricsOption) *OrderMetrics {
	cfg := metricsConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	created, createdErr := meter.Int64Counter(
		"orders.created",
		metric.WithDescription("Count of orders placed"),
	)
	if createdErr != nil {
		cfg.logger.Warn("metrics: unable to register orders.created", zap.Error(createdErr))
	}

	transitions, transitionsErr := meter.Int64Counter(
		"orders.status_transitions",
		metric.WithDescription("Count of applied order status transitions"),
	)
	if transitionsErr != nil {
		cfg.logger.Warn("metrics: unable to register orders.status_transitions", zap.Error(transitionsErr))
	}

	inventory, inventoryErr := meter.Int64Counter(
		"inventory.adjusted_units",
		metric.WithDescription("Units of stock added or removed by order status changes"),
	)
	if inventoryErr != nil {
		cfg.logger.Warn("metrics: unable to register inventory.adjusted_units", zap.Error(inventoryErr))
	}

	return &OrderMetrics{
		created:            created,
		createdEnabled:     createdErr == nil,
		transitions:        transitions,
		transitionsEnabled: transitionsErr == nil,
		inventory:          inventory,
		inventoryEnabled:   inventoryErr == nil,
	}
}

// OrderCreated increments the order placement counter.
func (m *OrderMetrics) OrderCreated(ctx context.Context, lines int) {
	if m == nil || !m.createdEnabled {
		return
	}
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.Int("lines", lines)))
}

// StatusTransition records a status change from one state to another.
func (m *OrderMetrics) StatusTransition(ctx context.Context, from, to string) {
	if m == nil || !m.transitionsEnabled {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// InventoryAdjusted records the absolute units moved in the given direction.
func (m *OrderMetrics) InventoryAdjusted(ctx context.Context, delta int) {
	if m == nil || !m.inventoryEnabled || delta == 0 {
		return
	}
	direction := "restock"
	units := int64(delta)
	if delta < 0 {
		direction = "decrement"
		units = -units
	}
	m.inventory.Add(ctx, units, metric.WithAttributes(attribute.String("direction", direction)))
}
