package order

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Additional-Code/umkm/service/order"

type metrics struct {
	created        metric.Int64Counter
	stockConflicts metric.Int64Counter
	transitions    metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider) *metrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	return &metrics{
		created:        counter(meter, "orders.created", "Orders persisted at checkout"),
		stockConflicts: counter(meter, "orders.stock_conflicts", "Checkouts rejected for insufficient stock"),
		transitions:    counter(meter, "orders.transitions", "Committed order status transitions"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
