package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/cache"
	"github.com/Additional-Code/umkm/internal/messaging"
	ordersvc "github.com/Additional-Code/umkm/internal/service/order"
	"github.com/Additional-Code/umkm/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/umkm/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderCreatedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewStatusChangedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderCreatedHandler records an audit line for every new order.
func NewOrderCreatedHandler(logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.created", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order created", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		logger.Info("order created",
			zap.String("id", event.ID),
			zap.String("number", event.Number),
			zap.String("store_id", event.StoreID),
			zap.String("total", event.TotalPrice),
			zap.Int("lines", event.Lines),
		)
		return nil
	}

	return worker.HandlerRegistration{
		EventType: ordersvc.EventOrderCreated,
		Handler:   handler,
	}
}

// NewStatusChangedHandler audits transitions and drops the cached order view,
// covering instances whose own post-commit eviction did not go through.
func NewStatusChangedHandler(logger *zap.Logger, store cache.Store) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.status_changed", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.OrderStatusChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order status change", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		span.SetAttributes(
			attribute.String("order.id", event.ID),
			attribute.String("order.status.to", string(event.To)),
		)

		if err := store.Delete(ctx, ordersvc.CacheKey(event.ID)); err != nil {
			logger.Warn("evict cached order", zap.String("id", event.ID), zap.Error(err))
		}
		logger.Info("order status changed",
			zap.String("id", event.ID),
			zap.String("number", event.Number),
			zap.String("from", string(event.From)),
			zap.String("to", string(event.To)),
			zap.String("actor_id", event.ActorID),
			zap.String("actor_role", string(event.ActorRole)),
		)
		return nil
	}

	return worker.HandlerRegistration{
		EventType: ordersvc.EventOrderStatusChanged,
		Handler:   handler,
	}
}
