package notification

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/messaging"
	"github.com/Additional-Code/umkm/internal/notification"
	notificationrepo "github.com/Additional-Code/umkm/internal/repository/notification"
	"github.com/Additional-Code/umkm/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/umkm/worker/notification")

// Module registers the notification inbox writer.
var Module = fx.Module("worker_notification",
	fx.Provide(
		fx.Annotate(
			NewRequestedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewRequestedHandler stores notifications published on the bus. Redelivered
// events hit the primary key and are acknowledged as already stored.
func NewRequestedHandler(repo *notificationrepo.Repository, logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.notifications.requested", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event notification.RequestedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode notification request", zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		if event.ID == "" || event.UserID == "" {
			err := errors.New("notification request without id or recipient")
			logger.Error("dropping notification request", zap.Error(err))
			return nil
		}

		err := repo.Create(ctx, event.Entity())
		switch {
		case err == nil:
			logger.Debug("notification stored", zap.String("id", event.ID), zap.String("type", event.Type))
			return nil
		case database.IsUniqueViolation(err):
			logger.Debug("notification already stored", zap.String("id", event.ID))
			return nil
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "store failed")
			return err
		}
	}

	return worker.HandlerRegistration{
		EventType: notification.EventRequested,
		Handler:   handler,
	}
}
