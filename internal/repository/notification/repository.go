package notification

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/umkm/repository/notification")

// ErrNotFound is returned when a notification is missing or belongs to someone else.
var ErrNotFound = errors.New("notification not found")

// Repository stores the notification inbox.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// Create inserts a notification. Callers replaying a delivery should treat a
// unique violation on the id as already stored.
func (r *Repository) Create(ctx context.Context, n *entity.Notification) error {
	if n == nil {
		return errors.New("nil notification")
	}
	ctx, span := repoTracer.Start(ctx, "NotificationRepository.Create", trace.WithAttributes(
		attribute.String("notification.type", n.Type),
		attribute.String("user.id", n.UserID),
	))
	defer span.End()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if _, err := r.writer.NewInsert().Model(n).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}

// ListByUser returns a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*entity.Notification, int, error) {
	ctx, span := repoTracer.Start(ctx, "NotificationRepository.ListByUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var items []*entity.Notification
	q := r.reader.NewSelect().
		Model(&items).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC, id DESC")
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, 0, err
	}
	return items, total, nil
}

// MarkRead flags one of the user's notifications as read.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) error {
	res, err := r.writer.NewUpdate().
		Model((*entity.Notification)(nil)).
		Set("is_read = ?", true).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when the flag was already set.
	exists, err := r.writer.NewSelect().
		Model((*entity.Notification)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// CountUnread returns how many notifications the user has not read yet.
func (r *Repository) CountUnread(ctx context.Context, userID string) (int, error) {
	return r.reader.NewSelect().
		Model((*entity.Notification)(nil)).
		Where("user_id = ?", userID).
		Where("is_read = ?", false).
		Count(ctx)
}
