package notification

import (
	"context"
	"errors"

	"github.com/Additional-Code/umkm/internal/entity"
	notificationrepo "github.com/Additional-Code/umkm/internal/repository/notification"
	"github.com/Additional-Code/umkm/pkg/errorbank"
)

// Inbox serves a user's stored notifications.
type Inbox struct {
	repo *notificationrepo.Repository
}

// NewInbox constructs an Inbox.
func NewInbox(repo *notificationrepo.Repository) *Inbox {
	return &Inbox{repo: repo}
}

// InboxPage is one slice of a user's notifications.
type InboxPage struct {
	Items  []*entity.Notification
	Total  int
	Unread int
	Limit  int
	Offset int
}

// List returns the actor's notifications, newest first.
func (i *Inbox) List(ctx context.Context, actor entity.Actor, unreadOnly bool, limit, offset int) (*InboxPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := i.repo.ListByUser(ctx, actor.UserID, unreadOnly, limit, offset)
	if err != nil {
		return nil, errorbank.Internal("failed to load notifications", errorbank.WithCause(err))
	}
	unread, err := i.repo.CountUnread(ctx, actor.UserID)
	if err != nil {
		return nil, errorbank.Internal("failed to count notifications", errorbank.WithCause(err))
	}
	return &InboxPage{Items: items, Total: total, Unread: unread, Limit: limit, Offset: offset}, nil
}

// MarkRead flags one of the actor's notifications as read.
func (i *Inbox) MarkRead(ctx context.Context, actor entity.Actor, id string) error {
	err := i.repo.MarkRead(ctx, actor.UserID, id)
	if errors.Is(err, notificationrepo.ErrNotFound) {
		return errorbank.NotFound("notification not found", errorbank.WithCause(err))
	}
	if err != nil {
		return errorbank.Internal("failed to update notification", errorbank.WithCause(err))
	}
	return nil
}
