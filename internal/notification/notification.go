// Package notification records user-facing events for the notification inbox.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/messaging"
	notificationrepo "github.com/Additional-Code/umkm/internal/repository/notification"
)

// Categories.
const (
	CategoryPersonal = "personal"
	CategoryStore    = "store"
)

// Types emitted by the order lifecycle.
const (
	TypeOrderNew       = "order_new"
	TypeOrderConfirmed = "order_confirmed"
	TypeOrderShipped   = "order_shipped"
	TypeOrderCompleted = "order_completed"
	TypeOrderCancelled = "order_cancelled"
)

// EventRequested is the bus event carrying a notification to be persisted.
const EventRequested = "notification.requested"

// Notification is a user-facing event about an account or a store.
type Notification struct {
	UserID    string
	Type      string
	Category  string
	Title     string
	Message   string
	ActionURL string
	Data      map[string]any
}

// Validate checks the fields every driver relies on.
func (n Notification) Validate() error {
	if n.UserID == "" {
		return errors.New("notification recipient is required")
	}
	if n.Type == "" {
		return errors.New("notification type is required")
	}
	if n.Category != CategoryPersonal && n.Category != CategoryStore {
		return fmt.Errorf("unknown notification category %q", n.Category)
	}
	return nil
}

// Handle identifies a recorded (or enqueued) notification.
type Handle struct {
	ID     string
	Driver string
}

// Dispatcher records notifications. Callers treat failures as non-fatal.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) (Handle, error)
}

// RequestedEvent is the payload of EventRequested.
type RequestedEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"action_url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Entity converts the event into its stored form.
func (e RequestedEvent) Entity() *entity.Notification {
	return &entity.Notification{
		ID:        e.ID,
		UserID:    e.UserID,
		Type:      e.Type,
		Category:  e.Category,
		Title:     e.Title,
		Message:   e.Message,
		ActionURL: e.ActionURL,
		Data:      e.Data,
		CreatedAt: e.CreatedAt,
	}
}

// Module provides the configured Dispatcher and the Inbox.
var Module = fx.Provide(New, NewInbox)

// Params defines dependencies for constructing the Dispatcher.
type Params struct {
	fx.In

	Config     config.Config
	Repository *notificationrepo.Repository
	Publisher  messaging.Client
	Logger     *zap.Logger
}

// New selects the dispatcher driver from configuration.
func New(p Params) (Dispatcher, error) {
	switch p.Config.Notification.Driver {
	case "database":
		return NewDatabaseDispatcher(p.Repository), nil
	case "bus":
		return NewBusDispatcher(p.Publisher), nil
	case "log":
		return NewLogDispatcher(p.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported notification driver: %s", p.Config.Notification.Driver)
	}
}

type databaseDispatcher struct {
	repo *notificationrepo.Repository
}

// NewDatabaseDispatcher stores notifications synchronously.
func NewDatabaseDispatcher(repo *notificationrepo.Repository) Dispatcher {
	return &databaseDispatcher{repo: repo}
}

func (d *databaseDispatcher) Notify(ctx context.Context, n Notification) (Handle, error) {
	if err := n.Validate(); err != nil {
		return Handle{}, err
	}
	event := newEvent(n)
	if err := d.repo.Create(ctx, event.Entity()); err != nil {
		return Handle{}, fmt.Errorf("store notification: %w", err)
	}
	return Handle{ID: event.ID, Driver: "database"}, nil
}

type busDispatcher struct {
	publisher messaging.Client
}

// NewBusDispatcher enqueues notifications for the notification worker.
func NewBusDispatcher(publisher messaging.Client) Dispatcher {
	return &busDispatcher{publisher: publisher}
}

func (d *busDispatcher) Notify(ctx context.Context, n Notification) (Handle, error) {
	if err := n.Validate(); err != nil {
		return Handle{}, err
	}
	event := newEvent(n)
	payload, err := json.Marshal(event)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.publisher.Publish(ctx, EventRequested, []byte(event.UserID), payload); err != nil {
		return Handle{}, fmt.Errorf("publish notification: %w", err)
	}
	return Handle{ID: event.ID, Driver: "bus"}, nil
}

type logDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher only logs notifications. Useful for local runs without a database inbox.
func NewLogDispatcher(logger *zap.Logger) Dispatcher {
	return &logDispatcher{logger: logger}
}

func (d *logDispatcher) Notify(_ context.Context, n Notification) (Handle, error) {
	if err := n.Validate(); err != nil {
		return Handle{}, err
	}
	id := uuid.NewString()
	d.logger.Info("notification",
		zap.String("id", id),
		zap.String("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.String("category", n.Category),
		zap.String("title", n.Title),
	)
	return Handle{ID: id, Driver: "log"}, nil
}

func newEvent(n Notification) RequestedEvent {
	return RequestedEvent{
		ID:        uuid.NewString(),
		UserID:    n.UserID,
		Type:      n.Type,
		Category:  n.Category,
		Title:     n.Title,
		Message:   n.Message,
		ActionURL: n.ActionURL,
		Data:      n.Data,
		CreatedAt: time.Now().UTC(),
	}
}
