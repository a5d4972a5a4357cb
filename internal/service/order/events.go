package order

import (
	"time"

	"github.com/Additional-Code/umkm/internal/entity"
)

// Event types published on the shared topic.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderCreatedEvent is emitted when a new order is persisted.
type OrderCreatedEvent struct {
	ID         string             `json:"id"`
	Number     string             `json:"number"`
	UserID     string             `json:"user_id"`
	StoreID    string             `json:"store_id"`
	Status     entity.OrderStatus `json:"status"`
	TotalPrice string             `json:"total_price"`
	Lines      int                `json:"lines"`
	CreatedAt  time.Time          `json:"created_at"`
}

// OrderStatusChangedEvent is emitted after a lifecycle transition commits.
type OrderStatusChangedEvent struct {
	ID        string             `json:"id"`
	Number    string             `json:"number"`
	StoreID   string             `json:"store_id"`
	From      entity.OrderStatus `json:"from"`
	To        entity.OrderStatus `json:"to"`
	ActorID   string             `json:"actor_id"`
	ActorRole entity.ActorRole   `json:"actor_role"`
	ChangedAt time.Time          `json:"changed_at"`
}
