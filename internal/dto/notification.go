package dto

import (
	"time"

	"github.com/Additional-Code/umkm/internal/entity"
)

// NotificationResponse is one inbox entry.
type NotificationResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"action_url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewNotificationResponse converts a notification entity.
func NewNotificationResponse(n *entity.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Category:  n.Category,
		Title:     n.Title,
		Message:   n.Message,
		ActionURL: n.ActionURL,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
