package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Notification is a user-facing event recorded for the notification inbox.
type Notification struct {
	bun.BaseModel `bun:"table:notifications"`

	ID        string         `bun:"id,pk"`
	UserID    string         `bun:"user_id"`
	Type      string         `bun:"type"`
	Category  string         `bun:"category"`
	Title     string         `bun:"title"`
	Message   string         `bun:"message"`
	ActionURL string         `bun:"action_url"`
	Data      map[string]any `bun:"data"`
	IsRead    bool           `bun:"is_read"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
