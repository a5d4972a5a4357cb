package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/umkm/internal/dto"
	"github.com/Additional-Code/umkm/internal/notification"
	"github.com/Additional-Code/umkm/internal/presentation/http/response"
	"github.com/Additional-Code/umkm/internal/transport/http/middleware"
)

// Handler exposes the notification inbox over HTTP.
type Handler struct {
	inbox *notification.Inbox
}

// NewHandler constructs a notification Handler.
func NewHandler(inbox *notification.Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/notifications", middleware.Actor())
	g.GET("", h.list)
	g.POST("/:id/read", h.markRead)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))

	page, err := h.inbox.List(c.Request().Context(), middleware.ActorFrom(c), unreadOnly, limit, offset)
	if err != nil {
		return b.WithError(err).Build()
	}

	items := make([]dto.NotificationResponse, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, dto.NewNotificationResponse(n))
	}
	return b.WithData(items).
		WithPage(page.Total, page.Limit, page.Offset).
		WithMeta("unread", page.Unread).
		Build()
}

func (h *Handler) markRead(c echo.Context) error {
	if err := h.inbox.MarkRead(c.Request().Context(), middleware.ActorFrom(c), c.Param("id")); err != nil {
		return response.New(c).WithError(err).Build()
	}
	return c.NoContent(http.StatusNoContent)
}
