package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/umkm/internal/dto"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/presentation/http/response"
	service "github.com/Additional-Code/umkm/internal/service/order"
	"github.com/Additional-Code/umkm/internal/transport/http/middleware"
	"github.com/Additional-Code/umkm/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/umkm/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders", middleware.Actor())
	g.POST("", h.create)
	g.GET("", h.listMine)
	g.GET("/:id", h.getByID)
	g.PATCH("/:id/status", h.updateStatus)

	e.GET("/stores/:id/orders", h.listForStore, middleware.Actor())
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)
	actor := middleware.ActorFrom(c)

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.String("store.id", payload.StoreID),
	))
	defer span.End()

	items := make([]service.LineInput, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, service.LineInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	order, err := h.svc.Create(ctx, service.CreateInput{
		Buyer:         actor,
		StoreID:       payload.StoreID,
		BuyerPhone:    payload.BuyerPhone,
		Note:          payload.Note,
		PaymentMethod: payload.PaymentMethod,
		Items:         items,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(toDTO(order, actor)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	actor := middleware.ActorFrom(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id, actor)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order, actor)).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)
	actor := middleware.ActorFrom(c)
	id := c.Param("id")

	var payload dto.UpdateOrderStatusRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status.to", payload.Status),
	))
	defer span.End()

	order, err := h.svc.Transition(ctx, service.TransitionInput{
		OrderID:      id,
		Target:       entity.OrderStatus(payload.Status),
		Actor:        actor,
		PaymentProof: payload.PaymentProof,
		PaymentNote:  payload.PaymentNote,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order, actor)).Build()
}

func (h *Handler) listMine(c echo.Context) error {
	b := response.New(c)
	actor := middleware.ActorFrom(c)

	filter, err := parseFilter(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.listMine")
	defer span.End()

	page, err := h.svc.ListForBuyer(ctx, actor, filter)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTOs(page.Orders, actor)).WithPage(page.Total, page.Limit, page.Offset).Build()
}

func (h *Handler) listForStore(c echo.Context) error {
	b := response.New(c)
	actor := middleware.ActorFrom(c)
	storeID := c.Param("id")

	filter, err := parseFilter(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.listForStore", trace.WithAttributes(attribute.String("store.id", storeID)))
	defer span.End()

	page, err := h.svc.ListForStore(ctx, actor, storeID, filter)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTOs(page.Orders, actor)).WithPage(page.Total, page.Limit, page.Offset).Build()
}

func parseFilter(c echo.Context) (service.ListFilter, error) {
	filter := service.ListFilter{Status: entity.OrderStatus(c.QueryParam("status"))}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return service.ListFilter{}, errorbank.BadRequest("invalid "+name,
				errorbank.WithCause(err),
				errorbank.WithFields(map[string]string{name: "must be an integer"}))
		}
		*dst = n
	}
	return filter, nil
}

func toDTO(order *entity.Order, actor entity.Actor) dto.OrderResponse {
	out := dto.NewOrderResponse(order)
	for _, next := range service.NextStatuses(order.Status, actor.Role) {
		out.NextStatuses = append(out.NextStatuses, string(next))
	}
	return out
}

func toDTOs(orders []*entity.Order, actor entity.Actor) []dto.OrderResponse {
	out := make([]dto.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toDTO(o, actor))
	}
	return out
}
