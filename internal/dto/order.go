package dto

import (
	"time"

	"github.com/Additional-Code/umkm/internal/entity"
)

// OrderLineResponse is one frozen line of an order.
type OrderLineResponse struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// OrderResponse represents an order as exposed via transport layers.
// Money is rendered as fixed two-decimal strings.
type OrderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"order_number"`
	UserID        string              `json:"user_id"`
	StoreID       string              `json:"store_id"`
	BuyerPhone    string              `json:"buyer_phone"`
	Note          string              `json:"note,omitempty"`
	PaymentMethod string              `json:"payment_method,omitempty"`
	PaymentNote   string              `json:"payment_note,omitempty"`
	PaymentProof  *string             `json:"payment_proof,omitempty"`
	TotalPrice    string              `json:"total_price"`
	Status        string              `json:"status"`
	NextStatuses  []string            `json:"next_statuses,omitempty"`
	Lines         []OrderLineResponse `json:"lines"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CancelledAt   *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewOrderResponse converts an order entity.
func NewOrderResponse(order *entity.Order) OrderResponse {
	lines := make([]OrderLineResponse, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, OrderLineResponse{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Subtotal:    l.Subtotal.StringFixed(2),
		})
	}
	return OrderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		StoreID:       order.StoreID,
		BuyerPhone:    order.BuyerPhone,
		Note:          order.Note,
		PaymentMethod: order.PaymentMethod,
		PaymentNote:   order.PaymentNote,
		PaymentProof:  order.PaymentProof,
		TotalPrice:    order.TotalPrice.StringFixed(2),
		Status:        string(order.Status),
		Lines:         lines,
		PaidAt:        order.PaidAt,
		CompletedAt:   order.CompletedAt,
		CancelledAt:   order.CancelledAt,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

// CreateOrderRequest is the checkout payload.
type CreateOrderRequest struct {
	StoreID       string             `json:"store_id"`
	BuyerPhone    string             `json:"buyer_phone"`
	Note          string             `json:"note"`
	PaymentMethod string             `json:"payment_method"`
	Items         []OrderItemRequest `json:"items"`
}

// OrderItemRequest is one requested product.
type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UpdateOrderStatusRequest asks for a lifecycle transition.
type UpdateOrderStatusRequest struct {
	Status       string `json:"status"`
	PaymentProof string `json:"payment_proof"`
	PaymentNote  string `json:"payment_note"`
}
