package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderPaid       OrderStatus = "paid"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderPending,
	OrderPaid,
	OrderProcessing,
	OrderShipped,
	OrderCompleted,
	OrderCancelled,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are accepted from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Order is one checkout against a single store. Orders are never deleted.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            string          `bun:"id,pk"`
	OrderNumber   string          `bun:"order_number"`
	UserID        string          `bun:"user_id"`
	StoreID       string          `bun:"store_id"`
	BuyerPhone    string          `bun:"buyer_phone"`
	Note          string          `bun:"note"`
	PaymentNote   string          `bun:"payment_note"`
	PaymentProof  *string         `bun:"payment_proof"`
	PaymentMethod string          `bun:"payment_method"`
	TotalPrice    decimal.Decimal `bun:"total_price"`
	Status        OrderStatus     `bun:"status"`
	PaidAt        *time.Time      `bun:"paid_at"`
	CompletedAt   *time.Time      `bun:"completed_at"`
	CancelledAt   *time.Time      `bun:"cancelled_at"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero"`

	Lines []*OrderLine `bun:"rel:has-many,join:id=order_id"`
}

// LinesTotal sums the subtotals of every line.
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// OrderLine is an immutable line of an order with its price frozen at checkout.
// ProductID is a weak reference; the product may later disappear.
type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines"`

	ID          string          `bun:"id,pk"`
	OrderID     string          `bun:"order_id"`
	ProductID   string          `bun:"product_id"`
	ProductName string          `bun:"product_name"`
	Quantity    int             `bun:"quantity"`
	UnitPrice   decimal.Decimal `bun:"unit_price"`
	Subtotal    decimal.Decimal `bun:"subtotal"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
