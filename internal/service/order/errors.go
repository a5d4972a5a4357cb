package order

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/repository/inventory"
	"github.com/Additional-Code/umkm/internal/service/ordernumber"
	"github.com/Additional-Code/umkm/pkg/errorbank"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid order request")
	// ErrStoreNotFound is returned when the checkout names an unknown store.
	ErrStoreNotFound = errors.New("store not found")
	// ErrProductNotFound is returned when a line references a product outside the store.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductNotOrderable is returned for products that are not active, or sold by a closed store.
	ErrProductNotOrderable = errors.New("product not orderable")
	// ErrInsufficientStock matches the ledger's *inventory.InsufficientStockError.
	ErrInsufficientStock = inventory.ErrInsufficientStock
	// ErrOrderNumberAllocation is returned once order numbering gave up.
	ErrOrderNumberAllocation = ordernumber.ErrAllocation
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrIllegalTransition matches every *IllegalTransitionError.
	ErrIllegalTransition = errors.New("illegal order status transition")
	// ErrActorNotPermitted is an illegal transition caused by the actor's role only.
	ErrActorNotPermitted = fmt.Errorf("%w: role not permitted", ErrIllegalTransition)
	// ErrNotParticipant is returned when the actor is neither the buyer, the store owner nor an admin.
	ErrNotParticipant = errors.New("actor is not a participant of this order")
	// ErrPaymentProofRequired is returned when marking an order paid without proof.
	ErrPaymentProofRequired = errors.New("payment proof is required")
	// ErrCheckoutNotPermitted is returned when an owner or admin places an order.
	ErrCheckoutNotPermitted = errors.New("only customers can place orders")
)

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid order request: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ProductError names the product a lookup or orderability check failed for.
type ProductError struct {
	ProductID string
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

// IllegalTransitionError describes a rejected status change.
type IllegalTransitionError struct {
	From entity.OrderStatus
	To   entity.OrderStatus
	Role entity.ActorRole
	// RoleOnly is set when the move exists in the lifecycle but not for Role.
	RoleOnly bool
}

func (e *IllegalTransitionError) Error() string {
	if e.RoleOnly {
		return fmt.Sprintf("%s may not move an order from %s to %s", e.Role, e.From, e.To)
	}
	return fmt.Sprintf("illegal order status transition from %s to %s", e.From, e.To)
}

// Is matches ErrIllegalTransition, and ErrActorNotPermitted for role-only rejections.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition || (e.RoleOnly && target == ErrActorNotPermitted)
}

// appError translates domain failures into transport-neutral application errors.
// The domain error stays reachable through errors.Is and errors.As.
func appError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var (
		validation *ValidationError
		stock      *inventory.InsufficientStockError
		transition *IllegalTransitionError
		product    *ProductError
	)
	switch {
	case errors.As(err, &validation):
		return errorbank.BadRequest("invalid order request",
			errorbank.WithCause(err),
			errorbank.WithFields(validation.Fields))
	case errors.As(err, &stock):
		return errorbank.Conflict("insufficient stock",
			errorbank.WithCause(err),
			errorbank.WithDetails(map[string]any{
				"product_id": stock.ProductID,
				"requested":  stock.Requested,
				"available":  stock.Available,
			}))
	case errors.As(err, &transition):
		details := map[string]any{"from": transition.From, "to": transition.To}
		if transition.RoleOnly {
			details["role"] = transition.Role
			return errorbank.Forbidden("role may not perform this transition", errorbank.WithCause(err), errorbank.WithDetails(details))
		}
		return errorbank.Unprocessable("illegal status transition", errorbank.WithCause(err), errorbank.WithDetails(details))
	case errors.Is(err, ErrProductNotOrderable):
		opts := []errorbank.Option{errorbank.WithCause(err)}
		if errors.As(err, &product) {
			opts = append(opts, errorbank.WithFields(map[string]string{"items": "product " + product.ProductID + " is not available for order"}))
		}
		return errorbank.BadRequest("product not orderable", opts...)
	case errors.Is(err, ErrProductNotFound):
		opts := []errorbank.Option{errorbank.WithCause(err)}
		if errors.As(err, &product) {
			opts = append(opts, errorbank.WithDetail("product_id", product.ProductID))
		}
		return errorbank.NotFound("product not found", opts...)
	case errors.Is(err, ErrStoreNotFound):
		return errorbank.NotFound("store not found", errorbank.WithCause(err))
	case errors.Is(err, ErrOrderNotFound):
		return errorbank.NotFound("order not found", errorbank.WithCause(err))
	case errors.Is(err, ErrNotParticipant):
		return errorbank.Forbidden("order belongs to another user", errorbank.WithCause(err))
	case errors.Is(err, ErrCheckoutNotPermitted):
		return errorbank.Forbidden("only customers can place orders",
			errorbank.WithCause(err),
			errorbank.WithDetail("role", "customer"))
	case errors.Is(err, ErrPaymentProofRequired):
		return errorbank.BadRequest("payment proof is required",
			errorbank.WithCause(err),
			errorbank.WithFields(map[string]string{"payment_proof": "required when marking an order paid"}))
	case errors.Is(err, ErrOrderNumberAllocation):
		return errorbank.Internal("could not allocate an order number", errorbank.WithCause(err))
	default:
		return errorbank.Internal("order storage failure", errorbank.WithCause(err))
	}
}
