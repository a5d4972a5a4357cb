package order

import (
	"slices"

	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/notification"
)

// Transition is one legal edge of the order lifecycle.
type Transition struct {
	From  entity.OrderStatus
	To    entity.OrderStatus
	Roles []entity.ActorRole
	// ReleaseStock returns every line's quantity to the ledger.
	ReleaseStock bool
	// NotifyType is the buyer notification emitted after commit; empty for none.
	NotifyType string
}

// Permits reports whether role may take this edge.
func (t Transition) Permits(role entity.ActorRole) bool {
	return slices.Contains(t.Roles, role)
}

// lifecycle is the only place order status rules live.
var lifecycle = []Transition{
	{
		From:  entity.OrderPending,
		To:    entity.OrderPaid,
		Roles: []entity.ActorRole{entity.ActorCustomer},
	},
	{
		From:         entity.OrderPending,
		To:           entity.OrderCancelled,
		Roles:        []entity.ActorRole{entity.ActorCustomer, entity.ActorAdmin},
		ReleaseStock: true,
		NotifyType:   notification.TypeOrderCancelled,
	},
	{
		From:       entity.OrderPaid,
		To:         entity.OrderProcessing,
		Roles:      []entity.ActorRole{entity.ActorOwner},
		NotifyType: notification.TypeOrderConfirmed,
	},
	{
		From:         entity.OrderPaid,
		To:           entity.OrderCancelled,
		Roles:        []entity.ActorRole{entity.ActorOwner, entity.ActorAdmin},
		ReleaseStock: true,
		NotifyType:   notification.TypeOrderCancelled,
	},
	{
		From:       entity.OrderProcessing,
		To:         entity.OrderShipped,
		Roles:      []entity.ActorRole{entity.ActorOwner},
		NotifyType: notification.TypeOrderShipped,
	},
	{
		From:       entity.OrderShipped,
		To:         entity.OrderCompleted,
		Roles:      []entity.ActorRole{entity.ActorOwner, entity.ActorCustomer},
		NotifyType: notification.TypeOrderCompleted,
	},
}

// LookupTransition returns the edge from -> to if role may take it.
func LookupTransition(from, to entity.OrderStatus, role entity.ActorRole) (Transition, error) {
	for _, t := range lifecycle {
		if t.From != from || t.To != to {
			continue
		}
		if !t.Permits(role) {
			return Transition{}, &IllegalTransitionError{From: from, To: to, Role: role, RoleOnly: true}
		}
		return t, nil
	}
	return Transition{}, &IllegalTransitionError{From: from, To: to, Role: role}
}

// NextStatuses lists the statuses role may move an order in status from to.
func NextStatuses(from entity.OrderStatus, role entity.ActorRole) []entity.OrderStatus {
	var next []entity.OrderStatus
	for _, t := range lifecycle {
		if t.From == from && t.Permits(role) {
			next = append(next, t.To)
		}
	}
	return next
}
