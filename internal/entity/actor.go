package entity

import "strings"

// ActorRole identifies who is driving an operation.
type ActorRole string

const (
	ActorCustomer ActorRole = "customer"
	ActorOwner    ActorRole = "owner"
	ActorAdmin    ActorRole = "admin"
)

// ParseActorRole normalises a role name, reporting false for unknown roles.
func ParseActorRole(raw string) (ActorRole, bool) {
	switch role := ActorRole(strings.ToLower(strings.TrimSpace(raw))); role {
	case ActorCustomer, ActorOwner, ActorAdmin:
		return role, true
	default:
		return "", false
	}
}

// Actor is an authenticated caller as asserted by the upstream gateway.
type Actor struct {
	UserID string
	Role   ActorRole
}
