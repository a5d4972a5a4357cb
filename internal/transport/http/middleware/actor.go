// Package middleware holds echo middleware shared by HTTP handlers.
package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/presentation/http/response"
	"github.com/Additional-Code/umkm/pkg/errorbank"
)

// Identity headers set by the upstream auth gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const actorKey = "umkm.actor"

// Actor rejects requests without a recognised identity and stores the actor
// on the echo context for handlers.
func Actor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
			if userID == "" {
				return response.New(c).WithError(errorbank.Unauthorized("missing " + HeaderUserID + " header")).Build()
			}
			role, ok := entity.ParseActorRole(c.Request().Header.Get(HeaderUserRole))
			if !ok {
				return response.New(c).WithError(errorbank.Unauthorized("missing or unknown "+HeaderUserRole+" header",
					errorbank.WithDetail("allowed", []entity.ActorRole{entity.ActorCustomer, entity.ActorOwner, entity.ActorAdmin}))).Build()
			}
			c.Set(actorKey, entity.Actor{UserID: userID, Role: role})
			return next(c)
		}
	}
}

// ActorFrom returns the actor stored by Actor.
func ActorFrom(c echo.Context) entity.Actor {
	actor, _ := c.Get(actorKey).(entity.Actor)
	return actor
}
