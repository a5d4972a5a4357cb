package http

import (
	"go.uber.org/fx"

	notificationtransport "github.com/Additional-Code/umkm/internal/transport/http/notification"
	ordertransport "github.com/Additional-Code/umkm/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	notificationtransport.Module,
)
