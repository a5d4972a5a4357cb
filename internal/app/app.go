package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/umkm/internal/cache"
	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/logger"
	"github.com/Additional-Code/umkm/internal/messaging"
	"github.com/Additional-Code/umkm/internal/notification"
	"github.com/Additional-Code/umkm/internal/observability"
	repositorycatalog "github.com/Additional-Code/umkm/internal/repository/catalog"
	repositoryinventory "github.com/Additional-Code/umkm/internal/repository/inventory"
	repositorynotification "github.com/Additional-Code/umkm/internal/repository/notification"
	repositoryorder "github.com/Additional-Code/umkm/internal/repository/order"
	grpcserver "github.com/Additional-Code/umkm/internal/server/grpc"
	httpserver "github.com/Additional-Code/umkm/internal/server/http"
	serviceorder "github.com/Additional-Code/umkm/internal/service/order"
	"github.com/Additional-Code/umkm/internal/service/ordernumber"
	transporthttp "github.com/Additional-Code/umkm/internal/transport/http"
	"github.com/Additional-Code/umkm/internal/worker"
	workernotification "github.com/Additional-Code/umkm/internal/worker/notification"
	workerorder "github.com/Additional-Code/umkm/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	repositorycatalog.Module,
	repositoryinventory.Module,
	repositoryorder.Module,
	repositorynotification.Module,
	ordernumber.Module,
	notification.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP transport and the gRPC health endpoint on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
	workernotification.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
