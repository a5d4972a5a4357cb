package ordernumber

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/config"
	repo "github.com/Additional-Code/umkm/internal/repository/order"
)

// Module provides the order number allocator to Fx.
var Module = fx.Provide(New)

// Params defines dependencies for constructing the allocator.
type Params struct {
	fx.In

	Config     config.Config
	Repository *repo.Repository
	Redis      *goredis.Client `optional:"true"`
	Logger     *zap.Logger
}

// New selects the configured sequence driver and builds the allocator.
func New(p Params) (*Allocator, error) {
	orders := p.Config.Orders

	var seq Sequence
	switch orders.SequenceDriver {
	case "database":
		seq = NewDatabaseSequence(p.Repository)
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("order sequence driver redis requires a redis client")
		}
		seq = NewRedisSequence(p.Redis, p.Repository)
	default:
		return nil, fmt.Errorf("unsupported order sequence driver: %s", orders.SequenceDriver)
	}

	return NewAllocator(p.Repository, seq, orders.NumberPrefix, orders.Location(), orders.FallbackAttempts, p.Logger), nil
}
