package seeder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/entity"
)

// Module provides the Seeder.
var Module = fx.Provide(New)

// namespace derives stable ids so reseeding never duplicates rows.
var namespace = uuid.MustParse("3f0c9a2e-6b1d-4f6a-9d8e-1c2b3a4d5e6f")

// DemoOwnerID owns every seeded store.
const DemoOwnerID = "owner-demo"

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

type sampleProduct struct {
	name   string
	price  string
	stock  int
	status entity.ProductStatus
}

var samples = []struct {
	store    string
	whatsapp string
	products []sampleProduct
}{
	{
		store:    "Warung Bu Sri",
		whatsapp: "6281234567890",
		products: []sampleProduct{
			{name: "Keripik Singkong Balado", price: "12500", stock: 40, status: entity.ProductActive},
			{name: "Sambal Roa 200g", price: "35000", stock: 15, status: entity.ProductActive},
			{name: "Rempeyek Kacang", price: "18000", stock: 0, status: entity.ProductActive},
		},
	},
	{
		store:    "Batik Tulis Lasem",
		whatsapp: "6289876543210",
		products: []sampleProduct{
			{name: "Kain Batik Tulis 2m", price: "450000", stock: 5, status: entity.ProductActive},
			{name: "Selendang Batik", price: "175000", stock: 8, status: entity.ProductPending},
		},
	},
}

// Catalog seeds demo stores and products if they are missing.
func (s *Seeder) Catalog(ctx context.Context) error {
	now := time.Now().UTC()
	var stores, products int

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, sample := range samples {
			store := &entity.Store{
				ID:        stableID("store", sample.store),
				OwnerID:   DemoOwnerID,
				Name:      sample.store,
				WhatsApp:  sample.whatsapp,
				IsActive:  true,
				CreatedAt: now,
			}
			res, err := tx.NewInsert().Model(store).Ignore().Exec(ctx)
			if err != nil {
				return err
			}
			stores += affected(res)

			for _, p := range sample.products {
				product := &entity.Product{
					ID:        stableID("product", sample.store, p.name),
					StoreID:   store.ID,
					Name:      p.name,
					Price:     decimal.RequireFromString(p.price),
					Stock:     p.stock,
					Status:    p.status,
					CreatedAt: now,
				}
				res, err := tx.NewInsert().Model(product).Ignore().Exec(ctx)
				if err != nil {
					return err
				}
				products += affected(res)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("seeded catalog", zap.Int("stores", stores), zap.Int("products", products))
	}
	return nil
}

func stableID(parts ...string) string {
	name := ""
	for _, p := range parts {
		name += "/" + p
	}
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

func affected(res interface{ RowsAffected() (int64, error) }) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
