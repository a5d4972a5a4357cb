package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/umkm/repository/catalog")

var (
	// ErrStoreNotFound is returned when a store is missing.
	ErrStoreNotFound = errors.New("store not found")
	// ErrProductNotFound is returned when a single product lookup misses.
	ErrProductNotFound = errors.New("product not found")
)

// Repository gives read access to stores and products owned by the catalog service.
// Lookups go to the writer so checkout never freezes a price a replica has not caught up on.
type Repository struct {
	db *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{db: conns.Writer}
}

// GetStore fetches a store by id.
func (r *Repository) GetStore(ctx context.Context, id string) (*entity.Store, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.GetStore", trace.WithAttributes(attribute.String("store.id", id)))
	defer span.End()

	store := new(entity.Store)
	err := r.db.NewSelect().Model(store).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return store, nil
}

// ProductsByID loads the requested products keyed by id. Missing ids are simply absent.
func (r *Repository) ProductsByID(ctx context.Context, ids []string) (map[string]*entity.Product, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.ProductsByID", trace.WithAttributes(attribute.Int("product.count", len(ids))))
	defer span.End()

	found := make(map[string]*entity.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var products []*entity.Product
	if err := r.db.NewSelect().Model(&products).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	for _, p := range products {
		found[p.ID] = p
	}
	return found, nil
}

// Product fetches a single product, mostly for stock inspection.
func (r *Repository) Product(ctx context.Context, id string) (*entity.Product, error) {
	products, err := r.ProductsByID(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p, ok := products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p, nil
}
