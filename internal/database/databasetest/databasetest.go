// Package databasetest provisions migrated in-memory SQLite databases for tests.
package databasetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/migration"
)

// New returns connections to a fresh, fully migrated database private to t.
// A single pooled connection keeps the shared-cache memory database alive and
// serialises access the way row locks would on a server database.
func New(t testing.TB) *database.Connections {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conns, err := database.Open(config.Database{
		Driver:       "sqlite",
		WriterDSN:    dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })

	err = migration.Apply(context.Background(), conns.Writer.DB, "sqlite", zap.NewNop())
	require.NoError(t, err)

	return conns
}

// InsertStore persists a store fixture.
func InsertStore(t testing.TB, conns *database.Connections, store *entity.Store) *entity.Store {
	t.Helper()
	if store.ID == "" {
		store.ID = uuid.NewString()
	}
	if store.CreatedAt.IsZero() {
		store.CreatedAt = time.Now().UTC()
	}
	_, err := conns.Writer.NewInsert().Model(store).Exec(context.Background())
	require.NoError(t, err)
	return store
}

// InsertProduct persists a product fixture, defaulting to an active listing.
func InsertProduct(t testing.TB, conns *database.Connections, product *entity.Product) *entity.Product {
	t.Helper()
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Status == "" {
		product.Status = entity.ProductActive
	}
	if product.Name == "" {
		product.Name = "product " + product.ID[:8]
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := conns.Writer.NewInsert().Model(product).Exec(context.Background())
	require.NoError(t, err)
	return product
}

// Stock reads the current stock of a product.
func Stock(t testing.TB, conns *database.Connections, productID string) int {
	t.Helper()
	var stock int
	err := conns.Writer.NewSelect().
		Model((*entity.Product)(nil)).
		Column("stock").
		Where("id = ?", productID).
		Scan(context.Background(), &stock)
	require.NoError(t, err)
	return stock
}
