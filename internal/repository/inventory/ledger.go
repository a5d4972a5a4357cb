package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/entity"
)

var ledgerTracer = otel.Tracer("github.com/Additional-Code/umkm/repository/inventory")

var (
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductMissing is returned when the product row does not exist.
	ErrProductMissing = errors.New("product not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// InsufficientStockError names the product that could not cover a reservation
// and the stock observed right after the guarded update failed.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Ledger is the only writer of products.stock. Every mutation is a single
// guarded UPDATE, never a read followed by a write.
type Ledger struct {
	db bun.IDB
}

// NewLedger returns a ledger bound to the writer connection.
func NewLedger(conns *database.Connections) *Ledger {
	return &Ledger{db: conns.Writer}
}

// WithTx returns a ledger whose writes commit or roll back with tx.
func (l *Ledger) WithTx(tx bun.Tx) *Ledger {
	return &Ledger{db: tx}
}

// Reserve decrements stock by qty only if at least qty units remain.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	ctx, span := ledgerTracer.Start(ctx, "InventoryLedger.Reserve", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := l.db.NewUpdate().
		Model((*entity.Product)(nil)).
		Set("stock = stock - ?", qty).
		Where("id = ?", productID).
		Where("stock >= ?", qty).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return fmt.Errorf("reserve stock: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	} else if affected == 1 {
		return nil
	}

	available, err := l.Available(ctx, productID)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("stock.available", available))
	return &InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

// Release returns qty units to stock unconditionally. Callers guarantee that a
// reservation is released at most once.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	ctx, span := ledgerTracer.Start(ctx, "InventoryLedger.Release", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := l.db.NewUpdate().
		Model((*entity.Product)(nil)).
		Set("stock = stock + ?", qty).
		Where("id = ?", productID).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return fmt.Errorf("release stock: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("release stock: %w", err)
	} else if affected == 0 {
		return ErrProductMissing
	}
	return nil
}

// Available reads the current stock of a product.
func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	var stock int
	err := l.db.NewSelect().
		Model((*entity.Product)(nil)).
		Column("stock").
		Where("id = ?", productID).
		Scan(ctx, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductMissing
	}
	if err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}
	return stock, nil
}
