package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ProductStatus is the moderation state of a product listing.
type ProductStatus string

const (
	ProductPending  ProductStatus = "pending"
	ProductActive   ProductStatus = "active"
	ProductRejected ProductStatus = "rejected"
	ProductInactive ProductStatus = "inactive"
)

// Orderable reports whether buyers may check out the product.
func (s ProductStatus) Orderable() bool {
	return s == ProductActive
}

// Store is an UMKM storefront owned by a single user.
type Store struct {
	bun.BaseModel `bun:"table:stores"`

	ID        string    `bun:"id,pk"`
	OwnerID   string    `bun:"owner_id"`
	Name      string    `bun:"name"`
	WhatsApp  string    `bun:"whatsapp"`
	IsActive  bool      `bun:"is_active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

// Product is a sellable item of one store. Stock is only mutated by the inventory ledger.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID        string          `bun:"id,pk"`
	StoreID   string          `bun:"store_id"`
	Name      string          `bun:"name"`
	Price     decimal.Decimal `bun:"price"`
	Stock     int             `bun:"stock"`
	Status    ProductStatus   `bun:"status"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `bun:"updated_at,nullzero"`
}
