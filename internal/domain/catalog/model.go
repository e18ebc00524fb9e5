package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Item kinds.
const (
	KindProduct = "product"
	KindService = "service"
)

// Item maps to the catalog_items table in the tenant database. Prices are
// stored in cents and VAT rates in basis points to avoid floating point.
type Item struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Kind        string    `db:"kind" json:"kind"`
	PriceCents  int64     `db:"price_cents" json:"price_cents"`
	VATRateBps  int       `db:"vat_rate_bps" json:"vat_rate_bps"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
