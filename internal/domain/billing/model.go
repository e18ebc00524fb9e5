package billing

import (
	"time"

	"github.com/google/uuid"
)

// Document types.
const (
	DocTypeInvoice = "invoice"
	DocTypeQuote   = "quote"
)

// Invoice statuses.
const (
	StatusDraft     = "draft"
	StatusIssued    = "issued"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// validTransitions maps a status to the statuses it may move to.
// Paid and cancelled are terminal.
var validTransitions = map[string][]string{
	StatusDraft:     {StatusIssued, StatusCancelled},
	StatusIssued:    {StatusPaid, StatusCancelled},
	StatusPaid:      {},
	StatusCancelled: {},
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Invoice maps to the invoices table in the tenant database. All amounts
// are integer cents; VAT rates are basis points.
type Invoice struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Number        *string    `db:"number" json:"number,omitempty"`
	DocType       string     `db:"doc_type" json:"doc_type"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status        string     `db:"status" json:"status"`
	Lines         []LineItem `db:"-" json:"lines"`
	SubtotalCents int64      `db:"subtotal_cents" json:"subtotal_cents"`
	VATCents      int64      `db:"vat_cents" json:"vat_cents"`
	TotalCents    int64      `db:"total_cents" json:"total_cents"`
	IssuedAt      *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	PaidAt        *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	DueDate       *time.Time `db:"due_date" json:"due_date,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// LineItem maps to the invoice_lines table.
type LineItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	InvoiceID      uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Description    string    `db:"description" json:"description"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPriceCents int64     `db:"unit_price_cents" json:"unit_price_cents"`
	VATRateBps     int       `db:"vat_rate_bps" json:"vat_rate_bps"`
	LineTotalCents int64     `db:"line_total_cents" json:"line_total_cents"`
}

// Totals holds the computed amounts for a set of invoice lines.
type Totals struct {
	SubtotalCents int64
	VATCents      int64
	TotalCents    int64
}

// ComputeTotals sums the lines and computes VAT per line with half-up
// rounding. Line totals are filled in as a side effect.
func ComputeTotals(lines []LineItem) Totals {
	var t Totals
	for i := range lines {
		sub := int64(lines[i].Quantity) * lines[i].UnitPriceCents
		vat := (sub*int64(lines[i].VATRateBps) + 5000) / 10000
		lines[i].LineTotalCents = sub + vat
		t.SubtotalCents += sub
		t.VATCents += vat
	}
	t.TotalCents = t.SubtotalCents + t.VATCents
	return t
}
