package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/praxis/praxis/internal/platform/tenantdb"
)

type repoPG struct{}

func NewRepoPG() Repository { return &repoPG{} }

const invoiceCols = `id, number, doc_type, patient_id, status, subtotal_cents, vat_cents,
	total_cents, issued_at, paid_at, due_date, notes, created_at, updated_at`

const lineCols = `id, invoice_id, description, quantity, unit_price_cents, vat_rate_bps, line_total_cents`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.DocType, &inv.PatientID, &inv.Status,
		&inv.SubtotalCents, &inv.VATCents, &inv.TotalCents,
		&inv.IssuedAt, &inv.PaidAt, &inv.DueDate, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func scanLine(row pgx.Row) (*LineItem, error) {
	var l LineItem
	err := row.Scan(&l.ID, &l.InvoiceID, &l.Description, &l.Quantity,
		&l.UnitPriceCents, &l.VATRateBps, &l.LineTotalCents)
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return err
	}
	tx, err := h.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inv.ID = uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (id, number, doc_type, patient_id, status, subtotal_cents,
			vat_cents, total_cents, due_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		inv.ID, inv.Number, inv.DocType, inv.PatientID, inv.Status,
		inv.SubtotalCents, inv.VATCents, inv.TotalCents, inv.DueDate, inv.Notes)
	if err != nil {
		return err
	}
	for i := range inv.Lines {
		inv.Lines[i].ID = uuid.New()
		inv.Lines[i].InvoiceID = inv.ID
		l := &inv.Lines[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, description, quantity, unit_price_cents, vat_rate_bps, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, l.InvoiceID, l.Description, l.Quantity, l.UnitPriceCents, l.VATRateBps, l.LineTotalCents)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := scanInvoice(h.QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := h.Query(ctx, `SELECT `+lineCols+` FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, *l)
	}
	return inv, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = h.Exec(ctx, `
		UPDATE invoices SET number=$2, status=$3, subtotal_cents=$4, vat_cents=$5,
			total_cents=$6, issued_at=$7, paid_at=$8, due_date=$9, notes=$10, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.Number, inv.Status, inv.SubtotalCents, inv.VATCents,
		inv.TotalCents, inv.IssuedAt, inv.PaidAt, inv.DueDate, inv.Notes)
	return err
}

func (r *repoPG) AddLine(ctx context.Context, line *LineItem) error {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return err
	}
	line.ID = uuid.New()
	_, err = h.Exec(ctx, `
		INSERT INTO invoice_lines (id, invoice_id, description, quantity, unit_price_cents, vat_rate_bps, line_total_cents)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		line.ID, line.InvoiceID, line.Description, line.Quantity,
		line.UnitPriceCents, line.VATRateBps, line.LineTotalCents)
	return err
}

func (r *repoPG) RemoveLine(ctx context.Context, invoiceID, lineID uuid.UUID) error {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = h.Exec(ctx, `DELETE FROM invoice_lines WHERE id = $1 AND invoice_id = $2`, lineID, invoiceID)
	return err
}

// NextNumber reserves the next invoice sequence number for the given year.
// The per-year counter row is locked for the duration of the statement so
// concurrent issues cannot observe the same value.
func (r *repoPG) NextNumber(ctx context.Context, year int) (int, error) {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = h.QueryRow(ctx, `
		INSERT INTO invoice_counters (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = invoice_counters.last_value + 1
		RETURNING last_value`, year).Scan(&n)
	return n, err
}

func (r *repoPG) List(ctx context.Context, docType, status string, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	h, err := tenantdb.FromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + invoiceCols + ` FROM invoices WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM invoices WHERE 1=1`
	var args []interface{}
	idx := 1

	if docType != "" {
		query += fmt.Sprintf(` AND doc_type = $%d`, idx)
		countQuery += fmt.Sprintf(` AND doc_type = $%d`, idx)
		args = append(args, docType)
		idx++
	}
	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if patientID != uuid.Nil {
		query += fmt.Sprintf(` AND patient_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, patientID)
		idx++
	}

	var total int
	if err := h.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := h.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}
