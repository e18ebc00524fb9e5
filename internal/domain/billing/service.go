package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	invoices Repository
}

func NewService(invoices Repository) *Service {
	return &Service{invoices: invoices}
}

func validateLine(l *LineItem) error {
	if strings.TrimSpace(l.Description) == "" {
		return fmt.Errorf("line description is required")
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("line quantity must be positive")
	}
	if l.UnitPriceCents < 0 {
		return fmt.Errorf("line unit_price_cents must not be negative")
	}
	if l.VATRateBps < 0 || l.VATRateBps > 10000 {
		return fmt.Errorf("line vat_rate_bps must be between 0 and 10000")
	}
	return nil
}

// CreateDraft creates a draft invoice or quote. Lines are optional at this
// point; totals are computed from whatever lines are present.
func (s *Service) CreateDraft(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if inv.DocType == "" {
		inv.DocType = DocTypeInvoice
	}
	if inv.DocType != DocTypeInvoice && inv.DocType != DocTypeQuote {
		return fmt.Errorf("invalid doc_type: %s", inv.DocType)
	}
	for i := range inv.Lines {
		if err := validateLine(&inv.Lines[i]); err != nil {
			return err
		}
	}
	inv.Status = StatusDraft
	inv.Number = nil
	s.applyTotals(inv)
	return s.invoices.Create(ctx, inv)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) AddLine(ctx context.Context, invoiceID uuid.UUID, line *LineItem) (*Invoice, error) {
	if err := validateLine(line); err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, fmt.Errorf("lines can only be added to draft documents")
	}
	line.InvoiceID = invoiceID
	sub := int64(line.Quantity) * line.UnitPriceCents
	line.LineTotalCents = sub + (sub*int64(line.VATRateBps)+5000)/10000
	if err := s.invoices.AddLine(ctx, line); err != nil {
		return nil, err
	}
	return s.recomputeTotals(ctx, invoiceID)
}

func (s *Service) RemoveLine(ctx context.Context, invoiceID, lineID uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, fmt.Errorf("lines can only be removed from draft documents")
	}
	if err := s.invoices.RemoveLine(ctx, invoiceID, lineID); err != nil {
		return nil, err
	}
	return s.recomputeTotals(ctx, invoiceID)
}

// Issue finalizes a draft invoice: totals are recomputed, a sequential
// number is assigned and the status moves to issued. Quotes are issued
// without a number from the invoice sequence.
func (s *Service) Issue(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(inv.Status, StatusIssued) {
		return nil, fmt.Errorf("cannot issue a %s document", inv.Status)
	}
	if len(inv.Lines) == 0 {
		return nil, fmt.Errorf("cannot issue a document with no lines")
	}

	now := time.Now()
	if inv.DocType == DocTypeInvoice {
		seq, err := s.invoices.NextNumber(ctx, now.Year())
		if err != nil {
			return nil, err
		}
		number := fmt.Sprintf("INV-%d-%05d", now.Year(), seq)
		inv.Number = &number
	}
	s.applyTotals(inv)
	inv.Status = StatusIssued
	inv.IssuedAt = &now
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.DocType != DocTypeInvoice {
		return nil, fmt.Errorf("only invoices can be marked paid")
	}
	if !CanTransition(inv.Status, StatusPaid) {
		return nil, fmt.Errorf("cannot mark a %s invoice as paid", inv.Status)
	}
	now := time.Now()
	inv.Status = StatusPaid
	inv.PaidAt = &now
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(inv.Status, StatusCancelled) {
		return nil, fmt.Errorf("cannot cancel a %s document", inv.Status)
	}
	inv.Status = StatusCancelled
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ConvertQuote creates a new draft invoice carrying the lines of an issued
// quote. The quote itself is left untouched.
func (s *Service) ConvertQuote(ctx context.Context, quoteID uuid.UUID) (*Invoice, error) {
	quote, err := s.invoices.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.DocType != DocTypeQuote {
		return nil, fmt.Errorf("document is not a quote")
	}
	if quote.Status != StatusIssued {
		return nil, fmt.Errorf("only issued quotes can be converted")
	}

	inv := &Invoice{
		DocType:   DocTypeInvoice,
		PatientID: quote.PatientID,
		Notes:     quote.Notes,
	}
	for _, l := range quote.Lines {
		inv.Lines = append(inv.Lines, LineItem{
			Description:    l.Description,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			VATRateBps:     l.VATRateBps,
		})
	}
	if err := s.CreateDraft(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, docType, status string, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	if docType != "" && docType != DocTypeInvoice && docType != DocTypeQuote {
		return nil, 0, fmt.Errorf("invalid doc_type: %s", docType)
	}
	if status != "" {
		if _, ok := validTransitions[status]; !ok {
			return nil, 0, fmt.Errorf("invalid status: %s", status)
		}
	}
	return s.invoices.List(ctx, docType, status, patientID, limit, offset)
}

func (s *Service) applyTotals(inv *Invoice) {
	t := ComputeTotals(inv.Lines)
	inv.SubtotalCents = t.SubtotalCents
	inv.VATCents = t.VATCents
	inv.TotalCents = t.TotalCents
}

func (s *Service) recomputeTotals(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.applyTotals(inv)
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}
