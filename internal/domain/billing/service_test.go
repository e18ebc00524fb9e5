package billing

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type mockRepo struct {
	invoices map[uuid.UUID]*Invoice
	counters map[int]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		counters: make(map[int]int),
	}
}

func (m *mockRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	for i := range inv.Lines {
		inv.Lines[i].ID = uuid.New()
		inv.Lines[i].InvoiceID = inv.ID
	}
	cp := *inv
	cp.Lines = append([]LineItem(nil), inv.Lines...)
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *inv
	cp.Lines = append([]LineItem(nil), inv.Lines...)
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, inv *Invoice) error {
	stored, ok := m.invoices[inv.ID]
	if !ok {
		return fmt.Errorf("not found")
	}
	lines := stored.Lines
	cp := *inv
	cp.Lines = lines
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) AddLine(_ context.Context, line *LineItem) error {
	inv, ok := m.invoices[line.InvoiceID]
	if !ok {
		return fmt.Errorf("not found")
	}
	line.ID = uuid.New()
	inv.Lines = append(inv.Lines, *line)
	return nil
}

func (m *mockRepo) RemoveLine(_ context.Context, invoiceID, lineID uuid.UUID) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return fmt.Errorf("not found")
	}
	var kept []LineItem
	for _, l := range inv.Lines {
		if l.ID != lineID {
			kept = append(kept, l)
		}
	}
	inv.Lines = kept
	return nil
}

func (m *mockRepo) NextNumber(_ context.Context, year int) (int, error) {
	m.counters[year]++
	return m.counters[year], nil
}

func (m *mockRepo) List(_ context.Context, docType, status string, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var result []*Invoice
	for _, inv := range m.invoices {
		if docType != "" && inv.DocType != docType {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		if patientID != uuid.Nil && inv.PatientID != patientID {
			continue
		}
		result = append(result, inv)
	}
	return result, len(result), nil
}

func draftWithLines(t *testing.T, svc *Service, docType string) *Invoice {
	t.Helper()
	inv := &Invoice{
		DocType:   docType,
		PatientID: uuid.New(),
		Lines: []LineItem{
			{Description: "Consultation", Quantity: 1, UnitPriceCents: 6500, VATRateBps: 2100},
		},
	}
	if err := svc.CreateDraft(context.Background(), inv); err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestCreateDraft(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)
	if inv.Status != StatusDraft {
		t.Errorf("status = %q, want %q", inv.Status, StatusDraft)
	}
	if inv.Number != nil {
		t.Error("draft should not carry a number")
	}
	if inv.TotalCents != 6500+1365 {
		t.Errorf("total = %d, want %d", inv.TotalCents, 6500+1365)
	}
}

func TestCreateDraft_Validation(t *testing.T) {
	svc := NewService(newMockRepo())

	tests := []struct {
		name string
		inv  Invoice
	}{
		{"missing patient", Invoice{DocType: DocTypeInvoice}},
		{"bad doc type", Invoice{DocType: "receipt", PatientID: uuid.New()}},
		{"bad line quantity", Invoice{PatientID: uuid.New(), Lines: []LineItem{
			{Description: "x", Quantity: 0, UnitPriceCents: 100},
		}}},
		{"negative price", Invoice{PatientID: uuid.New(), Lines: []LineItem{
			{Description: "x", Quantity: 1, UnitPriceCents: -100},
		}}},
		{"blank description", Invoice{PatientID: uuid.New(), Lines: []LineItem{
			{Description: " ", Quantity: 1, UnitPriceCents: 100},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := tt.inv
			if err := svc.CreateDraft(context.Background(), &inv); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIssue(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)
	issued, err := svc.Issue(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if issued.Status != StatusIssued {
		t.Errorf("status = %q, want %q", issued.Status, StatusIssued)
	}
	if issued.Number == nil || !strings.HasPrefix(*issued.Number, "INV-") {
		t.Errorf("number = %v, want INV- prefix", issued.Number)
	}
	if issued.IssuedAt == nil {
		t.Error("issued_at was not set")
	}

	// issuing twice is rejected
	if _, err := svc.Issue(context.Background(), inv.ID); err == nil {
		t.Error("expected error issuing an issued invoice")
	}
}

func TestIssue_SequentialNumbers(t *testing.T) {
	svc := NewService(newMockRepo())

	first := draftWithLines(t, svc, DocTypeInvoice)
	second := draftWithLines(t, svc, DocTypeInvoice)

	a, err := svc.Issue(context.Background(), first.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Issue(context.Background(), second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *a.Number == *b.Number {
		t.Errorf("both invoices got number %s", *a.Number)
	}
}

func TestIssue_EmptyDraft(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := &Invoice{DocType: DocTypeInvoice, PatientID: uuid.New()}
	if err := svc.CreateDraft(context.Background(), inv); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Issue(context.Background(), inv.ID); err == nil {
		t.Error("expected error issuing a document with no lines")
	}
}

func TestIssue_QuoteHasNoNumber(t *testing.T) {
	svc := NewService(newMockRepo())

	quote := draftWithLines(t, svc, DocTypeQuote)
	issued, err := svc.Issue(context.Background(), quote.ID)
	if err != nil {
		t.Fatal(err)
	}
	if issued.Number != nil {
		t.Errorf("quote number = %v, want nil", issued.Number)
	}
}

func TestAddAndRemoveLine(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)
	line := &LineItem{Description: "Bandage", Quantity: 2, UnitPriceCents: 300, VATRateBps: 600}
	updated, err := svc.AddLine(context.Background(), inv.ID, line)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(updated.Lines))
	}
	if updated.SubtotalCents != 6500+600 {
		t.Errorf("subtotal = %d, want %d", updated.SubtotalCents, 6500+600)
	}

	updated, err = svc.RemoveLine(context.Background(), inv.ID, line.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Lines) != 1 {
		t.Errorf("lines = %d, want 1", len(updated.Lines))
	}
	if updated.SubtotalCents != 6500 {
		t.Errorf("subtotal = %d, want 6500", updated.SubtotalCents)
	}
}

func TestAddLine_IssuedInvoice(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)
	if _, err := svc.Issue(context.Background(), inv.ID); err != nil {
		t.Fatal(err)
	}
	line := &LineItem{Description: "Extra", Quantity: 1, UnitPriceCents: 100}
	if _, err := svc.AddLine(context.Background(), inv.ID, line); err == nil {
		t.Error("expected error adding a line to an issued invoice")
	}
}

func TestMarkPaid(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)

	// drafts cannot be paid directly
	if _, err := svc.MarkPaid(context.Background(), inv.ID); err == nil {
		t.Error("expected error paying a draft")
	}

	if _, err := svc.Issue(context.Background(), inv.ID); err != nil {
		t.Fatal(err)
	}
	paid, err := svc.MarkPaid(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("status = %q, want %q", paid.Status, StatusPaid)
	}
	if paid.PaidAt == nil {
		t.Error("paid_at was not set")
	}

	// paid is terminal
	if _, err := svc.Cancel(context.Background(), inv.ID); err == nil {
		t.Error("expected error cancelling a paid invoice")
	}
}

func TestMarkPaid_Quote(t *testing.T) {
	svc := NewService(newMockRepo())

	quote := draftWithLines(t, svc, DocTypeQuote)
	if _, err := svc.Issue(context.Background(), quote.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MarkPaid(context.Background(), quote.ID); err == nil {
		t.Error("expected error marking a quote as paid")
	}
}

func TestConvertQuote(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	quote := draftWithLines(t, svc, DocTypeQuote)
	if _, err := svc.Issue(context.Background(), quote.ID); err != nil {
		t.Fatal(err)
	}

	inv, err := svc.ConvertQuote(context.Background(), quote.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.DocType != DocTypeInvoice {
		t.Errorf("doc_type = %q, want %q", inv.DocType, DocTypeInvoice)
	}
	if inv.Status != StatusDraft {
		t.Errorf("status = %q, want %q", inv.Status, StatusDraft)
	}
	if inv.ID == quote.ID {
		t.Error("conversion should create a new document")
	}
	if len(inv.Lines) != len(quote.Lines) {
		t.Errorf("lines = %d, want %d", len(inv.Lines), len(quote.Lines))
	}

	// the quote survives untouched
	got, err := svc.Get(context.Background(), quote.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusIssued {
		t.Errorf("quote status = %q, want %q", got.Status, StatusIssued)
	}
}

func TestConvertQuote_Invalid(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)
	if _, err := svc.ConvertQuote(context.Background(), inv.ID); err == nil {
		t.Error("expected error converting an invoice")
	}

	quote := draftWithLines(t, svc, DocTypeQuote)
	if _, err := svc.ConvertQuote(context.Background(), quote.ID); err == nil {
		t.Error("expected error converting a draft quote")
	}
}

func TestList_Filters(t *testing.T) {
	svc := NewService(newMockRepo())

	inv := draftWithLines(t, svc, DocTypeInvoice)
	draftWithLines(t, svc, DocTypeQuote)

	items, total, err := svc.List(context.Background(), DocTypeInvoice, "", uuid.Nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("got %d invoices (total %d), want 1", len(items), total)
	}

	items, _, err = svc.List(context.Background(), "", "", inv.PatientID, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("got %d documents for patient, want 1", len(items))
	}

	if _, _, err := svc.List(context.Background(), "receipt", "", uuid.Nil, 20, 0); err == nil {
		t.Error("expected error for unknown doc_type")
	}
	if _, _, err := svc.List(context.Background(), "", "overdue", uuid.Nil, 20, 0); err == nil {
		t.Error("expected error for unknown status")
	}
}
