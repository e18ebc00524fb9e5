package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	AddLine(ctx context.Context, line *LineItem) error
	RemoveLine(ctx context.Context, invoiceID, lineID uuid.UUID) error
	NextNumber(ctx context.Context, year int) (int, error)
	List(ctx context.Context, docType, status string, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
}
