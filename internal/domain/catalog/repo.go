package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrCodeConflict is returned when an item code is already taken.
var ErrCodeConflict = errors.New("catalog: item code already in use")

type Repository interface {
	Create(ctx context.Context, i *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByCode(ctx context.Context, code string) (*Item, error)
	Update(ctx context.Context, i *Item) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, kind string, activeOnly bool, limit, offset int) ([]*Item, int, error)
}
